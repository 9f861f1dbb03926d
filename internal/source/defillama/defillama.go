// Package defillama implements a price source backed by the DefiLlama
// coins API, which aggregates DEX liquidity. DefiLlama keys assets by a
// CoinGecko identifier, so the source depends on an injected resolver
// (in practice the CoinGecko source's symbol index).
//
// Docs: https://defillama.com/docs/api
package defillama

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

const (
	sourceName     = "defillama"
	defaultBaseURL = "https://coins.llama.fi"
)

// Resolver maps a ticker symbol to a CoinGecko canonical id.
// An empty id with a nil error means the symbol is unknown.
type Resolver func(ctx context.Context, symbol string) (string, error)

// Source fetches current prices from DefiLlama.
type Source struct {
	source.Base

	// BaseURL is overridable for tests.
	BaseURL string

	resolve Resolver
}

// New creates a DefiLlama source with the given symbol resolver.
func New(resolve Resolver) *Source {
	return &Source{
		Base:    source.NewBase(sourceName),
		BaseURL: defaultBaseURL,
		resolve: resolve,
	}
}

type pricesResponse struct {
	Coins map[string]struct {
		Price *float64 `json:"price"`
	} `json:"coins"`
}

// GetPrice fetches the DEX-aggregated USD price. DefiLlama only prices
// in USD, so any other requested currency yields no data.
func (s *Source) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	quote := strings.ToUpper(currency)
	if quote != "USD" && quote != "USDT" {
		return nil, nil
	}

	coinID, err := s.resolve(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("defillama resolve %s: %w", symbol, err)
	}
	if coinID == "" {
		return nil, nil
	}

	identifier := "coingecko:" + coinID
	url := fmt.Sprintf("%s/prices/current/%s?searchWidth=4", s.BaseURL, identifier)

	var resp pricesResponse
	if err := infra.DoGetJSON(ctx, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("defillama %s: %w", identifier, err)
	}

	info, ok := resp.Coins[identifier]
	if !ok || info.Price == nil {
		return nil, nil
	}

	return &models.Quote{
		Symbol:   strings.ToUpper(symbol),
		Currency: "USD",
		Price:    decimal.NewFromFloat(*info.Price),
		Source:   sourceName,
	}, nil
}

// GetPrices wraps GetPrice; DefiLlama resolves one asset per identifier.
func (s *Source) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	return source.One(s.GetPrice(ctx, symbol, currency))
}
