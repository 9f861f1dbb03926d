// Package bybit implements a price source backed by the Bybit v5 spot
// ticker API. Like Binance, a generic "USD" request is settled against
// the USDT pair.
//
// Docs: https://bybit-exchange.github.io/docs/v5/market/tickers
package bybit

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

const sourceName = "bybit"

var quoteAliases = map[string]string{
	"USD":  "USDT",
	"USDT": "USDT",
	"USDC": "USDC",
}

// Source fetches spot ticker prices from Bybit.
type Source struct {
	source.Base

	// Endpoints are tried in order; api.bytick.com is the mirror that
	// tends to answer from more regions. Overridable for tests.
	Endpoints []string
}

// New creates a Bybit price source with the production endpoints.
func New() *Source {
	return &Source{
		Base: source.NewBase(sourceName),
		Endpoints: []string{
			"https://api.bytick.com/v5/market/tickers",
			"https://api.bybit.com/v5/market/tickers",
		},
	}
}

type tickersResponse struct {
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// GetPrice fetches the spot ticker for the aliased pair.
func (s *Source) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	base := strings.ToUpper(symbol)
	quote := strings.ToUpper(currency)

	pairQuote, ok := quoteAliases[quote]
	if !ok {
		pairQuote = quote
	}
	pair := base + pairQuote

	var payload tickersResponse
	var lastErr error
	fetched := false
	for _, endpoint := range s.Endpoints {
		url := fmt.Sprintf("%s?category=spot&symbol=%s", endpoint, pair)
		if err := infra.DoGetJSON(ctx, url, nil, &payload); err != nil {
			lastErr = err
			continue
		}
		fetched = true
		break
	}
	if !fetched {
		return nil, fmt.Errorf("bybit %s: %w", pair, lastErr)
	}

	if len(payload.Result.List) == 0 {
		return nil, nil
	}
	ticker := payload.Result.List[0]
	if ticker.LastPrice == "" {
		return nil, nil
	}
	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bybit lastPrice %q for %s: %w", ticker.LastPrice, pair, err)
	}

	return &models.Quote{
		Symbol:   base,
		Currency: pairQuote,
		Price:    price,
		Source:   sourceName,
		Name:     base,
	}, nil
}

// GetPrices wraps GetPrice; Bybit resolves one asset per ticker.
func (s *Source) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	return source.One(s.GetPrice(ctx, symbol, currency))
}
