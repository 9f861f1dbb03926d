// Package binance implements a price source backed by the Binance spot
// ticker API. Binance has no direct fiat pairs for most assets, so a
// generic "USD" request is mapped to the USDT trading pair; the quote
// reports the pair's actual settlement currency so the aggregator can
// validate it.
//
// Docs: https://developers.binance.com/docs/binance-spot-api-docs
package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

const sourceName = "binance"

// quoteAliases maps a requested quote currency to the tradable pair
// suffix Binance actually lists.
var quoteAliases = map[string]string{
	"USD":  "USDT",
	"USDT": "USDT",
	"USDC": "USDC",
	"BUSD": "BUSD",
	"IDR":  "BIDR",
	"EUR":  "EUR",
	"GBP":  "GBP",
}

// Source fetches spot ticker prices from Binance.
type Source struct {
	source.Base

	// Endpoints are tried in order until one answers. Overridable for tests.
	Endpoints []string
}

// New creates a Binance price source with the production endpoints.
func New() *Source {
	return &Source{
		Base: source.NewBase(sourceName),
		Endpoints: []string{
			"https://api.binance.com/api/v3/ticker/price",
			"https://data-api.binance.vision/api/v3/ticker/price",
		},
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice looks the pair up on each endpoint in turn, trying the
// aliased pair first and the literal pair second.
func (s *Source) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	base := strings.ToUpper(symbol)
	quote := strings.ToUpper(currency)

	pairQuote, ok := quoteAliases[quote]
	if !ok {
		pairQuote = quote
	}

	candidates := []string{base + pairQuote}
	if pairQuote != quote {
		candidates = append(candidates, base+quote)
	}

	var lastErr error
	for _, pair := range candidates {
		for _, endpoint := range s.Endpoints {
			url := fmt.Sprintf("%s?symbol=%s", endpoint, pair)

			var resp tickerResponse
			if err := infra.DoGetJSON(ctx, url, nil, &resp); err != nil {
				lastErr = err
				continue
			}
			if resp.Price == "" {
				continue
			}
			price, err := decimal.NewFromString(resp.Price)
			if err != nil {
				lastErr = fmt.Errorf("binance price %q for %s: %w", resp.Price, pair, err)
				continue
			}

			return &models.Quote{
				Symbol:   base,
				Currency: pair[len(base):], // the settlement currency actually used
				Price:    price,
				Source:   sourceName,
				Name:     base,
			}, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("binance %s: %w", base, lastErr)
	}
	return nil, errors.New("binance: no tradable pair for " + base)
}

// GetPrices wraps GetPrice; Binance resolves one asset per ticker.
func (s *Source) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	return source.One(s.GetPrice(ctx, symbol, currency))
}
