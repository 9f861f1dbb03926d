// Package coinmarketcap implements a price source backed by the
// CoinMarketCap Pro API. It is inert without an API key: every call
// returns no data rather than an error, so an unconfigured deployment
// simply runs with one source fewer.
//
// Docs: https://coinmarketcap.com/api/documentation/v2/
package coinmarketcap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

const (
	sourceName     = "coinmarketcap"
	defaultBaseURL = "https://pro-api.coinmarketcap.com"
)

// Source fetches latest quotes from CoinMarketCap.
type Source struct {
	source.Base

	// BaseURL is overridable for tests.
	BaseURL string

	apiKey string
}

// New creates a CoinMarketCap source. An empty apiKey disables it.
func New(apiKey string) *Source {
	return &Source{
		Base:    source.NewBase(sourceName),
		BaseURL: defaultBaseURL,
		apiKey:  apiKey,
	}
}

type quotesResponse struct {
	Data map[string]json.RawMessage `json:"data"`
}

type assetInfo struct {
	Name  string `json:"name"`
	Quote map[string]struct {
		Price *float64 `json:"price"`
	} `json:"quote"`
}

// GetPrice fetches the latest quote for the symbol, converted by the API
// into the requested currency.
func (s *Source) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	if s.apiKey == "" {
		return nil, nil
	}

	base := strings.ToUpper(symbol)
	quote := strings.ToUpper(currency)
	url := fmt.Sprintf("%s/v2/cryptocurrency/quotes/latest?symbol=%s&convert=%s", s.BaseURL, base, quote)
	headers := map[string]string{"X-CMC_PRO_API_KEY": s.apiKey}

	var resp quotesResponse
	if err := infra.DoGetJSON(ctx, url, headers, &resp); err != nil {
		return nil, fmt.Errorf("coinmarketcap %s: %w", base, err)
	}

	raw, ok := resp.Data[base]
	if !ok {
		return nil, nil
	}

	// The v2 endpoint returns a list per symbol; v1 returned an object.
	// Accept both.
	var infos []assetInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		var single assetInfo
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("coinmarketcap payload for %s: %w", base, err)
		}
		infos = []assetInfo{single}
	}
	if len(infos) == 0 {
		return nil, nil
	}

	info := infos[0]
	converted, ok := info.Quote[quote]
	if !ok || converted.Price == nil {
		return nil, nil
	}

	name := info.Name
	if name == "" {
		name = base
	}

	return &models.Quote{
		Symbol:   base,
		Currency: quote,
		Price:    decimal.NewFromFloat(*converted.Price),
		Source:   sourceName,
		Name:     name,
	}, nil
}

// GetPrices wraps GetPrice; the quotes endpoint resolves one asset per symbol.
func (s *Source) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	return source.One(s.GetPrice(ctx, symbol, currency))
}
