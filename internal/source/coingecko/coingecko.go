// Package coingecko implements the aggregator-grade price source. It is
// the only source that can return several distinct assets for one
// ambiguous ticker symbol: a symbol resolver ranks candidate assets by
// market-cap rank, and the markets endpoint prices them in one call.
//
// Free tier keys are passed via the x-cg-demo-api-key header.
// Docs: https://docs.coingecko.com/reference/introduction
package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

const (
	sourceName     = "coingecko"
	defaultBaseURL = "https://api.coingecko.com/api/v3"

	// The public API allows roughly 30 calls per minute without a key.
	freeTierCalls  = 30
	freeTierWindow = time.Minute
)

// Source fetches prices from CoinGecko and resolves ticker symbols to
// canonical coin ids.
type Source struct {
	source.Base

	// BaseURL is overridable for tests.
	BaseURL string

	// Limiter paces every request against the free-tier allowance.
	// Overridable for tests.
	Limiter *infra.RateLimiter

	apiKey   string
	resolver *symbolIndex
}

// New creates a CoinGecko source. The apiKey may be empty; the public
// endpoints answer without one at a lower rate limit.
func New(apiKey string) *Source {
	s := &Source{
		Base:    source.NewBase(sourceName),
		BaseURL: defaultBaseURL,
		Limiter: infra.NewRateLimiter(freeTierCalls, freeTierWindow),
		apiKey:  apiKey,
	}
	s.resolver = newSymbolIndex(s)
	return s
}

// getJSON waits for rate-limit headroom, then issues the request with
// the source's auth headers. Every CoinGecko call goes through here.
func (s *Source) getJSON(ctx context.Context, url string, dest any) error {
	if err := s.Limiter.Wait(ctx); err != nil {
		return err
	}
	return infra.DoGetJSON(ctx, url, s.headers(), dest)
}

// Warmup eagerly builds the bulk symbol index so the first real lookup
// does not pay the cost of the full coins listing.
func (s *Source) Warmup(ctx context.Context) error {
	return s.resolver.ensureBulkIndex(ctx)
}

// CoinID resolves a ticker symbol to its most relevant canonical coin
// id, or "" when unknown. Used by the DefiLlama source.
func (s *Source) CoinID(ctx context.Context, symbol string) (string, error) {
	entries, err := s.resolver.resolve(ctx, symbol)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].ID, nil
}

// GetPrice returns the most relevant single quote for the symbol.
func (s *Source) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	quotes, err := s.GetPrices(ctx, symbol, currency, 1)
	if err != nil || len(quotes) == 0 {
		return nil, err
	}
	return &quotes[0], nil
}

// GetPrices resolves the symbol to up to limit candidate assets and
// prices them. The markets endpoint is preferred because it carries
// percentage changes; the simple price endpoint is the fallback.
func (s *Source) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	entries, err := s.resolver.resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	quotes := s.fetchMarkets(ctx, entries, symbol, currency)
	if len(quotes) > 0 {
		return quotes, nil
	}
	return s.fetchSimplePrices(ctx, entries, symbol, currency), nil
}

type marketRow struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Current   *float64 `json:"current_price"`
	Change1h  *float64 `json:"price_change_percentage_1h_in_currency"`
	Change24h *float64 `json:"price_change_percentage_24h_in_currency"`
	Change7d  *float64 `json:"price_change_percentage_7d_in_currency"`
}

// fetchMarkets prices all candidate assets in one markets call.
// Failures degrade to an empty result so the caller can fall back.
func (s *Source) fetchMarkets(ctx context.Context, entries []models.CoinEntry, symbol, currency string) []models.Quote {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}

	u := fmt.Sprintf(
		"%s/coins/markets?vs_currency=%s&ids=%s&order=market_cap_desc&per_page=%d&page=1&sparkline=false&price_change_percentage=1h,24h,7d",
		s.BaseURL, strings.ToLower(currency), url.QueryEscape(strings.Join(ids, ",")), len(entries),
	)

	var rows []marketRow
	if err := s.getJSON(ctx, u, &rows); err != nil {
		return nil
	}

	byID := make(map[string]marketRow, len(rows))
	for _, row := range rows {
		if row.ID != "" {
			byID[row.ID] = row
		}
	}

	quotes := make([]models.Quote, 0, len(entries))
	for _, entry := range entries {
		row, ok := byID[entry.ID]
		if !ok || row.Current == nil {
			continue
		}
		quotes = append(quotes, models.Quote{
			Symbol:    strings.ToUpper(symbol),
			Currency:  strings.ToUpper(currency),
			Price:     decimal.NewFromFloat(*row.Current),
			Source:    sourceName,
			Name:      entry.Name,
			Change1h:  decimalPtr(row.Change1h),
			Change24h: decimalPtr(row.Change24h),
			Change7d:  decimalPtr(row.Change7d),
		})
	}
	return quotes
}

// fetchSimplePrices prices candidates one by one via the simple price
// endpoint. Slower and without change percentages, but more reliable
// under rate limiting.
func (s *Source) fetchSimplePrices(ctx context.Context, entries []models.CoinEntry, symbol, currency string) []models.Quote {
	currencyLower := strings.ToLower(currency)
	quotes := make([]models.Quote, 0, len(entries))
	for _, entry := range entries {
		u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
			s.BaseURL, url.QueryEscape(entry.ID), currencyLower)

		var resp map[string]map[string]*float64
		if err := s.getJSON(ctx, u, &resp); err != nil {
			continue
		}
		value, ok := resp[entry.ID][currencyLower]
		if !ok || value == nil {
			continue
		}
		quotes = append(quotes, models.Quote{
			Symbol:   strings.ToUpper(symbol),
			Currency: strings.ToUpper(currency),
			Price:    decimal.NewFromFloat(*value),
			Source:   sourceName,
			Name:     entry.Name,
		})
	}
	return quotes
}

func (s *Source) headers() map[string]string {
	if s.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": s.apiKey}
}

func decimalPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
