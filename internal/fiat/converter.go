// Package fiat converts between fiat currencies using USD as the base.
// Rates come from a single upstream endpoint returning units-per-USD for
// every supported currency; they are cached for a few minutes. Major
// USD-pegged stable tokens are treated as exactly 1 USD without
// touching the network.
package fiat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
)

// ErrConversionUnavailable reports that no rate could be produced for a
// currency: the code is unknown, or the upstream fetch failed and no
// fresh cache exists. Callers degrade gracefully (for example by
// returning unconverted USD quotes) rather than failing a request.
var ErrConversionUnavailable = errors.New("fiat conversion unavailable")

const (
	defaultEndpoint = "https://open.er-api.com/v6/latest/USD"
	defaultTTL      = 5 * time.Minute
)

// stableEquivalents are hard-coded 1:1 USD equivalents.
var stableEquivalents = map[string]bool{
	"USD":  true,
	"USDT": true,
	"USDC": true,
	"BUSD": true,
}

// Converter caches a USD-denominated rate table and answers conversion
// queries from it.
type Converter struct {
	// Endpoint is overridable for tests.
	Endpoint string

	ttl time.Duration

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	expiresAt time.Time
}

// NewConverter creates a converter with the production endpoint and a
// 5 minute cache TTL.
func NewConverter() *Converter {
	return &Converter{Endpoint: defaultEndpoint, ttl: defaultTTL}
}

// NewConverterTTL creates a converter with a custom cache TTL.
func NewConverterTTL(ttl time.Duration) *Converter {
	return &Converter{Endpoint: defaultEndpoint, ttl: ttl}
}

// USDTo returns the amount of the target currency per 1 USD.
func (c *Converter) USDTo(ctx context.Context, currency string) (decimal.Decimal, error) {
	return c.rate(ctx, strings.ToUpper(currency))
}

// Convert returns the rate of target per 1 unit of base, computed as
// rate(target)/rate(base). Identical currencies convert at exactly 1
// without consulting the cache.
func (c *Converter) Convert(ctx context.Context, base, target string) (decimal.Decimal, error) {
	baseU := strings.ToUpper(base)
	targetU := strings.ToUpper(target)

	if baseU == targetU {
		return decimal.NewFromInt(1), nil
	}

	targetRate, err := c.rate(ctx, targetU)
	if err != nil {
		return decimal.Decimal{}, err
	}
	baseRate, err := c.rate(ctx, baseU)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return targetRate.Div(baseRate), nil
}

// HasRate reports whether a rate exists for the currency. Stable-asset
// equivalents answer true immediately; anything else fills the cache as
// a side effect. A failed refill answers false rather than erroring.
func (c *Converter) HasRate(ctx context.Context, currency string) bool {
	currencyU := strings.ToUpper(currency)
	if stableEquivalents[currencyU] {
		return true
	}
	rates, err := c.ensureRates(ctx)
	if err != nil {
		return false
	}
	_, ok := rates[currencyU]
	return ok
}

// rate returns units of currencyU per 1 USD.
func (c *Converter) rate(ctx context.Context, currencyU string) (decimal.Decimal, error) {
	if stableEquivalents[currencyU] {
		return decimal.NewFromInt(1), nil
	}

	rates, err := c.ensureRates(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	rate, ok := rates[currencyU]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no USD -> %s rate", ErrConversionUnavailable, currencyU)
	}
	return rate, nil
}

type ratesResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// ensureRates returns the cached table, refreshing it when expired.
// The refill is guarded by the mutex with a second freshness check
// inside it, so callers that pile up on a cold cache collapse into one
// upstream fetch and all receive its result.
func (c *Converter) ensureRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	c.mu.RLock()
	if c.rates != nil && time.Now().Before(c.expiresAt) {
		rates := c.rates
		c.mu.RUnlock()
		return rates, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refilled while we waited for the lock.
	if c.rates != nil && time.Now().Before(c.expiresAt) {
		return c.rates, nil
	}

	var resp ratesResponse
	if err := infra.DoGetJSON(ctx, c.Endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: fetch failed: %v", ErrConversionUnavailable, err)
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("%w: upstream result %q", ErrConversionUnavailable, resp.Result)
	}

	rates := make(map[string]decimal.Decimal, len(resp.Rates))
	for code, value := range resp.Rates {
		rates[strings.ToUpper(code)] = decimal.NewFromFloat(value)
	}
	c.rates = rates
	c.expiresAt = time.Now().Add(c.ttl)
	return c.rates, nil
}
