// Package pricing implements the multi-source price aggregation engine.
// A request fans out to every configured source concurrently, normalizes
// the returned quotes against a fixed USD settlement currency, drops
// duplicates and outliers, and converts the survivors into the caller's
// requested currency.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/skelhq/cryptoquote/internal/fiat"
	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

// settlementCurrency is the fixed currency every source is queried in.
// Comparing quotes from different sources only makes sense in one
// denomination; USD pairs carry the deepest liquidity everywhere.
const settlementCurrency = "USD"

// fiatSource tags the synthetic quote produced by the direct
// fiat-to-fiat shortcut.
const fiatSource = "fiat_converter"

// maxFiatCodeLen bounds the fiat shortcut heuristic: currency codes are
// at most 4 letters, so anything longer is assumed to be a crypto ticker.
const maxFiatCodeLen = 4

// stableEquivalents are USD-pegged tokens accepted as USD substitutes
// in either direction during quote normalization.
var stableEquivalents = map[string]bool{
	"USDT": true,
	"USDC": true,
	"BUSD": true,
}

// Service aggregates price quotes from all configured sources.
//
// The consensus band and the modal-group threshold are empirically
// chosen; they are fields rather than constants so deployments can
// calibrate them against real multi-source data.
type Service struct {
	sources   []source.Source
	converter *fiat.Converter

	// BandLower and BandUpper bound the accepted ratio of a quote's
	// price to the consensus median.
	BandLower decimal.Decimal
	BandUpper decimal.Decimal

	// ModalThreshold is the number of agreeing quotes the modal group
	// must exceed before its median is enforced as the baseline.
	ModalThreshold int

	warmupOnce sync.Once
}

// NewService creates a pricing service over the given sources, in
// fan-out order. Order matters: it is the tie-break for deduplication.
func NewService(converter *fiat.Converter, sources ...source.Source) *Service {
	return &Service{
		sources:        sources,
		converter:      converter,
		BandLower:      decimal.RequireFromString("0.4"),
		BandUpper:      decimal.RequireFromString("2.5"),
		ModalThreshold: 1,
	}
}

// Start launches a background warmup of every source. Warmup failures
// only cost first-request latency, so they are logged and ignored.
func (s *Service) Start(ctx context.Context) {
	s.warmupOnce.Do(func() {
		go func() {
			for _, src := range s.sources {
				if err := src.Warmup(ctx); err != nil {
					log.Printf("pricing: warmup %s: %v", src.Name(), err)
				}
			}
		}()
	})
}

// Close releases pooled HTTP connections.
func (s *Service) Close() {
	infra.CloseIdleConnections()
}

// Converter exposes the fiat converter backing this service.
func (s *Service) Converter() *fiat.Converter {
	return s.converter
}

// GetPrice returns the single most relevant quote, or nil when no
// source has data for the symbol.
func (s *Service) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	quotes, err := s.GetPrices(ctx, symbol, currency, 1)
	if err != nil || len(quotes) == 0 {
		return nil, err
	}
	return &quotes[0], nil
}

// GetPrices returns up to limit quotes for the symbol in the requested
// currency, ordered by source configuration order. An empty slice means
// "no data available" and is not an error; errors are reserved for
// contract violations.
func (s *Service) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("pricing: limit must be positive, got %d", limit)
	}
	symbolU := strings.ToUpper(strings.TrimSpace(symbol))
	currencyU := strings.ToUpper(strings.TrimSpace(currency))
	if symbolU == "" {
		return nil, errors.New("pricing: empty symbol")
	}
	if currencyU == "" {
		currencyU = settlementCurrency
	}

	// Direct fiat pairs (EUR/GBP and friends) never need a crypto
	// exchange; the converter answers them with a single synthetic quote.
	if q := s.directFiatQuote(ctx, symbolU, currencyU); q != nil {
		return []models.Quote{*q}, nil
	}

	quotes := s.collect(ctx, symbolU, limit)
	quotes = s.applyConsensus(quotes, limit)
	if len(quotes) == 0 {
		return nil, nil
	}

	if currencyU != settlementCurrency {
		quotes = s.convertQuotes(ctx, quotes, currencyU)
	}
	if len(quotes) > limit {
		quotes = quotes[:limit]
	}
	return quotes, nil
}

// collect fans out to every source concurrently against the settlement
// currency and merges the normalized, deduplicated results in source
// configuration order.
func (s *Service) collect(ctx context.Context, symbolU string, limit int) []models.Quote {
	perSource := make([][]models.Quote, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.sources {
		g.Go(func() error {
			quotes, err := src.GetPrices(gctx, symbolU, settlementCurrency, limit)
			if err != nil {
				// A failing source contributes nothing; it never
				// aborts the batch.
				log.Printf("pricing: source %s: %v", src.Name(), err)
				return nil
			}
			perSource[i] = quotes
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[[3]string]bool)
	var results []models.Quote
	for i, quotes := range perSource {
		for _, q := range quotes {
			normalized, ok := normalizeQuote(q, settlementCurrency)
			if !ok {
				log.Printf("pricing: discarding %s quote in %s from %s (settlement mismatch)",
					q.Symbol, q.Currency, s.sources[i].Name())
				continue
			}
			key := [3]string{normalized.Source, normalized.Symbol, normalized.DisplayName()}
			if seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, normalized)
		}
	}
	return results
}

// normalizeQuote accepts a quote matching the expected settlement
// currency exactly, or denominated in a USD-pegged stable token, which
// is relabeled (symmetrically in both directions). Anything else is a
// currency mismatch.
func normalizeQuote(q models.Quote, expected string) (models.Quote, bool) {
	if q.Currency == expected {
		return q, true
	}
	if expected == "USD" && stableEquivalents[q.Currency] {
		q.Currency = "USD"
		return q, true
	}
	if stableEquivalents[expected] && q.Currency == "USD" {
		q.Currency = expected
		return q, true
	}
	return models.Quote{}, false
}

// directFiatQuote handles the fiat/stablecoin shortcut. Both codes must
// look like fiat (short, alphabetic) and be convertible; otherwise the
// normal crypto path runs.
func (s *Service) directFiatQuote(ctx context.Context, base, target string) *models.Quote {
	if !isFiatCandidate(base) || !isFiatCandidate(target) {
		return nil
	}
	if !s.converter.HasRate(ctx, base) || !s.converter.HasRate(ctx, target) {
		return nil
	}
	rate, err := s.converter.Convert(ctx, base, target)
	if err != nil {
		return nil
	}
	return &models.Quote{
		Symbol:   base,
		Currency: target,
		Price:    rate,
		Source:   fiatSource,
		Name:     base,
	}
}

func isFiatCandidate(code string) bool {
	if len(code) == 0 || len(code) > maxFiatCodeLen {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// convertQuotes re-denominates settlement-currency quotes into the
// target currency. When the converter cannot produce a rate the
// original quotes are returned unchanged — a USD price beats no price.
func (s *Service) convertQuotes(ctx context.Context, quotes []models.Quote, targetU string) []models.Quote {
	rate, err := s.converter.USDTo(ctx, targetU)
	if err != nil {
		log.Printf("pricing: conversion USD -> %s failed, returning USD quotes: %v", targetU, err)
		return quotes
	}

	converted := make([]models.Quote, len(quotes))
	for i, q := range quotes {
		q.Currency = targetU
		q.Price = q.Price.Mul(rate)
		converted[i] = q
	}
	return converted
}
