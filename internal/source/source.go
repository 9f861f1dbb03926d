// Package source defines the capability contract shared by all price
// source adapters. Each adapter translates a (symbol, currency) request
// into zero or more normalized quotes from one external API.
package source

import (
	"context"

	"github.com/skelhq/cryptoquote/pkg/models"
)

// Source is the interface all price source adapters implement.
//
// Failure semantics: a network error, bad status, or malformed payload
// surfaces as an error (or a nil quote); callers treat either as "no
// data from this source" and never abort a batch because of it.
type Source interface {
	// Name returns the stable source identifier used for dedup and display.
	Name() string

	// GetPrice returns a single best-effort quote, or nil when the
	// source has no data for the pair.
	GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error)

	// GetPrices returns up to limit distinct asset matches for a
	// possibly ambiguous symbol. Sources without multi-asset search
	// wrap GetPrice in a singleton slice.
	GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error)

	// Warmup optionally pre-loads lookup tables before first use.
	Warmup(ctx context.Context) error
}

// Base carries the source name and a no-op Warmup. Embed it in adapters
// that need no pre-loading.
type Base struct {
	name string
}

// NewBase creates a Base with the given source name.
func NewBase(name string) Base { return Base{name: name} }

// Name returns the source identifier.
func (b Base) Name() string { return b.name }

// Warmup is a no-op.
func (b Base) Warmup(ctx context.Context) error { return nil }

// One adapts a single-quote result into the multi-quote contract.
// Adapters without multi-asset search implement GetPrices as
//
//	return source.One(s.GetPrice(ctx, symbol, currency))
func One(q *models.Quote, err error) ([]models.Quote, error) {
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, nil
	}
	return []models.Quote{*q}, nil
}
