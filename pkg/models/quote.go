// Package models defines the shared data types exchanged between the
// price sources, the aggregation service, and the API layer.
package models

import "github.com/shopspring/decimal"

// Quote is a single price observation for an asset from one source,
// expressed in one currency. Price is kept as an arbitrary-precision
// decimal; it is never rounded before aggregation.
type Quote struct {
	Symbol    string           `json:"symbol"`   // canonical uppercase ticker, e.g. "BTC"
	Currency  string           `json:"currency"` // uppercase denomination code
	Price     decimal.Decimal  `json:"price"`
	Source    string           `json:"source"` // adapter identifier, stable across calls
	Name      string           `json:"name,omitempty"`
	Change1h  *decimal.Decimal `json:"change_1h,omitempty"`
	Change4h  *decimal.Decimal `json:"change_4h,omitempty"`
	Change24h *decimal.Decimal `json:"change_24h,omitempty"`
	Change7d  *decimal.Decimal `json:"change_7d,omitempty"`
}

// DisplayName returns the asset name when the source supplied one,
// falling back to the ticker symbol.
func (q Quote) DisplayName() string {
	if q.Name != "" {
		return q.Name
	}
	return q.Symbol
}

// CoinEntry maps a ticker symbol to one canonical asset identity.
// Sources that index multiple assets per symbol return these ranked
// by market relevance.
type CoinEntry struct {
	ID   string `json:"id"`   // provider-canonical identifier, e.g. "bitcoin"
	Name string `json:"name"` // human-readable name, e.g. "Bitcoin"
}
