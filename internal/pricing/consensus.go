package pricing

import (
	"log"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/pkg/models"
)

// consensusKey groups quotes that claim to observe the same asset.
// Sources that disagree on display name for the same ticker are usually
// pricing different assets (a wrapped or derivative token colliding on
// symbol), so the name participates in the key.
func consensusKey(q models.Quote) string {
	name := strings.ToLower(strings.TrimSpace(q.DisplayName()))
	if name == "" {
		return q.Symbol
	}
	return q.Symbol + ":" + name
}

// applyConsensus drops quotes that diverge from the price agreed on by
// the majority of sources, then runs a second outlier pass over the
// survivors, and truncates to limit.
//
// Pass one: find the modal consensus key. When the group reporting that
// key outnumbers the modal threshold, its median price becomes the
// baseline; quotes from other groups survive only when their price
// ratio to that median stays inside the band. This rejects
// misidentified assets without any semantic knowledge of them.
func (s *Service) applyConsensus(quotes []models.Quote, limit int) []models.Quote {
	if len(quotes) <= 1 {
		return quotes
	}

	counts := make(map[string]int, len(quotes))
	for _, q := range quotes {
		counts[consensusKey(q)]++
	}
	modalKey, modalCount := "", 0
	for _, q := range quotes { // iterate quotes, not the map: first-seen wins ties
		if k := consensusKey(q); counts[k] > modalCount {
			modalKey, modalCount = k, counts[k]
		}
	}

	baseline := quotes
	if modalCount > s.ModalThreshold {
		var modalGroup []models.Quote
		for _, q := range quotes {
			if consensusKey(q) == modalKey {
				modalGroup = append(modalGroup, q)
			}
		}
		median := medianPrice(modalGroup)

		baseline = baseline[:0:0]
		removed := 0
		for _, q := range quotes {
			if consensusKey(q) == modalKey || median.IsZero() {
				baseline = append(baseline, q)
				continue
			}
			ratio := q.Price.Div(median)
			if ratio.GreaterThanOrEqual(s.BandLower) && ratio.LessThanOrEqual(s.BandUpper) {
				baseline = append(baseline, q)
			} else {
				removed++
			}
		}
		if removed > 0 {
			log.Printf("pricing: consensus filter removed %d quote(s) for %s", removed, quotes[0].Symbol)
		}
	}

	filtered := s.filterOutliers(baseline)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// filterOutliers keeps quotes within the band around the median of all
// remaining prices. When the band would eliminate everything — all
// quotes are "outliers" relative to each other — the original set is
// returned instead of an empty result.
func (s *Service) filterOutliers(quotes []models.Quote) []models.Quote {
	if len(quotes) <= 1 {
		return quotes
	}

	median := medianPrice(quotes)
	if median.IsZero() {
		return quotes
	}

	kept := make([]models.Quote, 0, len(quotes))
	for _, q := range quotes {
		ratio := q.Price.Div(median)
		if ratio.GreaterThanOrEqual(s.BandLower) && ratio.LessThanOrEqual(s.BandUpper) {
			kept = append(kept, q)
		}
	}

	if len(kept) > 0 && len(kept) < len(quotes) {
		log.Printf("pricing: outlier filter removed %d quote(s) for %s", len(quotes)-len(kept), quotes[0].Symbol)
		return kept
	}
	if len(kept) == 0 {
		return quotes
	}
	return kept
}

// medianPrice returns the median of the quotes' prices.
func medianPrice(quotes []models.Quote) decimal.Decimal {
	prices := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2))
}
