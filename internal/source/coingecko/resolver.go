package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/skelhq/cryptoquote/pkg/models"
)

// unranked sorts search hits without a market-cap rank after everything
// that has one.
const unranked = 1 << 30

// symbolIndex maps lowercase ticker symbols to candidate assets, ranked
// by market relevance. A live search is tried first; when it returns
// nothing the bulk coins listing is used. The bulk index is built once
// per process behind a double-checked lock — asset identity mappings
// rarely change, so it carries no TTL.
type symbolIndex struct {
	src *Source

	mu      sync.Mutex
	entries map[string][]models.CoinEntry
	built   bool
}

func newSymbolIndex(src *Source) *symbolIndex {
	return &symbolIndex{
		src:     src,
		entries: make(map[string][]models.CoinEntry),
	}
}

// resolve returns candidate assets for the symbol in relevance order.
// The per-query search result takes precedence over the bulk index
// whenever it is non-empty.
func (idx *symbolIndex) resolve(ctx context.Context, symbol string) ([]models.CoinEntry, error) {
	symbolLower := strings.ToLower(symbol)

	hits, err := idx.search(ctx, symbolLower)
	if err == nil && len(hits) > 0 {
		idx.mu.Lock()
		idx.entries[symbolLower] = hits
		idx.mu.Unlock()
		return hits, nil
	}

	if err := idx.ensureBulkIndex(ctx); err != nil {
		return nil, err
	}
	idx.mu.Lock()
	entries := idx.entries[symbolLower]
	idx.mu.Unlock()
	return entries, nil
}

type searchResponse struct {
	Coins []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		Rank   *int   `json:"market_cap_rank"`
	} `json:"coins"`
}

// search issues a free-text search and keeps only exact symbol matches,
// sorted by market-cap rank ascending (ties by name).
func (idx *symbolIndex) search(ctx context.Context, symbolLower string) ([]models.CoinEntry, error) {
	u := fmt.Sprintf("%s/search?query=%s", idx.src.BaseURL, url.QueryEscape(symbolLower))

	var resp searchResponse
	if err := idx.src.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("coingecko search %s: %w", symbolLower, err)
	}

	type ranked struct {
		entry models.CoinEntry
		rank  int
	}
	matched := make([]ranked, 0, len(resp.Coins))
	for _, coin := range resp.Coins {
		if strings.ToLower(coin.Symbol) != symbolLower || coin.ID == "" {
			continue
		}
		name := coin.Name
		if name == "" {
			name = coin.ID
		}
		rank := unranked
		if coin.Rank != nil && *coin.Rank > 0 {
			rank = *coin.Rank
		}
		matched = append(matched, ranked{entry: models.CoinEntry{ID: coin.ID, Name: name}, rank: rank})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].rank != matched[j].rank {
			return matched[i].rank < matched[j].rank
		}
		return matched[i].entry.Name < matched[j].entry.Name
	})

	entries := make([]models.CoinEntry, 0, len(matched))
	for _, m := range matched {
		entries = append(entries, m.entry)
	}
	return entries, nil
}

type listedCoin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// ensureBulkIndex lazily populates the symbol index from the full coins
// listing. Concurrent callers collapse to one fetch.
func (idx *symbolIndex) ensureBulkIndex(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.built {
		return nil
	}

	u := idx.src.BaseURL + "/coins/list?include_platform=false"
	var coins []listedCoin
	if err := idx.src.getJSON(ctx, u, &coins); err != nil {
		return fmt.Errorf("coingecko coins list: %w", err)
	}

	for _, coin := range coins {
		sym := strings.ToLower(coin.Symbol)
		if sym == "" || coin.ID == "" {
			continue
		}
		name := coin.Name
		if name == "" {
			name = coin.ID
		}
		idx.entries[sym] = append(idx.entries[sym], models.CoinEntry{ID: coin.ID, Name: name})
	}
	idx.built = true
	return nil
}
