package news

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/skelhq/cryptoquote/pkg/models"
)

// FeedSource is one crypto news RSS feed.
type FeedSource struct {
	Name string
	URL  string
}

// DefaultFeedSources lists the configured crypto market news feeds.
var DefaultFeedSources = []FeedSource{
	{Name: "CoinDesk", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/"},
	{Name: "CoinTelegraph", URL: "https://cointelegraph.com/rss"},
	{Name: "Decrypt", URL: "https://decrypt.co/feed"},
}

// Feeds fetches general market news from RSS sources.
type Feeds struct {
	sources []FeedSource
}

// NewFeeds creates a feed reader with the default sources.
func NewFeeds() *Feeds {
	return &Feeds{sources: DefaultFeedSources}
}

// NewFeedsWithSources creates a feed reader with custom sources.
func NewFeedsWithSources(sources []FeedSource) *Feeds {
	return &Feeds{sources: sources}
}

// GetMarketNews fetches all feeds concurrently and returns up to limit
// items, newest first. When symbol is non-empty only items mentioning
// it (or its uppercase ticker) in the title survive.
func (f *Feeds) GetMarketNews(ctx context.Context, symbol string, limit int) []models.NewsItem {
	if limit <= 0 {
		return nil
	}

	var mu sync.Mutex
	var items []models.NewsItem

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range f.sources {
		g.Go(func() error {
			// gofeed's Parser is not safe for concurrent use; each
			// fetch gets its own.
			feed, err := gofeed.NewParser().ParseURLWithContext(src.URL, gctx)
			if err != nil {
				// A dead feed just contributes nothing.
				return nil
			}
			mu.Lock()
			for _, item := range feed.Items {
				published := time.Time{}
				if item.PublishedParsed != nil {
					published = *item.PublishedParsed
				}
				items = append(items, models.NewsItem{
					Title:       item.Title,
					URL:         item.Link,
					Source:      src.Name,
					PublishedAt: published,
				})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if symbol != "" {
		symbolU := strings.ToUpper(symbol)
		filtered := items[:0]
		for _, item := range items {
			if strings.Contains(strings.ToUpper(item.Title), symbolU) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
