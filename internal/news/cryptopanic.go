// Package news fetches crypto market news. The primary source is the
// CryptoPanic posts API; generic market RSS feeds supplement it when
// an asset has no tagged coverage.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/pkg/models"
)

const (
	cryptoPanicName = "cryptopanic"
	defaultPanicURL = "https://cryptopanic.com/api/developer/v2/posts/"
	panicCacheTTL   = 10 * time.Minute
	panicCooldown   = time.Minute
)

// CryptoPanic is a client for the CryptoPanic posts API. Repeated rate
// limiting puts the client into a cooldown during which calls return no
// data immediately instead of hammering the API.
type CryptoPanic struct {
	// BaseURL is overridable for tests.
	BaseURL string

	apiKey string
	cache  *infra.Cache

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewCryptoPanic creates a CryptoPanic client. An empty apiKey disables it.
func NewCryptoPanic(apiKey string) *CryptoPanic {
	return &CryptoPanic{
		BaseURL: defaultPanicURL,
		apiKey:  apiKey,
		cache:   infra.NewCache(panicCacheTTL),
	}
}

type panicResponse struct {
	Results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		PublishedAt string `json:"published_at"`
		Instruments []struct {
			Code string `json:"code"`
		} `json:"instruments"`
		Currencies []struct {
			Code string `json:"code"`
		} `json:"currencies"`
	} `json:"results"`
}

// GetNews returns up to limit recent articles tagged with the symbol.
// A first query asks for plain news; when it comes back empty the
// "rising" filter is tried, which surfaces lower-volume assets.
func (c *CryptoPanic) GetNews(ctx context.Context, symbol string, limit int) ([]models.NewsItem, error) {
	if c.apiKey == "" || limit <= 0 {
		return nil, nil
	}

	symbolU := strings.ToUpper(symbol)
	cacheKey := fmt.Sprintf("%s|%d", symbolU, limit)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]models.NewsItem), nil
	}

	resp, err := c.fetch(ctx, symbolU, "")
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Results) == 0 {
		resp, err = c.fetch(ctx, symbolU, "rising")
		if err != nil || resp == nil {
			return nil, err
		}
	}

	items := make([]models.NewsItem, 0, limit)
	for _, r := range resp.Results {
		if len(items) == limit {
			break
		}
		var currencies []string
		for _, inst := range r.Instruments {
			if inst.Code != "" {
				currencies = append(currencies, inst.Code)
			}
		}
		if len(currencies) == 0 {
			for _, cur := range r.Currencies {
				if cur.Code != "" {
					currencies = append(currencies, cur.Code)
				}
			}
		}
		published, _ := time.Parse(time.RFC3339, r.PublishedAt)
		items = append(items, models.NewsItem{
			Title:       r.Title,
			URL:         r.URL,
			Source:      cryptoPanicName,
			PublishedAt: published,
			Currencies:  currencies,
		})
	}

	c.cache.Set(cacheKey, items)
	return items, nil
}

// fetch performs one posts query. Rate-limit responses set the cooldown
// and yield a nil response rather than an error.
func (c *CryptoPanic) fetch(ctx context.Context, symbolU, filter string) (*panicResponse, error) {
	c.mu.Lock()
	cooling := time.Now().Before(c.cooldownUntil)
	c.mu.Unlock()
	if cooling {
		return nil, nil
	}

	q := url.Values{}
	q.Set("auth_token", c.apiKey)
	q.Set("public", "true")
	q.Set("regions", "en")
	q.Set("currencies", symbolU)
	q.Set("kind", "news")
	if filter != "" {
		q.Set("filter", filter)
	}

	var resp panicResponse
	if err := infra.DoGetJSON(ctx, c.BaseURL+"?"+q.Encode(), nil, &resp); err != nil {
		var statusErr *infra.HTTPStatusError
		if errors.As(err, &statusErr) && (statusErr.Status == 403 || statusErr.Status == 429) {
			c.mu.Lock()
			c.cooldownUntil = time.Now().Add(panicCooldown)
			c.mu.Unlock()
			return nil, nil
		}
		return nil, fmt.Errorf("cryptopanic %s: %w", symbolU, err)
	}
	return &resp, nil
}
