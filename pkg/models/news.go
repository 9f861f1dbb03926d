package models

import "time"

// NewsItem is a single news article about an asset or the market.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Currencies  []string  `json:"currencies,omitempty"` // ticker codes the article mentions
}
