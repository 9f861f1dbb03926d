package news

import (
	"context"

	"github.com/skelhq/cryptoquote/pkg/models"
)

// Service merges asset-tagged CryptoPanic posts with general market
// RSS coverage.
type Service struct {
	panic *CryptoPanic
	feeds *Feeds
}

// NewService creates a news service. The CryptoPanic key may be empty,
// leaving only the RSS feeds active.
func NewService(cryptoPanicKey string) *Service {
	return &Service{
		panic: NewCryptoPanic(cryptoPanicKey),
		feeds: NewFeeds(),
	}
}

// GetNews returns up to limit articles about the symbol. Tagged
// CryptoPanic coverage is preferred; RSS items fill the remainder.
func (s *Service) GetNews(ctx context.Context, symbol string, limit int) ([]models.NewsItem, error) {
	items, err := s.panic.GetNews(ctx, symbol, limit)
	if err != nil || len(items) >= limit {
		return items, err
	}
	return append(items, s.feeds.GetMarketNews(ctx, symbol, limit-len(items))...), nil
}
