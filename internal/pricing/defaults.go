package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/config"
	"github.com/skelhq/cryptoquote/internal/fiat"
	"github.com/skelhq/cryptoquote/internal/source/binance"
	"github.com/skelhq/cryptoquote/internal/source/bybit"
	"github.com/skelhq/cryptoquote/internal/source/coingecko"
	"github.com/skelhq/cryptoquote/internal/source/coinmarketcap"
	"github.com/skelhq/cryptoquote/internal/source/defillama"
)

// NewDefaultService wires the production source set in fan-out order.
// CoinGecko goes first: its quotes carry names and change percentages,
// so on a dedup tie it is the observation worth keeping. DefiLlama
// reuses CoinGecko's symbol resolver for its asset identifiers.
func NewDefaultService(coingeckoKey, coinmarketcapKey string) *Service {
	cg := coingecko.New(coingeckoKey)
	return NewService(
		fiat.NewConverter(),
		cg,
		binance.New(),
		bybit.New(),
		coinmarketcap.New(coinmarketcapKey),
		defillama.New(cg.CoinID),
	)
}

// NewServiceFromConfig builds the default service and applies the
// tunables from cfg: fiat cache TTL, the consensus band bounds, and the
// modal threshold. Malformed values fall back to the built-in defaults.
func NewServiceFromConfig(cfg *config.Config) *Service {
	cg := coingecko.New(cfg.Sources.CoinGeckoKey)

	conv := fiat.NewConverter()
	if cfg.Fiat.CacheTTLSec > 0 {
		conv = fiat.NewConverterTTL(time.Duration(cfg.Fiat.CacheTTLSec) * time.Second)
	}

	svc := NewService(
		conv,
		cg,
		binance.New(),
		bybit.New(),
		coinmarketcap.New(cfg.Sources.CoinMarketCapKey),
		defillama.New(cg.CoinID),
	)

	if lo, err := decimal.NewFromString(cfg.Pricing.BandLower); err == nil && lo.IsPositive() {
		svc.BandLower = lo
	}
	if hi, err := decimal.NewFromString(cfg.Pricing.BandUpper); err == nil && hi.IsPositive() {
		svc.BandUpper = hi
	}
	if cfg.Pricing.ModalThreshold > 0 {
		svc.ModalThreshold = cfg.Pricing.ModalThreshold
	}
	return svc
}
