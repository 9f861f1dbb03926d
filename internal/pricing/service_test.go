package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/config"
	"github.com/skelhq/cryptoquote/internal/fiat"
	"github.com/skelhq/cryptoquote/internal/source"
	"github.com/skelhq/cryptoquote/pkg/models"
)

// stubSource is a canned-response Source with a call counter.
type stubSource struct {
	source.Base
	quotes []models.Quote
	err    error
	calls  int32
}

func newStubSource(name string, quotes ...models.Quote) *stubSource {
	return &stubSource{Base: source.NewBase(name), quotes: quotes}
}

func (s *stubSource) GetPrice(ctx context.Context, symbol, currency string) (*models.Quote, error) {
	quotes, err := s.GetPrices(ctx, symbol, currency, 1)
	if err != nil || len(quotes) == 0 {
		return nil, err
	}
	return &quotes[0], nil
}

func (s *stubSource) GetPrices(ctx context.Context, symbol, currency string, limit int) ([]models.Quote, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.quotes, nil
}

func (s *stubSource) callCount() int {
	return int(atomic.LoadInt32(&s.calls))
}

// testConverter returns a converter pointed at a stub exchange rate API.
func testConverter(t *testing.T, status int, body string) *fiat.Converter {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)

	c := fiat.NewConverter()
	c.Endpoint = ts.URL
	return c
}

const defaultRates = `{"result":"success","rates":{"USD":1,"EUR":0.9,"INR":83,"IDR":15000}}`

func quote(src, symbol, name, currency, price string) models.Quote {
	return models.Quote{
		Symbol:   symbol,
		Currency: currency,
		Price:    decimal.RequireFromString(price),
		Source:   src,
		Name:     name,
	}
}

func TestGetPricesRejectsBadArgs(t *testing.T) {
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), newStubSource("a"))

	if _, err := svc.GetPrices(context.Background(), "BTC", "USD", 0); err == nil {
		t.Errorf("limit 0: want error, got nil")
	}
	if _, err := svc.GetPrices(context.Background(), "BTC", "USD", -1); err == nil {
		t.Errorf("negative limit: want error, got nil")
	}
	if _, err := svc.GetPrices(context.Background(), "  ", "USD", 5); err == nil {
		t.Errorf("blank symbol: want error, got nil")
	}
}

func TestGetPricesNoData(t *testing.T) {
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), newStubSource("a"))

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("quotes = %v, want empty", quotes)
	}
}

func TestStablecoinSettlementAccepted(t *testing.T) {
	// Exchanges settle in USDT; the aggregate must present it as USD.
	src := newStubSource("binance", quote("binance", "BTC", "", "USDT", "50000"))
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), src)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1", len(quotes))
	}
	if quotes[0].Currency != "USD" {
		t.Errorf("currency = %q, want USD", quotes[0].Currency)
	}
}

func TestForeignSettlementDiscarded(t *testing.T) {
	src := newStubSource("weird", quote("weird", "BTC", "", "EUR", "46000"))
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), src)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("quotes = %v, want EUR-settled quote discarded", quotes)
	}
}

func TestDedupKeepsFirstSeen(t *testing.T) {
	// The same (source, symbol, name) observation must not count twice;
	// a different display name is a distinct asset and survives.
	src := newStubSource("coingecko",
		quote("coingecko", "BTC", "Bitcoin", "USD", "50000"),
		quote("coingecko", "BTC", "Bitcoin", "USD", "50001"),
		quote("coingecko", "BTC", "Wrapped Bitcoin", "USD", "49990"),
	)
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), src)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2: %v", len(quotes), quotes)
	}
	if !quotes[0].Price.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("first quote price = %s, want the first-seen 50000", quotes[0].Price)
	}
}

func TestSourceOrderPreserved(t *testing.T) {
	first := newStubSource("coingecko", quote("coingecko", "BTC", "Bitcoin", "USD", "50000"))
	second := newStubSource("binance", quote("binance", "BTC", "Bitcoin", "USD", "50010"))
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), first, second)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	if quotes[0].Source != "coingecko" || quotes[1].Source != "binance" {
		t.Errorf("order = [%s, %s], want configuration order", quotes[0].Source, quotes[1].Source)
	}
}

func TestFailingSourceDoesNotAbortBatch(t *testing.T) {
	good := newStubSource("coingecko", quote("coingecko", "BTC", "Bitcoin", "USD", "50000"))
	bad := newStubSource("binance")
	bad.err = context.DeadlineExceeded
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), good, bad)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Source != "coingecko" {
		t.Fatalf("quotes = %v, want the healthy source's quote", quotes)
	}
	if good.callCount() != 1 || bad.callCount() != 1 {
		t.Errorf("call counts = %d/%d, want each source queried exactly once",
			good.callCount(), bad.callCount())
	}
}

func TestDirectFiatShortcut(t *testing.T) {
	src := newStubSource("coingecko")
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), src)

	quotes, err := svc.GetPrices(context.Background(), "EUR", "INR", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1 synthetic quote", len(quotes))
	}

	q := quotes[0]
	if q.Source != fiatSource {
		t.Errorf("source = %q, want %q", q.Source, fiatSource)
	}
	// EUR -> INR through USD: 83 / 0.9
	want := decimal.RequireFromString("83").Div(decimal.RequireFromString("0.9"))
	if !q.Price.Equal(want) {
		t.Errorf("rate = %s, want %s", q.Price, want)
	}
	if src.callCount() != 0 {
		t.Errorf("crypto sources queried %d times for a fiat pair, want 0", src.callCount())
	}
}

func TestCryptoSymbolSkipsFiatShortcut(t *testing.T) {
	// BTC is short and alphabetic but has no fiat rate, so the crypto
	// path must run.
	src := newStubSource("coingecko", quote("coingecko", "BTC", "Bitcoin", "USD", "50000"))
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), src)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Source != "coingecko" {
		t.Fatalf("quotes = %v, want the source quote", quotes)
	}
}

func TestTargetCurrencyConversion(t *testing.T) {
	src := newStubSource("coingecko", quote("coingecko", "BTC", "Bitcoin", "USD", "100"))
	svc := NewService(testConverter(t, http.StatusOK, defaultRates), src)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "IDR", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1", len(quotes))
	}
	if quotes[0].Currency != "IDR" {
		t.Errorf("currency = %q, want IDR", quotes[0].Currency)
	}
	if !quotes[0].Price.Equal(decimal.RequireFromString("1500000")) {
		t.Errorf("price = %s, want 1500000", quotes[0].Price)
	}
}

func TestConversionFailureFallsBackToUSD(t *testing.T) {
	src := newStubSource("coingecko", quote("coingecko", "BTC", "Bitcoin", "USD", "50000"))
	svc := NewService(testConverter(t, http.StatusInternalServerError, ""), src)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "INR", 5)
	if err != nil {
		t.Fatalf("degraded conversion must not error, got %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1", len(quotes))
	}
	if quotes[0].Currency != "USD" {
		t.Errorf("currency = %q, want the USD fallback", quotes[0].Currency)
	}
	if !quotes[0].Price.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("price = %s, want unconverted 50000", quotes[0].Price)
	}
}

func TestLimitTruncates(t *testing.T) {
	svc := NewService(testConverter(t, http.StatusOK, defaultRates),
		newStubSource("a", quote("a", "BTC", "Bitcoin", "USD", "100")),
		newStubSource("b", quote("b", "BTC", "Bitcoin", "USD", "101")),
		newStubSource("c", quote("c", "BTC", "Bitcoin", "USD", "102")),
	)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want limit 2 applied", len(quotes))
	}
}

func TestGetPrice(t *testing.T) {
	svc := NewService(testConverter(t, http.StatusOK, defaultRates),
		newStubSource("a", quote("a", "BTC", "Bitcoin", "USD", "100")),
		newStubSource("b", quote("b", "BTC", "Bitcoin", "USD", "101")),
	)

	q, err := svc.GetPrice(context.Background(), "btc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q == nil {
		t.Fatalf("quote is nil")
	}
	if q.Source != "a" {
		t.Errorf("source = %q, want the first configured source", q.Source)
	}

	empty := NewService(testConverter(t, http.StatusOK, defaultRates), newStubSource("a"))
	q, err = empty.GetPrice(context.Background(), "NOSUCH", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != nil {
		t.Errorf("quote = %v, want nil for unknown symbol", q)
	}
}

func TestNewServiceFromConfigTunables(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pricing.BandLower = "0.6"
	cfg.Pricing.BandUpper = "1.8"
	cfg.Pricing.ModalThreshold = 2

	svc := NewServiceFromConfig(cfg)
	if !svc.BandLower.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("BandLower = %s, want 0.6", svc.BandLower)
	}
	if !svc.BandUpper.Equal(decimal.RequireFromString("1.8")) {
		t.Errorf("BandUpper = %s, want 1.8", svc.BandUpper)
	}
	if svc.ModalThreshold != 2 {
		t.Errorf("ModalThreshold = %d, want 2", svc.ModalThreshold)
	}

	// Malformed or absent values keep the built-in defaults.
	svc = NewServiceFromConfig(&config.Config{})
	if !svc.BandLower.Equal(decimal.RequireFromString("0.4")) || svc.ModalThreshold != 1 {
		t.Errorf("defaults not preserved: band %s, threshold %d", svc.BandLower, svc.ModalThreshold)
	}
}
