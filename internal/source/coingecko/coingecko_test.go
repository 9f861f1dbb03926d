package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/internal/infra"
)

// routes maps URL path prefixes to canned JSON bodies.
func newTestSource(t *testing.T, routes map[string]string) *Source {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for prefix, body := range routes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				w.Write([]byte(body))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)

	src := New("")
	src.BaseURL = ts.URL
	return src
}

const searchBTC = `{"coins":[
	{"id":"bitcoin","name":"Bitcoin","symbol":"BTC","market_cap_rank":1},
	{"id":"batcat","name":"Batcat","symbol":"BTC","market_cap_rank":900},
	{"id":"bitcoin-bep2","name":"Bitcoin BEP2","symbol":"BTCB","market_cap_rank":40}
]}`

const marketsBTC = `[
	{"id":"bitcoin","name":"Bitcoin","current_price":50000.25,
	 "price_change_percentage_1h_in_currency":0.1,
	 "price_change_percentage_24h_in_currency":-1.5,
	 "price_change_percentage_7d_in_currency":4.2},
	{"id":"batcat","name":"Batcat","current_price":0.002}
]`

func TestGetPricesViaMarkets(t *testing.T) {
	src := newTestSource(t, map[string]string{
		"/search":        searchBTC,
		"/coins/markets": marketsBTC,
	})

	quotes, err := src.GetPrices(context.Background(), "btc", "usd", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2 exact-symbol matches", len(quotes))
	}

	first := quotes[0]
	if first.Name != "Bitcoin" {
		t.Errorf("first quote name = %q, want the rank-1 asset first", first.Name)
	}
	if !first.Price.Equal(decimal.NewFromFloat(50000.25)) {
		t.Errorf("price = %s, want 50000.25", first.Price)
	}
	if first.Change24h == nil || !first.Change24h.Equal(decimal.NewFromFloat(-1.5)) {
		t.Errorf("change24h = %v, want -1.5", first.Change24h)
	}
	if quotes[1].Name != "Batcat" {
		t.Errorf("second quote name = %q, want Batcat", quotes[1].Name)
	}
	if quotes[1].Change24h != nil {
		t.Errorf("change24h = %v for asset without one, want nil", quotes[1].Change24h)
	}
}

func TestGetPricesRespectsLimit(t *testing.T) {
	src := newTestSource(t, map[string]string{
		"/search":        searchBTC,
		"/coins/markets": marketsBTC,
	})

	quotes, err := src.GetPrices(context.Background(), "BTC", "USD", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Name != "Bitcoin" {
		t.Fatalf("quotes = %v, want only the top-ranked asset", quotes)
	}
}

func TestGetPricesSimplePriceFallback(t *testing.T) {
	src := newTestSource(t, map[string]string{
		"/search":       searchBTC,
		"/simple/price": `{"bitcoin":{"usd":49999.9}}`,
		// no /coins/markets route: that call 404s and degrades
	})

	quotes, err := src.GetPrices(context.Background(), "BTC", "USD", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want the simple-price fallback to answer", len(quotes))
	}
	if !quotes[0].Price.Equal(decimal.NewFromFloat(49999.9)) {
		t.Errorf("price = %s, want 49999.9", quotes[0].Price)
	}
	if quotes[0].Change24h != nil {
		t.Errorf("simple price carries no change percentages, got %v", quotes[0].Change24h)
	}
}

func TestGetPriceUnknownSymbol(t *testing.T) {
	src := newTestSource(t, map[string]string{
		"/search":     `{"coins":[]}`,
		"/coins/list": `[]`,
	})

	q, err := src.GetPrice(context.Background(), "NOSUCH", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != nil {
		t.Errorf("quote = %v, want nil", q)
	}
}

func TestRateLimiterPacesRequests(t *testing.T) {
	src := newTestSource(t, map[string]string{
		"/search":        searchBTC,
		"/coins/markets": marketsBTC,
	})
	src.Limiter = infra.NewRateLimiter(0, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := src.GetPrices(ctx, "BTC", "USD", 5)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline while waiting for a token", err)
	}
}

func TestCoinID(t *testing.T) {
	src := newTestSource(t, map[string]string{
		"/search": searchBTC,
	})

	id, err := src.CoinID(context.Background(), "btc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "bitcoin" {
		t.Errorf("id = %q, want bitcoin", id)
	}
}
