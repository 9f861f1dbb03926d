package pricing

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/skelhq/cryptoquote/pkg/models"
)

func TestConsensusRejectsMisidentifiedAsset(t *testing.T) {
	// Four sources agree on Bitcoin around 100; one source resolved the
	// symbol to a different asset trading at 5000. The consensus filter
	// must drop the impostor without knowing anything about either asset.
	svc := NewService(testConverter(t, http.StatusOK, defaultRates),
		newStubSource("a", quote("a", "BTC", "Bitcoin", "USD", "100")),
		newStubSource("b", quote("b", "BTC", "Bitcoin", "USD", "101")),
		newStubSource("c", quote("c", "BTC", "Bitcoin", "USD", "99")),
		newStubSource("d", quote("d", "BTC", "Bitcoin", "USD", "102")),
		newStubSource("e", quote("e", "BTC", "Bitcoin Candy", "USD", "5000")),
	)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 4 {
		t.Fatalf("got %d quotes, want 4: %v", len(quotes), quotes)
	}
	for _, q := range quotes {
		if q.Name != "Bitcoin" {
			t.Errorf("quote %s/%s survived, want only the modal group", q.Source, q.Name)
		}
	}
}

func TestConsensusKeepsAgreeingMinority(t *testing.T) {
	// A minority-name quote whose price agrees with the modal group is
	// most likely the same asset under a different label; it stays.
	svc := NewService(testConverter(t, http.StatusOK, defaultRates),
		newStubSource("a", quote("a", "BTC", "Bitcoin", "USD", "100")),
		newStubSource("b", quote("b", "BTC", "Bitcoin", "USD", "101")),
		newStubSource("c", quote("c", "BTC", "", "USD", "99")),
	)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("got %d quotes, want all 3: %v", len(quotes), quotes)
	}
}

func TestConsensusNameMatchIsCaseInsensitive(t *testing.T) {
	svc := NewService(testConverter(t, http.StatusOK, defaultRates),
		newStubSource("a", quote("a", "BTC", "Bitcoin", "USD", "100")),
		newStubSource("b", quote("b", "BTC", "bitcoin", "USD", "101")),
		newStubSource("c", quote("c", "BTC", " BITCOIN ", "USD", "5000")),
	)

	// All three share a consensus key, so the modal pass keeps them and
	// only the price-based outlier pass can cut the 5000 quote.
	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2: %v", len(quotes), quotes)
	}
}

func TestModalThresholdTunable(t *testing.T) {
	// Two sources agree on one name at 100, two others report different
	// names near a third of that. With the default threshold the pair's
	// median is enforced and the low quotes fall outside the band; a
	// raised threshold keeps the modal pass out of it, and the global
	// median (67.5) puts all four prices back in band.
	quotes := []models.Quote{
		quote("a", "BTC", "Bitcoin", "USD", "100"),
		quote("b", "BTC", "Bitcoin", "USD", "100"),
		quote("c", "BTC", "Bitcoin Cash", "USD", "30"),
		quote("d", "BTC", "Bitcoin Gold", "USD", "35"),
	}

	svc := NewService(testConverter(t, http.StatusOK, defaultRates))
	if got := svc.applyConsensus(quotes, 10); len(got) != 2 {
		t.Fatalf("default threshold kept %d quotes, want 2", len(got))
	}

	svc.ModalThreshold = 3
	if got := svc.applyConsensus(quotes, 10); len(got) != 4 {
		t.Fatalf("threshold 3 kept %d quotes, want all 4", len(got))
	}
}

func TestOutlierFilterSecondPass(t *testing.T) {
	// Same asset everywhere, one source glitched by two orders of
	// magnitude. No name disagreement, so only the second pass fires.
	svc := NewService(testConverter(t, http.StatusOK, defaultRates),
		newStubSource("a", quote("a", "BTC", "Bitcoin", "USD", "100")),
		newStubSource("b", quote("b", "BTC", "Bitcoin", "USD", "101")),
		newStubSource("c", quote("c", "BTC", "Bitcoin", "USD", "99")),
		newStubSource("d", quote("d", "BTC", "Bitcoin", "USD", "10000")),
	)

	quotes, err := svc.GetPrices(context.Background(), "BTC", "USD", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("got %d quotes, want glitched quote removed: %v", len(quotes), quotes)
	}
	for _, q := range quotes {
		if q.Price.GreaterThan(decimal.RequireFromString("200")) {
			t.Errorf("outlier %s survived", q.Price)
		}
	}
}

func TestOutlierFilterFullSetFallback(t *testing.T) {
	// When the band would reject every quote, returning nothing is
	// worse than returning the disputed set.
	svc := NewService(testConverter(t, http.StatusOK, defaultRates))
	svc.BandLower = decimal.RequireFromString("0.99")
	svc.BandUpper = decimal.RequireFromString("1.01")

	quotes := []models.Quote{
		quote("a", "BTC", "Bitcoin", "USD", "1"),
		quote("b", "BTC", "Bitcoin", "USD", "2"),
	}
	kept := svc.filterOutliers(quotes)
	if len(kept) != 2 {
		t.Fatalf("got %d quotes, want the full set back", len(kept))
	}
}

func TestConsensusSingleQuotePassesThrough(t *testing.T) {
	svc := NewService(testConverter(t, http.StatusOK, defaultRates))

	quotes := []models.Quote{quote("a", "OBSCURE", "Obscure Coin", "USD", "0.00001")}
	out := svc.applyConsensus(quotes, 5)
	if len(out) != 1 {
		t.Fatalf("got %d quotes, want single quote untouched", len(out))
	}
}

func TestMedianPrice(t *testing.T) {
	odd := []models.Quote{
		quote("a", "X", "", "USD", "3"),
		quote("b", "X", "", "USD", "1"),
		quote("c", "X", "", "USD", "2"),
	}
	if got := medianPrice(odd); !got.Equal(decimal.RequireFromString("2")) {
		t.Errorf("odd median = %s, want 2", got)
	}

	even := []models.Quote{
		quote("a", "X", "", "USD", "1"),
		quote("b", "X", "", "USD", "4"),
	}
	if got := medianPrice(even); !got.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("even median = %s, want 2.5", got)
	}
}
