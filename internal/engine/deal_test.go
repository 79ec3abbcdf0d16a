package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/storage"
)

func newRanker(store *storage.MemoryStore, priority []string) *DealRanker {
	trends := NewTrendCalculator(store, zerolog.Nop())
	return NewDealRanker(store, trends, priority, 30, zerolog.Nop())
}

func TestBestDealTieBreakBySourcePriority(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "laptop", "electronics")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedObservation(t, store, product.ID, "ebay", 44500, at)
	seedObservation(t, store, product.ID, "amazon", 44500, at)

	ranker := newRanker(store, []string{"amazon", "ebay"})

	for i := 0; i < 5; i++ {
		deal, err := ranker.BestDeal(context.Background(), product.ID, 24*time.Hour, at.Add(time.Hour))
		if err != nil {
			t.Fatalf("best deal: %v", err)
		}
		if deal.BestSource != "amazon" {
			t.Fatalf("call %d: priority source should win the tie, got %s", i, deal.BestSource)
		}
		if !deal.BestPrice.Equal(decimal.NewFromInt(44500)) {
			t.Fatalf("unexpected best price %s", deal.BestPrice)
		}
	}
}

func TestBestDealPrefersLowerThenFresher(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "phone", "electronics")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedObservation(t, store, product.ID, "amazon", 29999, at)
	seedObservation(t, store, product.ID, "flipkart", 27999, at.Add(time.Hour))
	seedObservation(t, store, product.ID, "ebay", 27999, at.Add(2*time.Hour))

	ranker := newRanker(store, []string{"amazon", "flipkart", "ebay"})
	deal, err := ranker.BestDeal(context.Background(), product.ID, 24*time.Hour, at.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("best deal: %v", err)
	}
	if deal.BestSource != "ebay" {
		t.Fatalf("fresher observation should win the price tie, got %s", deal.BestSource)
	}
}

func TestBestDealExcludesStaleObservations(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "monitor", "electronics")

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	seedObservation(t, store, product.ID, "amazon", 14999, now.Add(-48*time.Hour))

	ranker := newRanker(store, []string{"amazon"})
	if _, err := ranker.BestDeal(context.Background(), product.ID, 24*time.Hour, now); !errors.Is(err, ErrNoFreshData) {
		t.Fatalf("stale-only history should be ErrNoFreshData, got %v", err)
	}
}

func TestTopDealsRankingAndBaselineExclusion(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// bigDrop: deep cut against its trailing average
	bigDrop := seedProduct(t, store, "keyboard", "electronics")
	seedObservation(t, store, bigDrop.ID, "amazon", 100, now.Add(-5*24*time.Hour))
	seedObservation(t, store, bigDrop.ID, "amazon", 100, now.Add(-3*24*time.Hour))
	seedObservation(t, store, bigDrop.ID, "amazon", 80, now.Add(-time.Hour))

	// smallDrop: shallow cut against its trailing average
	smallDrop := seedProduct(t, store, "mouse", "electronics")
	seedObservation(t, store, smallDrop.ID, "amazon", 100, now.Add(-5*24*time.Hour))
	seedObservation(t, store, smallDrop.ID, "amazon", 100, now.Add(-3*24*time.Hour))
	seedObservation(t, store, smallDrop.ID, "amazon", 90, now.Add(-time.Hour))

	// noBaseline: only one daily bucket, must be excluded entirely
	noBaseline := seedProduct(t, store, "webcam", "electronics")
	seedObservation(t, store, noBaseline.ID, "amazon", 10, now.Add(-time.Hour))

	ranker := newRanker(store, []string{"amazon"})
	deals, err := ranker.TopDeals(context.Background(), 5, "", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("top deals: %v", err)
	}

	if len(deals) != 2 {
		t.Fatalf("expected 2 rankable products, got %d", len(deals))
	}
	if deals[0].ProductName != "keyboard" || deals[1].ProductName != "mouse" {
		t.Fatalf("unexpected ranking order: %s, %s", deals[0].ProductName, deals[1].ProductName)
	}
	if deals[0].DiscountPct.LessThanOrEqual(deals[1].DiscountPct) {
		t.Fatalf("ranking should be discount descending: %s vs %s", deals[0].DiscountPct, deals[1].DiscountPct)
	}
}

func TestTopDealsCategoryFilterAndLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	electronics := seedProduct(t, store, "laptop", "electronics")
	seedObservation(t, store, electronics.ID, "amazon", 100, now.Add(-4*24*time.Hour))
	seedObservation(t, store, electronics.ID, "amazon", 90, now.Add(-time.Hour))

	furniture := seedProduct(t, store, "desk", "furniture")
	seedObservation(t, store, furniture.ID, "amazon", 200, now.Add(-4*24*time.Hour))
	seedObservation(t, store, furniture.ID, "amazon", 100, now.Add(-time.Hour))

	ranker := newRanker(store, []string{"amazon"})
	deals, err := ranker.TopDeals(context.Background(), 5, "electronics", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("top deals: %v", err)
	}
	if len(deals) != 1 || deals[0].ProductName != "laptop" {
		t.Fatalf("category filter failed: %+v", deals)
	}

	deals, err = ranker.TopDeals(context.Background(), 1, "", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("top deals: %v", err)
	}
	if len(deals) != 1 || deals[0].ProductName != "desk" {
		t.Fatalf("limit should keep the deepest discount: %+v", deals)
	}
}
