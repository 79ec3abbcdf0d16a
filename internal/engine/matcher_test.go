package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/storage"
)

func TestEvaluateAtMostOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "laptop", "electronics")

	alert, err := store.CreateAlert(context.Background(), storage.Alert{
		ProductID:   product.ID,
		TargetPrice: decimal.NewFromInt(50000),
		Contact:     "user@example.com",
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}

	matcher := NewAlertMatcher(store, zerolog.Nop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var total []NotificationIntent
	for i, price := range []int64{52000, 49000, 51000, 48000} {
		obs := storage.PriceObservation{
			ProductID:  product.ID,
			SourceID:   "amazon",
			Price:      decimal.NewFromInt(price),
			Currency:   "INR",
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
		}
		intents, err := matcher.Evaluate(context.Background(), product, obs)
		if err != nil {
			t.Fatalf("evaluate price %d: %v", price, err)
		}
		total = append(total, intents...)
	}

	if len(total) != 1 {
		t.Fatalf("oscillating prices must fire exactly once, got %d intents", len(total))
	}
	intent := total[0]
	if !intent.Price.Equal(decimal.NewFromInt(49000)) {
		t.Fatalf("alert should fire on the first crossing, fired on %s", intent.Price)
	}
	if intent.AlertID != alert.ID || intent.Contact != "user@example.com" {
		t.Fatalf("intent does not reference the alert: %+v", intent)
	}
}

func TestEvaluateIndependentAlerts(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "phone", "electronics")
	ctx := context.Background()

	if _, err := store.CreateAlert(ctx, storage.Alert{ProductID: product.ID, TargetPrice: decimal.NewFromInt(30000), Contact: "a@example.com"}); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if _, err := store.CreateAlert(ctx, storage.Alert{ProductID: product.ID, TargetPrice: decimal.NewFromInt(25000), Contact: "b@example.com"}); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	matcher := NewAlertMatcher(store, zerolog.Nop())
	obs := storage.PriceObservation{
		ProductID:  product.ID,
		SourceID:   "flipkart",
		Price:      decimal.NewFromInt(27999),
		Currency:   "INR",
		ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	intents, err := matcher.Evaluate(ctx, product, obs)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("only the crossed alert should fire, got %d", len(intents))
	}
	if intents[0].Contact != "a@example.com" {
		t.Fatalf("wrong alert fired: %+v", intents[0])
	}
}

func TestEvaluateConcurrentObservationsFireOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "monitor", "electronics")
	ctx := context.Background()

	if _, err := store.CreateAlert(ctx, storage.Alert{ProductID: product.ID, TargetPrice: decimal.NewFromInt(15000), Contact: "c@example.com"}); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	matcher := NewAlertMatcher(store, zerolog.Nop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var fired int
	var wg sync.WaitGroup
	sources := []string{"amazon", "flipkart", "ebay", "walmart"}
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			obs := storage.PriceObservation{
				ProductID:  product.ID,
				SourceID:   source,
				Price:      decimal.NewFromInt(14500),
				Currency:   "INR",
				ObservedAt: base.Add(time.Duration(i) * time.Minute),
			}
			intents, err := matcher.Evaluate(ctx, product, obs)
			if err != nil {
				t.Errorf("evaluate %s: %v", source, err)
				return
			}
			mu.Lock()
			fired += len(intents)
			mu.Unlock()
		}(i, source)
	}
	wg.Wait()

	if fired != 1 {
		t.Fatalf("concurrent crossings must trigger exactly once, got %d", fired)
	}
}

func TestEvaluateAfterExplicitReset(t *testing.T) {
	store := storage.NewMemoryStore()
	product := seedProduct(t, store, "keyboard", "electronics")
	ctx := context.Background()

	alert, err := store.CreateAlert(ctx, storage.Alert{ProductID: product.ID, TargetPrice: decimal.NewFromInt(5000), Contact: "d@example.com"})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}

	matcher := NewAlertMatcher(store, zerolog.Nop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	below := storage.PriceObservation{
		ProductID:  product.ID,
		SourceID:   "amazon",
		Price:      decimal.NewFromInt(4999),
		Currency:   "INR",
		ObservedAt: base,
	}

	intents, err := matcher.Evaluate(ctx, product, below)
	if err != nil || len(intents) != 1 {
		t.Fatalf("first crossing should fire once: intents=%d err=%v", len(intents), err)
	}

	below.ObservedAt = base.Add(time.Hour)
	intents, err = matcher.Evaluate(ctx, product, below)
	if err != nil || len(intents) != 0 {
		t.Fatalf("triggered alert must not refire: intents=%d err=%v", len(intents), err)
	}

	if ok, err := store.ResetAlert(ctx, alert.ID); err != nil || !ok {
		t.Fatalf("reset alert: ok=%v err=%v", ok, err)
	}

	below.ObservedAt = base.Add(2 * time.Hour)
	intents, err = matcher.Evaluate(ctx, product, below)
	if err != nil || len(intents) != 1 {
		t.Fatalf("reset alert should fire again: intents=%d err=%v", len(intents), err)
	}
}
