package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAppendObservationIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	product, err := store.EnsureProduct(ctx, "Laptop", "electronics")
	if err != nil {
		t.Fatalf("ensure product: %v", err)
	}

	obs := PriceObservation{
		ProductID:  product.ID,
		SourceID:   "amazon",
		Price:      decimal.NewFromInt(45999),
		Currency:   "INR",
		ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	outcome, err := store.AppendObservation(ctx, obs)
	if err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if outcome != ObservationAccepted {
		t.Fatalf("first append should be accepted, got %v", outcome)
	}

	outcome, err = store.AppendObservation(ctx, obs)
	if err != nil {
		t.Fatalf("duplicate append should not error: %v", err)
	}
	if outcome != DuplicateIgnored {
		t.Fatalf("duplicate append should be ignored, got %v", outcome)
	}

	stored, err := store.ListObservations(ctx, ObservationQuery{ProductID: product.ID})
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(stored))
	}
}

func TestAppendObservationRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	product, err := store.EnsureProduct(ctx, "Phone", "electronics")
	if err != nil {
		t.Fatalf("ensure product: %v", err)
	}

	cases := map[string]PriceObservation{
		"negative price": {
			ProductID:  product.ID,
			SourceID:   "amazon",
			Price:      decimal.NewFromInt(-1),
			Currency:   "INR",
			ObservedAt: time.Now().UTC(),
		},
		"missing source": {
			ProductID:  product.ID,
			Price:      decimal.NewFromInt(100),
			Currency:   "INR",
			ObservedAt: time.Now().UTC(),
		},
		"missing currency": {
			ProductID:  product.ID,
			SourceID:   "amazon",
			Price:      decimal.NewFromInt(100),
			ObservedAt: time.Now().UTC(),
		},
		"missing timestamp": {
			ProductID: product.ID,
			SourceID:  "amazon",
			Price:     decimal.NewFromInt(100),
			Currency:  "INR",
		},
	}

	for name, obs := range cases {
		if _, err := store.AppendObservation(context.Background(), obs); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}

	stored, err := store.ListObservations(ctx, ObservationQuery{ProductID: product.ID})
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("rejected observations must not be stored, found %d", len(stored))
	}
}

func TestListObservationsOrderedDespiteArrival(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	product, err := store.EnsureProduct(ctx, "Monitor", "electronics")
	if err != nil {
		t.Fatalf("ensure product: %v", err)
	}

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// arrival order deliberately scrambled
	for _, offset := range []int{3, 0, 2, 1} {
		obs := PriceObservation{
			ProductID:  product.ID,
			SourceID:   "ebay",
			Price:      decimal.NewFromInt(int64(15000 + offset)),
			Currency:   "INR",
			ObservedAt: base.Add(time.Duration(offset) * time.Hour),
		}
		if _, err := store.AppendObservation(ctx, obs); err != nil {
			t.Fatalf("append offset %d: %v", offset, err)
		}
	}

	stored, err := store.ListObservations(ctx, ObservationQuery{ProductID: product.ID})
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(stored) != 4 {
		t.Fatalf("expected 4 observations, got %d", len(stored))
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].ObservedAt.Before(stored[i-1].ObservedAt) {
			t.Fatalf("observations out of order at index %d", i)
		}
	}
}

func TestTriggerAlertAtomicTransition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	product, err := store.EnsureProduct(ctx, "Keyboard", "electronics")
	if err != nil {
		t.Fatalf("ensure product: %v", err)
	}

	alert, err := store.CreateAlert(ctx, Alert{
		ProductID:   product.ID,
		TargetPrice: decimal.NewFromInt(5000),
		Contact:     "user@example.com",
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if alert.State != AlertActive {
		t.Fatalf("new alert should be active, got %s", alert.State)
	}

	at := time.Now().UTC()
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TriggerAlert(ctx, alert.ID, at)
			if err != nil {
				t.Errorf("trigger alert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful transition, got %d", wins)
	}

	ok, err := store.ResetAlert(ctx, alert.ID)
	if err != nil || !ok {
		t.Fatalf("reset of triggered alert should succeed: ok=%v err=%v", ok, err)
	}

	ok, err = store.TriggerAlert(ctx, alert.ID, at)
	if err != nil || !ok {
		t.Fatalf("reset alert should be triggerable again: ok=%v err=%v", ok, err)
	}

	ok, err = store.CancelAlert(ctx, alert.ID)
	if err != nil || !ok {
		t.Fatalf("cancel should succeed from triggered: ok=%v err=%v", ok, err)
	}
	ok, err = store.ResetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("reset cancelled alert errored: %v", err)
	}
	if ok {
		t.Fatal("cancelled alert must not re-arm")
	}
}

func TestEnsureProductIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.EnsureProduct(ctx, "  Gaming   Laptop ", "electronics")
	if err != nil {
		t.Fatalf("ensure product: %v", err)
	}
	second, err := store.EnsureProduct(ctx, "gaming laptop", "")
	if err != nil {
		t.Fatalf("ensure product again: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("normalized names should resolve to one product: %d vs %d", first.ID, second.ID)
	}
	if first.Name != "gaming laptop" {
		t.Fatalf("unexpected normalized name %q", first.Name)
	}
}
