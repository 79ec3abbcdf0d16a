package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/storage"
)

// ErrNotEnoughData signals fewer than two daily buckets inside the window.
// Callers branch on it; it is not a failure.
var ErrNotEnoughData = errors.New("engine: not enough data for trend window")

const dayBucket = 24 * time.Hour

// TrendSummary is a derived rolling-window view over a product's history.
type TrendSummary struct {
	ProductID   int64
	WindowStart time.Time
	WindowEnd   time.Time
	Min         decimal.Decimal
	Max         decimal.Decimal
	Avg         decimal.Decimal
	// PctChange is nil when the earliest bucket price is zero.
	PctChange *decimal.Decimal
	Buckets   int
}

// TrendCalculator computes rolling statistics from the observation store.
// It is a pure read-side derivation; nothing here mutates stored history.
type TrendCalculator struct {
	store  storage.ObservationStore
	logger zerolog.Logger
}

// NewTrendCalculator wires a calculator over the observation store.
func NewTrendCalculator(store storage.ObservationStore, logger zerolog.Logger) *TrendCalculator {
	return &TrendCalculator{
		store:  store,
		logger: logger.With().Str("component", "trend").Logger(),
	}
}

// Summarize derives min/max/avg and percent change over [now-windowDays, now].
// Multi-source products are reduced to the best available price per UTC day
// bucket so a single volatile source cannot distort the trend.
func (c *TrendCalculator) Summarize(ctx context.Context, productID int64, windowDays int, now time.Time) (TrendSummary, error) {
	if windowDays <= 0 {
		return TrendSummary{}, fmt.Errorf("window days must be positive, got %d", windowDays)
	}

	now = now.UTC()
	since := now.Add(-time.Duration(windowDays) * dayBucket)

	observations, err := c.store.ListObservations(ctx, storage.ObservationQuery{
		ProductID: productID,
		Since:     &since,
		Until:     &now,
	})
	if err != nil {
		return TrendSummary{}, fmt.Errorf("list observations: %w", err)
	}

	buckets := make(map[time.Time]decimal.Decimal)
	for _, obs := range observations {
		day := obs.ObservedAt.UTC().Truncate(dayBucket)
		best, seen := buckets[day]
		if !seen || obs.Price.LessThan(best) {
			buckets[day] = obs.Price
		}
	}

	if len(buckets) < 2 {
		c.logger.Debug().
			Int64("product_id", productID).
			Int("buckets", len(buckets)).
			Msg("not enough daily buckets for trend window")
		return TrendSummary{}, ErrNotEnoughData
	}

	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	summary := TrendSummary{
		ProductID:   productID,
		WindowStart: since,
		WindowEnd:   now,
		Min:         buckets[days[0]],
		Max:         buckets[days[0]],
		Buckets:     len(days),
	}

	total := decimal.Zero
	for _, day := range days {
		price := buckets[day]
		if price.LessThan(summary.Min) {
			summary.Min = price
		}
		if price.GreaterThan(summary.Max) {
			summary.Max = price
		}
		total = total.Add(price)
	}
	summary.Avg = total.Div(decimal.NewFromInt(int64(len(days))))

	earliest := buckets[days[0]]
	latest := buckets[days[len(days)-1]]
	if !earliest.IsZero() {
		change := latest.Sub(earliest).Div(earliest)
		summary.PctChange = &change
	}

	return summary, nil
}
