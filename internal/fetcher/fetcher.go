package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RawObservation is one normalized price point returned by a source adapter,
// before catalog resolution and validation.
type RawObservation struct {
	ProductName  string
	Category     string
	Price        decimal.Decimal
	Currency     string
	Availability string
	ObservedAt   time.Time
}

// SourceAdapter hides everything marketplace-specific behind a fetch call.
// Implementations are treated as opaque and possibly failing; the coordinator
// isolates their errors per cycle.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context) ([]RawObservation, error)
}
