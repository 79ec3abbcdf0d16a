package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidObservation marks observations rejected during validation.
// Rejected records are never stored.
var ErrInvalidObservation = errors.New("storage: invalid observation")

// Product is a tracked catalog item. Products are created on the first
// successful observation for a previously-unseen name.
type Product struct {
	ID        int64
	Name      string
	Category  string
	CreatedAt time.Time
}

// PriceObservation is one immutable price point for a (product, source) pair.
// The logical ordering key is ObservedAt, regardless of arrival order.
type PriceObservation struct {
	ProductID    int64
	SourceID     string
	Price        decimal.Decimal
	Currency     string
	Availability string
	ObservedAt   time.Time
	CreatedAt    time.Time
}

// Validate enforces the append preconditions.
func (o PriceObservation) Validate() error {
	if o.ProductID <= 0 {
		return fmt.Errorf("%w: missing product id", ErrInvalidObservation)
	}
	if strings.TrimSpace(o.SourceID) == "" {
		return fmt.Errorf("%w: missing source id", ErrInvalidObservation)
	}
	if o.Price.IsNegative() {
		return fmt.Errorf("%w: negative price %s", ErrInvalidObservation, o.Price.String())
	}
	if strings.TrimSpace(o.Currency) == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidObservation)
	}
	if o.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observed_at", ErrInvalidObservation)
	}
	return nil
}

// AppendOutcome reports what an append did with a valid observation.
type AppendOutcome int

const (
	// ObservationAccepted means a new record was stored.
	ObservationAccepted AppendOutcome = iota
	// DuplicateIgnored means an identical (product, source, observed_at)
	// record already existed; the call is an idempotent no-op.
	DuplicateIgnored
)

// ObservationQuery filters a range read. Since/Until are inclusive when set.
type ObservationQuery struct {
	ProductID int64
	SourceID  string
	Since     *time.Time
	Until     *time.Time
}

// AlertState enumerates the alert lifecycle.
type AlertState string

const (
	AlertActive    AlertState = "active"
	AlertTriggered AlertState = "triggered"
	AlertCancelled AlertState = "cancelled"
)

// Alert is a standing price threshold watch. Only the alert store performs
// state transitions: active->triggered on a crossing, triggered->active on an
// explicit reset, any->cancelled on user action.
type Alert struct {
	ID              uuid.UUID
	ProductID       int64
	TargetPrice     decimal.Decimal
	Contact         string
	State           AlertState
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
}

// NormalizeProductName canonicalises names before catalog lookup.
func NormalizeProductName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
