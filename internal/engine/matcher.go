package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/storage"
)

// NotificationIntent records that an alert crossed its threshold and who to
// tell. Delivery belongs to the notification sink, not the matcher.
type NotificationIntent struct {
	AlertID     uuid.UUID
	Contact     string
	ProductID   int64
	ProductName string
	Price       decimal.Decimal
	TargetPrice decimal.Decimal
	Currency    string
	SourceID    string
	ObservedAt  time.Time
}

// AlertMatcher evaluates standing alerts against fresh observations. The
// at-most-once property rests on the alert store's guarded active->triggered
// transition: of any number of concurrent evaluations against one alert,
// exactly one sees the transition succeed and emits the intent.
type AlertMatcher struct {
	alerts storage.AlertStore
	logger zerolog.Logger
}

// NewAlertMatcher wires a matcher over the alert store.
func NewAlertMatcher(alerts storage.AlertStore, logger zerolog.Logger) *AlertMatcher {
	return &AlertMatcher{
		alerts: alerts,
		logger: logger.With().Str("component", "matcher").Logger(),
	}
}

// Evaluate checks every active alert on the observation's product and emits
// one intent per alert whose target is crossed. Alerts already in the
// triggered state are skipped; a failing alert never blocks its siblings.
func (m *AlertMatcher) Evaluate(ctx context.Context, product storage.Product, obs storage.PriceObservation) ([]NotificationIntent, error) {
	alerts, err := m.alerts.ListActiveAlerts(ctx, obs.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	intents := make([]NotificationIntent, 0)
	for _, alert := range alerts {
		if obs.Price.GreaterThan(alert.TargetPrice) {
			continue
		}

		transitioned, err := m.alerts.TriggerAlert(ctx, alert.ID, obs.ObservedAt)
		if err != nil {
			m.logger.Error().Err(err).
				Str("alert_id", alert.ID.String()).
				Int64("product_id", obs.ProductID).
				Msg("failed to trigger alert")
			continue
		}
		if !transitioned {
			// lost the race to a concurrent observation; already triggered
			continue
		}

		intents = append(intents, NotificationIntent{
			AlertID:     alert.ID,
			Contact:     alert.Contact,
			ProductID:   obs.ProductID,
			ProductName: product.Name,
			Price:       obs.Price,
			TargetPrice: alert.TargetPrice,
			Currency:    obs.Currency,
			SourceID:    obs.SourceID,
			ObservedAt:  obs.ObservedAt,
		})

		m.logger.Info().
			Str("alert_id", alert.ID.String()).
			Int64("product_id", obs.ProductID).
			Str("price", obs.Price.String()).
			Str("target", alert.TargetPrice.String()).
			Msg("alert triggered")
	}

	return intents, nil
}
