package app

import (
	"context"
	"time"

	"price-deal-alerts/internal/service"
)

// Scan runs a single scrape cycle immediately, outside the scheduler.
func (a *App) Scan(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	_, _, matcher := a.newEngine(store)
	coordinator := service.New(a.Config, nil, a.newSources(), store, matcher, a.newNotifier(), a.Logger)

	report, err := coordinator.RunCycle(ctx, time.Now().UTC())
	a.Logger.Info().
		Int("sources_ok", report.SourcesOK).
		Int("sources_failed", report.SourcesFailed).
		Int("accepted", report.Accepted).
		Int("duplicates", report.Duplicates).
		Int("rejected", report.Rejected).
		Int("alerts_fired", report.AlertsFired).
		Msg("scan complete")
	return err
}
