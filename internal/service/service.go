package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-deal-alerts/internal/alerting"
	"price-deal-alerts/internal/config"
	"price-deal-alerts/internal/engine"
	"price-deal-alerts/internal/fetcher"
	"price-deal-alerts/internal/scheduler"
	"price-deal-alerts/internal/storage"
)

// cycle phases, in order; a failing source demotes only its own contribution.
const (
	phaseFetching = "fetching"
	phaseStoring  = "storing"
	phaseMatching = "matching"
)

// CycleReport accounts for one scrape cycle.
type CycleReport struct {
	Started        time.Time
	SourcesOK      int
	SourcesFailed  int
	Accepted       int
	Duplicates     int
	Rejected       int
	AlertsFired    int
	DeliveryErrors int
}

// Coordinator orchestrates scrape cycles: concurrent source fetches with
// isolated failure domains, append-only storage, then alert matching over the
// newly stored observations.
type Coordinator struct {
	scheduler *scheduler.Scheduler
	sources   []fetcher.SourceAdapter
	timeouts  map[string]time.Duration
	store     storage.ObservationStore
	matcher   *engine.AlertMatcher
	notifier  alerting.Notifier
	logger    zerolog.Logger

	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the ingestion coordinator.
func New(cfg *config.Config, sched *scheduler.Scheduler, sources []fetcher.SourceAdapter, store storage.ObservationStore, matcher *engine.AlertMatcher, notifier alerting.Notifier, logger zerolog.Logger) *Coordinator {
	timeouts := make(map[string]time.Duration, len(cfg.Sources))
	for _, source := range cfg.Sources {
		timeouts[source.Name] = source.Timeout
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Coordinator{
		scheduler: sched,
		sources:   sources,
		timeouts:  timeouts,
		store:     store,
		matcher:   matcher,
		notifier:  notifier,
		logger:    logger.With().Str("component", "coordinator").Logger(),
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned scrape loop.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return c.scheduler.Run(ctx, c.ProcessCycle)
}

// ProcessCycle runs one cycle guarded by the advisory lock so only one
// instance scrapes a given interval.
func (c *Coordinator) ProcessCycle(ctx context.Context, started time.Time) error {
	unlock, proceed, err := c.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		c.logger.Debug().Time("cycle", started).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report, err := c.RunCycle(ctx, started)
	c.logger.Info().
		Time("cycle", started).
		Int("sources_ok", report.SourcesOK).
		Int("sources_failed", report.SourcesFailed).
		Int("accepted", report.Accepted).
		Int("duplicates", report.Duplicates).
		Int("rejected", report.Rejected).
		Int("alerts_fired", report.AlertsFired).
		Msg("cycle complete")
	return err
}

type sourceResult struct {
	name         string
	observations []fetcher.RawObservation
	err          error
}

type storedObservation struct {
	product storage.Product
	obs     storage.PriceObservation
}

// RunCycle executes Fetching -> Storing -> Matching for one cycle. A cycle
// where every source fails is reported as an error; prior history is never
// discarded.
func (c *Coordinator) RunCycle(ctx context.Context, started time.Time) (CycleReport, error) {
	report := CycleReport{Started: started}
	if len(c.sources) == 0 {
		return report, errors.New("no sources configured")
	}

	results := c.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	stored := make([]storedObservation, 0)
	for _, result := range results {
		if result.err != nil {
			report.SourcesFailed++
			c.logger.Warn().Err(result.err).
				Str("source", result.name).
				Str("phase", phaseFetching).
				Msg("source failed; excluded from this cycle")
			continue
		}
		report.SourcesOK++

		for _, raw := range result.observations {
			accepted, obs, err := c.storeObservation(ctx, result.name, raw)
			switch {
			case err != nil && errors.Is(err, storage.ErrInvalidObservation):
				report.Rejected++
				c.logger.Warn().Err(err).
					Str("source", result.name).
					Str("product", raw.ProductName).
					Str("phase", phaseStoring).
					Msg("observation rejected")
			case err != nil:
				return report, fmt.Errorf("store observation from %s: %w", result.name, err)
			case accepted:
				report.Accepted++
				stored = append(stored, obs)
			default:
				report.Duplicates++
			}
		}
	}

	if report.SourcesOK == 0 {
		return report, fmt.Errorf("all %d sources failed", len(c.sources))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, entry := range stored {
		intents, err := c.matcher.Evaluate(ctx, entry.product, entry.obs)
		if err != nil {
			c.logger.Error().Err(err).
				Int64("product_id", entry.obs.ProductID).
				Str("phase", phaseMatching).
				Msg("alert evaluation failed")
			continue
		}
		report.AlertsFired += len(intents)
		report.DeliveryErrors += c.dispatch(ctx, intents)
	}

	return report, nil
}

// fetchAll invokes every adapter concurrently, each bounded by its own
// timeout, and waits for all to settle.
func (c *Coordinator) fetchAll(ctx context.Context) []sourceResult {
	results := make([]sourceResult, len(c.sources))

	var wg sync.WaitGroup
	for i, source := range c.sources {
		wg.Add(1)
		go func(idx int, src fetcher.SourceAdapter) {
			defer wg.Done()

			timeout := c.timeouts[src.Name()]
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			observations, err := src.Fetch(fetchCtx)
			results[idx] = sourceResult{name: src.Name(), observations: observations, err: err}
		}(i, source)
	}
	wg.Wait()

	return results
}

func (c *Coordinator) storeObservation(ctx context.Context, sourceName string, raw fetcher.RawObservation) (bool, storedObservation, error) {
	product, err := c.store.EnsureProduct(ctx, raw.ProductName, raw.Category)
	if err != nil {
		return false, storedObservation{}, err
	}

	obs := storage.PriceObservation{
		ProductID:    product.ID,
		SourceID:     sourceName,
		Price:        raw.Price,
		Currency:     raw.Currency,
		Availability: raw.Availability,
		ObservedAt:   raw.ObservedAt,
	}

	outcome, err := c.store.AppendObservation(ctx, obs)
	if err != nil {
		return false, storedObservation{}, err
	}
	if outcome == storage.DuplicateIgnored {
		return false, storedObservation{}, nil
	}
	return true, storedObservation{product: product, obs: obs}, nil
}

// dispatch forwards intents to the notification sink. Delivery is
// fire-and-forget: failures are logged and counted, never retried here.
func (c *Coordinator) dispatch(ctx context.Context, intents []engine.NotificationIntent) int {
	if !c.alertsOn || c.notifier == nil {
		return 0
	}

	failures := 0
	for _, intent := range intents {
		note := alerting.Notification{
			Product:     intent.ProductName,
			Contact:     intent.Contact,
			Price:       intent.Price,
			TargetPrice: intent.TargetPrice,
			Currency:    intent.Currency,
			Source:      intent.SourceID,
			ObservedAt:  intent.ObservedAt,
			Channels:    c.channels,
		}
		if err := c.notifier.Notify(ctx, note); err != nil {
			failures++
			c.logger.Error().Err(err).
				Str("alert_id", intent.AlertID.String()).
				Str("contact", intent.Contact).
				Msg("failed to dispatch alert")
		}
	}
	return failures
}

func (c *Coordinator) acquireLock(ctx context.Context) (func(), bool, error) {
	if c.lockKey == 0 || c.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, c.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
