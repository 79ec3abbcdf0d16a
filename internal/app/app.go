package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-deal-alerts/internal/alerting"
	"price-deal-alerts/internal/config"
	"price-deal-alerts/internal/engine"
	"price-deal-alerts/internal/fetcher"
	"price-deal-alerts/internal/scheduler"
	"price-deal-alerts/internal/service"
	"price-deal-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources() []fetcher.SourceAdapter {
	sources := make([]fetcher.SourceAdapter, 0, len(a.Config.Sources))
	for _, cfg := range a.Config.Sources {
		sources = append(sources, fetcher.NewMarket(fetcher.MarketOptions{
			Name:      cfg.Name,
			BaseURL:   cfg.BaseURL,
			Query:     cfg.Query,
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		}, a.Logger))
	}
	return sources
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openStore returns the engine store: Postgres-backed when database.dsn is
// configured, otherwise an in-memory store whose history dies with the process.
func (a *App) openStore(ctx context.Context) (storage.EngineStore, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, history will not survive restarts")
		return storage.NewMemoryStore(), nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEngine(store storage.EngineStore) (*engine.TrendCalculator, *engine.DealRanker, *engine.AlertMatcher) {
	trends := engine.NewTrendCalculator(store, a.Logger)
	ranker := engine.NewDealRanker(store, trends, a.Config.SourcePriority(), a.Config.Engine.BaselineWindowDays, a.Logger)
	matcher := engine.NewAlertMatcher(store, a.Logger)
	return trends, ranker, matcher
}

// Run executes the long-running scrape loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	_, _, matcher := a.newEngine(store)
	coordinator := service.New(a.Config, sched, a.newSources(), store, matcher, a.newNotifier(), a.Logger)

	a.Logger.Info().Int("sources", len(a.Config.Sources)).Msg("starting price tracking service")
	err = coordinator.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price tracking service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Product   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Product string
}

// DealsOptions configure the deals command.
type DealsOptions struct {
	Limit    int
	Category string
}

// AlertAddOptions configure alert creation.
type AlertAddOptions struct {
	Product     string
	TargetPrice float64
	Contact     string
}
