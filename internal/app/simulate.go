package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/fetcher"
	"price-deal-alerts/internal/service"
)

// SimulateAlert 注入一条合成价格观测，走完整的匹配与告警流程。
func (a *App) SimulateAlert(ctx context.Context, product string, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	adapter := &staticSourceAdapter{
		name: "simulated",
		observations: []fetcher.RawObservation{{
			ProductName: product,
			Price:       price,
			Currency:    "USD",
			ObservedAt:  time.Now().UTC(),
		}},
	}

	_, _, matcher := a.newEngine(store)
	coordinator := service.New(a.Config, nil, []fetcher.SourceAdapter{adapter}, store, matcher, notifier, a.Logger)

	_, err = coordinator.RunCycle(ctx, time.Now().UTC())
	return err
}

type staticSourceAdapter struct {
	name         string
	observations []fetcher.RawObservation
}

func (s *staticSourceAdapter) Name() string { return s.name }

func (s *staticSourceAdapter) Fetch(ctx context.Context) ([]fetcher.RawObservation, error) {
	return s.observations, nil
}

var _ fetcher.SourceAdapter = (*staticSourceAdapter)(nil)
