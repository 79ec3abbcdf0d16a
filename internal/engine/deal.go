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

// ErrNoFreshData signals that no observation falls inside the freshness
// window. Callers branch on it; it is not a failure.
var ErrNoFreshData = errors.New("engine: no fresh observations")

var dec100 = decimal.NewFromInt(100)

// Deal is the derived best-price view for one product.
type Deal struct {
	ProductID   int64
	ProductName string
	BestPrice   decimal.Decimal
	BestSource  string
	AsOf        time.Time
	// DiscountPct is only populated by TopDeals, relative to the
	// trailing baseline average.
	DiscountPct decimal.Decimal
}

// DealRanker derives current best prices. It holds no mutable deal state;
// every call recomputes from the observation store.
type DealRanker struct {
	store    storage.ObservationStore
	trends   *TrendCalculator
	rank     map[string]int
	baseline int
	logger   zerolog.Logger
}

// NewDealRanker wires a ranker. priority is the configured source order used
// to break exact price/timestamp ties; baselineDays is the trailing window
// for discount computation.
func NewDealRanker(store storage.ObservationStore, trends *TrendCalculator, priority []string, baselineDays int, logger zerolog.Logger) *DealRanker {
	rank := make(map[string]int, len(priority))
	for i, name := range priority {
		rank[name] = i
	}
	if baselineDays <= 0 {
		baselineDays = 30
	}
	return &DealRanker{
		store:    store,
		trends:   trends,
		rank:     rank,
		baseline: baselineDays,
		logger:   logger.With().Str("component", "deals").Logger(),
	}
}

// BestDeal returns the lowest fresh price for a product. Ties on price go to
// the most recent observation, then to the configured source priority, so
// repeated calls over unchanged history are deterministic.
func (r *DealRanker) BestDeal(ctx context.Context, productID int64, freshness time.Duration, now time.Time) (Deal, error) {
	now = now.UTC()
	since := now.Add(-freshness)

	observations, err := r.store.ListObservations(ctx, storage.ObservationQuery{
		ProductID: productID,
		Since:     &since,
		Until:     &now,
	})
	if err != nil {
		return Deal{}, fmt.Errorf("list observations: %w", err)
	}
	if len(observations) == 0 {
		return Deal{}, ErrNoFreshData
	}

	best := observations[0]
	for _, obs := range observations[1:] {
		if r.better(obs, best) {
			best = obs
		}
	}

	return Deal{
		ProductID:  productID,
		BestPrice:  best.Price,
		BestSource: best.SourceID,
		AsOf:       best.ObservedAt,
	}, nil
}

// TopDeals ranks products by (discount vs trailing baseline desc, price asc).
// Products without a trend baseline or fresh data are excluded rather than
// given a synthetic baseline.
func (r *DealRanker) TopDeals(ctx context.Context, n int, category string, freshness time.Duration, now time.Time) ([]Deal, error) {
	products, err := r.store.ListProducts(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	deals := make([]Deal, 0, len(products))
	for _, product := range products {
		deal, err := r.BestDeal(ctx, product.ID, freshness, now)
		if err != nil {
			if errors.Is(err, ErrNoFreshData) {
				continue
			}
			return nil, err
		}

		summary, err := r.trends.Summarize(ctx, product.ID, r.baseline, now)
		if err != nil {
			if errors.Is(err, ErrNotEnoughData) {
				r.logger.Debug().Int64("product_id", product.ID).Msg("no baseline; excluded from ranking")
				continue
			}
			return nil, err
		}
		if summary.Avg.IsZero() {
			continue
		}

		deal.ProductName = product.Name
		deal.DiscountPct = summary.Avg.Sub(deal.BestPrice).Div(summary.Avg).Mul(dec100)
		deals = append(deals, deal)
	}

	sort.Slice(deals, func(i, j int) bool {
		if !deals[i].DiscountPct.Equal(deals[j].DiscountPct) {
			return deals[i].DiscountPct.GreaterThan(deals[j].DiscountPct)
		}
		if !deals[i].BestPrice.Equal(deals[j].BestPrice) {
			return deals[i].BestPrice.LessThan(deals[j].BestPrice)
		}
		return deals[i].ProductName < deals[j].ProductName
	})

	if n > 0 && len(deals) > n {
		deals = deals[:n]
	}
	return deals, nil
}

func (r *DealRanker) better(a, b storage.PriceObservation) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	if ra, rb := r.sourceRank(a.SourceID), r.sourceRank(b.SourceID); ra != rb {
		return ra < rb
	}
	return a.SourceID < b.SourceID
}

// sourceRank orders configured sources first, unknown sources after them by
// name so tie-breaks stay deterministic either way.
func (r *DealRanker) sourceRank(source string) int {
	if rank, ok := r.rank[source]; ok {
		return rank
	}
	return len(r.rank)
}
