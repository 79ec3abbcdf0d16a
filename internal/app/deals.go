package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Deals prints the current best-deal ranking.
func (a *App) Deals(ctx context.Context, opts DealsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	_, ranker, _ := a.newEngine(store)

	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.Engine.TopDeals
	}

	deals, err := ranker.TopDeals(ctx, limit, opts.Category, a.Config.Engine.DealFreshness, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		fmt.Fprintln(os.Stdout, "no deals rankable yet (need fresh observations and a trend baseline)")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Product\tBest Price\tSource\tDiscount%\tAs Of (UTC)")

	for _, deal := range deals {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			sanitizeInline(deal.ProductName),
			formatDecimal(deal.BestPrice, 2),
			deal.BestSource,
			formatDecimal(deal.DiscountPct, 2),
			deal.AsOf.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}
