package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/storage"
)

// Show prints recent price observations, optionally for a single product.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var observations []storage.PriceObservation
	names := make(map[int64]string)

	if opts.Product != "" {
		product, err := store.FindProduct(ctx, opts.Product)
		if err != nil {
			return err
		}
		names[product.ID] = product.Name

		observations, err = store.ListObservations(ctx, storage.ObservationQuery{ProductID: product.ID})
		if err != nil {
			return err
		}
		if len(observations) > opts.Limit {
			observations = observations[len(observations)-opts.Limit:]
		}
	} else {
		observations, err = store.ListRecentObservations(ctx, opts.Limit)
		if err != nil {
			return err
		}
		for _, obs := range observations {
			if _, ok := names[obs.ProductID]; ok {
				continue
			}
			product, err := store.GetProduct(ctx, obs.ProductID)
			if err != nil {
				return err
			}
			names[product.ID] = product.Name
		}
	}

	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tProduct\tSource\tPrice\tCurrency\tAvailability")

	for _, obs := range observations {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			obs.ObservedAt.UTC().Format(time.RFC3339),
			sanitizeInline(names[obs.ProductID]),
			obs.SourceID,
			formatDecimal(obs.Price, 2),
			obs.Currency,
			obs.Availability,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
