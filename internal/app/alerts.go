package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-deal-alerts/internal/storage"
)

// AlertAdd registers a new active alert for a known product.
func (a *App) AlertAdd(ctx context.Context, opts AlertAddOptions) error {
	if opts.TargetPrice <= 0 {
		return errors.New("target price must be greater than zero")
	}
	if opts.Contact == "" {
		return errors.New("contact must not be empty")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	product, err := store.FindProduct(ctx, opts.Product)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return fmt.Errorf("product %q not observed yet; run a scan first", opts.Product)
		}
		return err
	}

	alert, err := store.CreateAlert(ctx, storage.Alert{
		ProductID:   product.ID,
		TargetPrice: decimal.NewFromFloat(opts.TargetPrice),
		Contact:     opts.Contact,
	})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("alert_id", alert.ID.String()).
		Str("product", product.Name).
		Str("target", alert.TargetPrice.String()).
		Msg("alert created")
	fmt.Fprintf(os.Stdout, "alert %s created for %s at target %s\n", alert.ID, product.Name, alert.TargetPrice.StringFixed(2))
	return nil
}

// AlertList prints all alerts with their states.
func (a *App) AlertList(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tProduct\tTarget\tContact\tState\tLast Triggered (UTC)")

	for _, alert := range alerts {
		product, err := store.GetProduct(ctx, alert.ProductID)
		if err != nil {
			return err
		}

		triggered := "-"
		if alert.LastTriggeredAt != nil {
			triggered = alert.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID,
			sanitizeInline(product.Name),
			formatDecimal(alert.TargetPrice, 2),
			alert.Contact,
			alert.State,
			triggered,
		)
	}

	writer.Flush()
	return nil
}

// AlertReset re-arms a triggered alert. This is the only path back to active.
func (a *App) AlertReset(ctx context.Context, id string) error {
	return a.transitionAlert(ctx, id, "reset", func(ctx context.Context, store storage.AlertStore, alertID uuid.UUID) (bool, error) {
		return store.ResetAlert(ctx, alertID)
	})
}

// AlertCancel retires an alert.
func (a *App) AlertCancel(ctx context.Context, id string) error {
	return a.transitionAlert(ctx, id, "cancel", func(ctx context.Context, store storage.AlertStore, alertID uuid.UUID) (bool, error) {
		return store.CancelAlert(ctx, alertID)
	})
}

func (a *App) transitionAlert(ctx context.Context, id, action string, transition func(context.Context, storage.AlertStore, uuid.UUID) (bool, error)) error {
	alertID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid alert id %q: %w", id, err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	done, err := transition(ctx, store, alertID)
	if err != nil {
		return err
	}
	if !done {
		fmt.Fprintf(os.Stdout, "alert %s not in a state that allows %s\n", alertID, action)
		return nil
	}

	fmt.Fprintf(os.Stdout, "alert %s %s applied\n", alertID, action)
	return nil
}
