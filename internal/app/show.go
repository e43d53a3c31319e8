package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"card-price-sync/internal/fetcher"
	"card-price-sync/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	CardID string
	Limit  int
}

// AlertListOptions configure alert listing. OwnerID zero lists every owner.
type AlertListOptions struct {
	OwnerID int64
	Limit   int
}

// Show prints a card's most recent observations, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.CardID == "" {
		return errors.New("card id is required")
	}

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	history, err := repo.RecentObservations(ctx, opts.CardID, opts.Limit)
	if err != nil {
		return err
	}
	return a.printObservations(history)
}

func (a *App) printObservations(history []storage.PriceObservation) error {
	if len(history) == 0 {
		fmt.Fprintln(a.Out, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tCard\tNormal\tFoil\tEtched")
	for _, obs := range history {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.CardID,
			fetcher.FormatMinorUnits(obs.BaseMinor),
			fetcher.FormatMinorUnits(obs.FoilMinor),
			fetcher.FormatMinorUnits(obs.EtchedMinor),
		)
	}
	return writer.Flush()
}

// ListAlerts prints active alerts, newest first.
func (a *App) ListAlerts(ctx context.Context, opts AlertListOptions) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	alerts, err := repo.ListActiveAlerts(ctx, opts.OwnerID, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no active alerts")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCreated (UTC)\tOwner\tCard\tFinish\tKind\tPrevious\tNew\tChange%")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%+.1f\n",
			alert.ID,
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.OwnerID,
			alert.CardID,
			alert.Finish,
			alert.Kind,
			fetcher.FormatMinorUnits(&alert.PreviousMinor),
			fetcher.FormatMinorUnits(&alert.NewMinor),
			alert.PercentChange,
		)
	}
	return writer.Flush()
}

// DismissAlert marks an alert dismissed.
func (a *App) DismissAlert(ctx context.Context, id int64) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := repo.DismissAlert(ctx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("alert %d: %w", id, err)
		}
		return err
	}
	fmt.Fprintf(a.Out, "alert %d dismissed\n", id)
	return nil
}
