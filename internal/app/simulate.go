package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"card-price-sync/internal/alerting"
	"card-price-sync/internal/fetcher"
	"card-price-sync/internal/storage"
	"card-price-sync/internal/storage/memory"
)

// SimulateOptions describe a synthetic price move.
type SimulateOptions struct {
	CardID   string
	Finish   storage.Finish
	Previous string
	Latest   string
}

// SimulateAlert stages a price move in an in-memory store and runs it
// through the full sync and alert pipeline.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerts.Enabled {
		return errors.New("alerts are disabled")
	}
	if opts.CardID == "" {
		opts.CardID = "simulated-card"
	}
	if opts.Finish == "" {
		opts.Finish = storage.FinishNormal
	}

	previous, err := fetcher.ToMinorUnits(&opts.Previous)
	if err != nil || previous == nil {
		return fmt.Errorf("invalid previous price %q", opts.Previous)
	}
	latest, err := fetcher.ToMinorUnits(&opts.Latest)
	if err != nil || latest == nil {
		return fmt.Errorf("invalid latest price %q", opts.Latest)
	}

	store := memory.NewStore()
	if err := store.AddHolding(ctx, storage.Holding{OwnerID: 1, CardID: opts.CardID, Category: storage.CategoryOwned}); err != nil {
		return err
	}
	seed := storage.PriceObservation{CardID: opts.CardID, ObservedAt: time.Now().UTC().Add(-24 * time.Hour)}
	setPrice(&seed, opts.Finish, previous)
	if _, err := store.CreatePriceObservation(ctx, seed); err != nil {
		return err
	}

	var fresh storage.PriceObservation
	setPrice(&fresh, opts.Finish, latest)
	snap := &fetcher.Snapshot{
		CardID:      opts.CardID,
		BaseMinor:   fresh.BaseMinor,
		FoilMinor:   fresh.FoilMinor,
		EtchedMinor: fresh.EtchedMinor,
	}

	svc, err := a.newService(store, staticPrices{snap: snap}, nil)
	if err != nil {
		return err
	}
	summary, err := svc.SyncAll(ctx)
	if err != nil {
		return err
	}

	alerts := store.Alerts()
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "price move below alert thresholds; no alert created")
		return nil
	}
	if a.newNotifier() == nil {
		fmt.Fprintln(a.Out, alerting.RenderMessage(alerting.Notification{RunID: summary.RunID, Alerts: alerts}))
	}
	return nil
}

func setPrice(obs *storage.PriceObservation, finish storage.Finish, v *int64) {
	switch finish {
	case storage.FinishFoil:
		obs.FoilMinor = v
	case storage.FinishEtched:
		obs.EtchedMinor = v
	default:
		obs.BaseMinor = v
	}
}

type staticPrices struct {
	snap *fetcher.Snapshot
}

func (s staticPrices) Fetch(context.Context, string) (*fetcher.Snapshot, error) {
	out := *s.snap
	out.FetchedAt = time.Now().UTC()
	return &out, nil
}

var _ fetcher.PriceFetcher = staticPrices{}
