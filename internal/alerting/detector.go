package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"card-price-sync/internal/metrics"
	"card-price-sync/internal/storage"
)

// DetectorOptions tune the change detector.
type DetectorOptions struct {
	// IncreasePct flags moves at or above +IncreasePct percent.
	IncreasePct float64
	// DecreasePct flags moves at or below -DecreasePct percent.
	DecreasePct float64
	// DedupWindow suppresses a new alert while an active one for the same
	// owner and card is younger than this.
	DedupWindow time.Duration
	// Lookback selects the cards Detect evaluates: those observed within it.
	Lookback time.Duration
	Now      func() time.Time
}

// Detector turns the two most recent observations of a card into alerts for
// the card's owners.
type Detector struct {
	observations storage.ObservationStore
	holdings     storage.Holdings
	alerts       storage.AlertStore
	opts         DetectorOptions
	logger       zerolog.Logger
}

// NewDetector constructs a Detector. Zero options take the defaults
// +20% / -30% with a 24h window and lookback.
func NewDetector(observations storage.ObservationStore, holdings storage.Holdings, alerts storage.AlertStore, opts DetectorOptions, logger zerolog.Logger) *Detector {
	if opts.IncreasePct <= 0 {
		opts.IncreasePct = 20
	}
	if opts.DecreasePct <= 0 {
		opts.DecreasePct = 30
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 24 * time.Hour
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Detector{
		observations: observations,
		holdings:     holdings,
		alerts:       alerts,
		opts:         opts,
		logger:       logger.With().Str("component", "alert_detector").Logger(),
	}
}

// Move is a threshold-crossing change of one finish's price.
type Move struct {
	Finish        storage.Finish
	Kind          storage.AlertKind
	PreviousMinor int64
	NewMinor      int64
	PercentChange float64
}

// PercentChange returns (latest-previous)/previous*100. ok is false when
// previous is zero.
func PercentChange(previous, latest int64) (pct float64, ok bool) {
	if previous == 0 {
		return 0, false
	}
	return float64(latest-previous) * 100 / float64(previous), true
}

// Classify maps a percent change to an alert kind.
func (d *Detector) Classify(pct float64) (storage.AlertKind, bool) {
	switch {
	case pct >= d.opts.IncreasePct:
		return storage.AlertIncrease, true
	case pct <= -d.opts.DecreasePct:
		return storage.AlertDecrease, true
	}
	return "", false
}

// Moves compares two observations finish by finish. Finishes missing a
// price on either side are skipped.
func (d *Detector) Moves(previous, latest storage.PriceObservation) []Move {
	var moves []Move
	for _, finish := range storage.Finishes {
		prev, next := previous.Price(finish), latest.Price(finish)
		if prev == nil || next == nil {
			continue
		}
		pct, ok := PercentChange(*prev, *next)
		if !ok {
			continue
		}
		kind, ok := d.Classify(pct)
		if !ok {
			continue
		}
		moves = append(moves, Move{
			Finish:        finish,
			Kind:          kind,
			PreviousMinor: *prev,
			NewMinor:      *next,
			PercentChange: pct,
		})
	}
	return moves
}

// Detect evaluates every card observed within the lookback and returns the
// alerts it created. Per-card failures are logged and joined into the
// returned error; alerts created before a failure are still returned.
func (d *Detector) Detect(ctx context.Context) ([]storage.PriceAlert, error) {
	now := d.opts.Now()
	cards, err := d.observations.CardIDsObservedBetween(ctx, now.Add(-d.opts.Lookback), now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("list recently observed cards: %w", err)
	}
	return d.DetectCards(ctx, cards)
}

// DetectCards evaluates the given cards.
func (d *Detector) DetectCards(ctx context.Context, cardIDs []string) ([]storage.PriceAlert, error) {
	var (
		created []storage.PriceAlert
		errs    []error
	)
	for _, cardID := range cardIDs {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		alerts, err := d.detectCard(ctx, cardID)
		created = append(created, alerts...)
		if err != nil {
			d.logger.Warn().Err(err).Str("card_id", cardID).Msg("alert detection failed for card")
			errs = append(errs, fmt.Errorf("card %s: %w", cardID, err))
		}
	}

	d.logger.Info().Int("cards", len(cardIDs)).Int("alerts", len(created)).Msg("alert detection complete")
	return created, errors.Join(errs...)
}

func (d *Detector) detectCard(ctx context.Context, cardID string) ([]storage.PriceAlert, error) {
	recent, err := d.observations.RecentObservations(ctx, cardID, 2)
	if err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}
	if len(recent) < 2 {
		return nil, nil
	}

	moves := d.Moves(recent[1], recent[0])
	if len(moves) == 0 {
		return nil, nil
	}

	owners, err := d.holdings.OwnersHolding(ctx, cardID, storage.CategoryOwned)
	if err != nil {
		return nil, fmt.Errorf("owners holding: %w", err)
	}

	now := d.opts.Now()
	since := now.Add(-d.opts.DedupWindow)
	var created []storage.PriceAlert
	for _, owner := range owners {
		exists, err := d.alerts.RecentAlertExists(ctx, owner, cardID, since)
		if err != nil {
			return created, fmt.Errorf("recent alert check: %w", err)
		}
		if exists {
			d.logger.Debug().Int64("owner_id", owner).Str("card_id", cardID).Msg("alert suppressed by dedup window")
			continue
		}

		// one alert per owner and card per pass; the first crossing finish wins
		m := moves[0]
		alert, err := d.alerts.CreatePriceAlert(ctx, storage.PriceAlert{
			OwnerID:       owner,
			CardID:        cardID,
			Kind:          m.Kind,
			Finish:        m.Finish,
			PreviousMinor: m.PreviousMinor,
			NewMinor:      m.NewMinor,
			PercentChange: m.PercentChange,
			CreatedAt:     now,
		})
		if err != nil {
			return created, fmt.Errorf("create alert: %w", err)
		}
		metrics.AlertsCreated.WithLabelValues(string(alert.Kind)).Inc()
		d.logger.Info().
			Int64("owner_id", owner).
			Str("card_id", cardID).
			Str("kind", string(alert.Kind)).
			Str("finish", string(alert.Finish)).
			Float64("percent_change", alert.PercentChange).
			Msg("price alert created")
		created = append(created, alert)
	}
	return created, nil
}
