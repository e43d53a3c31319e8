package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput is returned for records missing required fields.
	ErrInvalidInput = errors.New("storage: invalid input")
)

// WorkingSet provides the card identifiers that need a price refresh.
type WorkingSet interface {
	// DistinctCardIDs returns every card held by any owner in any category,
	// each identifier once.
	DistinctCardIDs(ctx context.Context) ([]string, error)
}

// Holdings exposes who holds which card.
type Holdings interface {
	AddHolding(ctx context.Context, h Holding) error
	// OwnersHolding returns the owners holding cardID under category, ascending.
	OwnersHolding(ctx context.Context, cardID string, category Category) ([]int64, error)
}

// ObservationStore persists append-only price observations.
type ObservationStore interface {
	CreatePriceObservation(ctx context.Context, obs PriceObservation) (PriceObservation, error)
	// LatestObservation returns ErrNotFound when the card has no history.
	LatestObservation(ctx context.Context, cardID string) (PriceObservation, error)
	// ObservationsOnDate lists observations on the calendar day of day, in day's location.
	ObservationsOnDate(ctx context.Context, cardID string, day time.Time) ([]PriceObservation, error)
	// CardIDsObservedBetween lists distinct cards with an observation in [from, to).
	CardIDsObservedBetween(ctx context.Context, from, to time.Time) ([]string, error)
	// RecentObservations lists up to limit observations, newest first.
	RecentObservations(ctx context.Context, cardID string, limit int) ([]PriceObservation, error)
	// ListObservations lists observations at or after since, oldest first.
	ListObservations(ctx context.Context, cardID string, since time.Time) ([]PriceObservation, error)
}

// AlertStore persists price alerts.
type AlertStore interface {
	CreatePriceAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error)
	// RecentAlertExists reports whether a non-dismissed alert for the pair
	// was created at or after since.
	RecentAlertExists(ctx context.Context, ownerID int64, cardID string, since time.Time) (bool, error)
	// ListActiveAlerts lists non-dismissed alerts newest first. ownerID 0 lists every owner.
	ListActiveAlerts(ctx context.Context, ownerID int64, limit int) ([]PriceAlert, error)
	// DismissAlert marks an alert dismissed. Dismissing twice keeps the first timestamp.
	DismissAlert(ctx context.Context, id int64, at time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository aggregates every store the sync pipeline consumes.
type Repository interface {
	WorkingSet
	Holdings
	ObservationStore
	AlertStore
	Close() error
}
