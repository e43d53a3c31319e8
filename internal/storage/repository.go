package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"card-price-sync/internal/storage/migrations"
)

const (
	upsertHoldingSQL = `INSERT INTO holdings (owner_id, card_id, category, quantity)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (owner_id, card_id, category) DO UPDATE
    SET quantity = EXCLUDED.quantity;`

	distinctCardIDsSQL = `SELECT DISTINCT card_id FROM holdings ORDER BY card_id;`

	ownersHoldingSQL = `SELECT owner_id
    FROM holdings
    WHERE card_id = $1
      AND category = $2
    ORDER BY owner_id;`

	insertObservationSQL = `INSERT INTO price_observations (
        card_id,
        base_price_minor,
        foil_price_minor,
        etched_price_minor,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	observationColumns = `id, card_id, base_price_minor, foil_price_minor, etched_price_minor, observed_at`

	observationsBetweenSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    WHERE card_id = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	recentObservationsSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    WHERE card_id = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	listObservationsSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    WHERE card_id = $1
      AND observed_at >= $2
    ORDER BY observed_at, id;`

	cardIDsObservedBetweenSQL = `SELECT DISTINCT card_id
    FROM price_observations
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY card_id;`

	insertAlertSQL = `INSERT INTO price_alerts (
        owner_id,
        card_id,
        alert_kind,
        finish,
        previous_price_minor,
        new_price_minor,
        percent_change,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	recentAlertExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM price_alerts
        WHERE owner_id = $1
          AND card_id = $2
          AND NOT dismissed
          AND created_at >= $3
    );`

	listActiveAlertsSQL = `SELECT
        id,
        owner_id,
        card_id,
        alert_kind,
        finish,
        previous_price_minor,
        new_price_minor,
        percent_change,
        created_at,
        dismissed,
        dismissed_at
    FROM price_alerts
    WHERE NOT dismissed
      AND ($1::bigint = 0 OR owner_id = $1)
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	dismissAlertSQL = `UPDATE price_alerts
    SET dismissed = true,
        dismissed_at = COALESCE(dismissed_at, $2)
    WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DefaultAlertLimit caps alert listings when no limit is given.
const DefaultAlertLimit = 100

// Store is the PostgreSQL implementation of Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return migrations.RunPostgres(ctx, pool)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session releases the lock when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AddHolding inserts a holding or updates its quantity.
func (s *Store) AddHolding(ctx context.Context, h Holding) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	h, err = NormaliseHolding(h)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertHoldingSQL, h.OwnerID, h.CardID, string(h.Category), h.Quantity); err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

// DistinctCardIDs lists every held card once.
func (s *Store) DistinctCardIDs(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, pool, "distinct card ids", distinctCardIDsSQL)
}

// OwnersHolding lists owners holding cardID under category.
func (s *Store) OwnersHolding(ctx context.Context, cardID string, category Category) ([]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, ownersHoldingSQL, cardID, string(category))
	if err != nil {
		return nil, fmt.Errorf("owners holding: %w", err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("owners holding: %w", err)
	}
	return owners, nil
}

// CreatePriceObservation appends an observation. A zero ObservedAt is stamped with the current time.
func (s *Store) CreatePriceObservation(ctx context.Context, obs PriceObservation) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}
	obs, err = NormaliseObservation(obs)
	if err != nil {
		return PriceObservation{}, err
	}

	if err := pool.QueryRow(ctx, insertObservationSQL,
		obs.CardID,
		obs.BaseMinor,
		obs.FoilMinor,
		obs.EtchedMinor,
		obs.ObservedAt,
	).Scan(&obs.ID); err != nil {
		return PriceObservation{}, fmt.Errorf("insert price observation: %w", err)
	}
	return obs, nil
}

// LatestObservation returns the newest observation for cardID.
func (s *Store) LatestObservation(ctx context.Context, cardID string) (PriceObservation, error) {
	recent, err := s.RecentObservations(ctx, cardID, 1)
	if err != nil {
		return PriceObservation{}, err
	}
	if len(recent) == 0 {
		return PriceObservation{}, ErrNotFound
	}
	return recent[0], nil
}

// ObservationsOnDate lists observations on day's calendar date.
func (s *Store) ObservationsOnDate(ctx context.Context, cardID string, day time.Time) ([]PriceObservation, error) {
	start, end := DayBounds(day)
	return s.queryObservations(ctx, "observations on date", observationsBetweenSQL, cardID, start, end)
}

// CardIDsObservedBetween lists cards observed in [from, to).
func (s *Store) CardIDsObservedBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, pool, "card ids observed between", cardIDsObservedBetweenSQL, from, to)
}

// RecentObservations lists up to limit observations for cardID, newest first.
func (s *Store) RecentObservations(ctx context.Context, cardID string, limit int) ([]PriceObservation, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryObservations(ctx, "recent observations", recentObservationsSQL, cardID, limit)
}

// ListObservations lists cardID's history from since onward, oldest first.
func (s *Store) ListObservations(ctx context.Context, cardID string, since time.Time) ([]PriceObservation, error) {
	return s.queryObservations(ctx, "list observations", listObservationsSQL, cardID, since)
}

// CreatePriceAlert persists an alert. A zero CreatedAt is stamped with the current time.
func (s *Store) CreatePriceAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceAlert{}, err
	}
	alert, err = NormaliseAlert(alert)
	if err != nil {
		return PriceAlert{}, err
	}

	if err := pool.QueryRow(ctx, insertAlertSQL,
		alert.OwnerID,
		alert.CardID,
		string(alert.Kind),
		string(alert.Finish),
		alert.PreviousMinor,
		alert.NewMinor,
		alert.PercentChange,
		alert.CreatedAt,
	).Scan(&alert.ID); err != nil {
		return PriceAlert{}, fmt.Errorf("insert price alert: %w", err)
	}
	return alert, nil
}

// RecentAlertExists reports whether an active alert for the pair was created at or after since.
func (s *Store) RecentAlertExists(ctx context.Context, ownerID int64, cardID string, since time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := pool.QueryRow(ctx, recentAlertExistsSQL, ownerID, cardID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("recent alert exists: %w", err)
	}
	return exists, nil
}

// ListActiveAlerts lists non-dismissed alerts newest first.
func (s *Store) ListActiveAlerts(ctx context.Context, ownerID int64, limit int) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultAlertLimit
	}

	rows, err := pool.Query(ctx, listActiveAlertsSQL, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]PriceAlert, 0)
	for rows.Next() {
		var (
			rec    PriceAlert
			kind   string
			finish string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&rec.CardID,
			&kind,
			&finish,
			&rec.PreviousMinor,
			&rec.NewMinor,
			&rec.PercentChange,
			&rec.CreatedAt,
			&rec.Dismissed,
			&rec.DismissedAt,
		); err != nil {
			return nil, fmt.Errorf("scan price alert: %w", err)
		}
		rec.Kind = AlertKind(kind)
		rec.Finish = Finish(finish)
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DismissAlert marks alert id dismissed.
func (s *Store) DismissAlert(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := pool.Exec(ctx, dismissAlertSQL, id, at)
	if err != nil {
		return fmt.Errorf("dismiss alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryStrings(ctx context.Context, pool *pgxpool.Pool, what, query string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func (s *Store) queryObservations(ctx context.Context, what, query string, args ...any) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0)
	for rows.Next() {
		var obs PriceObservation
		if err := rows.Scan(
			&obs.ID,
			&obs.CardID,
			&obs.BaseMinor,
			&obs.FoilMinor,
			&obs.EtchedMinor,
			&obs.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("scan price observation: %w", err)
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// NormaliseHolding validates h and defaults its quantity.
func NormaliseHolding(h Holding) (Holding, error) {
	h.CardID = strings.TrimSpace(h.CardID)
	if h.CardID == "" || !h.Category.Valid() {
		return Holding{}, fmt.Errorf("%w: holding needs card id and category", ErrInvalidInput)
	}
	if h.Quantity <= 0 {
		h.Quantity = 1
	}
	return h, nil
}

// NormaliseObservation validates obs and stamps a missing ObservedAt.
func NormaliseObservation(obs PriceObservation) (PriceObservation, error) {
	if strings.TrimSpace(obs.CardID) == "" {
		return PriceObservation{}, fmt.Errorf("%w: observation needs card id", ErrInvalidInput)
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}
	return obs, nil
}

// NormaliseAlert validates alert, stamps a missing CreatedAt and clears dismissal.
func NormaliseAlert(alert PriceAlert) (PriceAlert, error) {
	switch {
	case alert.CardID == "":
		return PriceAlert{}, fmt.Errorf("%w: alert needs card id", ErrInvalidInput)
	case alert.Kind != AlertIncrease && alert.Kind != AlertDecrease:
		return PriceAlert{}, fmt.Errorf("%w: alert kind %q", ErrInvalidInput, alert.Kind)
	case alert.Finish != FinishNormal && alert.Finish != FinishFoil && alert.Finish != FinishEtched:
		return PriceAlert{}, fmt.Errorf("%w: alert finish %q", ErrInvalidInput, alert.Finish)
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.Dismissed = false
	alert.DismissedAt = nil
	return alert, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
