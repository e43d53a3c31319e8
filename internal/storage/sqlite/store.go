// Package sqlite persists the sync pipeline's records in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"card-price-sync/internal/storage"
	"card-price-sync/internal/storage/migrations"
)

const (
	upsertHoldingSQL = `INSERT INTO holdings (owner_id, card_id, category, quantity)
    VALUES (?, ?, ?, ?)
    ON CONFLICT (owner_id, card_id, category) DO UPDATE SET quantity = excluded.quantity;`

	distinctCardIDsSQL = `SELECT DISTINCT card_id FROM holdings ORDER BY card_id;`

	ownersHoldingSQL = `SELECT owner_id FROM holdings WHERE card_id = ? AND category = ? ORDER BY owner_id;`

	insertObservationSQL = `INSERT INTO price_observations (
        card_id, base_price_minor, foil_price_minor, etched_price_minor, observed_at
    ) VALUES (?, ?, ?, ?, ?);`

	observationColumns = `id, card_id, base_price_minor, foil_price_minor, etched_price_minor, observed_at`

	observationsBetweenSQL = `SELECT ` + observationColumns + ` FROM price_observations
    WHERE card_id = ? AND observed_at >= ? AND observed_at < ?
    ORDER BY observed_at, id;`

	recentObservationsSQL = `SELECT ` + observationColumns + ` FROM price_observations
    WHERE card_id = ?
    ORDER BY observed_at DESC, id DESC
    LIMIT ?;`

	listObservationsSQL = `SELECT ` + observationColumns + ` FROM price_observations
    WHERE card_id = ? AND observed_at >= ?
    ORDER BY observed_at, id;`

	cardIDsObservedBetweenSQL = `SELECT DISTINCT card_id FROM price_observations
    WHERE observed_at >= ? AND observed_at < ?
    ORDER BY card_id;`

	insertAlertSQL = `INSERT INTO price_alerts (
        owner_id, card_id, alert_kind, finish, previous_price_minor, new_price_minor, percent_change, created_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

	recentAlertExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM price_alerts
        WHERE owner_id = ? AND card_id = ? AND dismissed = 0 AND created_at >= ?
    );`

	listActiveAlertsSQL = `SELECT
        id, owner_id, card_id, alert_kind, finish, previous_price_minor, new_price_minor,
        percent_change, created_at, dismissed, dismissed_at
    FROM price_alerts
    WHERE dismissed = 0 AND (? = 0 OR owner_id = ?)
    ORDER BY created_at DESC, id DESC
    LIMIT ?;`

	dismissAlertSQL = `UPDATE price_alerts
    SET dismissed = 1, dismissed_at = COALESCE(dismissed_at, ?)
    WHERE id = ?;`
)

// Store is the SQLite implementation of storage.Repository. Timestamps are
// stored as unix microseconds.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required for sqlite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrations.RunSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddHolding inserts a holding or updates its quantity.
func (s *Store) AddHolding(ctx context.Context, h storage.Holding) error {
	h, err := storage.NormaliseHolding(h)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertHoldingSQL, h.OwnerID, h.CardID, string(h.Category), h.Quantity); err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

// DistinctCardIDs lists every held card once.
func (s *Store) DistinctCardIDs(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "distinct card ids", distinctCardIDsSQL)
}

// OwnersHolding lists owners holding cardID under category.
func (s *Store) OwnersHolding(ctx context.Context, cardID string, category storage.Category) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, ownersHoldingSQL, cardID, string(category))
	if err != nil {
		return nil, fmt.Errorf("owners holding: %w", err)
	}
	defer rows.Close()

	owners := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// CreatePriceObservation appends an observation.
func (s *Store) CreatePriceObservation(ctx context.Context, obs storage.PriceObservation) (storage.PriceObservation, error) {
	obs, err := storage.NormaliseObservation(obs)
	if err != nil {
		return storage.PriceObservation{}, err
	}
	res, err := s.db.ExecContext(ctx, insertObservationSQL,
		obs.CardID,
		nullable(obs.BaseMinor),
		nullable(obs.FoilMinor),
		nullable(obs.EtchedMinor),
		obs.ObservedAt.UnixMicro(),
	)
	if err != nil {
		return storage.PriceObservation{}, fmt.Errorf("insert price observation: %w", err)
	}
	if obs.ID, err = res.LastInsertId(); err != nil {
		return storage.PriceObservation{}, fmt.Errorf("price observation id: %w", err)
	}
	return obs, nil
}

// LatestObservation returns the newest observation for cardID.
func (s *Store) LatestObservation(ctx context.Context, cardID string) (storage.PriceObservation, error) {
	recent, err := s.RecentObservations(ctx, cardID, 1)
	if err != nil {
		return storage.PriceObservation{}, err
	}
	if len(recent) == 0 {
		return storage.PriceObservation{}, storage.ErrNotFound
	}
	return recent[0], nil
}

// ObservationsOnDate lists observations on day's calendar date.
func (s *Store) ObservationsOnDate(ctx context.Context, cardID string, day time.Time) ([]storage.PriceObservation, error) {
	start, end := storage.DayBounds(day)
	return s.queryObservations(ctx, "observations on date", observationsBetweenSQL, cardID, start.UnixMicro(), end.UnixMicro())
}

// CardIDsObservedBetween lists cards observed in [from, to).
func (s *Store) CardIDsObservedBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	return s.queryStrings(ctx, "card ids observed between", cardIDsObservedBetweenSQL, from.UnixMicro(), to.UnixMicro())
}

// RecentObservations lists up to limit observations, newest first.
func (s *Store) RecentObservations(ctx context.Context, cardID string, limit int) ([]storage.PriceObservation, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryObservations(ctx, "recent observations", recentObservationsSQL, cardID, limit)
}

// ListObservations lists cardID's history from since onward, oldest first.
func (s *Store) ListObservations(ctx context.Context, cardID string, since time.Time) ([]storage.PriceObservation, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixMicro()
	}
	return s.queryObservations(ctx, "list observations", listObservationsSQL, cardID, from)
}

// CreatePriceAlert persists an alert.
func (s *Store) CreatePriceAlert(ctx context.Context, alert storage.PriceAlert) (storage.PriceAlert, error) {
	alert, err := storage.NormaliseAlert(alert)
	if err != nil {
		return storage.PriceAlert{}, err
	}
	res, err := s.db.ExecContext(ctx, insertAlertSQL,
		alert.OwnerID,
		alert.CardID,
		string(alert.Kind),
		string(alert.Finish),
		alert.PreviousMinor,
		alert.NewMinor,
		alert.PercentChange,
		alert.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return storage.PriceAlert{}, fmt.Errorf("insert price alert: %w", err)
	}
	if alert.ID, err = res.LastInsertId(); err != nil {
		return storage.PriceAlert{}, fmt.Errorf("price alert id: %w", err)
	}
	return alert, nil
}

// RecentAlertExists reports whether an active alert for the pair was created at or after since.
func (s *Store) RecentAlertExists(ctx context.Context, ownerID int64, cardID string, since time.Time) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, recentAlertExistsSQL, ownerID, cardID, since.UnixMicro()).Scan(&exists); err != nil {
		return false, fmt.Errorf("recent alert exists: %w", err)
	}
	return exists, nil
}

// ListActiveAlerts lists non-dismissed alerts newest first.
func (s *Store) ListActiveAlerts(ctx context.Context, ownerID int64, limit int) ([]storage.PriceAlert, error) {
	if limit <= 0 {
		limit = storage.DefaultAlertLimit
	}
	rows, err := s.db.QueryContext(ctx, listActiveAlertsSQL, ownerID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]storage.PriceAlert, 0)
	for rows.Next() {
		var (
			rec         storage.PriceAlert
			kind        string
			finish      string
			createdAt   int64
			dismissedAt sql.NullInt64
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
			&createdAt,
			&rec.Dismissed,
			&dismissedAt,
		); err != nil {
			return nil, fmt.Errorf("scan price alert: %w", err)
		}
		rec.Kind = storage.AlertKind(kind)
		rec.Finish = storage.Finish(finish)
		rec.CreatedAt = fromMicros(createdAt)
		if dismissedAt.Valid {
			t := fromMicros(dismissedAt.Int64)
			rec.DismissedAt = &t
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// DismissAlert marks alert id dismissed.
func (s *Store) DismissAlert(ctx context.Context, id int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, dismissAlertSQL, at.UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("dismiss alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dismiss alert: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) queryStrings(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) queryObservations(ctx context.Context, what, query string, args ...any) ([]storage.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	observations := make([]storage.PriceObservation, 0)
	for rows.Next() {
		var (
			obs                storage.PriceObservation
			base, foil, etched sql.NullInt64
			observedAt         int64
		)
		if err := rows.Scan(&obs.ID, &obs.CardID, &base, &foil, &etched, &observedAt); err != nil {
			return nil, fmt.Errorf("scan price observation: %w", err)
		}
		obs.BaseMinor = fromNull(base)
		obs.FoilMinor = fromNull(foil)
		obs.EtchedMinor = fromNull(etched)
		obs.ObservedAt = fromMicros(observedAt)
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

var _ storage.Repository = (*Store)(nil)
