package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"card-price-sync/internal/storage"
)

// Store is an in-memory implementation of storage.Repository.
type Store struct {
	mu           sync.RWMutex
	holdings     map[holdingKey]storage.Holding
	observations []storage.PriceObservation // append order
	alerts       []storage.PriceAlert
	nextObsID    int64
	nextAlertID  int64
	locks        map[int64]bool
}

type holdingKey struct {
	owner    int64
	card     string
	category storage.Category
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		holdings: make(map[holdingKey]storage.Holding),
		locks:    make(map[int64]bool),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// TryAdvisoryLock emulates a process-local advisory lock.
func (s *Store) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] {
		return nil, false, nil
	}
	s.locks[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, key)
			s.mu.Unlock()
		})
	}, true, nil
}

// AddHolding inserts a holding or updates its quantity.
func (s *Store) AddHolding(_ context.Context, h storage.Holding) error {
	h, err := storage.NormaliseHolding(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdings[holdingKey{owner: h.OwnerID, card: h.CardID, category: h.Category}] = h
	return nil
}

// DistinctCardIDs lists every held card once, ascending.
func (s *Store) DistinctCardIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.holdings))
	ids := make([]string, 0, len(s.holdings))
	for k := range s.holdings {
		if _, ok := seen[k.card]; ok {
			continue
		}
		seen[k.card] = struct{}{}
		ids = append(ids, k.card)
	}
	sort.Strings(ids)
	return ids, nil
}

// OwnersHolding lists owners holding cardID under category, ascending.
func (s *Store) OwnersHolding(_ context.Context, cardID string, category storage.Category) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]int64, 0)
	for k := range s.holdings {
		if k.card == cardID && k.category == category {
			owners = append(owners, k.owner)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// CreatePriceObservation appends an observation.
func (s *Store) CreatePriceObservation(_ context.Context, obs storage.PriceObservation) (storage.PriceObservation, error) {
	obs, err := storage.NormaliseObservation(obs)
	if err != nil {
		return storage.PriceObservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObsID++
	obs.ID = s.nextObsID
	obs.BaseMinor = copyInt(obs.BaseMinor)
	obs.FoilMinor = copyInt(obs.FoilMinor)
	obs.EtchedMinor = copyInt(obs.EtchedMinor)
	s.observations = append(s.observations, obs)
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

// ObservationsOnDate lists observations on day's calendar date, oldest first.
func (s *Store) ObservationsOnDate(_ context.Context, cardID string, day time.Time) ([]storage.PriceObservation, error) {
	start, end := storage.DayBounds(day)
	return s.filter(func(o storage.PriceObservation) bool {
		return o.CardID == cardID && !o.ObservedAt.Before(start) && o.ObservedAt.Before(end)
	}, false), nil
}

// CardIDsObservedBetween lists distinct cards observed in [from, to), ascending.
func (s *Store) CardIDsObservedBetween(_ context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, o := range s.observations {
		if o.ObservedAt.Before(from) || !o.ObservedAt.Before(to) {
			continue
		}
		if _, ok := seen[o.CardID]; ok {
			continue
		}
		seen[o.CardID] = struct{}{}
		ids = append(ids, o.CardID)
	}
	sort.Strings(ids)
	return ids, nil
}

// RecentObservations lists up to limit observations, newest first.
func (s *Store) RecentObservations(ctx context.Context, cardID string, limit int) ([]storage.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	out := s.filter(func(o storage.PriceObservation) bool { return o.CardID == cardID }, true)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListObservations lists cardID's history from since onward, oldest first.
func (s *Store) ListObservations(_ context.Context, cardID string, since time.Time) ([]storage.PriceObservation, error) {
	return s.filter(func(o storage.PriceObservation) bool {
		return o.CardID == cardID && !o.ObservedAt.Before(since)
	}, false), nil
}

// CreatePriceAlert persists an alert.
func (s *Store) CreatePriceAlert(_ context.Context, alert storage.PriceAlert) (storage.PriceAlert, error) {
	alert, err := storage.NormaliseAlert(alert)
	if err != nil {
		return storage.PriceAlert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAlertID++
	alert.ID = s.nextAlertID
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

// RecentAlertExists reports whether an active alert for the pair was created at or after since.
func (s *Store) RecentAlertExists(_ context.Context, ownerID int64, cardID string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.OwnerID == ownerID && a.CardID == cardID && !a.Dismissed && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// ListActiveAlerts lists non-dismissed alerts newest first.
func (s *Store) ListActiveAlerts(_ context.Context, ownerID int64, limit int) ([]storage.PriceAlert, error) {
	if limit <= 0 {
		limit = storage.DefaultAlertLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.PriceAlert, 0)
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.Dismissed || (ownerID != 0 && a.OwnerID != ownerID) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DismissAlert marks alert id dismissed.
func (s *Store) DismissAlert(_ context.Context, id int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		if !s.alerts[i].Dismissed {
			s.alerts[i].Dismissed = true
			s.alerts[i].DismissedAt = &at
		}
		return nil
	}
	return storage.ErrNotFound
}

// Alerts returns every stored alert, dismissed or not, in creation order.
func (s *Store) Alerts() []storage.PriceAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.PriceAlert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// ObservationCount returns the number of stored observations for cardID,
// or for every card when cardID is empty.
func (s *Store) ObservationCount(cardID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.observations {
		if cardID == "" || o.CardID == cardID {
			n++
		}
	}
	return n
}

// filter returns matching observations ordered by ObservedAt then ID.
func (s *Store) filter(match func(storage.PriceObservation) bool, newestFirst bool) []storage.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.PriceObservation, 0)
	for _, o := range s.observations {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ObservedAt.Equal(b.ObservedAt) {
			if newestFirst {
				return a.ObservedAt.After(b.ObservedAt)
			}
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var (
	_ storage.Repository     = (*Store)(nil)
	_ storage.AdvisoryLocker = (*Store)(nil)
)
