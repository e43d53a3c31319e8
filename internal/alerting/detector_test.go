package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-price-sync/internal/storage"
	"card-price-sync/internal/storage/memory"
)

var t0 = time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)

func ptr(v int64) *int64 { return &v }

type detectorFixture struct {
	store *memory.Store
	now   time.Time
	det   *Detector
}

func newFixture(t *testing.T) *detectorFixture {
	t.Helper()
	f := &detectorFixture{store: memory.NewStore(), now: t0.Add(24 * time.Hour)}
	f.det = NewDetector(f.store, f.store, f.store, DetectorOptions{
		Now: func() time.Time { return f.now },
	}, testLogger())
	return f
}

func (f *detectorFixture) hold(t *testing.T, owner int64, card string, cat storage.Category) {
	t.Helper()
	require.NoError(t, f.store.AddHolding(context.Background(), storage.Holding{OwnerID: owner, CardID: card, Category: cat}))
}

func (f *detectorFixture) observe(t *testing.T, card string, at time.Time, base, foil, etched *int64) {
	t.Helper()
	_, err := f.store.CreatePriceObservation(context.Background(), storage.PriceObservation{
		CardID: card, BaseMinor: base, FoilMinor: foil, EtchedMinor: etched, ObservedAt: at,
	})
	require.NoError(t, err)
}

func TestDetectThresholds(t *testing.T) {
	cases := []struct {
		name    string
		from    int64
		to      int64
		want    bool
		kind    storage.AlertKind
		percent float64
	}{
		{name: "increase 30%", from: 100, to: 130, want: true, kind: storage.AlertIncrease, percent: 30},
		{name: "increase exactly 20%", from: 100, to: 120, want: true, kind: storage.AlertIncrease, percent: 20},
		{name: "increase 15% ignored", from: 100, to: 115},
		{name: "decrease 30%", from: 100, to: 70, want: true, kind: storage.AlertDecrease, percent: -30},
		{name: "decrease 25% ignored", from: 100, to: 75},
		{name: "unchanged", from: 100, to: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.hold(t, 1, "card", storage.CategoryOwned)
			f.observe(t, "card", f.now.Add(-25*time.Hour), ptr(tc.from), nil, nil)
			f.observe(t, "card", f.now.Add(-time.Hour), ptr(tc.to), nil, nil)

			alerts, err := f.det.Detect(context.Background())
			require.NoError(t, err)
			if !tc.want {
				assert.Empty(t, alerts)
				return
			}
			require.Len(t, alerts, 1)
			a := alerts[0]
			assert.Equal(t, tc.kind, a.Kind)
			assert.Equal(t, storage.FinishNormal, a.Finish)
			assert.Equal(t, tc.percent, a.PercentChange)
			assert.Equal(t, tc.from, a.PreviousMinor)
			assert.Equal(t, tc.to, a.NewMinor)
			assert.Equal(t, int64(1), a.OwnerID)
			assert.False(t, a.Dismissed)
			assert.True(t, a.CreatedAt.Equal(f.now))
		})
	}
}

func TestDetectDedupAcrossPasses(t *testing.T) {
	f := newFixture(t)
	f.hold(t, 1, "card", storage.CategoryOwned)
	f.observe(t, "card", f.now.Add(-2*time.Hour), ptr(100), nil, nil)
	f.observe(t, "card", f.now.Add(-time.Hour), ptr(130), nil, nil)

	first, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	f.now = f.now.Add(6 * time.Hour)
	second, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, f.store.Alerts(), 1)
}

func TestDetectAfterDismissal(t *testing.T) {
	f := newFixture(t)
	f.hold(t, 1, "card", storage.CategoryOwned)
	f.observe(t, "card", f.now.Add(-2*time.Hour), ptr(100), nil, nil)
	f.observe(t, "card", f.now.Add(-time.Hour), ptr(130), nil, nil)

	first, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, f.store.DismissAlert(context.Background(), first[0].ID, f.now))

	again, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	assert.Len(t, again, 1, "dismissed alerts do not suppress")
}

func TestDetectOneAlertPerOwnerAndCard(t *testing.T) {
	f := newFixture(t)
	f.hold(t, 1, "card", storage.CategoryOwned)
	f.hold(t, 2, "card", storage.CategoryOwned)
	f.observe(t, "card", f.now.Add(-2*time.Hour), ptr(100), ptr(200), ptr(300))
	f.observe(t, "card", f.now.Add(-time.Hour), ptr(100), ptr(300), ptr(150))

	alerts, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, storage.FinishFoil, a.Finish, "first crossing finish wins")
		assert.Equal(t, 50.0, a.PercentChange)
	}
	assert.Equal(t, []int64{1, 2}, []int64{alerts[0].OwnerID, alerts[1].OwnerID})
}

func TestDetectOnlyOwnedHolders(t *testing.T) {
	f := newFixture(t)
	f.hold(t, 1, "card", storage.CategoryWanted)
	f.observe(t, "card", f.now.Add(-2*time.Hour), ptr(100), nil, nil)
	f.observe(t, "card", f.now.Add(-time.Hour), ptr(200), nil, nil)

	alerts, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDetectSkips(t *testing.T) {
	f := newFixture(t)
	f.hold(t, 1, "single", storage.CategoryOwned)
	f.hold(t, 1, "nulls", storage.CategoryOwned)
	f.hold(t, 1, "zero", storage.CategoryOwned)
	f.hold(t, 1, "stale", storage.CategoryOwned)

	// first ever observation
	f.observe(t, "single", f.now.Add(-time.Hour), ptr(100), nil, nil)
	// price appears where none was listed
	f.observe(t, "nulls", f.now.Add(-2*time.Hour), nil, nil, nil)
	f.observe(t, "nulls", f.now.Add(-time.Hour), ptr(500), nil, nil)
	// zero previous price
	f.observe(t, "zero", f.now.Add(-2*time.Hour), ptr(0), nil, nil)
	f.observe(t, "zero", f.now.Add(-time.Hour), ptr(10), nil, nil)
	// outside the lookback
	f.observe(t, "stale", f.now.Add(-72*time.Hour), ptr(100), nil, nil)
	f.observe(t, "stale", f.now.Add(-48*time.Hour), ptr(300), nil, nil)

	alerts, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)

	alerts, err = f.det.DetectCards(context.Background(), []string{"stale"})
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "explicit cards ignore the lookback")
}

func TestDetectUsesLatestTwo(t *testing.T) {
	f := newFixture(t)
	f.hold(t, 1, "card", storage.CategoryOwned)
	f.observe(t, "card", f.now.Add(-3*time.Hour), ptr(50), nil, nil)
	f.observe(t, "card", f.now.Add(-2*time.Hour), ptr(100), nil, nil)
	f.observe(t, "card", f.now.Add(-time.Hour), ptr(110), nil, nil)

	alerts, err := f.det.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts, "50 -> 110 is not the latest pair")
}

type failingAlerts struct {
	*memory.Store
}

func (failingAlerts) CreatePriceAlert(context.Context, storage.PriceAlert) (storage.PriceAlert, error) {
	return storage.PriceAlert{}, errors.New("disk full")
}

func TestDetectJoinsPerCardErrors(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := t0
	for _, card := range []string{"a", "b"} {
		require.NoError(t, store.AddHolding(ctx, storage.Holding{OwnerID: 1, CardID: card, Category: storage.CategoryOwned}))
		_, _ = store.CreatePriceObservation(ctx, storage.PriceObservation{CardID: card, BaseMinor: ptr(100), ObservedAt: now.Add(-2 * time.Hour)})
		_, _ = store.CreatePriceObservation(ctx, storage.PriceObservation{CardID: card, BaseMinor: ptr(200), ObservedAt: now.Add(-time.Hour)})
	}

	det := NewDetector(store, store, failingAlerts{store}, DetectorOptions{Now: func() time.Time { return now }}, testLogger())
	alerts, err := det.Detect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card a")
	assert.Contains(t, err.Error(), "card b")
	assert.Empty(t, alerts)
}

func TestCustomThresholds(t *testing.T) {
	det := NewDetector(nil, nil, nil, DetectorOptions{IncreasePct: 10, DecreasePct: 10}, testLogger())
	kind, ok := det.Classify(12)
	assert.True(t, ok)
	assert.Equal(t, storage.AlertIncrease, kind)
	kind, ok = det.Classify(-10)
	assert.True(t, ok)
	assert.Equal(t, storage.AlertDecrease, kind)
	_, ok = det.Classify(-9.9)
	assert.False(t, ok)
}

func TestPercentChange(t *testing.T) {
	pct, ok := PercentChange(100, 130)
	assert.True(t, ok)
	assert.Equal(t, 30.0, pct)

	pct, ok = PercentChange(100, 70)
	assert.True(t, ok)
	assert.Equal(t, -30.0, pct)

	_, ok = PercentChange(0, 70)
	assert.False(t, ok)
}
