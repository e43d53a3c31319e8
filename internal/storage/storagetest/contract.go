// Package storagetest holds behaviour checks shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-price-sync/internal/storage"
)

// Factory returns an empty repository. Cleanup is the factory's concern.
type Factory func(t *testing.T) storage.Repository

// Run exercises the storage.Repository contract against newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("WorkingSetDeduplicates", func(t *testing.T) { testWorkingSet(t, newRepo(t)) })
	t.Run("OwnersHoldingByCategory", func(t *testing.T) { testOwnersHolding(t, newRepo(t)) })
	t.Run("ObservationHistory", func(t *testing.T) { testObservationHistory(t, newRepo(t)) })
	t.Run("ObservationsOnDate", func(t *testing.T) { testObservationsOnDate(t, newRepo(t)) })
	t.Run("NullPricesPersist", func(t *testing.T) { testNullPrices(t, newRepo(t)) })
	t.Run("AlertLifecycle", func(t *testing.T) { testAlertLifecycle(t, newRepo(t)) })
	t.Run("InvalidInput", func(t *testing.T) { testInvalidInput(t, newRepo(t)) })
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testWorkingSet(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	ids, err := repo.DistinctCardIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, h := range []storage.Holding{
		{OwnerID: 1, CardID: "B", Category: storage.CategoryOwned},
		{OwnerID: 2, CardID: "B", Category: storage.CategoryWanted},
		{OwnerID: 1, CardID: "A", Category: storage.CategoryWanted},
		{OwnerID: 3, CardID: "C", Category: storage.CategoryOwned, Quantity: 4},
		{OwnerID: 3, CardID: "C", Category: storage.CategoryOwned, Quantity: 2},
	} {
		require.NoError(t, repo.AddHolding(ctx, h))
	}

	ids, err = repo.DistinctCardIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids)
}

func testOwnersHolding(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.AddHolding(ctx, storage.Holding{OwnerID: 9, CardID: "X", Category: storage.CategoryOwned}))
	require.NoError(t, repo.AddHolding(ctx, storage.Holding{OwnerID: 4, CardID: "X", Category: storage.CategoryOwned}))
	require.NoError(t, repo.AddHolding(ctx, storage.Holding{OwnerID: 5, CardID: "X", Category: storage.CategoryWanted}))

	owned, err := repo.OwnersHolding(ctx, "X", storage.CategoryOwned)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, owned)

	wanted, err := repo.OwnersHolding(ctx, "X", storage.CategoryWanted)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, wanted)

	none, err := repo.OwnersHolding(ctx, "missing", storage.CategoryOwned)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testObservationHistory(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	_, err := repo.LatestObservation(ctx, "A")
	require.ErrorIs(t, err, storage.ErrNotFound)

	for i, price := range []int64{100, 110, 130} {
		obs, err := repo.CreatePriceObservation(ctx, storage.PriceObservation{
			CardID:     "A",
			BaseMinor:  Ptr(price),
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
		assert.NotZero(t, obs.ID)
	}
	_, err = repo.CreatePriceObservation(ctx, storage.PriceObservation{CardID: "B", BaseMinor: Ptr(int64(5)), ObservedAt: base})
	require.NoError(t, err)

	latest, err := repo.LatestObservation(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, latest.BaseMinor)
	assert.Equal(t, int64(130), *latest.BaseMinor)
	assert.True(t, latest.ObservedAt.Equal(base.Add(2*time.Hour)))

	recent, err := repo.RecentObservations(ctx, "A", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(130), *recent[0].BaseMinor)
	assert.Equal(t, int64(110), *recent[1].BaseMinor)

	all, err := repo.ListObservations(ctx, "A", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(100), *all[0].BaseMinor)

	since, err := repo.ListObservations(ctx, "A", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, since, 2)

	ids, err := repo.CardIDsObservedBetween(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)

	ids, err = repo.CardIDsObservedBetween(ctx, base.Add(90*time.Minute), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids)
}

func testObservationsOnDate(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{
		day.Add(-time.Minute),
		day,
		day.Add(23*time.Hour + 59*time.Minute),
		day.Add(24 * time.Hour),
	} {
		_, err := repo.CreatePriceObservation(ctx, storage.PriceObservation{CardID: "A", ObservedAt: at})
		require.NoError(t, err)
	}

	got, err := repo.ObservationsOnDate(ctx, "A", day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	none, err := repo.ObservationsOnDate(ctx, "B", day)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testNullPrices(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	_, err := repo.CreatePriceObservation(ctx, storage.PriceObservation{
		CardID:     "N",
		FoilMinor:  Ptr(int64(0)),
		ObservedAt: base,
	})
	require.NoError(t, err)

	obs, err := repo.LatestObservation(ctx, "N")
	require.NoError(t, err)
	assert.Nil(t, obs.BaseMinor)
	require.NotNil(t, obs.FoilMinor, "zero is a price, not an absence")
	assert.Equal(t, int64(0), *obs.FoilMinor)
	assert.Nil(t, obs.EtchedMinor)
}

func testAlertLifecycle(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	exists, err := repo.RecentAlertExists(ctx, 1, "A", base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := repo.CreatePriceAlert(ctx, storage.PriceAlert{
		OwnerID:       1,
		CardID:        "A",
		Kind:          storage.AlertIncrease,
		Finish:        storage.FinishNormal,
		PreviousMinor: 100,
		NewMinor:      130,
		PercentChange: 30,
		CreatedAt:     base,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = repo.CreatePriceAlert(ctx, storage.PriceAlert{
		OwnerID: 2, CardID: "A", Kind: storage.AlertDecrease, Finish: storage.FinishFoil,
		PreviousMinor: 100, NewMinor: 60, PercentChange: -40, CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	exists, err = repo.RecentAlertExists(ctx, 1, "A", base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.RecentAlertExists(ctx, 1, "A", base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, exists, "alerts older than the window do not count")

	active, err := repo.ListActiveAlerts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, int64(2), active[0].OwnerID, "newest first")
	assert.Equal(t, storage.AlertDecrease, active[0].Kind)
	assert.Equal(t, storage.FinishFoil, active[0].Finish)
	assert.InDelta(t, -40.0, active[0].PercentChange, 1e-9)

	mine, err := repo.ListActiveAlerts(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, created.ID, mine[0].ID)
	assert.True(t, mine[0].CreatedAt.Equal(base))

	dismissedAt := base.Add(time.Hour)
	require.NoError(t, repo.DismissAlert(ctx, created.ID, dismissedAt))
	require.NoError(t, repo.DismissAlert(ctx, created.ID, dismissedAt.Add(time.Hour)))
	require.ErrorIs(t, repo.DismissAlert(ctx, created.ID+1000, dismissedAt), storage.ErrNotFound)

	exists, err = repo.RecentAlertExists(ctx, 1, "A", base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.False(t, exists, "dismissed alerts do not suppress new ones")

	mine, err = repo.ListActiveAlerts(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func testInvalidInput(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	_, err := repo.CreatePriceObservation(ctx, storage.PriceObservation{CardID: " "})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	err = repo.AddHolding(ctx, storage.Holding{OwnerID: 1, CardID: "A", Category: "borrowed"})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = repo.CreatePriceAlert(ctx, storage.PriceAlert{OwnerID: 1, CardID: "A", Kind: "sideways", Finish: storage.FinishNormal})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}
