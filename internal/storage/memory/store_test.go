package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-price-sync/internal/storage"
	"card-price-sync/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository { return NewStore() })
}

func TestAdvisoryLockIsExclusive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	unlock, ok, err := s.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = s.TryAdvisoryLock(ctx, 7)
	assert.True(t, ok, "other keys are independent")

	unlock()
	unlock()
	_, ok, _ = s.TryAdvisoryLock(ctx, 42)
	assert.True(t, ok)
}

func TestObservationsAreCopied(t *testing.T) {
	s := NewStore()
	price := int64(100)
	_, err := s.CreatePriceObservation(context.Background(), storage.PriceObservation{CardID: "A", BaseMinor: &price})
	require.NoError(t, err)

	price = 999
	got, err := s.LatestObservation(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, int64(100), *got.BaseMinor)
	assert.Equal(t, 1, s.ObservationCount("A"))
	assert.Equal(t, 0, s.ObservationCount("B"))
}

func TestLatestObservationPropagatesReadError(t *testing.T) {
	s := NewStore()
	_, err := s.CreatePriceObservation(context.Background(), storage.PriceObservation{CardID: "A"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.LatestObservation(ctx, "A")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}
