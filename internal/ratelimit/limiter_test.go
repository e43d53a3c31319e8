package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const tolerance = 5 * time.Millisecond

func TestThrottleSpacesSameService(t *testing.T) {
	l := New(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, "pricing", 100*time.Millisecond))
	first := time.Now()
	require.NoError(t, l.Throttle(ctx, "pricing", 100*time.Millisecond))
	gap := time.Since(first)

	require.GreaterOrEqual(t, gap, 100*time.Millisecond-tolerance, "second call returned after %s", gap)
}

func TestThrottleFirstCallImmediate(t *testing.T) {
	l := New(zerolog.Nop())
	start := time.Now()
	require.NoError(t, l.Throttle(context.Background(), "pricing", time.Second))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleServicesIndependent(t *testing.T) {
	l := New(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, "pricing", time.Second))
	start := time.Now()
	require.NoError(t, l.Throttle(ctx, "decklists", time.Second))
	require.Less(t, time.Since(start), 50*time.Millisecond, "different services must not delay each other")
}

func TestThrottleNoWaitAfterIntervalElapsed(t *testing.T) {
	l := New(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, "pricing", 30*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Throttle(ctx, "pricing", 30*time.Millisecond))
	require.Less(t, time.Since(start), 15*time.Millisecond)
}

func TestResetClearsState(t *testing.T) {
	l := New(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, "pricing", time.Second))
	l.Reset()

	start := time.Now()
	require.NoError(t, l.Throttle(ctx, "pricing", time.Second))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleHonoursContext(t *testing.T) {
	l := New(zerolog.Nop())
	require.NoError(t, l.Throttle(context.Background(), "pricing", time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Throttle(ctx, "pricing", time.Hour))
}

func TestZeroIntervalNeverWaits(t *testing.T) {
	l := New(zerolog.Nop())
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Throttle(ctx, "pricing", 0))
	}
	require.Less(t, time.Since(start), 20*time.Millisecond)
}
