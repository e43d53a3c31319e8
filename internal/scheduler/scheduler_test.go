package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRunTickRetriesRetryableErrors(t *testing.T) {
	s := New(Options{
		Interval:   time.Hour,
		RetryDelay: time.Millisecond,
		MaxRetries: 3,
		Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
	}, zerolog.Nop())

	var calls atomic.Int32
	err := s.RunTick(context.Background(), time.Now(), func(context.Context, time.Time) error {
		if calls.Add(1) < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunTickGivesUpAfterMaxRetries(t *testing.T) {
	s := New(Options{Interval: time.Hour, RetryDelay: time.Millisecond, MaxRetries: 2}, zerolog.Nop())

	var calls atomic.Int32
	err := s.RunTick(context.Background(), time.Now(), func(context.Context, time.Time) error {
		calls.Add(1)
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, int32(3), calls.Load(), "one run plus two retries")
}

func TestRunTickDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("bad config")
	s := New(Options{
		Interval:   time.Hour,
		RetryDelay: time.Millisecond,
		MaxRetries: 5,
		Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
	}, zerolog.Nop())

	var calls atomic.Int32
	err := s.RunTick(context.Background(), time.Now(), func(context.Context, time.Time) error {
		calls.Add(1)
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunTickStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, RetryDelay: time.Minute, MaxRetries: 5}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	err := s.RunTick(ctx, time.Now(), func(context.Context, time.Time) error {
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunTickLogsRetriesAsScheduler(t *testing.T) {
	var buf bytes.Buffer
	s := New(Options{Interval: time.Hour, RetryDelay: time.Millisecond, MaxRetries: 1}, zerolog.New(&buf))

	err := s.RunTick(context.Background(), time.Now(), func(context.Context, time.Time) error {
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Contains(t, buf.String(), `"component":"scheduler"`)
	assert.Contains(t, buf.String(), "tick failed; retrying")
}

func TestRunInvokesTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	err := s.Run(ctx, func(context.Context, time.Time) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load(), "failed ticks do not stop the loop")
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick should not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), s.bucketStart(now))

	unaligned := New(Options{Interval: time.Hour}, zerolog.Nop())
	assert.Equal(t, now.Add(time.Hour), unaligned.nextTick(now))
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
