package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-price-sync/internal/ratelimit"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestCaller(policy Policy) (*Caller, *recordedSleeps) {
	rec := &recordedSleeps{}
	if policy.Service == "" {
		policy.Service = "pricing"
	}
	c := NewCaller(policy, ratelimit.New(zerolog.Nop()), zerolog.Nop()).WithSleeper(rec.sleep)
	return c, rec
}

func failing(kind Kind) error {
	return &Error{Kind: kind, Service: "pricing"}
}

func TestCallSucceedsFirstAttempt(t *testing.T) {
	c, rec := newTestCaller(Policy{})
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestNetworkRetriedThreeAttemptsWithoutBackoff(t *testing.T) {
	c, rec := newTestCaller(Policy{NetworkAttempts: 3})
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		return failing(KindNetwork)
	})
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 3, calls)
	assert.Empty(t, rec.delays, "network retries rely on limiter spacing only")
}

func TestNetworkRecoversOnSecondAttempt(t *testing.T) {
	c, _ := newTestCaller(Policy{NetworkAttempts: 3})
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return failing(KindNetwork)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRateLimitExponentialBackoff(t *testing.T) {
	c, rec := newTestCaller(Policy{
		RateLimitAttempts:  4,
		RateLimitBaseDelay: 500 * time.Millisecond,
		MaxDelay:           time.Minute,
	})
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		return failing(KindRateLimit)
	})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, rec.delays)
}

func TestRateLimitBackoffCapped(t *testing.T) {
	c, rec := newTestCaller(Policy{
		RateLimitAttempts:  5,
		RateLimitBaseDelay: time.Second,
		MaxDelay:           3 * time.Second,
	})
	_ = c.Call(context.Background(), func(context.Context) error { return failing(KindRateLimit) })
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, rec.delays)
}

func TestRateLimitScheduleRestartsPerCall(t *testing.T) {
	c, rec := newTestCaller(Policy{
		RateLimitAttempts:  3,
		RateLimitBaseDelay: 200 * time.Millisecond,
		MaxDelay:           time.Minute,
	})
	for i := 0; i < 2; i++ {
		calls := 0
		err := c.Call(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return failing(KindRateLimit)
			}
			return nil
		})
		require.NoError(t, err)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	assert.Equal(t, append(want, want...), rec.delays)
}

func TestRateLimitDelayIgnoresNetworkFailures(t *testing.T) {
	c, rec := newTestCaller(Policy{
		NetworkAttempts:    3,
		RateLimitAttempts:  3,
		RateLimitBaseDelay: 100 * time.Millisecond,
		MaxDelay:           time.Minute,
	})
	kinds := []Kind{KindNetwork, KindRateLimit, KindNetwork, KindRateLimit}
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		if calls <= len(kinds) {
			return failing(kinds[calls-1])
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestRetryAfterExtendsBackoff(t *testing.T) {
	c, rec := newTestCaller(Policy{
		RateLimitAttempts:  2,
		RateLimitBaseDelay: 100 * time.Millisecond,
		MaxDelay:           10 * time.Second,
	})
	_ = c.Call(context.Background(), func(context.Context) error {
		return &Error{Kind: KindRateLimit, Service: "pricing", RetryAfter: 2 * time.Second}
	})
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.delays)
}

func TestTimeoutAndInvalidNotRetried(t *testing.T) {
	for _, kind := range []Kind{KindTimeout, KindInvalidResponse} {
		t.Run(string(kind), func(t *testing.T) {
			c, rec := newTestCaller(Policy{})
			calls := 0
			err := c.Call(context.Background(), func(context.Context) error {
				calls++
				return failing(kind)
			})
			got, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, kind, got)
			assert.Equal(t, 1, calls)
			assert.Empty(t, rec.delays)
		})
	}
}

func TestNotFoundPassesThrough(t *testing.T) {
	c, _ := newTestCaller(Policy{})
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestSleeperCancellationStopsRetries(t *testing.T) {
	c := NewCaller(Policy{Service: "pricing", RateLimitAttempts: 5}, ratelimit.New(zerolog.Nop()), zerolog.Nop()).
		WithSleeper(func(context.Context, time.Duration) error { return context.Canceled })
	calls := 0
	err := c.Call(context.Background(), func(context.Context) error {
		calls++
		return failing(KindRateLimit)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestEveryAttemptIsThrottled(t *testing.T) {
	limiter := ratelimit.New(zerolog.Nop())
	c := NewCaller(Policy{Service: "pricing", MinInterval: 30 * time.Millisecond, NetworkAttempts: 3}, limiter, zerolog.Nop())

	start := time.Now()
	_ = c.Call(context.Background(), func(context.Context) error { return failing(KindNetwork) })
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond, "three attempts need two full intervals")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, _ := newTestCaller(Policy{NetworkAttempts: 1, BreakerFailures: 2, BreakerCooldown: time.Hour})
	calls := 0
	op := func(context.Context) error {
		calls++
		return failing(KindNetwork)
	}

	_ = c.Call(context.Background(), op)
	_ = c.Call(context.Background(), op)
	err := c.Call(context.Background(), op)

	require.ErrorIs(t, err, ErrNetwork)
	require.True(t, errors.Is(err, gobreaker.ErrOpenState), "third call should be rejected by the open breaker: %v", err)
	assert.Equal(t, 2, calls)
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	c, _ := newTestCaller(Policy{NetworkAttempts: 1, BreakerFailures: 1, BreakerCooldown: time.Hour})
	for i := 0; i < 3; i++ {
		err := c.Call(context.Background(), func(context.Context) error { return ErrNotFound })
		require.ErrorIs(t, err, ErrNotFound)
	}
}
