package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"card-price-sync/internal/metrics"
	"card-price-sync/internal/ratelimit"
)

// Policy describes how one upstream service is gated and retried.
type Policy struct {
	Service     string
	MinInterval time.Duration

	// NetworkAttempts is the total number of tries for network failures.
	NetworkAttempts int
	// RateLimitAttempts is the total number of tries for rate-limit responses.
	RateLimitAttempts  int
	RateLimitBaseDelay time.Duration
	MaxDelay           time.Duration

	// BreakerFailures opens the circuit after this many consecutive
	// network-class failures. Zero disables the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Caller runs operations against one service: throttle, attempt, classify, retry.
type Caller struct {
	policy  Policy
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	sleep   Sleeper
	logger  zerolog.Logger
}

// NewCaller constructs a Caller sharing the given limiter.
func NewCaller(policy Policy, limiter *ratelimit.Limiter, logger zerolog.Logger) *Caller {
	if policy.NetworkAttempts <= 0 {
		policy.NetworkAttempts = 3
	}
	if policy.RateLimitAttempts <= 0 {
		policy.RateLimitAttempts = 4
	}
	if policy.RateLimitBaseDelay <= 0 {
		policy.RateLimitBaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 8 * time.Second
	}

	c := &Caller{
		policy:  policy,
		limiter: limiter,
		sleep:   SleepContext,
		logger:  logger.With().Str("component", "upstream").Str("service", policy.Service).Logger(),
	}
	if policy.BreakerFailures > 0 {
		c.breaker = newBreaker(policy, c.logger)
	}
	return c
}

// WithSleeper replaces the backoff sleeper. Tests use it to record delays.
func (c *Caller) WithSleeper(s Sleeper) *Caller {
	c.sleep = s
	return c
}

// Service returns the service name the caller gates.
func (c *Caller) Service() string {
	return c.policy.Service
}

// Call executes op until it succeeds, returns a non-retryable error, or
// exhausts the attempts for its failure kind. Every attempt passes the
// rate limiter first. Network failures retry immediately (the limiter
// provides the spacing); rate-limit failures back off exponentially.
func (c *Caller) Call(ctx context.Context, op func(ctx context.Context) error) error {
	var networkFailures, rateLimitFailures int
	schedule := c.rateLimitSchedule()

	for {
		if err := c.limiter.Throttle(ctx, c.policy.Service, c.policy.MinInterval); err != nil {
			return err
		}

		err := c.attempt(ctx, op)
		c.record(err)
		if err == nil {
			return nil
		}

		kind, classified := KindOf(err)
		if !classified {
			return err
		}

		switch kind {
		case KindNetwork:
			networkFailures++
			if networkFailures >= c.policy.NetworkAttempts {
				return err
			}
			c.logger.Warn().Err(err).
				Int("attempt", networkFailures).
				Int("max_attempts", c.policy.NetworkAttempts).
				Msg("network failure, retrying")

		case KindRateLimit:
			rateLimitFailures++
			if rateLimitFailures >= c.policy.RateLimitAttempts {
				return err
			}
			delay := c.rateLimitDelay(schedule, err)
			c.logger.Warn().
				Int("attempt", rateLimitFailures).
				Int("max_attempts", c.policy.RateLimitAttempts).
				Dur("delay", delay).
				Msg("rate limited, backing off")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}

		default:
			return err
		}
		metrics.UpstreamRetries.WithLabelValues(c.policy.Service, string(kind)).Inc()
	}
}

func (c *Caller) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if c.breaker == nil {
		return op(ctx)
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindNetwork, Service: c.policy.Service, Err: err}
	}
	return err
}

// rateLimitSchedule yields base, 2*base, 4*base... capped at MaxDelay.
func (c *Caller) rateLimitSchedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.policy.RateLimitBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.policy.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// rateLimitDelay takes the next step of schedule, raised to Retry-After when
// the origin asks for longer and capped at MaxDelay.
func (c *Caller) rateLimitDelay(schedule backoff.BackOff, err error) time.Duration {
	delay := schedule.NextBackOff()
	var ue *Error
	if errors.As(err, &ue) && ue.RetryAfter > delay {
		delay = ue.RetryAfter
	}
	if delay > c.policy.MaxDelay || delay <= 0 {
		delay = c.policy.MaxDelay
	}
	return delay
}

func (c *Caller) record(err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	default:
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
		} else {
			outcome = "error"
		}
	}
	metrics.UpstreamCalls.WithLabelValues(c.policy.Service, outcome).Inc()
}

func newBreaker(policy Policy, logger zerolog.Logger) *gobreaker.CircuitBreaker[struct{}] {
	cooldown := policy.BreakerCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	threshold := policy.BreakerFailures

	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        policy.Service,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only connection-level trouble counts against the origin.
		IsSuccessful: func(err error) bool {
			kind, ok := KindOf(err)
			return !ok || (kind != KindNetwork && kind != KindTimeout)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// SleepContext waits for d unless ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
