// Package ratelimit spaces outbound calls per named upstream service.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"card-price-sync/internal/metrics"
)

// Limiter enforces a minimum interval between calls for each service name.
// Services never delay each other. One Limiter is shared by every client in
// the process that talks to the same upstream.
type Limiter struct {
	mu       sync.Mutex
	services map[string]*rate.Limiter
	logger   zerolog.Logger
}

// New constructs an empty Limiter.
func New(logger zerolog.Logger) *Limiter {
	return &Limiter{
		services: make(map[string]*rate.Limiter),
		logger:   logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// Throttle blocks until minInterval has elapsed since the previous call for
// service, then records the call. The first call for a service returns
// immediately. It only fails when ctx ends while waiting.
func (l *Limiter) Throttle(ctx context.Context, service string, minInterval time.Duration) error {
	lim := l.limiterFor(service, minInterval)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", service, err)
	}

	waited := time.Since(start)
	metrics.ThrottleWait.WithLabelValues(service).Observe(waited.Seconds())
	if waited >= time.Millisecond {
		l.logger.Debug().Str("service", service).Dur("waited", waited).Msg("throttled upstream call")
	}
	return nil
}

// Reset forgets every service's last call. Used by test harnesses and cold starts.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = make(map[string]*rate.Limiter)
}

func (l *Limiter) limiterFor(service string, minInterval time.Duration) *rate.Limiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.services[service]
	if !ok {
		lim = rate.NewLimiter(limit, 1)
		l.services[service] = lim
		return lim
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	return lim
}
