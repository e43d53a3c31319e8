package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"card-price-sync/internal/logging"
	"card-price-sync/internal/upstream"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration

	// RetryDelay is the pause before the first re-run of a failed tick; it
	// doubles on each further attempt and never exceeds Interval.
	RetryDelay time.Duration
	// MaxRetries bounds re-runs of one tick. Zero disables retries.
	MaxRetries int
	// Retryable selects errors worth re-running. Nil retries every error.
	Retryable func(error) bool
}

// Scheduler drives aligned execution of sync jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}
}

// Run blocks, invoking the tick function at each aligned interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := upstream.SleepContext(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := upstream.SleepContext(ctx, delay); err != nil {
			return err
		}

		bucket := s.bucketStart(next)
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")

		if err := s.RunTick(ctx, bucket, tick); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

// RunTick executes tick for bucket, re-running it on retryable errors.
func (s *Scheduler) RunTick(ctx context.Context, bucket time.Time, tick TickFunc) error {
	delay := s.opts.RetryDelay
	for attempt := 0; ; attempt++ {
		err := tick(ctx, bucket)
		if err == nil || attempt >= s.opts.MaxRetries || !s.retryable(err) {
			return err
		}

		if delay > s.opts.Interval {
			delay = s.opts.Interval
		}
		s.logger.Warn().Err(err).
			Time("bucket", bucket).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("tick failed; retrying")
		if err := upstream.SleepContext(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

func (s *Scheduler) retryable(err error) bool {
	if s.opts.Retryable == nil {
		return true
	}
	return s.opts.Retryable(err)
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
