// Package scheduler triggers alert sweeps on a fixed cadence. It is the
// in-process alternative to an external cron hitting POST /notify.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc runs one sweep for the instant the trigger fired.
type SweepFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart fires on interval boundaries (e.g. :00 of every minute) so
	// time-of-day rules see the exact minute they name.
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic sweeps.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks, invoking sweep at each interval until ctx is cancelled. Sweep
// errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, sweep SweepFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.NextTrigger(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			// a sweep overran one or more slots; resync instead of bursting
			skippedTo := s.NextTrigger(s.now())
			s.logger.Warn().Time("missed", next).Time("next", skippedTo).Msg("sweep overran interval")
			next = skippedTo
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_sweep", next).Msg("waiting for next sweep")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.logger.Debug().Time("at", next).Msg("triggering sweep")
		if err := sweep(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("at", next).Msg("sweep failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

// NextTrigger returns the first trigger instant strictly after now.
func (s *Scheduler) NextTrigger(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}
