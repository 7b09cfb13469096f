// Package scheduler fires the pull-validation pass just after each 5-minute
// wall-clock boundary. Provider 5-minute aggregates lag real time; the
// configured post-boundary delay (default 15s) lets them publish first.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"gap-scanner/internal/clock"
)

// A wait under this threshold means the boundary effectively already passed;
// skip ahead one full period instead of firing immediately.
const minWaitMs = 500

const periodMs = 5 * 60 * 1000

// TickFunc handles one boundary firing. closed is the start of the 5-minute
// period that has just completed.
type TickFunc func(ctx context.Context, closed time.Time)

// Scheduler is the boundary-aligned timer. Errors in OnTick never stop the
// loop; the scheduler self-stops once the session window ends.
type Scheduler struct {
	clk       *clock.Clock
	delayMs   int
	endMinute int

	OnTick TickFunc

	log *slog.Logger
}

// New creates a scheduler firing delayMs after each :00/:05/... ET boundary
// until the session reaches endMinute.
func New(clk *clock.Clock, delayMs, endMinute int) *Scheduler {
	return &Scheduler{
		clk:       clk,
		delayMs:   delayMs,
		endMinute: endMinute,
		log:       slog.Default().With("component", "scheduler"),
	}
}

// NextWait returns how long to sleep from now until the next firing:
// ((5 - minute mod 5)*60 - second)*1000 - ms + delay, advanced one full
// period when the result lands inside the current firing window.
func (s *Scheduler) NextWait(now time.Time) time.Duration {
	et := now.In(clock.Eastern)
	ms := ((5-et.Minute()%5)*60-et.Second())*1000 - et.Nanosecond()/1e6 + s.delayMs
	if ms < minWaitMs {
		ms += periodMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Run sleeps and fires until ctx is cancelled or the session ends.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.clk.Now()
		if s.clk.MinuteOfDay(now) >= s.endMinute {
			s.log.Info("session ended, scheduler stopping")
			return
		}

		timer := time.NewTimer(s.NextWait(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if s.OnTick != nil {
			s.OnTick(ctx, s.closedPeriod())
		}
	}
}

// closedPeriod returns the start of the 5-minute period completed at the most
// recent boundary, per the Clock (which may be frozen).
func (s *Scheduler) closedPeriod() time.Time {
	return s.clk.FiveMinStart(s.clk.Now()).Add(-5 * time.Minute)
}
