package scheduler

import (
	"context"
	"testing"
	"time"

	"gap-scanner/internal/clock"
)

func at(hh, mm, ss, ms int) time.Time {
	return time.Date(2026, time.August, 24, hh, mm, ss, ms*1e6, clock.Eastern)
}

func TestNextWait(t *testing.T) {
	clk := clock.NewAt(at(7, 0, 0, 0))
	s := New(clk, 15_000, 11*60+30)

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		// 07:02:10 -> boundary 07:05 is 170s away, +15s delay.
		{"mid period", at(7, 2, 10, 0), 185 * time.Second},
		// Exactly on a boundary: the full period plus delay.
		{"on boundary", at(7, 5, 0, 0), 315 * time.Second},
		// 07:04:59.900: 100ms to the boundary, +15s delay.
		{"just before boundary", at(7, 4, 59, 900), 15100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextWait(tt.now); got != tt.want {
				t.Fatalf("NextWait(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNextWaitSkipsSubThresholdWaits(t *testing.T) {
	// With no post-boundary delay, 100ms before a boundary the raw wait is
	// under 500ms; the scheduler advances one full period instead.
	clk := clock.NewAt(at(7, 0, 0, 0))
	s := New(clk, 0, 11*60+30)

	got := s.NextWait(at(7, 4, 59, 900))
	want := (300*1000 + 100) * time.Millisecond
	if got != want {
		t.Fatalf("NextWait = %v, want %v", got, want)
	}
}

func TestSuccessiveFiringsAreOnePeriodApart(t *testing.T) {
	clk := clock.NewAt(at(7, 0, 0, 0))
	s := New(clk, 15_000, 11*60+30)

	// After any firing instant (boundary+delay), the next wait is exactly
	// one period.
	fireInstant := at(7, 5, 15, 0)
	if got := s.NextWait(fireInstant); got != 5*time.Minute {
		t.Fatalf("NextWait at a firing instant = %v, want 5m", got)
	}
}

func TestClosedPeriodFollowsClock(t *testing.T) {
	// A frozen clock (replays, overridden now) must also drive the period
	// reported to OnTick, not the wall clock.
	clk := clock.NewAt(at(7, 5, 15, 0))
	s := New(clk, 15_000, 11*60+30)

	want := at(7, 0, 0, 0)
	if got := s.closedPeriod(); !got.Equal(want) {
		t.Fatalf("closedPeriod() = %v, want %v", got, want)
	}
}

func TestRunStopsAfterSessionEnd(t *testing.T) {
	clk := clock.NewAt(at(11, 30, 0, 0))
	s := New(clk, 15_000, 11*60+30)
	fired := false
	s.OnTick = func(context.Context, time.Time) { fired = true }

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler should stop immediately past session end")
	}
	if fired {
		t.Fatal("no tick should fire past session end")
	}
}

func TestRunHonorsCancel(t *testing.T) {
	clk := clock.NewAt(at(7, 0, 0, 0))
	s := New(clk, 15_000, 11*60+30)
	s.OnTick = func(context.Context, time.Time) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler must return promptly on cancel")
	}
}
