package selector

import (
	"context"
	"time"

	"gap-scanner/internal/clock"
)

// TrueHOD computes the true High-of-Day for a symbol as of now: the maximum
// of the previous trading day's after-hours high (16:00-20:00 ET) and the
// current day's extended-hours high from minute bars. Provider daily highs
// cover regular hours only and are never used here.
func (s *Selector) TrueHOD(ctx context.Context, symbol string, now time.Time) (float64, error) {
	hod, err := s.PrevDayAfterHoursHigh(ctx, symbol, now)
	if err != nil {
		// A symbol with no prior-day bars (fresh listing) still has a
		// current-day high.
		s.log.Debug("previous-day after-hours high unavailable", "symbol", symbol, "err", err)
		hod = 0
	}

	bars, err := s.md.GetMinuteAggs(ctx, symbol, s.clk.SessionDate(now))
	if err != nil {
		return 0, err
	}
	for _, b := range bars {
		if b.High > hod {
			hod = b.High
		}
	}
	return hod, nil
}

// PrevDayAfterHoursHigh returns the 16:00-20:00 ET high of the trading day
// before now, or 0 when that window traded nothing. Replays seed the HOD with
// it and let the day's own bars raise it from there.
func (s *Selector) PrevDayAfterHoursHigh(ctx context.Context, symbol string, now time.Time) (float64, error) {
	prevDate := s.clk.SessionDate(s.clk.PrevTradingDay(now))
	bars, err := s.md.GetMinuteAggs(ctx, symbol, prevDate)
	if err != nil {
		return 0, err
	}

	var high float64
	for _, b := range bars {
		m := s.clk.MinuteOfDay(b.TS)
		if m >= clock.RegularCloseMinute && m < clock.AfterHoursCloseMinute && b.High > high {
			high = b.High
		}
	}
	return high, nil
}
