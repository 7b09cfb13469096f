// Package clock supplies "now" (overridable for tests and replays) and all
// Eastern-Time wall-clock arithmetic used by the scanner. Session gates,
// 5-minute boundaries, and trading-day math all go through this package;
// nothing else in the codebase compares UTC hours directly.
package clock

import (
	"fmt"
	"time"
)

// Eastern is the IANA America/New_York location. Loading it can only fail on
// a system without tzdata, which is fatal for a session-driven scanner.
var Eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("clock: cannot load America/New_York tzdata: %v", err))
	}
	Eastern = loc
}

// Market session boundaries in ET minutes since midnight.
const (
	RegularOpenMinute     = 9*60 + 30 // 09:30
	RegularCloseMinute    = 16 * 60   // 16:00
	AfterHoursCloseMinute = 20 * 60   // 20:00

	// Bars occasionally publish just before the configured session start;
	// the session gate opens this many minutes early to catch them.
	sessionGraceMinutes = 2
)

// Clock resolves current time and ET components. The zero value is not usable;
// construct with New or NewAt.
type Clock struct {
	now func() time.Time
}

// New returns a wall-clock Clock, or a frozen one when overrideNow is a
// non-empty RFC3339 timestamp (dev.overrideNow).
func New(overrideNow string) (*Clock, error) {
	if overrideNow == "" {
		return &Clock{now: time.Now}, nil
	}
	t, err := time.Parse(time.RFC3339, overrideNow)
	if err != nil {
		return nil, fmt.Errorf("clock: parse override %q: %w", overrideNow, err)
	}
	return NewAt(t), nil
}

// NewAt returns a Clock frozen at t. Used by tests and historical replays.
func NewAt(t time.Time) *Clock {
	return &Clock{now: func() time.Time { return t }}
}

// Now returns the current instant (UTC-independent; callers convert as needed).
func (c *Clock) Now() time.Time { return c.now() }

// ET converts t into the America/New_York location.
func (c *Clock) ET(t time.Time) time.Time { return t.In(Eastern) }

// MinuteOfDay returns ET minutes since midnight for t.
func (c *Clock) MinuteOfDay(t time.Time) int {
	et := t.In(Eastern)
	return et.Hour()*60 + et.Minute()
}

// IsWithinSession reports whether t falls inside [startMin-grace, endMin) in
// ET minutes since midnight.
func (c *Clock) IsWithinSession(t time.Time, startMin, endMin int) bool {
	m := c.MinuteOfDay(t)
	return m >= startMin-sessionGraceMinutes && m < endMin
}

// IsRegularHours reports whether t is at or after the 09:30 ET open.
func (c *Clock) IsRegularHours(t time.Time) bool {
	return c.MinuteOfDay(t) >= RegularOpenMinute
}

// FiveMinStart truncates t to its 5-minute bucket in ET.
func (c *Clock) FiveMinStart(t time.Time) time.Time {
	et := t.In(Eastern)
	min := et.Minute() - et.Minute()%5
	return time.Date(et.Year(), et.Month(), et.Day(), et.Hour(), min, 0, 0, Eastern)
}

// IsFiveMinAligned reports whether t is exactly on a 5-minute boundary.
func (c *Clock) IsFiveMinAligned(t time.Time) bool {
	et := t.In(Eastern)
	return et.Minute()%5 == 0 && et.Second() == 0 && et.Nanosecond() == 0
}

// ClosesFivePeriod reports whether a 1-minute bar starting at t is the last
// minute of its 5-minute period (ET minute ≡ 4 mod 5), and returns the period
// start when it is.
func (c *Clock) ClosesFivePeriod(t time.Time) (time.Time, bool) {
	et := t.In(Eastern)
	if et.Minute()%5 != 4 {
		return time.Time{}, false
	}
	return c.FiveMinStart(et), true
}

// SessionDate returns the ET calendar date of t as "2006-01-02".
func (c *Clock) SessionDate(t time.Time) string {
	return t.In(Eastern).Format("2006-01-02")
}

// DayStart returns midnight ET of the day containing t.
func (c *Clock) DayStart(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, Eastern)
}

// IsWeekday returns true if t is Mon-Fri in ET.
func (c *Clock) IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	return c.IsWeekday(t) && !IsHoliday(t)
}

// PrevTradingDay returns midnight ET of the trading day before t, walking
// back over weekends and holidays.
func (c *Clock) PrevTradingDay(t time.Time) time.Time {
	d := c.DayStart(t).AddDate(0, 0, -1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	// Ten straight non-trading days cannot happen on a real calendar.
	return d
}

// ParseHHMM converts an "HH:MM" wall-clock string into ET minutes since midnight.
func ParseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("clock: parse %q as HH:MM: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock: %q out of range", s)
	}
	return h*60 + m, nil
}
