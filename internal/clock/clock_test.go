package clock

import (
	"testing"
	"time"
)

func etTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Eastern)
}

func TestMinuteOfDayHonorsDST(t *testing.T) {
	c := NewAt(time.Now())

	// 13:30 UTC is 09:30 ET in August (EDT, UTC-4).
	summer := time.Date(2026, time.August, 24, 13, 30, 0, 0, time.UTC)
	if got := c.MinuteOfDay(summer); got != RegularOpenMinute {
		t.Fatalf("summer MinuteOfDay = %d, want %d", got, RegularOpenMinute)
	}

	// 14:30 UTC is 09:30 ET in January (EST, UTC-5).
	winter := time.Date(2026, time.January, 5, 14, 30, 0, 0, time.UTC)
	if got := c.MinuteOfDay(winter); got != RegularOpenMinute {
		t.Fatalf("winter MinuteOfDay = %d, want %d", got, RegularOpenMinute)
	}
}

func TestIsWithinSession(t *testing.T) {
	c := NewAt(time.Now())
	start, end := 7*60, 11*60+30

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"well before", etTime(2026, time.August, 24, 6, 0), false},
		{"grace window", etTime(2026, time.August, 24, 6, 58), true},
		{"just before grace", etTime(2026, time.August, 24, 6, 57), false},
		{"at start", etTime(2026, time.August, 24, 7, 0), true},
		{"mid session", etTime(2026, time.August, 24, 9, 45), true},
		{"at end", etTime(2026, time.August, 24, 11, 30), false},
		{"after end", etTime(2026, time.August, 24, 12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsWithinSession(tt.at, start, end); got != tt.want {
				t.Fatalf("IsWithinSession(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestClosesFivePeriod(t *testing.T) {
	c := NewAt(time.Now())

	// Minute 19 closes the 07:15 period.
	period, closes := c.ClosesFivePeriod(etTime(2026, time.August, 24, 7, 19))
	if !closes {
		t.Fatal("minute 19 should close a period")
	}
	if want := etTime(2026, time.August, 24, 7, 15); !period.Equal(want) {
		t.Fatalf("period = %v, want %v", period, want)
	}

	// Minutes 15..18 do not.
	for mm := 15; mm <= 18; mm++ {
		if _, closes := c.ClosesFivePeriod(etTime(2026, time.August, 24, 7, mm)); closes {
			t.Fatalf("minute %d should not close a period", mm)
		}
	}
}

func TestFiveMinStartAndAligned(t *testing.T) {
	c := NewAt(time.Now())

	at := time.Date(2026, time.August, 24, 7, 17, 42, 0, Eastern)
	if got, want := c.FiveMinStart(at), etTime(2026, time.August, 24, 7, 15); !got.Equal(want) {
		t.Fatalf("FiveMinStart = %v, want %v", got, want)
	}
	if c.IsFiveMinAligned(at) {
		t.Fatal("07:17:42 should not be aligned")
	}
	if !c.IsFiveMinAligned(etTime(2026, time.August, 24, 7, 15)) {
		t.Fatal("07:15:00 should be aligned")
	}
}

func TestPrevTradingDay(t *testing.T) {
	c := NewAt(time.Now())

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"weekday", etTime(2026, time.August, 25, 10, 0), etTime(2026, time.August, 24, 0, 0)},
		{"monday skips weekend", etTime(2026, time.August, 24, 10, 0), etTime(2026, time.August, 21, 0, 0)},
		{"tuesday after labor day", etTime(2026, time.September, 8, 10, 0), etTime(2026, time.September, 4, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.PrevTradingDay(tt.from); !got.Equal(tt.want) {
				t.Fatalf("PrevTradingDay(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestIsTradingDay(t *testing.T) {
	c := NewAt(time.Now())
	if c.IsTradingDay(etTime(2026, time.September, 7, 10, 0)) {
		t.Fatal("Labor Day should not be a trading day")
	}
	if c.IsTradingDay(etTime(2026, time.August, 23, 10, 0)) {
		t.Fatal("Sunday should not be a trading day")
	}
	if !c.IsTradingDay(etTime(2026, time.August, 24, 10, 0)) {
		t.Fatal("a regular Monday should be a trading day")
	}
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"07:00", 420, false},
		{"09:30", 570, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:60", 0, true},
		{"junk", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseHHMM(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseHHMM(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseHHMM(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOverrideNow(t *testing.T) {
	c, err := New("2026-08-24T11:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, time.August, 24, 11, 0, 0, 0, time.UTC)
	if !c.Now().Equal(want) {
		t.Fatalf("Now = %v, want %v", c.Now(), want)
	}

	if _, err := New("not-a-time"); err == nil {
		t.Fatal("expected parse error")
	}
}
