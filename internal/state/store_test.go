package state

import (
	"errors"
	"testing"
	"time"

	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

const (
	sessStart = 7 * 60
	sessEnd   = 11*60 + 30
)

func testClock(t *testing.T) *clock.Clock {
	t.Helper()
	return clock.NewAt(time.Date(2026, time.August, 24, 11, 0, 0, 0, clock.Eastern))
}

func minuteBar(hh, mm int, high float64, vol int64) model.Candle {
	return model.Candle{
		Symbol: "TEST",
		TS:     time.Date(2026, time.August, 24, hh, mm, 0, 0, clock.Eastern),
		Open:   high - 0.10,
		High:   high,
		Low:    high - 0.20,
		Close:  high - 0.05,
		Volume: vol,
	}
}

func newSymbol(t *testing.T, clk *clock.Clock) *SymbolState {
	t.Helper()
	store := NewStore(clk)
	return store.Upsert(model.WatchlistEntry{Symbol: "TEST", GapPercent: 25, PreviousClose: 4.00})
}

func TestAppendMinuteRejectsOutOfOrder(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	if _, _, err := st.AppendMinute(minuteBar(7, 1, 5.00, 1000), sessStart, sessEnd); err != nil {
		t.Fatal(err)
	}
	// Same start: duplicate.
	if _, _, err := st.AppendMinute(minuteBar(7, 1, 5.10, 1000), sessStart, sessEnd); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("duplicate err = %v, want ErrOutOfOrder", err)
	}
	// Earlier start: out of order.
	if _, _, err := st.AppendMinute(minuteBar(7, 0, 5.10, 1000), sessStart, sessEnd); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("stale err = %v, want ErrOutOfOrder", err)
	}
	if len(st.MinuteBars()) != 1 {
		t.Fatalf("ring len = %d, want 1", len(st.MinuteBars()))
	}
}

func TestAppendMinuteRejectsMisaligned(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	bar := minuteBar(7, 1, 5.00, 1000)
	bar.TS = bar.TS.Add(12 * time.Second)
	if _, _, err := st.AppendMinute(bar, sessStart, sessEnd); !errors.Is(err, model.ErrMisaligned) {
		t.Fatalf("err = %v, want ErrMisaligned", err)
	}
}

func TestAppendMinuteRejectsInvalidCandle(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	bar := minuteBar(7, 1, 5.00, 1000)
	bar.Low = 6.00 // low above high
	if _, _, err := st.AppendMinute(bar, sessStart, sessEnd); !errors.Is(err, model.ErrInvalidCandle) {
		t.Fatalf("err = %v, want ErrInvalidCandle", err)
	}
}

func TestHODMonotonic(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	highs := []float64{5.00, 5.20, 5.10, 5.50, 5.30}
	var prev float64
	for i, h := range highs {
		if _, _, err := st.AppendMinute(minuteBar(7, i+1, h, 1000), sessStart, sessEnd); err != nil {
			t.Fatal(err)
		}
		if st.HOD() < prev {
			t.Fatalf("HOD decreased: %g < %g", st.HOD(), prev)
		}
		prev = st.HOD()
	}
	if st.HOD() != 5.50 {
		t.Fatalf("HOD = %g, want 5.50", st.HOD())
	}
}

func TestCumulativeVolumeWindowing(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	// 06:59 is before the session start; no volume counted.
	st.AppendMinute(minuteBar(6, 59, 5.00, 111), sessStart, sessEnd)
	// 07:00 and 11:29 are inside [start, end).
	st.AppendMinute(minuteBar(7, 0, 5.00, 200), sessStart, sessEnd)
	st.AppendMinute(minuteBar(11, 29, 5.00, 300), sessStart, sessEnd)
	// 11:30 is at end: excluded.
	st.AppendMinute(minuteBar(11, 30, 5.00, 400), sessStart, sessEnd)

	if got := st.CumulativeVolume(); got != 500 {
		t.Fatalf("CumulativeVolume = %d, want 500", got)
	}
}

func TestSeedUsesSeparateWindows(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	bars := []model.Candle{
		minuteBar(5, 0, 6.00, 1000), // pre-session: HOD yes, volume no
		minuteBar(7, 10, 5.20, 2000),
		minuteBar(7, 11, 5.40, 3000),
		minuteBar(12, 0, 5.80, 4000), // post-session: HOD yes, volume no
	}
	st.Seed(bars, sessStart, sessEnd)

	if st.HOD() != 6.00 {
		t.Fatalf("HOD = %g, want 6.00 (scan all bars)", st.HOD())
	}
	if st.CumulativeVolume() != 5000 {
		t.Fatalf("CumulativeVolume = %d, want 5000 (session bars only)", st.CumulativeVolume())
	}
	if got := len(st.MinuteBars()); got != 2 {
		t.Fatalf("ring len = %d, want 2 (session bars only)", got)
	}
}

func TestPeriodCompletion(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	for mm := 15; mm <= 18; mm++ {
		_, closes, err := st.AppendMinute(minuteBar(7, mm, 5.00, 1000), sessStart, sessEnd)
		if err != nil {
			t.Fatal(err)
		}
		if closes {
			t.Fatalf("minute %d should not close the period", mm)
		}
	}
	period, closes, err := st.AppendMinute(minuteBar(7, 19, 5.00, 1000), sessStart, sessEnd)
	if err != nil {
		t.Fatal(err)
	}
	if !closes {
		t.Fatal("minute 19 should close the period")
	}
	want := time.Date(2026, time.August, 24, 7, 15, 0, 0, clock.Eastern)
	if !period.Equal(want) {
		t.Fatalf("period = %v, want %v", period, want)
	}
	if got := len(st.BarsForPeriod(period)); got != 5 {
		t.Fatalf("BarsForPeriod len = %d, want 5", got)
	}
}

func TestTryClaimPeriodMonotonic(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	p1 := time.Date(2026, time.August, 24, 7, 15, 0, 0, clock.Eastern)
	p2 := p1.Add(5 * time.Minute)

	if !st.TryClaimPeriod(p1) {
		t.Fatal("first claim must succeed")
	}
	if st.TryClaimPeriod(p1) {
		t.Fatal("second claim of the same period must fail")
	}
	if !st.TryClaimPeriod(p2) {
		t.Fatal("later period must succeed")
	}
	if st.TryClaimPeriod(p1) {
		t.Fatal("earlier period after a later claim must fail")
	}
}

func TestUpsertRefreshPreservesState(t *testing.T) {
	clk := testClock(t)
	store := NewStore(clk)

	st := store.Upsert(model.WatchlistEntry{Symbol: "TEST", GapPercent: 25, PreviousClose: 4.00, HOD: 5.00})
	st.AppendMinute(minuteBar(7, 1, 5.20, 1000), sessStart, sessEnd)

	again := store.Upsert(model.WatchlistEntry{Symbol: "TEST", GapPercent: 31, PreviousClose: 4.00, HOD: 4.50})
	if again != st {
		t.Fatal("refresh must return the same state")
	}
	if again.GapPercent() != 31 {
		t.Fatalf("GapPercent = %g, want 31", again.GapPercent())
	}
	if again.HOD() != 5.20 {
		t.Fatalf("HOD = %g, want 5.20 (never lowered by refresh)", again.HOD())
	}
	if again.CumulativeVolume() != 1000 {
		t.Fatalf("CumulativeVolume = %d, want 1000 (survives refresh)", again.CumulativeVolume())
	}
}

func TestObserveFiveMinRunTracking(t *testing.T) {
	clk := testClock(t)
	st := newSymbol(t, clk)

	green := func(o, c, h float64) model.Candle {
		return model.Candle{Open: o, High: h, Low: o - 0.01, Close: c, Volume: 1}
	}
	st.ObserveFiveMin(green(4.80, 4.85, 4.86))
	st.ObserveFiveMin(green(4.85, 4.90, 4.91))
	st.ObserveFiveMin(green(4.90, 4.95, 5.00))

	run := st.Run()
	if run.ConsecutiveGreen != 3 {
		t.Fatalf("ConsecutiveGreen = %d, want 3", run.ConsecutiveGreen)
	}
	if run.RunStartPrice != 4.80 || run.RunHigh != 5.00 {
		t.Fatalf("run = %+v", run)
	}

	st.ObserveFiveMin(green(4.95, 4.90, 4.96)) // red resets
	if got := st.Run().ConsecutiveGreen; got != 0 {
		t.Fatalf("ConsecutiveGreen after red = %d, want 0", got)
	}
}

func TestStoreRemoveAndClear(t *testing.T) {
	clk := testClock(t)
	store := NewStore(clk)
	store.Upsert(model.WatchlistEntry{Symbol: "AAA"})
	store.Upsert(model.WatchlistEntry{Symbol: "BBB"})

	store.Remove("AAA")
	if _, ok := store.Get("AAA"); ok {
		t.Fatal("AAA should be gone")
	}
	if len(store.Symbols()) != 1 {
		t.Fatalf("Symbols = %v", store.Symbols())
	}

	store.Clear()
	if len(store.Symbols()) != 0 {
		t.Fatal("Clear should drop everything")
	}
}
