package state

import (
	"testing"
	"time"

	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

func foldBar(hh, mm int, o, h, l, c float64, v int64) model.Candle {
	return model.Candle{
		Symbol: "TEST",
		TS:     time.Date(2026, time.August, 24, hh, mm, 0, 0, clock.Eastern),
		Open:   o, High: h, Low: l, Close: c, Volume: v,
	}
}

func TestFold5Min(t *testing.T) {
	clk := testClock(t)
	bars := []model.Candle{
		foldBar(7, 15, 4.90, 5.00, 4.85, 4.95, 100),
		foldBar(7, 16, 4.95, 5.20, 4.94, 5.10, 200),
		foldBar(7, 18, 5.10, 5.15, 4.88, 4.92, 300), // minute 17 missing
		foldBar(7, 20, 4.92, 4.93, 4.90, 4.91, 400), // next period
	}

	got := Fold5Min(clk, bars)
	if len(got) != 2 {
		t.Fatalf("folded %d candles, want 2", len(got))
	}

	first := got[0]
	wantTS := time.Date(2026, time.August, 24, 7, 15, 0, 0, clock.Eastern)
	if !first.TS.Equal(wantTS) {
		t.Fatalf("TS = %v, want %v", first.TS, wantTS)
	}
	if first.Open != 4.90 || first.High != 5.20 || first.Low != 4.85 || first.Close != 4.92 {
		t.Fatalf("OHLC = %+v", first)
	}
	if first.Volume != 600 {
		t.Fatalf("Volume = %d, want 600", first.Volume)
	}

	if !got[1].TS.Equal(wantTS.Add(5 * time.Minute)) {
		t.Fatalf("second period TS = %v", got[1].TS)
	}
}

func TestFold5MinRelaxed(t *testing.T) {
	bars := []model.Candle{
		foldBar(7, 2, 4.90, 5.00, 4.85, 4.95, 100),
		foldBar(7, 6, 4.95, 5.20, 4.94, 5.10, 200), // within 10 min of group start
		foldBar(7, 20, 5.10, 5.15, 4.88, 4.92, 300), // new group
	}
	got := Fold5MinRelaxed(bars, 10*time.Minute)
	if len(got) != 2 {
		t.Fatalf("folded %d groups, want 2", len(got))
	}
	if got[0].Volume != 300 || got[1].Volume != 300 {
		t.Fatalf("volumes = %d, %d", got[0].Volume, got[1].Volume)
	}
	if got[0].High != 5.20 {
		t.Fatalf("group high = %g, want 5.20", got[0].High)
	}
}

func TestMergeByStartRingWins(t *testing.T) {
	pull := []model.Candle{
		foldBar(7, 15, 1, 1, 1, 1, 10),
		foldBar(7, 20, 2, 2, 2, 2, 20),
	}
	ring := []model.Candle{
		foldBar(7, 20, 3, 3, 3, 3, 30), // conflict: ring is fresher
		foldBar(7, 25, 4, 4, 4, 4, 40),
	}

	got := MergeByStart(pull, ring)
	if len(got) != 3 {
		t.Fatalf("merged %d candles, want 3", len(got))
	}
	if got[0].Volume != 10 {
		t.Fatalf("first = %+v, want the pull-only candle", got[0])
	}
	if got[1].Volume != 30 {
		t.Fatalf("conflict resolved to %+v, want the ring candle", got[1])
	}
	if got[2].Volume != 40 {
		t.Fatalf("last = %+v, want the ring-only candle", got[2])
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].TS.Before(got[i].TS) {
			t.Fatal("merge result must be chronological")
		}
	}
}

func TestLastN(t *testing.T) {
	bars := []model.Candle{foldBar(7, 0, 1, 1, 1, 1, 1), foldBar(7, 5, 1, 1, 1, 1, 2), foldBar(7, 10, 1, 1, 1, 1, 3)}
	if got := LastN(bars, 2); len(got) != 2 || got[0].Volume != 2 {
		t.Fatalf("LastN(2) = %+v", got)
	}
	if got := LastN(bars, 5); len(got) != 3 {
		t.Fatalf("LastN(5) len = %d", len(got))
	}
}
