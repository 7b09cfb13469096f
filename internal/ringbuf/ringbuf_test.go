package ringbuf

import (
	"testing"
	"time"

	"gap-scanner/internal/model"
)

func candleAt(min int) model.Candle {
	base := time.Date(2026, time.August, 24, 11, 0, 0, 0, time.UTC)
	return model.Candle{
		Symbol: "TEST",
		TS:     base.Add(time.Duration(min) * time.Minute),
		Open:   1, High: 1, Low: 1, Close: 1, Volume: int64(min),
	}
}

func TestAppendAndEvict(t *testing.T) {
	w := New(3)
	for i := 0; i < 5; i++ {
		w.Append(candleAt(i))
	}
	if w.Len() != 3 {
		t.Fatalf("Len = %d, want 3", w.Len())
	}
	if w.Evicted() != 2 {
		t.Fatalf("Evicted = %d, want 2", w.Evicted())
	}
	// Oldest two dropped; remaining are minutes 2,3,4.
	for i, want := range []int64{2, 3, 4} {
		if got := w.At(i).Volume; got != want {
			t.Fatalf("At(%d).Volume = %d, want %d", i, got, want)
		}
	}
	last, ok := w.Last()
	if !ok || last.Volume != 4 {
		t.Fatalf("Last = %+v ok=%v", last, ok)
	}
}

func TestSliceIsCopy(t *testing.T) {
	w := New(4)
	w.Append(candleAt(0))
	w.Append(candleAt(1))

	s := w.Slice()
	if len(s) != 2 {
		t.Fatalf("len = %d, want 2", len(s))
	}
	s[0].Volume = 999
	if w.At(0).Volume == 999 {
		t.Fatal("Slice must not alias the buffer")
	}
}

func TestBetween(t *testing.T) {
	w := New(10)
	for i := 0; i < 10; i++ {
		w.Append(candleAt(i))
	}
	from := candleAt(3).TS
	to := candleAt(7).TS // exclusive
	got := w.Between(from, to)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0].Volume != 3 || got[3].Volume != 6 {
		t.Fatalf("window = [%d..%d], want [3..6]", got[0].Volume, got[3].Volume)
	}
}

func TestMinimumCapacity(t *testing.T) {
	w := New(0)
	if w.Cap() != 1 {
		t.Fatalf("Cap = %d, want 1", w.Cap())
	}
	w.Append(candleAt(0))
	w.Append(candleAt(1))
	if w.Len() != 1 {
		t.Fatalf("Len = %d, want 1", w.Len())
	}
}
