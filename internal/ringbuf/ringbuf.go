// Package ringbuf provides a fixed-capacity window of the most recent candles
// for one symbol. When full, appending evicts the oldest entry. Ordering by
// bucket start time is the caller's responsibility (the state store enforces
// strict monotonicity before appending).
package ringbuf

import (
	"time"

	"gap-scanner/internal/model"
)

// Window is a circular buffer holding up to Cap() candles in append order.
// Not goroutine-safe; the owning SymbolState serializes access.
type Window struct {
	buf     []model.Candle
	start   int // index of oldest element
	length  int
	evicted uint64 // total candles dropped off the old end
}

// New creates a Window with the given capacity (minimum 1).
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]model.Candle, capacity)}
}

// Append adds a candle, evicting the oldest when the window is full.
func (w *Window) Append(c model.Candle) {
	if w.length == len(w.buf) {
		w.buf[w.start] = c
		w.start = (w.start + 1) % len(w.buf)
		w.evicted++
		return
	}
	w.buf[(w.start+w.length)%len(w.buf)] = c
	w.length++
}

// Len returns the number of candles currently held.
func (w *Window) Len() int { return w.length }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Evicted returns the total number of candles dropped off the old end.
func (w *Window) Evicted() uint64 { return w.evicted }

// At returns the i-th candle (0 = oldest). Panics when out of range, matching
// slice semantics.
func (w *Window) At(i int) model.Candle {
	if i < 0 || i >= w.length {
		panic("ringbuf: index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

// Last returns the newest candle, or false when empty.
func (w *Window) Last() (model.Candle, bool) {
	if w.length == 0 {
		return model.Candle{}, false
	}
	return w.At(w.length - 1), true
}

// Slice returns a fresh chronological copy of the window contents.
func (w *Window) Slice() []model.Candle {
	out := make([]model.Candle, w.length)
	for i := 0; i < w.length; i++ {
		out[i] = w.At(i)
	}
	return out
}

// Between returns a chronological copy of candles with from <= TS < to.
func (w *Window) Between(from, to time.Time) []model.Candle {
	var out []model.Candle
	for i := 0; i < w.length; i++ {
		c := w.At(i)
		if c.TS.Before(from) || !c.TS.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}
