// Package state owns the per-symbol mutable scanner state: the rolling
// 1-minute ring, true High-of-Day, cumulative session volume, and the
// last-evaluated 5-minute period. All mutation is serialized per symbol.
package state

import (
	"errors"
	"sync"
	"time"

	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
	"gap-scanner/internal/ringbuf"
)

// MinuteRingCap bounds the rolling 1-minute ring (2 hours of bars).
const MinuteRingCap = 120

// ErrOutOfOrder marks a 1-minute bar at or before the newest ring entry.
// Such bars are discarded; replaying a bar by startTs is idempotent.
var ErrOutOfOrder = errors.New("state: out-of-order or duplicate bar")

// RunState tracks the progressive green-run bookkeeping per trading day.
type RunState struct {
	ConsecutiveGreen int
	LastBarWasGreen  bool
	RunStartPrice    float64
	RunHigh          float64
}

// SymbolState is the mutable state for one watched symbol. Constructed by the
// store; mutated only through its methods, each of which takes the per-symbol
// lock so the stream path and the pull path never interleave.
type SymbolState struct {
	symbol string

	mu                sync.Mutex
	ring              *ringbuf.Window
	hod               float64
	gapPercent        float64
	previousClose     float64
	cumulativeVolume  int64
	lastProcessed5Min time.Time
	lastPrice         float64
	run               RunState

	clk *clock.Clock
}

// Symbol returns the symbol this state belongs to.
func (st *SymbolState) Symbol() string { return st.symbol }

// AppendMinute ingests one 1-minute bar: enforces ring ordering, updates HOD,
// accumulates session volume for bars inside [startMin, endMin) ET, and
// reports whether the bar closes a 5-minute period (returning that period's
// start). Out-of-order and duplicate bars are rejected with ErrOutOfOrder.
func (st *SymbolState) AppendMinute(bar model.Candle, startMin, endMin int) (time.Time, bool, error) {
	if err := bar.Validate(); err != nil {
		return time.Time{}, false, err
	}
	if bar.TS.UnixMilli()%60_000 != 0 {
		return time.Time{}, false, model.ErrMisaligned
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if last, ok := st.ring.Last(); ok && !bar.TS.After(last.TS) {
		return time.Time{}, false, ErrOutOfOrder
	}

	st.ring.Append(bar)
	if bar.High > st.hod {
		st.hod = bar.High
	}
	m := st.clk.MinuteOfDay(bar.TS)
	if m >= startMin && m < endMin {
		st.cumulativeVolume += bar.Volume
	}
	st.lastPrice = bar.Close

	period, closes := st.clk.ClosesFivePeriod(bar.TS)
	return period, closes, nil
}

// Seed backfills the state from a full day of 1-minute bars. The HOD scans
// every bar of the day; cumulative volume only sums bars inside the session
// window. The two folds intentionally use different windows.
func (st *SymbolState) Seed(bars []model.Candle, startMin, endMin int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, bar := range bars {
		if bar.High > st.hod {
			st.hod = bar.High
		}
		m := st.clk.MinuteOfDay(bar.TS)
		if m < startMin || m >= endMin {
			continue
		}
		if last, ok := st.ring.Last(); ok && !bar.TS.After(last.TS) {
			continue
		}
		st.ring.Append(bar)
		st.cumulativeVolume += bar.Volume
		st.lastPrice = bar.Close
	}
}

// RaiseHOD lifts the HOD if h exceeds it (previous-day after-hours seed).
func (st *SymbolState) RaiseHOD(h float64) {
	st.mu.Lock()
	if h > st.hod {
		st.hod = h
	}
	st.mu.Unlock()
}

// HOD returns the current true High-of-Day.
func (st *SymbolState) HOD() float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.hod
}

// CumulativeVolume returns the session volume accumulated so far.
func (st *SymbolState) CumulativeVolume() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cumulativeVolume
}

// GapPercent returns the day's gap over the previous close.
func (st *SymbolState) GapPercent() float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gapPercent
}

// MinuteBars returns a chronological copy of the ring.
func (st *SymbolState) MinuteBars() []model.Candle {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ring.Slice()
}

// BarsForPeriod returns the 1-minute bars inside [period, period+5m).
func (st *SymbolState) BarsForPeriod(period time.Time) []model.Candle {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ring.Between(period, period.Add(5*time.Minute))
}

// TryClaimPeriod marks a 5-minute period as evaluated, returning false when
// the period was already claimed or precedes the newest claim. This is the
// period-once guard shared by the stream and pull paths.
func (st *SymbolState) TryClaimPeriod(period time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !period.After(st.lastProcessed5Min) && !st.lastProcessed5Min.IsZero() {
		return false
	}
	st.lastProcessed5Min = period
	return true
}

// LastProcessedPeriod returns the start of the newest evaluated period.
func (st *SymbolState) LastProcessedPeriod() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastProcessed5Min
}

// ObserveFiveMin updates the green-run bookkeeping with a completed 5-minute
// candle.
func (st *SymbolState) ObserveFiveMin(bar model.Candle) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if bar.IsGreen() {
		if !st.run.LastBarWasGreen {
			st.run.RunStartPrice = bar.Open
			st.run.RunHigh = bar.High
			st.run.ConsecutiveGreen = 0
		}
		st.run.ConsecutiveGreen++
		if bar.High > st.run.RunHigh {
			st.run.RunHigh = bar.High
		}
		st.run.LastBarWasGreen = true
		return
	}
	st.run.LastBarWasGreen = false
	st.run.ConsecutiveGreen = 0
}

// Run returns a copy of the green-run bookkeeping.
func (st *SymbolState) Run() RunState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run
}

// Quote snapshots the downstream view with a synthetic bid/ask spread.
func (st *SymbolState) Quote(spread float64) model.SymbolQuote {
	st.mu.Lock()
	defer st.mu.Unlock()
	return model.SymbolQuote{
		Symbol:     st.symbol,
		LastPrice:  st.lastPrice,
		GapPercent: st.gapPercent,
		Volume:     st.cumulativeVolume,
		HOD:        st.hod,
		Bid:        st.lastPrice - spread,
		Ask:        st.lastPrice + spread,
	}
}

// Store maps symbols to their state. The map itself is guarded by a RWMutex;
// per-symbol mutation is serialized by each SymbolState's own lock.
type Store struct {
	clk *clock.Clock

	mu      sync.RWMutex
	symbols map[string]*SymbolState
}

// NewStore creates an empty store.
func NewStore(clk *clock.Clock) *Store {
	return &Store{clk: clk, symbols: make(map[string]*SymbolState)}
}

// Get returns the state for a symbol.
func (s *Store) Get(symbol string) (*SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	return st, ok
}

// Upsert creates state for a watchlist entry, or refreshes the entry-derived
// fields of an existing one. Ring and volume survive refreshes.
func (s *Store) Upsert(entry model.WatchlistEntry) *SymbolState {
	s.mu.Lock()
	st, ok := s.symbols[entry.Symbol]
	if !ok {
		st = &SymbolState{
			symbol: entry.Symbol,
			ring:   ringbuf.New(MinuteRingCap),
			clk:    s.clk,
		}
		s.symbols[entry.Symbol] = st
	}
	s.mu.Unlock()

	st.mu.Lock()
	st.gapPercent = entry.GapPercent
	st.previousClose = entry.PreviousClose
	if entry.HOD > st.hod {
		st.hod = entry.HOD
	}
	if !ok {
		st.cumulativeVolume = entry.CumulativeVolume
		st.lastPrice = entry.CurrentPrice
	}
	st.mu.Unlock()
	return st
}

// Remove tears down a symbol's state.
func (s *Store) Remove(symbol string) {
	s.mu.Lock()
	delete(s.symbols, symbol)
	s.mu.Unlock()
}

// Symbols returns the currently tracked symbols.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Quotes snapshots every symbol's downstream view.
func (s *Store) Quotes(spread float64) []model.SymbolQuote {
	s.mu.RLock()
	states := make([]*SymbolState, 0, len(s.symbols))
	for _, st := range s.symbols {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]model.SymbolQuote, 0, len(states))
	for _, st := range states {
		out = append(out, st.Quote(spread))
	}
	return out
}

// Clear drops all symbol state (scanner stop).
func (s *Store) Clear() {
	s.mu.Lock()
	s.symbols = make(map[string]*SymbolState)
	s.mu.Unlock()
}
