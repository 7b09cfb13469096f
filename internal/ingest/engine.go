// Package ingest feeds per-symbol state from two sources: the minute-bar
// stream (primary) and the boundary-scheduled REST pull (validation). Both
// paths converge on the same period-once guard, so a 5-minute period is
// evaluated exactly once per symbol no matter which source completes it.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
	"gap-scanner/internal/pattern"
	"gap-scanner/internal/state"
)

// relaxedFoldGap groups 1-minute bars within this span when thin trading
// leaves too few aligned 5-minute candles.
const relaxedFoldGap = 10 * time.Minute

// historyDepth is how many trailing 5-minute candles detectors see.
const historyDepth = 20

// Aggregates is the provider surface the engine needs.
type Aggregates interface {
	GetMinuteAggs(ctx context.Context, symbol, date string) ([]model.Candle, error)
	Get5MinAggs(ctx context.Context, symbol, from, to string) ([]model.Candle, error)
}

// FireFunc hands a finished alert to the dispatcher.
type FireFunc func(model.Alert) bool

// Engine routes bars into state and runs detectors on completed periods.
type Engine struct {
	clk   *clock.Clock
	store *state.Store
	md    Aggregates
	fire  FireFunc

	mu        sync.RWMutex
	cfg       *config.Config
	detectors []pattern.Detector

	// Historical marks emitted alerts as replayed rather than live.
	Historical bool

	// Metrics hooks, optional.
	OnIngested func(model.Candle)
	OnDropped  func()
	OnBackfill func(time.Duration)

	log *slog.Logger
}

// New creates an engine over the shared symbol store.
func New(clk *clock.Clock, cfg *config.Config, store *state.Store, md Aggregates, detectors []pattern.Detector, fire FireFunc) *Engine {
	return &Engine{
		clk:       clk,
		cfg:       cfg,
		store:     store,
		md:        md,
		fire:      fire,
		detectors: detectors,
		log:       slog.Default().With("component", "ingest"),
	}
}

// SetConfig swaps thresholds and the detector set (updateConfig path).
func (e *Engine) SetConfig(cfg *config.Config, detectors []pattern.Detector) {
	e.mu.Lock()
	e.cfg = cfg
	e.detectors = detectors
	e.mu.Unlock()
}

func (e *Engine) snapshot() (*config.Config, []pattern.Detector) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.detectors
}

// OnStreamBar ingests one 1-minute bar from the stream. When the bar closes a
// 5-minute period, the period's candle is synthesized from the ring and the
// detectors run immediately.
func (e *Engine) OnStreamBar(bar model.Candle) {
	cfg, _ := e.snapshot()

	st, ok := e.store.Get(bar.Symbol)
	if !ok {
		return // not on the watchlist
	}

	period, closes, err := st.AppendMinute(bar, cfg.Session.StartMinute(), cfg.Session.EndMinute())
	if err != nil {
		if e.OnDropped != nil {
			e.OnDropped()
		}
		if errors.Is(err, state.ErrOutOfOrder) {
			e.log.Debug("dropped stale bar", "symbol", bar.Symbol, "ts", bar.TS)
		} else {
			e.log.Warn("dropped bad bar", "symbol", bar.Symbol, "ts", bar.TS, "err", err)
		}
		return
	}
	if e.OnIngested != nil {
		e.OnIngested(bar)
	}
	if !closes {
		return
	}

	mins := st.BarsForPeriod(period)
	if len(mins) == 0 {
		return
	}
	candle := state.Fold5Min(e.clk, mins)[0]
	st.ObserveFiveMin(candle)

	if !st.TryClaimPeriod(period) {
		return // pull path got there first
	}
	e.evaluate(st, period)
}

// PullScan is the boundary-scheduled validation pass for one symbol: REST
// 5-minute bars merged with ring-folded candles, then detectors for any
// complete periods the stream path has not claimed.
func (e *Engine) PullScan(ctx context.Context, symbol string) error {
	cfg, _ := e.snapshot()

	st, ok := e.store.Get(symbol)
	if !ok {
		return nil
	}

	now := e.clk.Now()
	today := e.clk.SessionDate(now)
	pull, err := e.md.Get5MinAggs(ctx, symbol, today, today)
	if err != nil {
		return err
	}

	// Fold the ring, keeping only candles whose period has fully elapsed;
	// a forming candle must not shadow a complete pull candle.
	var ringDone []model.Candle
	for _, c := range state.Fold5Min(e.clk, st.MinuteBars()) {
		if !c.TS.Add(5 * time.Minute).After(now) {
			ringDone = append(ringDone, c)
		}
	}

	merged := state.MergeByStart(pull, ringDone)
	if len(merged) < pattern.MinBars {
		if relaxed := state.Fold5MinRelaxed(st.MinuteBars(), relaxedFoldGap); len(relaxed) >= pattern.MinBars {
			merged = relaxed
		}
	}

	// Detectors see the session volume accumulated up to their target bar,
	// not the volume of bars that arrived after it.
	startMin, endMin := cfg.Session.StartMinute(), cfg.Session.EndMinute()
	sessionVolTo := func(target time.Time) int64 {
		var v int64
		for _, b := range merged {
			if b.TS.After(target) {
				continue
			}
			if m := e.clk.MinuteOfDay(b.TS); m >= startMin && m < endMin {
				v += b.Volume
			}
		}
		return v
	}

	series := state.LastN(merged, historyDepth)
	for _, b := range series {
		// Pull bars can carry highs the stream missed.
		st.RaiseHOD(b.High)
	}
	for _, b := range series {
		if b.TS.Add(5 * time.Minute).After(now) {
			continue // period still open
		}
		if e.clk.MinuteOfDay(b.TS)%5 != 0 {
			continue // relaxed-fold candles are context only
		}
		if !st.TryClaimPeriod(b.TS) {
			continue
		}
		e.evaluateSeries(st, series, b.TS, sessionVolTo(b.TS))
	}
	return nil
}

// Backfill seeds a freshly added symbol from today's minute bars. The HOD
// scans every bar of the day; session volume only sums bars inside the
// configured window.
func (e *Engine) Backfill(ctx context.Context, symbol string) error {
	cfg, _ := e.snapshot()

	st, ok := e.store.Get(symbol)
	if !ok {
		return nil
	}

	start := time.Now()
	today := e.clk.SessionDate(e.clk.Now())
	bars, err := e.md.GetMinuteAggs(ctx, symbol, today)
	if err != nil {
		return err
	}
	st.Seed(bars, cfg.Session.StartMinute(), cfg.Session.EndMinute())
	if e.OnBackfill != nil {
		e.OnBackfill(time.Since(start))
	}
	e.log.Info("backfilled symbol", "symbol", symbol, "bars", len(bars),
		"hod", st.HOD(), "session_volume", st.CumulativeVolume())
	return nil
}

// ReplayDay pushes a past date's minute bars through the stream path in
// order. Alerts emitted this way carry the historical flag.
func (e *Engine) ReplayDay(ctx context.Context, symbol string, day time.Time) error {
	bars, err := e.md.GetMinuteAggs(ctx, symbol, e.clk.SessionDate(day))
	if err != nil {
		return err
	}
	for _, bar := range bars {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.OnStreamBar(bar)
	}
	return nil
}

// evaluate folds the full ring into the detector series for a stream-closed
// period.
func (e *Engine) evaluate(st *state.SymbolState, period time.Time) {
	series := state.LastN(state.Fold5Min(e.clk, st.MinuteBars()), historyDepth)
	e.evaluateSeries(st, series, period, st.CumulativeVolume())
}

// evaluateSeries runs every detector against the series bar starting at
// period. The HOD handed to detectors always includes the target bar's own
// high; cumVol is the session volume accumulated through the target bar.
func (e *Engine) evaluateSeries(st *state.SymbolState, series []model.Candle, period time.Time, cumVol int64) {
	if len(series) < pattern.MinBars {
		return
	}
	idx := -1
	for i, b := range series {
		if b.TS.Equal(period) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	hod := st.HOD()
	if series[idx].High > hod {
		hod = series[idx].High
	}

	_, detectors := e.snapshot()
	in := pattern.Input{
		Symbol:           st.Symbol(),
		Bars:             series,
		Index:            idx,
		HOD:              hod,
		CumulativeVolume: cumVol,
		GapPercent:       st.GapPercent(),
		TS:               series[idx].TS,
		Historical:       e.Historical,
	}
	for _, d := range detectors {
		if alert := d.Detect(in); alert != nil {
			e.fire(*alert)
		}
	}
}
