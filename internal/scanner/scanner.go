// Package scanner is the orchestrator: it owns the lifecycle of the selector,
// the stream, the boundary scheduler, and the dispatcher, and exposes the
// downstream API (alerts, watchlist, symbol data).
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/dispatch"
	"gap-scanner/internal/ingest"
	"gap-scanner/internal/model"
	"gap-scanner/internal/pattern"
	"gap-scanner/internal/polygon"
	"gap-scanner/internal/scheduler"
	"gap-scanner/internal/selector"
	"gap-scanner/internal/state"
)

// refreshInterval is the minimum spacing between watchlist rebuilds.
const refreshInterval = 120 * time.Second

// State is the orchestrator lifecycle phase.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Hooks are optional observability callbacks wired by the binary.
type Hooks struct {
	OnScanDuration   func(time.Duration)
	OnWatchlistSize  func(int)
	OnSessionChanged func(open bool)
}

// Scanner wires selector, state, ingestion, scheduling, and dispatch.
type Scanner struct {
	clk    *clock.Clock
	client *polygon.Client
	stream *polygon.Stream

	sel    *selector.Selector
	store  *state.Store
	disp   *dispatch.Dispatcher
	engine *ingest.Engine
	sched  *scheduler.Scheduler

	mu          sync.Mutex
	st          State
	cfg         *config.Config
	watchlist   []model.WatchlistEntry // replaced whole, never edited in place
	lastRefresh time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	Hooks Hooks

	log *slog.Logger
}

// New builds a scanner from a validated config and provider clients.
func New(cfg *config.Config, clk *clock.Clock, client *polygon.Client, stream *polygon.Stream) *Scanner {
	store := state.NewStore(clk)
	disp := dispatch.New()
	s := &Scanner{
		clk:    clk,
		client: client,
		stream: stream,
		sel:    selector.New(clk, cfg, client),
		store:  store,
		disp:   disp,
		cfg:    cfg,
		log:    slog.Default().With("component", "scanner"),
	}
	s.engine = ingest.New(clk, cfg, store, client, detectors(clk, cfg), disp.Fire)
	return s
}

// detectors builds the active detector set for a config snapshot.
func detectors(clk *clock.Clock, cfg *config.Config) []pattern.Detector {
	out := []pattern.Detector{pattern.NewToppingTail(clk, cfg)}
	if cfg.GreenRun.Enabled {
		out = append(out, pattern.NewGreenRun(clk, cfg))
	}
	return out
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

// State returns the current lifecycle phase.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Dispatcher exposes the alert dispatcher for metrics wiring.
func (s *Scanner) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Engine exposes the ingestion engine for metrics wiring.
func (s *Scanner) Engine() *ingest.Engine { return s.engine }

// SubscribeAlerts registers an alert callback and returns its unsubscribe
// handle.
func (s *Scanner) SubscribeAlerts(cb func(model.Alert)) func() {
	return s.disp.Subscribe(cb)
}

// Watchlist returns a copy of the current watchlist.
func (s *Scanner) Watchlist() []model.WatchlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WatchlistEntry, len(s.watchlist))
	copy(out, s.watchlist)
	return out
}

// SymbolData snapshots every watched symbol with synthetic bid/ask.
func (s *Scanner) SymbolData() []model.SymbolQuote {
	s.mu.Lock()
	spread := s.cfg.Scanning.BidAskSpread
	s.mu.Unlock()
	return s.store.Quotes(spread)
}

// Start transitions Idle -> Starting -> Running: one selector pass, backfill,
// stream subscription, and the boundary scheduler.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.st != Idle {
		st := s.st
		s.mu.Unlock()
		return fmt.Errorf("scanner: start from %s", st)
	}
	s.st = Starting
	cfg := s.cfg
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	entries, err := s.sel.Select(runCtx)
	if err != nil {
		cancel()
		s.setState(Idle)
		return fmt.Errorf("scanner: initial selection: %w", err)
	}
	s.applyWatchlist(runCtx, entries)

	s.stream.OnBar = s.engine.OnStreamBar
	if err := s.stream.SetSubscriptions(s.store.Symbols()); err != nil {
		cancel()
		s.setState(Idle)
		return fmt.Errorf("scanner: subscribe: %w", err)
	}

	s.sched = scheduler.New(s.clk, cfg.Scanning.BackfillDelayAfterBoundaryMs, cfg.Session.EndMinute())
	s.sched.OnTick = s.onBoundary

	s.mu.Lock()
	s.cancel = cancel
	s.lastRefresh = s.clk.Now()
	s.st = Running
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.stream.Run(runCtx); err != nil {
			s.log.Error("stream terminated", "err", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.sched.Run(runCtx)
		// Session end: shut the whole scanner down.
		if runCtx.Err() == nil {
			if s.Hooks.OnSessionChanged != nil {
				s.Hooks.OnSessionChanged(false)
			}
			go s.Stop()
		}
	}()

	if s.Hooks.OnSessionChanged != nil {
		s.Hooks.OnSessionChanged(true)
	}
	s.log.Info("scanner running", "symbols", len(entries))
	return nil
}

// Stop transitions Running -> Stopping -> Idle, cancelling in-flight work and
// dropping symbol state.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.st != Running {
		s.mu.Unlock()
		return
	}
	s.st = Stopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.store.Clear()

	s.mu.Lock()
	s.watchlist = nil
	s.st = Idle
	s.mu.Unlock()
	s.log.Info("scanner stopped")
}

// fatalProviderErr reports whether err is a credential rejection. Those never
// recover on retry, so the scanner shuts down instead of looping on them.
func (s *Scanner) fatalProviderErr(err error) bool {
	if !polygon.IsAuthError(err) {
		return false
	}
	s.log.Error("provider rejected credentials, stopping", "err", err)
	go s.Stop()
	return true
}

// UpdateConfig merges a mutation into the snapshot, re-validates, and swaps
// it in. Cached responses and the dedupe set are cleared: new thresholds may
// reclassify bars the old ones suppressed.
func (s *Scanner) UpdateConfig(apply func(*config.Config)) error {
	s.mu.Lock()
	next, err := s.cfg.With(apply)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = next
	s.mu.Unlock()

	s.sel.SetConfig(next)
	s.engine.SetConfig(next, detectors(s.clk, next))
	s.client.ClearCache()
	s.disp.Reset()
	s.log.Info("config updated")
	return nil
}

// Config returns the current snapshot.
func (s *Scanner) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// onBoundary is the scheduler callback: refresh the watchlist when due, then
// run the pull-validation pass for every watched symbol.
func (s *Scanner) onBoundary(ctx context.Context, closed time.Time) {
	start := time.Now()

	s.mu.Lock()
	due := s.clk.Now().Sub(s.lastRefresh) >= refreshInterval
	s.mu.Unlock()
	if due {
		s.refreshWatchlist(ctx)
	}

	for _, symbol := range s.store.Symbols() {
		if ctx.Err() != nil {
			return
		}
		if err := s.engine.PullScan(ctx, symbol); err != nil {
			if s.fatalProviderErr(err) {
				return
			}
			s.log.Warn("pull scan failed", "symbol", symbol, "period", closed, "err", err)
		}
	}

	if s.Hooks.OnScanDuration != nil {
		s.Hooks.OnScanDuration(time.Since(start))
	}
}

// refreshWatchlist reruns the selector and diffs the result against the
// store: new symbols are backfilled, departed ones torn down, survivors get
// their entry-derived fields refreshed.
func (s *Scanner) refreshWatchlist(ctx context.Context) {
	entries, err := s.sel.Select(ctx)
	if err != nil {
		if s.fatalProviderErr(err) {
			return
		}
		// No previous watchlist to fall back on; keep running as-is.
		s.log.Warn("watchlist refresh failed", "err", err)
		return
	}

	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[e.Symbol] = true
	}
	for _, symbol := range s.store.Symbols() {
		if !keep[symbol] {
			s.store.Remove(symbol)
			s.log.Info("symbol left watchlist", "symbol", symbol)
		}
	}

	s.applyWatchlist(ctx, entries)
	if err := s.stream.SetSubscriptions(s.store.Symbols()); err != nil {
		s.log.Warn("resubscribe failed", "err", err)
	}

	s.mu.Lock()
	s.lastRefresh = s.clk.Now()
	s.mu.Unlock()
}

// applyWatchlist upserts entries, backfilling symbols the store has not seen.
func (s *Scanner) applyWatchlist(ctx context.Context, entries []model.WatchlistEntry) {
	for _, entry := range entries {
		_, existed := s.store.Get(entry.Symbol)
		s.store.Upsert(entry)
		if !existed {
			if err := s.engine.Backfill(ctx, entry.Symbol); err != nil {
				s.log.Warn("backfill failed", "symbol", entry.Symbol, "err", err)
			}
		}
	}

	s.mu.Lock()
	s.watchlist = entries
	s.mu.Unlock()
	if s.Hooks.OnWatchlistSize != nil {
		s.Hooks.OnWatchlistSize(len(entries))
	}
}
