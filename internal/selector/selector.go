// Package selector produces the watchlist of qualifying gap stocks. Three
// modes exist: live regular-hours (gainers snapshot), live pre-market
// (snapshot plus minute-bar volume verification), and historical (multi-stage
// filtering over grouped daily bars for a past date).
package selector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
	"gap-scanner/internal/polygon"
)

// MarketData is the provider surface the selector depends on. *polygon.Client
// satisfies it; tests substitute fakes.
type MarketData interface {
	GetGainersSnapshot(ctx context.Context) ([]polygon.SnapshotTicker, error)
	GetGrouped(ctx context.Context, date string) ([]polygon.GroupedBar, error)
	GetMinuteAggs(ctx context.Context, symbol, date string) ([]model.Candle, error)
	Get5MinAggs(ctx context.Context, symbol, from, to string) ([]model.Candle, error)
	GetTickerType(ctx context.Context, symbol, date string) (string, error)
	GetEMA(ctx context.Context, symbol, date string, window int) (float64, bool, error)
	GetDayOpen(ctx context.Context, symbol, date string) (float64, error)
}

// Selector is safe for concurrent use. It keeps a process-wide ticker-type
// cache and the previous watchlist for catastrophic-failure fallback.
type Selector struct {
	clk *clock.Clock
	md  MarketData

	mu  sync.RWMutex
	cfg *config.Config

	typeMu      sync.Mutex
	tickerTypes map[string]string

	prevMu sync.Mutex
	prev   []model.WatchlistEntry

	log *slog.Logger
}

// New creates a selector over the given market-data source.
func New(clk *clock.Clock, cfg *config.Config, md MarketData) *Selector {
	return &Selector{
		clk:         clk,
		md:          md,
		cfg:         cfg,
		tickerTypes: make(map[string]string),
		log:         slog.Default().With("component", "selector"),
	}
}

// SetConfig swaps the threshold snapshot.
func (s *Selector) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Selector) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Select runs the live mode appropriate for the current clock: regular-hours
// when ET is at or past 09:30, pre-market otherwise. On failure the previous
// watchlist is returned so the scanner keeps running.
func (s *Selector) Select(ctx context.Context) ([]model.WatchlistEntry, error) {
	now := s.clk.Now()

	var entries []model.WatchlistEntry
	var err error
	if s.clk.IsRegularHours(now) {
		entries, err = s.selectLive(ctx, now)
	} else {
		entries, err = s.selectPremarket(ctx, now)
	}

	if err != nil {
		if prev := s.previous(); prev != nil {
			s.log.Warn("selector failed, keeping previous watchlist", "err", err, "symbols", len(prev))
			return prev, nil
		}
		return nil, err
	}

	s.setPrevious(entries)
	return entries, nil
}

func (s *Selector) previous() []model.WatchlistEntry {
	s.prevMu.Lock()
	defer s.prevMu.Unlock()
	if s.prev == nil {
		return nil
	}
	out := make([]model.WatchlistEntry, len(s.prev))
	copy(out, s.prev)
	return out
}

func (s *Selector) setPrevious(entries []model.WatchlistEntry) {
	cp := make([]model.WatchlistEntry, len(entries))
	copy(cp, entries)
	s.prevMu.Lock()
	s.prev = cp
	s.prevMu.Unlock()
}

// tickerType resolves a symbol's reference type with a process-wide cache.
func (s *Selector) tickerType(ctx context.Context, symbol, date string) (string, error) {
	s.typeMu.Lock()
	if t, ok := s.tickerTypes[symbol]; ok {
		s.typeMu.Unlock()
		return t, nil
	}
	s.typeMu.Unlock()

	t, err := s.md.GetTickerType(ctx, symbol, date)
	if err != nil {
		return "", err
	}
	s.typeMu.Lock()
	s.tickerTypes[symbol] = t
	s.typeMu.Unlock()
	return t, nil
}

// sessionVolume sums 1-minute bar volumes with ET start inside the window.
func sessionVolume(clk *clock.Clock, bars []model.Candle, startMin, endMin int) int64 {
	var vol int64
	for _, b := range bars {
		m := clk.MinuteOfDay(b.TS)
		if m >= startMin && m < endMin {
			vol += b.Volume
		}
	}
	return vol
}

// ema200 fetches the 200-day EMA, tolerating absence and provider errors.
func (s *Selector) ema200(ctx context.Context, symbol, date string) *float64 {
	v, ok, err := s.md.GetEMA(ctx, symbol, date, 200)
	if err != nil || !ok {
		return nil
	}
	return &v
}

var _ MarketData = (*polygon.Client)(nil)

// barsBetweenMinutes filters candles to ET minute-of-day in [fromMin, toMin).
func barsBetweenMinutes(clk *clock.Clock, bars []model.Candle, fromMin, toMin int) []model.Candle {
	out := bars[:0:0]
	for _, b := range bars {
		m := clk.MinuteOfDay(b.TS)
		if m >= fromMin && m < toMin {
			out = append(out, b)
		}
	}
	return out
}

// discoveredAt stamps watchlist entries uniformly per refresh.
func discoveredAt(now time.Time) time.Time { return now.UTC() }
