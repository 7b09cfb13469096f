package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

// Historical peak-gap window: 06:30-10:00 ET.
const (
	peakWindowStartMin = 6*60 + 30
	peakWindowEndMin   = 10 * 60
)

// Edge-band floor: symbols opening in [0.60, minPrice) stay candidates until
// their intraday peak is verified against the price range.
const edgeBandFloor = 0.60

// Stage 2 fans out provider fetches in fixed-size parallel batches.
const stageTwoBatchSize = 25

type histCandidate struct {
	symbol      string
	prevClose   float64
	dailyVolume int64
	open        float64
	edge        bool // opened below minPrice, peak must verify

	stats *model.GapStats
}

// SelectHistorical runs the multi-stage historical pipeline for a past ET
// date. It returns the final watchlist and the per-symbol gap stats of every
// analyzed candidate.
func (s *Selector) SelectHistorical(ctx context.Context, day time.Time) ([]model.WatchlistEntry, []model.GapStats, error) {
	cfg := s.config()
	date := s.clk.SessionDate(day)
	prevDate := s.clk.SessionDate(s.clk.PrevTradingDay(day))

	if lb := cfg.Historical.MaxLookbackDays; lb > 0 {
		if s.clk.Now().Sub(day) > time.Duration(lb)*24*time.Hour {
			return nil, nil, fmt.Errorf("selector: %s is beyond the %d-day lookback window", date, lb)
		}
	}

	// Stage 1: grouped daily bars for the date and the prior trading day.
	candidates, err := s.stageOne(ctx, date, prevDate)
	if err != nil {
		return nil, nil, err
	}

	// Stage 1b: verify edge-band candidates against their intraday peak.
	candidates = s.stageOneB(ctx, candidates, date)

	// Stage 2: peak-gap computation, parallel batches with early termination.
	qualified, analyzed := s.stageTwo(ctx, candidates, date)

	// Stage 2b: optional early-peak faders from the leftovers.
	if cfg.Historical.EarlyGainer.Enabled {
		qualified = append(qualified, s.stageTwoB(ctx, candidates, qualified, date)...)
	}

	// Stage 3: common stock only.
	qualified = s.stageThree(ctx, qualified, date)

	// Stage 4: rank by absolute gap, truncate.
	sort.Slice(qualified, func(i, j int) bool {
		return math.Abs(qualified[i].stats.PeakGap) > math.Abs(qualified[j].stats.PeakGap)
	})
	if len(qualified) > cfg.Historical.MaxSymbolsToAnalyze {
		qualified = qualified[:cfg.Historical.MaxSymbolsToAnalyze]
	}

	now := s.clk.Now()
	entries := make([]model.WatchlistEntry, 0, len(qualified))
	stats := make([]model.GapStats, 0, len(analyzed))
	for _, c := range qualified {
		price := c.stats.OpenPrice
		if price == 0 {
			price = c.stats.PeakPrice
		}
		entries = append(entries, model.WatchlistEntry{
			Symbol:           c.symbol,
			GapPercent:       c.stats.PeakGap,
			CurrentPrice:     price,
			PreviousClose:    c.prevClose,
			CumulativeVolume: c.dailyVolume,
			HOD:              c.stats.PeakPrice,
			DiscoveredAt:     discoveredAt(now),
		})
	}
	for _, c := range analyzed {
		stats = append(stats, *c.stats)
	}

	s.log.Info("historical selection complete", "date", date,
		"analyzed", len(analyzed), "selected", len(entries))
	return entries, stats, nil
}

// stageOne builds the candidate list from grouped daily bars: previous close
// must exist, daily volume must clear the discovery floor, and the open must
// land in the price range or the edge band below it.
func (s *Selector) stageOne(ctx context.Context, date, prevDate string) ([]*histCandidate, error) {
	cfg := s.config()

	grouped, err := s.md.GetGrouped(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("selector: grouped %s: %w", date, err)
	}
	prevGrouped, err := s.md.GetGrouped(ctx, prevDate)
	if err != nil {
		return nil, fmt.Errorf("selector: grouped %s: %w", prevDate, err)
	}

	prevClose := make(map[string]float64, len(prevGrouped))
	for _, g := range prevGrouped {
		prevClose[g.Ticker] = g.Close
	}

	minVol := cfg.Historical.MinDiscoveryVolume
	if minVol == 0 {
		minVol = cfg.Gap.MinCumulativeVolume
	}

	var candidates []*histCandidate
	for _, g := range grouped {
		pc, ok := prevClose[g.Ticker]
		if !ok || pc <= 0 {
			continue
		}
		if int64(g.Volume) < minVol {
			continue
		}

		inRange := g.Open >= cfg.Gap.MinPrice && g.Open <= cfg.Gap.MaxPrice
		edge := g.Open >= edgeBandFloor && g.Open < cfg.Gap.MinPrice
		if !inRange && !edge {
			continue
		}
		candidates = append(candidates, &histCandidate{
			symbol:      g.Ticker,
			prevClose:   pc,
			dailyVolume: int64(g.Volume),
			open:        g.Open,
			edge:        edge,
		})
	}

	// Rank by liquidity, keep a margin above the final target.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].dailyVolume > candidates[j].dailyVolume
	})
	keep := int(math.Ceil(1.5 * float64(cfg.Historical.MaxSymbolsToAnalyze)))
	if len(candidates) > keep {
		candidates = candidates[:keep]
	}
	return candidates, nil
}

// stageOneB drops edge-band candidates whose morning peak never reached the
// price range.
func (s *Selector) stageOneB(ctx context.Context, candidates []*histCandidate, date string) []*histCandidate {
	cfg := s.config()
	out := candidates[:0]
	for _, c := range candidates {
		if !c.edge {
			out = append(out, c)
			continue
		}
		bars, err := s.morningBars(ctx, c.symbol, date)
		if err != nil {
			s.log.Warn("edge verification failed, dropping symbol", "symbol", c.symbol, "err", err)
			continue
		}
		var peak float64
		for _, b := range bars {
			if b.High > peak {
				peak = b.High
			}
		}
		if peak >= cfg.Gap.MinPrice && peak <= cfg.Gap.MaxPrice {
			out = append(out, c)
		}
	}
	return out
}

// stageTwo computes peak-gap stats in parallel batches of 25 and qualifies
// candidates whose peak gap clears the gap floor. It terminates early once
// enough symbols qualify. Returns the qualified set and every candidate that
// got stats computed.
func (s *Selector) stageTwo(ctx context.Context, candidates []*histCandidate, date string) (qualified, analyzed []*histCandidate) {
	cfg := s.config()

	for start := 0; start < len(candidates); start += stageTwoBatchSize {
		end := start + stageTwoBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		var wg sync.WaitGroup
		for _, c := range batch {
			wg.Add(1)
			go func(c *histCandidate) {
				defer wg.Done()
				stats, err := s.computeGapStats(ctx, c, date)
				if err != nil {
					s.log.Warn("gap stats unavailable", "symbol", c.symbol, "err", err)
					return
				}
				c.stats = stats
			}(c)
		}
		wg.Wait()

		for _, c := range batch {
			if c.stats == nil {
				continue
			}
			analyzed = append(analyzed, c)
			if c.stats.PeakGap >= cfg.Gap.MinPct {
				qualified = append(qualified, c)
			}
		}
		if len(qualified) >= cfg.Historical.MaxSymbolsToAnalyze {
			break
		}
	}
	return qualified, analyzed
}

// stageTwoB picks up early-peak faders the gap floor missed: liquid symbols
// that spiked before the early window closed and faded hard into the open.
func (s *Selector) stageTwoB(ctx context.Context, candidates, qualified []*histCandidate, date string) []*histCandidate {
	cfg := s.config().Historical.EarlyGainer

	inQualified := make(map[string]bool, len(qualified))
	for _, c := range qualified {
		inQualified[c.symbol] = true
	}

	var faders []*histCandidate
	for _, c := range candidates {
		if len(faders) >= cfg.MaxAdditionalFaders {
			break
		}
		if inQualified[c.symbol] || c.dailyVolume < cfg.MinDailyVolumeForFaders {
			continue
		}
		if c.stats == nil {
			stats, err := s.computeGapStats(ctx, c, date)
			if err != nil {
				continue
			}
			c.stats = stats
		}
		st := c.stats
		if st.PeakGap >= cfg.MinEarlyPeakGap && st.IsEarlyPeak && st.FadePct >= cfg.MinFadePercent {
			faders = append(faders, c)
		}
	}
	return faders
}

// stageThree keeps common stocks only, using the process-wide type cache.
func (s *Selector) stageThree(ctx context.Context, candidates []*histCandidate, date string) []*histCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		t, err := s.tickerType(ctx, c.symbol, date)
		if err != nil {
			s.log.Warn("ticker type unavailable, dropping symbol", "symbol", c.symbol, "err", err)
			continue
		}
		if t == "CS" {
			out = append(out, c)
		}
	}
	return out
}

// computeGapStats derives the peak metrics from the 06:30-10:00 ET 5-minute bars.
func (s *Selector) computeGapStats(ctx context.Context, c *histCandidate, date string) (*model.GapStats, error) {
	bars, err := s.morningBars(ctx, c.symbol, date)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("selector: no morning bars for %s on %s", c.symbol, date)
	}

	earlyEndMin, _ := clock.ParseHHMM(s.config().Historical.EarlyGainer.EarlyPeakWindowEnd)

	stats := &model.GapStats{
		Symbol:      c.symbol,
		PrevClose:   c.prevClose,
		DailyVolume: c.dailyVolume,
	}
	var lastPremarketClose float64
	for _, b := range bars {
		gap := (b.High - c.prevClose) / c.prevClose * 100
		if gap > stats.PeakGap || stats.PeakPrice == 0 {
			stats.PeakGap = gap
			stats.PeakPrice = b.High
			stats.PeakTime = b.TS
		}
		m := s.clk.MinuteOfDay(b.TS)
		if m < 9*60+30 {
			lastPremarketClose = b.Close
		} else if m == 9*60+30 {
			stats.OpenPrice = b.Open
		}
	}
	if stats.OpenPrice == 0 {
		stats.OpenPrice = lastPremarketClose
	}
	if stats.OpenPrice == 0 {
		// Thin symbols can have no 5-minute bar anywhere near the open.
		if open, err := s.md.GetDayOpen(ctx, c.symbol, date); err == nil {
			stats.OpenPrice = open
		}
	}
	if stats.PeakPrice > 0 {
		stats.FadePct = (stats.PeakPrice - stats.OpenPrice) / stats.PeakPrice * 100
	}
	stats.IsEarlyPeak = s.clk.MinuteOfDay(stats.PeakTime) <= earlyEndMin
	return stats, nil
}

func (s *Selector) morningBars(ctx context.Context, symbol, date string) ([]model.Candle, error) {
	bars, err := s.md.Get5MinAggs(ctx, symbol, date, date)
	if err != nil {
		return nil, err
	}
	return barsBetweenMinutes(s.clk, bars, peakWindowStartMin, peakWindowEndMin), nil
}
