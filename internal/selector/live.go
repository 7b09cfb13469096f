package selector

import (
	"context"
	"time"

	"gap-scanner/internal/model"
	"gap-scanner/internal/polygon"
)

// selectLive is the regular-hours mode: one gainers snapshot, filtered on
// price, cumulative session volume, and gap. The true HOD is computed from
// minute bars because the snapshot's daily high covers regular hours only.
func (s *Selector) selectLive(ctx context.Context, now time.Time) ([]model.WatchlistEntry, error) {
	tickers, err := s.md.GetGainersSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		// Snapshot caches are empty in the first minutes after the open.
		s.log.Info("empty gainers snapshot, falling back to pre-market mode")
		return s.selectPremarket(ctx, now)
	}

	today := s.clk.SessionDate(now)
	var entries []model.WatchlistEntry
	for _, t := range tickers {
		if !s.passesLiveFilter(t) {
			continue
		}

		hod, err := s.TrueHOD(ctx, t.Ticker, now)
		if err != nil {
			s.log.Warn("skipping symbol, true HOD unavailable", "symbol", t.Ticker, "err", err)
			continue
		}

		entries = append(entries, model.WatchlistEntry{
			Symbol:           t.Ticker,
			GapPercent:       t.TodaysChangePerc,
			CurrentPrice:     t.LastTrade.P,
			PreviousClose:    t.PrevDay.C,
			CumulativeVolume: t.Min.AV,
			HOD:              hod,
			EMA200:           s.ema200(ctx, t.Ticker, today),
			DiscoveredAt:     discoveredAt(now),
		})
	}

	s.log.Info("live selection complete", "candidates", len(tickers), "selected", len(entries))
	return entries, nil
}

func (s *Selector) passesLiveFilter(t polygon.SnapshotTicker) bool {
	cfg := s.config()
	price := t.LastTrade.P
	if price < cfg.Gap.MinPrice || price > cfg.Gap.MaxPrice {
		return false
	}
	if t.Min.AV < cfg.Gap.MinCumulativeVolume {
		return false
	}
	return t.TodaysChangePerc >= cfg.Gap.MinPct
}
