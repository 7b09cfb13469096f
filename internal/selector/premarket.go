package selector

import (
	"context"
	"time"

	"gap-scanner/internal/model"
)

// Snapshot cumulative volume is unreliable before the open; cap how many
// candidates get the per-symbol minute-bar verification.
const maxPremarketCandidates = 20

// selectPremarket is the pre-market mode: snapshot candidates pass price and
// gap filters only, then each survivor's minute bars decide session volume
// and the pre-market HOD (seeded by the previous day's after-hours high).
func (s *Selector) selectPremarket(ctx context.Context, now time.Time) ([]model.WatchlistEntry, error) {
	cfg := s.config()

	tickers, err := s.md.GetGainersSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		symbol    string
		price     float64
		prevClose float64
		gap       float64
	}
	var candidates []candidate
	for _, t := range tickers {
		price := t.LastTrade.P
		if price < cfg.Gap.MinPrice || price > cfg.Gap.MaxPrice {
			continue
		}
		if t.TodaysChangePerc < cfg.Gap.MinPct {
			continue
		}
		candidates = append(candidates, candidate{
			symbol:    t.Ticker,
			price:     price,
			prevClose: t.PrevDay.C,
			gap:       t.TodaysChangePerc,
		})
		if len(candidates) >= maxPremarketCandidates {
			break
		}
	}

	today := s.clk.SessionDate(now)
	startMin, endMin := cfg.Session.StartMinute(), cfg.Session.EndMinute()

	var entries []model.WatchlistEntry
	for _, c := range candidates {
		bars, err := s.md.GetMinuteAggs(ctx, c.symbol, today)
		if err != nil {
			s.log.Warn("skipping symbol, minute bars unavailable", "symbol", c.symbol, "err", err)
			continue
		}

		vol := sessionVolume(s.clk, bars, startMin, endMin)
		if vol < cfg.Gap.MinCumulativeVolume {
			continue
		}

		hod, err := s.PrevDayAfterHoursHigh(ctx, c.symbol, now)
		if err != nil {
			s.log.Warn("previous-day after-hours high unavailable", "symbol", c.symbol, "err", err)
		}
		for _, b := range bars {
			if b.High > hod {
				hod = b.High
			}
		}

		entries = append(entries, model.WatchlistEntry{
			Symbol:           c.symbol,
			GapPercent:       c.gap,
			CurrentPrice:     c.price,
			PreviousClose:    c.prevClose,
			CumulativeVolume: vol,
			HOD:              hod,
			EMA200:           s.ema200(ctx, c.symbol, today),
			DiscoveredAt:     discoveredAt(now),
		})
	}

	s.log.Info("pre-market selection complete", "candidates", len(candidates), "selected", len(entries))
	return entries, nil
}
