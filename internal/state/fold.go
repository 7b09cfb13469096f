package state

import (
	"sort"
	"time"

	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

// Fold5Min resamples chronological 1-minute bars into 5-minute candles
// aligned to ET boundaries. Incomplete trailing groups are included; the
// caller decides whether the newest candle's period has closed.
func Fold5Min(clk *clock.Clock, bars []model.Candle) []model.Candle {
	var out []model.Candle
	var cur *model.Candle
	var curPeriod time.Time

	for _, b := range bars {
		p := clk.FiveMinStart(b.TS)
		if cur == nil || !p.Equal(curPeriod) {
			if cur != nil {
				out = append(out, *cur)
			}
			c := model.Candle{
				Symbol: b.Symbol,
				TS:     p,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			}
			cur, curPeriod = &c, p
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// Fold5MinRelaxed groups 1-minute bars that lie within maxGap of each other
// into synthetic 5-minute candles without boundary alignment. Used only as a
// last resort when neither the ring nor the pull provides five aligned bars.
func Fold5MinRelaxed(bars []model.Candle, maxGap time.Duration) []model.Candle {
	var out []model.Candle
	var cur *model.Candle
	var groupStart time.Time

	for _, b := range bars {
		if cur == nil || b.TS.Sub(groupStart) >= maxGap {
			if cur != nil {
				out = append(out, *cur)
			}
			c := b
			cur, groupStart = &c, b.TS
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// MergeByStart merges the REST pull series with ring-folded candles keyed by
// bucket start. Ring candles win on conflict (they are fresher); pull candles
// fill the gaps the ring cannot cover. The result is chronological.
func MergeByStart(pull, ring []model.Candle) []model.Candle {
	merged := make(map[int64]model.Candle, len(pull)+len(ring))
	for _, c := range pull {
		merged[c.TS.UnixMilli()] = c
	}
	for _, c := range ring {
		merged[c.TS.UnixMilli()] = c
	}
	out := make([]model.Candle, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// LastN returns up to n trailing elements of bars.
func LastN(bars []model.Candle, n int) []model.Candle {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
