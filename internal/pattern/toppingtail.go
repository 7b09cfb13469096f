package pattern

import (
	"fmt"
	"math"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

// ToppingTail detects a 5-minute candle that breaks (or reaches) the true
// High-of-Day with a long upper shadow and a close well below the high.
// Gates run in order; the first failure aborts with nil.
type ToppingTail struct {
	clk  *clock.Clock
	cfg  config.ToppingTailConfig
	gap  config.GapConfig
	sess config.SessionConfig
}

// NewToppingTail builds the detector from an immutable config snapshot.
func NewToppingTail(clk *clock.Clock, cfg *config.Config) *ToppingTail {
	return &ToppingTail{clk: clk, cfg: cfg.ToppingTail5m, gap: cfg.Gap, sess: cfg.Session}
}

func (d *ToppingTail) Name() string { return string(model.AlertToppingTail5m) }

// Detect applies the topping-tail gates to the target bar.
func (d *ToppingTail) Detect(in Input) *model.Alert {
	bar := in.Bar()

	// 1. Session gate.
	if !d.clk.IsWithinSession(in.TS, d.sess.StartMinute(), d.sess.EndMinute()) {
		return nil
	}

	// 2. Cumulative session volume gate.
	if in.CumulativeVolume < d.gap.MinCumulativeVolume {
		return nil
	}

	// 3. HOD proximity: strict break, or distance filters in loose mode.
	if in.HOD <= 0 {
		return nil
	}
	if d.cfg.RequireStrictHODBreak {
		if bar.High < in.HOD {
			return nil
		}
	} else {
		highDist := math.Abs(in.HOD-bar.High) / in.HOD * 100
		closeDist := (in.HOD - bar.Close) / in.HOD * 100
		if highDist > d.cfg.MaxHighDistancePct || closeDist > d.cfg.MaxCloseDistancePct {
			return nil
		}
	}

	// 4. Candle color.
	if d.cfg.MustCloseRed && !bar.IsRed() {
		return nil
	}

	// 5. Upper shadow vs body. A zero body counts as an infinite ratio.
	rng := bar.Range()
	if rng <= 0 {
		return nil
	}
	body := bar.Body()
	shadow := bar.UpperShadow()
	if body > 0 && shadow/body < d.cfg.MinShadowToBodyRatio {
		return nil
	}
	if body == 0 && shadow <= 0 {
		return nil
	}

	// 6. Close position within the range.
	closePct := (bar.High - bar.Close) / rng * 100
	if closePct < d.cfg.MinClosePercent {
		return nil
	}

	// 7. Per-bar volume floor and session-volume sanity ceiling.
	if bar.Volume < d.cfg.MinBarVolume {
		return nil
	}
	if in.CumulativeVolume > d.cfg.MaxBarVolume {
		return nil
	}

	ratio := math.Inf(1)
	if body > 0 {
		ratio = shadow / body
	}
	ts := bar.TS.UnixMilli()
	return &model.Alert{
		ID:     model.AlertID(in.Symbol, ts, in.Index, model.AlertToppingTail5m),
		TS:     ts,
		Symbol: in.Symbol,
		Type:   model.AlertToppingTail5m,
		Detail: fmt.Sprintf("topping tail at HOD %.2f: shadow/body %.1f, close %.0f%% off high",
			in.HOD, ratio, closePct),
		Price:      bar.Close,
		Volume:     in.CumulativeVolume,
		GapPercent: in.GapPercent,
		HOD:        in.HOD,
		Historical: in.Historical,
	}
}
