package pattern

import (
	"fmt"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

// greenRunVolumeCeiling rejects evaluations whose session volume is beyond
// any plausible small-cap gapper.
const greenRunVolumeCeiling = 50_000_000

// greenRunLookback bounds how many prior bars the run scan inspects.
const greenRunLookback = 20

// GreenRun detects a red 5-minute candle terminating a run of consecutive
// green candles near the High-of-Day.
type GreenRun struct {
	clk *clock.Clock
	cfg config.GreenRunConfig
}

// NewGreenRun builds the detector from an immutable config snapshot.
func NewGreenRun(clk *clock.Clock, cfg *config.Config) *GreenRun {
	return &GreenRun{clk: clk, cfg: cfg.GreenRun}
}

func (d *GreenRun) Name() string { return string(model.AlertGreenRunReject) }

// Detect applies the green-run-reject gates to the target bar.
func (d *GreenRun) Detect(in Input) *model.Alert {
	bar := in.Bar()

	// 1. Target bar must sit on a 5-minute boundary.
	if !d.clk.IsFiveMinAligned(bar.TS) {
		return nil
	}

	// 2. Target bar is red.
	if bar.Open-bar.Close <= 0.001 {
		return nil
	}

	// 3. Count consecutive green bars immediately before the target.
	count := 0
	runStart, runHigh := 0.0, 0.0
	for i := in.Index - 1; i >= 0 && in.Index-i <= greenRunLookback; i-- {
		prev := in.Bars[i]
		if !prev.IsGreen() {
			break
		}
		count++
		runStart = prev.Open
		if prev.High > runHigh {
			runHigh = prev.High
		}
	}

	// 4. Run length bounds.
	if count < d.cfg.MinConsecutiveGreen || count > d.cfg.MaxConsecutiveGreen {
		return nil
	}

	// 5. Run gain.
	if runStart <= 0 {
		return nil
	}
	gain := (runHigh - runStart) / runStart * 100
	if gain < d.cfg.MinRunGainPct {
		return nil
	}

	// 6. Run high near the HOD.
	if in.HOD <= 0 {
		return nil
	}
	if (in.HOD-runHigh)/in.HOD*100 > d.cfg.MaxDistanceFromHODPct {
		return nil
	}

	// 7. Session volume sanity.
	if in.CumulativeVolume > greenRunVolumeCeiling {
		return nil
	}

	ts := bar.TS.UnixMilli()
	return &model.Alert{
		ID:     model.AlertID(in.Symbol, ts, in.Index, model.AlertGreenRunReject),
		TS:     ts,
		Symbol: in.Symbol,
		Type:   model.AlertGreenRunReject,
		Detail: fmt.Sprintf("red bar after %d green bars (+%.1f%%) near HOD %.2f",
			count, gain, in.HOD),
		Price:      bar.Close,
		Volume:     in.CumulativeVolume,
		GapPercent: in.GapPercent,
		HOD:        in.HOD,
		Historical: in.Historical,
	}
}
