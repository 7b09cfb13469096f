// Package pattern provides the stateless chart-pattern detectors that run
// against completed 5-minute candle series. Detectors never mutate their
// input, never block, and never perform I/O: a given Input always yields the
// same output.
package pattern

import (
	"time"

	"gap-scanner/internal/model"
)

// Input carries everything a detector may inspect for one evaluation.
// Bars is the chronological series of completed 5-minute candles (at most the
// trailing 20); Index points at the target bar. HOD must already include the
// target bar's own high.
type Input struct {
	Symbol           string
	Bars             []model.Candle
	Index            int
	HOD              float64
	CumulativeVolume int64
	GapPercent       float64
	TS               time.Time // target bar start
	Historical       bool
}

// Bar returns the target candle.
func (in *Input) Bar() model.Candle { return in.Bars[in.Index] }

// Detector is one chart pattern. Detect returns nil when any gate fails.
type Detector interface {
	Name() string
	Detect(in Input) *model.Alert
}

// MinBars is the minimum series length required before any evaluation runs.
const MinBars = 5
