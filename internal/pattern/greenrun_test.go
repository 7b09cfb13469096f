package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

// runSeries builds the S-shaped day: four green 5-minute bars stepping up,
// then the red rejection bar. Bars run 07:00..07:20 ET.
func runSeries() []model.Candle {
	oc := [][2]float64{
		{4.80, 4.85},
		{4.85, 4.90},
		{4.90, 4.95},
		{4.95, 5.00},
		{5.00, 4.92}, // red
	}
	var bars []model.Candle
	for i, p := range oc {
		o, c := p[0], p[1]
		h, l := o, c
		if c > h {
			h = c
		}
		if o < l {
			l = o
		}
		bars = append(bars, model.Candle{
			Symbol: "SYM",
			TS:     time.Date(2026, time.August, 24, 7, i*5, 0, 0, clock.Eastern),
			Open:   o, High: h, Low: l, Close: c, Volume: 5000,
		})
	}
	return bars
}

func greenRunInput(bars []model.Candle, idx int, hod float64) Input {
	return Input{
		Symbol:           "SYM",
		Bars:             bars,
		Index:            idx,
		HOD:              hod,
		CumulativeVolume: 700_000,
		GapPercent:       25,
		TS:               bars[idx].TS,
	}
}

func TestGreenRunReject(t *testing.T) {
	clk := clock.NewAt(time.Now())
	cfg := testConfig()
	cfg.GreenRun.Enabled = true
	d := NewGreenRun(clk, cfg)

	bars := runSeries()
	alert := d.Detect(greenRunInput(bars, 4, 5.00))
	require.NotNil(t, alert, "expected a green run reject alert")
	assert.Equal(t, model.AlertGreenRunReject, alert.Type)
	assert.Equal(t, 4.92, alert.Price)
	assert.Equal(t, 5.00, alert.HOD)
}

func TestGreenRunTargetNotRed(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewGreenRun(clk, testConfig())

	bars := runSeries()
	// Evaluate the last green bar instead of the red one.
	assert.Nil(t, d.Detect(greenRunInput(bars, 3, 5.00)))
}

func TestGreenRunTooShort(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewGreenRun(clk, testConfig())

	// Drop the first two greens: only a 2-bar run remains, under the 4 floor.
	bars := runSeries()[2:]
	assert.Nil(t, d.Detect(greenRunInput(bars, 2, 5.00)))
}

func TestGreenRunGainTooSmall(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewGreenRun(clk, testConfig())

	// Compress the run: 4 greens gaining only ~0.8% total.
	bars := runSeries()
	opens := []float64{4.80, 4.81, 4.82, 4.83}
	for i := 0; i < 4; i++ {
		bars[i].Open = opens[i]
		bars[i].Close = opens[i] + 0.01
		bars[i].High = bars[i].Close
		bars[i].Low = bars[i].Open
	}
	bars[4] = model.Candle{
		Symbol: "SYM", TS: bars[4].TS,
		Open: 4.84, High: 4.84, Low: 4.80, Close: 4.81, Volume: 5000,
	}
	assert.Nil(t, d.Detect(greenRunInput(bars, 4, 4.84)))
}

func TestGreenRunFarFromHOD(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewGreenRun(clk, testConfig())

	// Run high 5.00 against a 5.50 HOD is 9% away, over the 3% cap.
	bars := runSeries()
	assert.Nil(t, d.Detect(greenRunInput(bars, 4, 5.50)))
}

func TestGreenRunUnalignedBar(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewGreenRun(clk, testConfig())

	bars := runSeries()
	bars[4].TS = bars[4].TS.Add(90 * time.Second)
	assert.Nil(t, d.Detect(greenRunInput(bars, 4, 5.00)))
}

func TestGreenRunVolumeCeiling(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewGreenRun(clk, testConfig())

	bars := runSeries()
	in := greenRunInput(bars, 4, 5.00)
	in.CumulativeVolume = 60_000_000
	assert.Nil(t, d.Detect(in))
}
