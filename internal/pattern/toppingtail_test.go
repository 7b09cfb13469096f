package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/model"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.APIKey = "test-key"
	return cfg
}

func fiveMinBar(hh, mm int, o, h, l, c float64, v int64) model.Candle {
	return model.Candle{
		Symbol: "SYM",
		TS:     time.Date(2026, time.August, 24, hh, mm, 0, 0, clock.Eastern),
		Open:   o, High: h, Low: l, Close: c, Volume: v,
	}
}

// paddedSeries wraps the target bar with enough context bars for a realistic
// evaluation window.
func paddedSeries(target model.Candle) ([]model.Candle, int) {
	var series []model.Candle
	for i := 4; i >= 1; i-- {
		prev := target
		prev.TS = target.TS.Add(time.Duration(-5*i) * time.Minute)
		prev.High, prev.Open, prev.Close, prev.Low = 4.80, 4.75, 4.78, 4.70
		prev.Volume = 5000
		series = append(series, prev)
	}
	series = append(series, target)
	return series, len(series) - 1
}

func toppingInput(target model.Candle, hod float64, cumVol int64) Input {
	bars, idx := paddedSeries(target)
	return Input{
		Symbol:           "SYM",
		Bars:             bars,
		Index:            idx,
		HOD:              hod,
		CumulativeVolume: cumVol,
		GapPercent:       25,
		TS:               target.TS,
	}
}

func TestToppingTailHODBreak(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	// HOD was 5.00 before the bar; the bar's 5.20 high is the new HOD and is
	// what the detector receives.
	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 40000)
	in := toppingInput(target, 5.20, 700_000)

	alert := d.Detect(in)
	require.NotNil(t, alert, "expected a topping tail alert")
	assert.Equal(t, model.AlertToppingTail5m, alert.Type)
	assert.Equal(t, 4.92, alert.Price)
	assert.Equal(t, 5.20, alert.HOD)
	assert.Equal(t, int64(700_000), alert.Volume)
	assert.Equal(t,
		model.AlertID("SYM", target.TS.UnixMilli(), in.Index, model.AlertToppingTail5m),
		alert.ID)
}

func TestToppingTailHODNotBroken(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	// Strict mode: a 5.20 high under a 5.50 HOD never fires.
	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 40000)
	assert.Nil(t, d.Detect(toppingInput(target, 5.50, 700_000)))
}

func TestToppingTailShallowClose(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	// Shadow 0.10 over body 0.20 is ratio 0.5, under the 2.0 floor.
	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 5.10, 40000)
	assert.Nil(t, d.Detect(toppingInput(target, 5.20, 700_000)))
}

func TestToppingTailVolumeGate(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	// Same candle as the happy path, session volume under the floor.
	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 40000)
	assert.Nil(t, d.Detect(toppingInput(target, 5.20, 300_000)))
}

func TestToppingTailSessionGate(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	// 12:00 ET is past the 11:30 session end.
	target := fiveMinBar(12, 0, 4.90, 5.20, 4.85, 4.92, 40000)
	assert.Nil(t, d.Detect(toppingInput(target, 5.20, 700_000)))
}

func TestToppingTailLooseMode(t *testing.T) {
	clk := clock.NewAt(time.Now())
	cfg := testConfig()
	cfg.ToppingTail5m.RequireStrictHODBreak = false
	d := NewToppingTail(clk, cfg)

	// High 5.19 vs HOD 5.20 is 0.19% away and the close is 1.5% under the
	// HOD, inside both loose bands; the tail itself is 6x the tiny body.
	near := fiveMinBar(7, 15, 5.13, 5.19, 5.08, 5.12, 40000)
	nearIn := toppingInput(near, 5.20, 700_000)
	require.NotNil(t, d.Detect(nearIn), "loose mode should accept a near miss")

	// High 5.00 vs HOD 5.20 is ~3.8% away: rejected even in loose mode.
	far := fiveMinBar(7, 15, 4.90, 5.00, 4.85, 4.92, 40000)
	assert.Nil(t, d.Detect(toppingInput(far, 5.20, 700_000)))
}

func TestToppingTailMustCloseRed(t *testing.T) {
	clk := clock.NewAt(time.Now())
	cfg := testConfig()
	cfg.ToppingTail5m.MustCloseRed = true
	d := NewToppingTail(clk, cfg)

	// Green doji-ish candle with a huge tail: passes by default, rejected
	// when red closes are required.
	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 40000)
	assert.NotNil(t, NewToppingTail(clk, testConfig()).Detect(toppingInput(target, 5.20, 700_000)))

	green := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.91, 40000)
	green.Open = 4.89 // close above open
	assert.Nil(t, d.Detect(toppingInput(green, 5.20, 700_000)))
}

func TestToppingTailBarVolumeFloor(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 500) // under minBarVolume
	assert.Nil(t, d.Detect(toppingInput(target, 5.20, 700_000)))
}

func TestToppingTailSanityCeiling(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 40000)
	assert.Nil(t, d.Detect(toppingInput(target, 5.20, 60_000_000)))
}

func TestToppingTailPure(t *testing.T) {
	clk := clock.NewAt(time.Now())
	d := NewToppingTail(clk, testConfig())

	target := fiveMinBar(7, 15, 4.90, 5.20, 4.85, 4.92, 40000)
	in := toppingInput(target, 5.20, 700_000)
	before := make([]model.Candle, len(in.Bars))
	copy(before, in.Bars)

	a1 := d.Detect(in)
	a2 := d.Detect(in)
	require.NotNil(t, a1)
	require.NotNil(t, a2)
	assert.Equal(t, *a1, *a2, "identical inputs must yield identical alerts")
	assert.Equal(t, before, in.Bars, "detector must not mutate its input")
}
