package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Candle represents an OHLCV bar for a single symbol. The same struct is used
// for 1-minute bars from the stream and 5-minute bars built by folding.
// TS is the bucket start time; prices are decimal dollars, volume is shares.
type Candle struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bucket start (minute- or 5-minute-aligned)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IsRed reports whether the candle closed strictly below its open.
func (c *Candle) IsRed() bool { return c.Close < c.Open }

// IsGreen reports whether the candle closed above its open by more than a
// tenth of a cent, the threshold used by the run detectors.
func (c *Candle) IsGreen() bool { return c.Close-c.Open > 0.001 }

// Range returns high minus low.
func (c *Candle) Range() float64 { return c.High - c.Low }

// Body returns the absolute open-to-close distance.
func (c *Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperShadow returns the distance from the high down to the top of the body.
func (c *Candle) UpperShadow() float64 {
	if c.Close > c.Open {
		return c.High - c.Close
	}
	return c.High - c.Open
}

// Validate checks the OHLC ordering invariant low <= min(o,c) <= max(o,c) <= high
// and a non-negative volume.
func (c *Candle) Validate() error {
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo || hi > c.High {
		return fmt.Errorf("candle %s %s: OHLC out of order o=%g h=%g l=%g c=%g: %w",
			c.Symbol, c.TS.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, ErrInvalidCandle)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s %s: negative volume %d: %w",
			c.Symbol, c.TS.Format(time.RFC3339), c.Volume, ErrInvalidCandle)
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
