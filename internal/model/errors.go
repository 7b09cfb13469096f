package model

import "errors"

// ErrInvalidCandle marks bars that violate the OHLC ordering invariant.
var ErrInvalidCandle = errors.New("invalid candle")

// ErrMisaligned marks bars whose start time is not aligned to their period.
var ErrMisaligned = errors.New("misaligned candle timestamp")
