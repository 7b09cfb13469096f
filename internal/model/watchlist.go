package model

import "time"

// WatchlistEntry is one qualifying gap stock produced by the selector.
// The watchlist as a whole is replaced atomically at each refresh.
type WatchlistEntry struct {
	Symbol           string    `json:"symbol"`
	GapPercent       float64   `json:"gap_percent"`
	CurrentPrice     float64   `json:"current_price"`
	PreviousClose    float64   `json:"previous_close"`
	CumulativeVolume int64     `json:"cumulative_volume"`
	HOD              float64   `json:"hod"`
	EMA200           *float64  `json:"ema200,omitempty"`
	DiscoveredAt     time.Time `json:"discovered_at"`
}

// GapStats holds the per-symbol peak metrics computed by the historical selector.
type GapStats struct {
	Symbol      string
	PrevClose   float64
	DailyVolume int64
	PeakGap     float64   // max 06:30-10:00 ET gain over prev close, percent
	PeakPrice   float64
	PeakTime    time.Time
	OpenPrice   float64 // 09:30 bar open, else last premarket close
	FadePct     float64 // (peak - open) / peak * 100
	IsEarlyPeak bool
}

// SymbolQuote is the downstream view of a watched symbol's live state.
// Bid and ask are synthesized from the last price and a configured spread.
type SymbolQuote struct {
	Symbol     string  `json:"symbol"`
	LastPrice  float64 `json:"last_price"`
	GapPercent float64 `json:"gap_percent"`
	Volume     int64   `json:"volume"`
	HOD        float64 `json:"hod"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
}
