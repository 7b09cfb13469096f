package model

import (
	"encoding/json"
	"fmt"
)

// AlertType identifies the detector that produced an alert.
type AlertType string

const (
	AlertToppingTail5m  AlertType = "ToppingTail5m"
	AlertGreenRunReject AlertType = "GreenRunReject"
)

// Alert is the only positive output of the scanner. ID is the dedupe key and
// is stable for a given (symbol, ts, index, type) tuple.
type Alert struct {
	ID         string    `json:"id"`
	TS         int64     `json:"ts"` // epoch ms of the triggering bar's start
	Symbol     string    `json:"symbol"`
	Type       AlertType `json:"type"`
	Detail     string    `json:"detail"`
	Price      float64   `json:"price"`
	Volume     int64     `json:"volume"`
	GapPercent float64   `json:"gap_percent,omitempty"`
	HOD        float64   `json:"hod,omitempty"`
	Historical bool      `json:"historical"`
}

// AlertID builds the stable alert identifier "{symbol}-{ts}-{index}-{type}".
func AlertID(symbol string, ts int64, index int, typ AlertType) string {
	return fmt.Sprintf("%s-%d-%d-%s", symbol, ts, index, typ)
}

// JSON returns the JSON-encoded alert (ignoring errors for hot-path usage).
func (a *Alert) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}
