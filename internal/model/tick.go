package model

import (
	"encoding/json"
	"time"
)

// Tick represents a single trade/quote event for one symbol.
// Bid/Ask fields are zero when the source carries no quote data.
type Tick struct {
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	TS      time.Time `json:"ts"` // event time (UTC)
	Bid     float64   `json:"bid,omitempty"`
	Ask     float64   `json:"ask,omitempty"`
	BidSize float64   `json:"bid_size,omitempty"`
	AskSize float64   `json:"ask_size,omitempty"`
	Source  string    `json:"source,omitempty"` // feed tag, e.g. "replay", "ws"
}

// Valid reports whether the tick satisfies its invariants:
// price > 0, size > 0, and bid < ask when both quotes are present.
func (t *Tick) Valid() bool {
	if t.Price <= 0 || t.Size <= 0 {
		return false
	}
	if t.Bid > 0 && t.Ask > 0 && t.Bid >= t.Ask {
		return false
	}
	return true
}

// JSON returns the JSON-encoded tick.
func (t *Tick) JSON() []byte {
	out, _ := json.Marshal(t)
	return out
}
