package model

import (
	"encoding/json"
	"time"
)

// MarketBar represents one OHLCV aggregate over a fixed time window.
// Bars are immutable once they pass validation.
type MarketBar struct {
	Symbol    string    `json:"symbol"`
	TS        time.Time `json:"ts"` // bar open time (UTC)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Synthetic bool      `json:"synthetic,omitempty"` // true for gap-fill bars
}

// OHLCOk reports whether the bar satisfies OHLC consistency:
// high >= max(open, close, low), low <= min(open, close, high),
// and all prices strictly positive.
func (b *MarketBar) OHLCOk() bool {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return false
	}
	if b.High < b.Open || b.High < b.Close || b.High < b.Low {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close || b.Low > b.High {
		return false
	}
	return true
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *MarketBar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// TimeSeries is an ordered sequence of bars for one symbol.
// It is rebuilt per fetch and never mutated in place.
type TimeSeries struct {
	Symbol string      `json:"symbol"`
	Bars   []MarketBar `json:"bars"`
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
}

// NewTimeSeries builds a TimeSeries from bars, deriving start/end from the
// first and last bar. Bars are assumed sorted by timestamp.
func NewTimeSeries(symbol string, bars []MarketBar) TimeSeries {
	ts := TimeSeries{Symbol: symbol, Bars: bars}
	if len(bars) > 0 {
		ts.Start = bars[0].TS
		ts.End = bars[len(bars)-1].TS
	}
	return ts
}
