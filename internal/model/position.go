package model

import "time"

// Position represents an open long position in one symbol.
// At most one position exists per symbol (no pyramiding, no shorting).
type Position struct {
	Symbol       string    `json:"symbol"`
	Qty          int64     `json:"qty"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	CurrentPrice float64   `json:"current_price"`
}

// UnrealizedPnL computes the mark-to-market profit/loss against entry.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * float64(p.Qty)
}

// MarketValue returns the position value at the current price.
func (p *Position) MarketValue() float64 {
	return p.CurrentPrice * float64(p.Qty)
}

// Trade is one executed leg appended to the trade log.
// The opening leg carries zero P&L; realized P&L is recorded on the close.
type Trade struct {
	Symbol string    `json:"symbol"`
	Side   OrderSide `json:"side"`
	Qty    int64     `json:"qty"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
	PnL    float64   `json:"pnl"` // realized, closing legs only
	Note   string    `json:"note,omitempty"`
}
