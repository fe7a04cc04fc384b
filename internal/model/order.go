package model

import (
	"errors"
	"time"
)

// OrderSide is the direction of an order.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return "UNKNOWN"
}

// OrderType is the execution style of an order.
type OrderType int

const (
	TypeMarket OrderType = iota
	TypeLimit
	TypeStop
)

func (t OrderType) String() string {
	switch t {
	case TypeMarket:
		return "MARKET"
	case TypeLimit:
		return "LIMIT"
	case TypeStop:
		return "STOP"
	}
	return "UNKNOWN"
}

// OrderStatus is the lifecycle state of an order. Pending is the only
// non-terminal state; an order transitions to a terminal state exactly once.
type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusFilled
	StatusPartiallyFilled
	StatusRejected
	StatusCancelled
)

func (st OrderStatus) String() string {
	switch st {
	case StatusPending:
		return "PENDING"
	case StatusFilled:
		return "FILLED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusRejected:
		return "REJECTED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Terminal reports whether the status is final.
func (st OrderStatus) Terminal() bool {
	return st != StatusPending
}

// ErrOrderFinalized is returned when a second terminal transition is attempted.
var ErrOrderFinalized = errors.New("order already in terminal state")

// Order represents a single buy/sell instruction and its outcome.
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Type      OrderType   `json:"type"`
	Qty       int64       `json:"qty"`
	Price     float64     `json:"price"` // requested/decision price; stop level for stop orders
	TS        time.Time   `json:"ts"`    // creation time
	FillPrice float64     `json:"fill_price,omitempty"`
	FillTS    time.Time   `json:"fill_ts,omitempty"`
	Status    OrderStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"` // rejection/cancellation cause
}

// MarkFilled transitions the order to Filled with the realized fill.
// Returns ErrOrderFinalized if the order has already reached a terminal state.
func (o *Order) MarkFilled(price float64, ts time.Time) error {
	if o.Status.Terminal() {
		return ErrOrderFinalized
	}
	o.Status = StatusFilled
	o.FillPrice = price
	o.FillTS = ts
	return nil
}

// MarkPartiallyFilled transitions the order to PartiallyFilled.
func (o *Order) MarkPartiallyFilled(price float64, ts time.Time) error {
	if o.Status.Terminal() {
		return ErrOrderFinalized
	}
	o.Status = StatusPartiallyFilled
	o.FillPrice = price
	o.FillTS = ts
	return nil
}

// MarkRejected transitions the order to Rejected with a reason.
func (o *Order) MarkRejected(reason string) error {
	if o.Status.Terminal() {
		return ErrOrderFinalized
	}
	o.Status = StatusRejected
	o.Reason = reason
	return nil
}

// MarkCancelled transitions the order to Cancelled with a reason.
func (o *Order) MarkCancelled(reason string) error {
	if o.Status.Terminal() {
		return ErrOrderFinalized
	}
	o.Status = StatusCancelled
	o.Reason = reason
	return nil
}
