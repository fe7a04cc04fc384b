// Package execution abstracts order placement. The Simulated executor fills
// against the requested price with configurable slippage; the Brokered
// executor submits to an external venue and polls for the terminal status
// under a hard attempt bound.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradesim/internal/model"
)

// Typed execution failures. Callers branch on these with errors.Is.
var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrTimeout            = errors.New("order polling timed out")
)

// RejectedError carries the venue's rejection reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// Fill is the successful outcome of an execution: the realized average price
// and the fill timestamp.
type Fill struct {
	Price float64
	TS    time.Time
}

// Executor places one order and reports the outcome. Implementations do not
// mutate the order; the caller owns the single terminal status transition.
type Executor interface {
	Execute(ctx context.Context, ord *model.Order) (Fill, error)
}

// validate rejects structurally bad orders before any execution attempt.
func validate(ord *model.Order) error {
	if ord == nil || ord.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if ord.Qty <= 0 {
		return fmt.Errorf("%w: qty %d", ErrInvalidOrder, ord.Qty)
	}
	if ord.Status.Terminal() {
		return fmt.Errorf("%w: already %s", ErrInvalidOrder, ord.Status)
	}
	return nil
}
