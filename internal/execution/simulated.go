package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradesim/internal/model"
)

// SimulatedExecutor fills orders against their requested price with a fixed
// adverse slippage and an artificial processing delay. It succeeds for any
// structurally valid order.
type SimulatedExecutor struct {
	mu    sync.Mutex
	fills []model.Order

	slippagePct float64       // e.g. 0.001 = 0.1%
	delay       time.Duration // simulated processing time

	now func() time.Time
}

// NewSimulatedExecutor creates a simulated executor.
// slippagePct < 0 selects the default 0.1%; delay <= 0 disables the delay.
func NewSimulatedExecutor(slippagePct float64, delay time.Duration) *SimulatedExecutor {
	if slippagePct < 0 {
		slippagePct = 0.001
	}
	return &SimulatedExecutor{
		slippagePct: slippagePct,
		delay:       delay,
		now:         time.Now,
	}
}

// SetClock overrides the fill clock. Test use only.
func (s *SimulatedExecutor) SetClock(now func() time.Time) { s.now = now }

// Execute fills the order at the requested price moved against the caller by
// the configured slippage: buys fill higher, sells fill lower.
func (s *SimulatedExecutor) Execute(ctx context.Context, ord *model.Order) (Fill, error) {
	if err := validate(ord); err != nil {
		return Fill{}, err
	}
	if ord.Price <= 0 {
		return Fill{}, fmt.Errorf("%w: no requested price", ErrInvalidOrder)
	}

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}

	price := ord.Price
	if ord.Side == model.SideBuy {
		price *= 1 + s.slippagePct
	} else {
		price *= 1 - s.slippagePct
	}

	fill := Fill{Price: price, TS: s.now()}

	s.mu.Lock()
	rec := *ord
	rec.Status = model.StatusFilled
	rec.FillPrice = fill.Price
	rec.FillTS = fill.TS
	s.fills = append(s.fills, rec)
	s.mu.Unlock()

	return fill, nil
}

// Fills returns a snapshot of all simulated fills.
func (s *SimulatedExecutor) Fills() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]model.Order, len(s.fills))
	copy(cp, s.fills)
	return cp
}
