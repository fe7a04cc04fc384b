package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradesim/internal/model"
)

// BrokerStatus is the venue's view of a submitted order.
type BrokerStatus struct {
	State     model.OrderStatus
	AvgPrice  float64
	FilledQty int64
	TS        time.Time
}

// Broker is the minimal order-venue surface the brokered executor needs.
// pkg/broker provides the HTTP implementation.
type Broker interface {
	Submit(ctx context.Context, ord *model.Order) (string, error)
	Status(ctx context.Context, brokerID string) (BrokerStatus, error)
	Cancel(ctx context.Context, brokerID string) error
}

// BrokeredExecutor submits market orders to a Broker and polls the order
// status on a fixed interval up to a bounded number of attempts. The attempt
// bound is a hard contract: polling never blocks indefinitely.
type BrokeredExecutor struct {
	broker       Broker
	pollInterval time.Duration
	maxAttempts  int
}

// NewBrokeredExecutor creates a brokered executor.
// pollInterval <= 0 selects 500ms; maxAttempts <= 0 selects 20.
func NewBrokeredExecutor(broker Broker, pollInterval time.Duration, maxAttempts int) *BrokeredExecutor {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	return &BrokeredExecutor{
		broker:       broker,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// Execute submits the order and polls until a terminal status or the attempt
// bound. On Filled/PartiallyFilled it returns the realized average price; on
// a terminal non-fill it returns RejectedError; on exhausting the bound it
// attempts cancellation and returns ErrTimeout with the last known status.
func (b *BrokeredExecutor) Execute(ctx context.Context, ord *model.Order) (Fill, error) {
	if err := validate(ord); err != nil {
		return Fill{}, err
	}

	brokerID, err := b.broker.Submit(ctx, ord)
	if err != nil {
		return Fill{}, fmt.Errorf("submit %s %s: %w", ord.Side, ord.Symbol, err)
	}

	// The caller's context may be cancelled mid-flight during session
	// shutdown. A submitted order still needs a terminal status, so the
	// poll and cancel calls run on a detached context bounded by the
	// attempt budget.
	pollCtx, stopPolling := context.WithTimeout(context.Background(),
		b.pollInterval*time.Duration(b.maxAttempts)+time.Second)
	defer stopPolling()

	lastState := model.StatusPending
poll:
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		select {
		case <-pollCtx.Done():
			break poll
		case <-time.After(b.pollInterval):
		}

		st, err := b.broker.Status(pollCtx, brokerID)
		if err != nil {
			log.Printf("[execution] status poll %d/%d for %s failed: %v",
				attempt+1, b.maxAttempts, brokerID, err)
			continue
		}
		lastState = st.State

		switch st.State {
		case model.StatusFilled, model.StatusPartiallyFilled:
			ts := st.TS
			if ts.IsZero() {
				ts = time.Now()
			}
			return Fill{Price: st.AvgPrice, TS: ts}, nil
		case model.StatusRejected:
			return Fill{}, &RejectedError{Reason: "broker rejected order " + brokerID}
		case model.StatusCancelled:
			return Fill{}, &RejectedError{Reason: "broker cancelled order " + brokerID}
		}
	}

	// Bound exhausted: best-effort cancel, then surface the timeout.
	cancelCtx, done := context.WithTimeout(context.Background(), b.pollInterval)
	defer done()
	if err := b.broker.Cancel(cancelCtx, brokerID); err != nil {
		log.Printf("[execution] cancel after timeout failed for %s: %v", brokerID, err)
	}
	return Fill{}, fmt.Errorf("%w: order %s last status %s", ErrTimeout, brokerID, lastState)
}
