// Package notify delivers risk alerts to external channels.
package notify

import (
	"context"
	"log"

	"tradesim/internal/model"
)

// Notifier delivers one risk alert. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, alert model.RiskAlert) error
}

// LogNotifier writes alerts to the process log. Useful in development and
// as the fallback when no external channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(_ context.Context, alert model.RiskAlert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Severity, alert.Type, alert.Message)
	return nil
}

// Multi fans one alert out to several notifiers. Delivery failures are
// logged and do not stop the remaining notifiers.
type Multi struct {
	targets []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(targets ...Notifier) *Multi { return &Multi{targets: targets} }

func (m *Multi) Send(ctx context.Context, alert model.RiskAlert) error {
	var firstErr error
	for _, n := range m.targets {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
