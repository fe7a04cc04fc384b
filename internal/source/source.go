// Package source provides market data feeds: a CSV-backed replay source for
// simulated sessions and a websocket source for live ticks. Both implement
// Source and deliver data over channels owned by the source.
package source

import (
	"context"

	"tradesim/internal/model"
)

// Source is a market data feed. Run blocks until the feed ends or the
// context is cancelled; Ticks and Bars are closed when Run returns.
type Source interface {
	// Connect establishes the feed connection. Replay sources load their
	// dataset here.
	Connect(ctx context.Context) error

	// Subscribe restricts delivery to the given symbols. An empty list
	// delivers everything the feed carries.
	Subscribe(symbols []string) error

	// Run pumps data into the Ticks and Bars channels until the feed ends.
	Run(ctx context.Context) error

	// Ticks delivers normalized ticks.
	Ticks() <-chan model.Tick

	// Bars delivers finalized bars, when the feed carries them.
	Bars() <-chan model.MarketBar

	// State reports the current connection state.
	State() model.StreamStatus

	Close() error
}
