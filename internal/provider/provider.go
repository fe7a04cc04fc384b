// Package provider is the market data provider boundary: historical bar
// queries consumed by the backtester and the research CLIs. Implementations
// may sit on local storage or a remote vendor; callers tolerate vendor
// embargo windows by requesting a safely lagged end time via SafeEnd.
package provider

import (
	"context"
	"fmt"
	"time"

	"tradesim/internal/model"
	sqlitestore "tradesim/internal/store/sqlite"
)

// Provider fetches historical bars.
type Provider interface {
	// FetchBars returns the bars for one symbol in [start, end] at the
	// given resolution, ordered by timestamp.
	FetchBars(ctx context.Context, symbol string, start, end time.Time, resolution time.Duration) ([]model.MarketBar, error)

	// FetchMultiple fetches several symbols in one call. Symbols with no
	// data in the window yield an empty series, not an error.
	FetchMultiple(ctx context.Context, symbols []string, start, end time.Time, resolution time.Duration) ([]model.TimeSeries, error)
}

// SafeEnd lags an end time by the provider's embargo window so queries never
// reach into the range the vendor may still be revising.
func SafeEnd(end time.Time, embargo time.Duration) time.Time {
	if embargo <= 0 {
		return end
	}
	return end.Add(-embargo)
}

// SQLiteProvider serves bars from the local bar store.
type SQLiteProvider struct {
	reader *sqlitestore.Reader
}

// NewSQLite creates a provider over an open bar reader.
func NewSQLite(reader *sqlitestore.Reader) *SQLiteProvider {
	return &SQLiteProvider{reader: reader}
}

// FetchBars reads the stored bars for one symbol. The store holds bars at
// their ingested resolution; a mismatched resolution request is the
// caller's responsibility to resample.
func (p *SQLiteProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time, _ time.Duration) ([]model.MarketBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	return p.reader.ReadBars(symbol, start, end)
}

// FetchMultiple reads each symbol sequentially.
func (p *SQLiteProvider) FetchMultiple(ctx context.Context, symbols []string, start, end time.Time, resolution time.Duration) ([]model.TimeSeries, error) {
	out := make([]model.TimeSeries, 0, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := p.FetchBars(ctx, sym, start, end, resolution)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", sym, err)
		}
		out = append(out, model.NewTimeSeries(sym, bars))
	}
	return out, nil
}

var _ Provider = (*SQLiteProvider)(nil)
