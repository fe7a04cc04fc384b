// Package series owns historical bar data per symbol: validation, cleaning,
// gap filling, and concurrent-safe access for the backtest and live pipelines.
package series

import (
	"sort"
	"sync"
	"time"

	"tradesim/internal/model"
)

// Store holds validated bar series keyed by symbol.
// Append rebuilds the stored slice; callers never see shared mutable state.
type Store struct {
	mu     sync.RWMutex
	series map[string][]model.MarketBar
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{series: make(map[string][]model.MarketBar)}
}

// Put replaces the series for a symbol with a cleaned copy of bars.
func (s *Store) Put(symbol string, bars []model.MarketBar) {
	cp := make([]model.MarketBar, len(bars))
	copy(cp, bars)
	s.mu.Lock()
	s.series[symbol] = cp
	s.mu.Unlock()
}

// Append adds bars to a symbol's series, creating a new backing slice.
func (s *Store) Append(symbol string, bars ...model.MarketBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.series[symbol]
	next := make([]model.MarketBar, 0, len(old)+len(bars))
	next = append(next, old...)
	next = append(next, bars...)
	s.series[symbol] = next
}

// Series returns a TimeSeries snapshot for the symbol.
// The returned bars are a copy; mutating them does not affect the store.
func (s *Store) Series(symbol string) (model.TimeSeries, bool) {
	s.mu.RLock()
	bars, ok := s.series[symbol]
	if !ok {
		s.mu.RUnlock()
		return model.TimeSeries{}, false
	}
	cp := make([]model.MarketBar, len(bars))
	copy(cp, bars)
	s.mu.RUnlock()
	return model.NewTimeSeries(symbol, cp), true
}

// Symbols returns all symbols with stored bars, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of bars stored for a symbol.
func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[symbol])
}

// Clean drops bars failing OHLC consistency or non-positive price checks and
// returns the remainder sorted by timestamp. Cleaning is a strict filter, not
// a correction: no bar field is ever adjusted.
func Clean(bars []model.MarketBar) []model.MarketBar {
	out := make([]model.MarketBar, 0, len(bars))
	for _, b := range bars {
		if b.OHLCOk() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// FillGaps inserts synthetic flat bars (open=high=low=close=previous close,
// volume=0) for every missing interval strictly between two existing bars
// when the gap exceeds one resolution step. It never extrapolates beyond the
// first or last observed bar.
func FillGaps(bars []model.MarketBar, resolution time.Duration) []model.MarketBar {
	if len(bars) < 2 || resolution <= 0 {
		return bars
	}
	out := make([]model.MarketBar, 0, len(bars))
	out = append(out, bars[0])
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1]
		cur := bars[i]
		for ts := prev.TS.Add(resolution); cur.TS.Sub(ts) > 0; ts = ts.Add(resolution) {
			out = append(out, model.MarketBar{
				Symbol:    prev.Symbol,
				TS:        ts,
				Open:      prev.Close,
				High:      prev.Close,
				Low:       prev.Close,
				Close:     prev.Close,
				Volume:    0,
				Synthetic: true,
			})
		}
		out = append(out, cur)
	}
	return out
}
