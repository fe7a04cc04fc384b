// Package buffer provides bounded per-symbol tick/bar queues for the live
// pipeline, plus tick-to-bar aggregation, gap detection, and data-quality
// scoring over the buffered stream.
package buffer

import (
	"sort"
	"sync"
	"time"

	"tradesim/internal/model"
)

// Config bounds the per-symbol queues.
type Config struct {
	MaxTicks int
	MaxBars  int
}

// DefaultConfig returns the standard buffer bounds.
func DefaultConfig() Config {
	return Config{MaxTicks: 1000, MaxBars: 500}
}

// tickEntry pairs a tick with its local arrival time for latency tracking.
type tickEntry struct {
	tick       model.Tick
	receivedAt time.Time
}

// symbolBuffer holds the bounded FIFO queues for one symbol.
type symbolBuffer struct {
	ticks []tickEntry
	bars  []model.MarketBar
}

// Buffer is the per-symbol bounded tick/bar store. When a queue exceeds its
// configured maximum, the oldest entries are evicted first; the newest are
// always retained. Appends and snapshot reads are safe from concurrent
// goroutines (ingestion callback writing, monitor reading).
type Buffer struct {
	mu       sync.RWMutex
	cfg      Config
	bySymbol map[string]*symbolBuffer

	now func() time.Time // injectable clock for tests

	// OnEvict is called once per evicted entry (metrics hook, optional).
	OnEvict func()
}

// New creates a Buffer with the given bounds.
func New(cfg Config) *Buffer {
	if cfg.MaxTicks <= 0 {
		cfg.MaxTicks = DefaultConfig().MaxTicks
	}
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = DefaultConfig().MaxBars
	}
	return &Buffer{
		cfg:      cfg,
		bySymbol: make(map[string]*symbolBuffer),
		now:      time.Now,
	}
}

// SetClock overrides the arrival clock. Test use only.
func (b *Buffer) SetClock(now func() time.Time) { b.now = now }

func (b *Buffer) get(symbol string) *symbolBuffer {
	sb, ok := b.bySymbol[symbol]
	if !ok {
		sb = &symbolBuffer{}
		b.bySymbol[symbol] = sb
	}
	return sb
}

// AddTick appends a tick to its symbol's queue, evicting the oldest entry
// when the queue is full.
func (b *Buffer) AddTick(t model.Tick) {
	b.mu.Lock()
	sb := b.get(t.Symbol)
	sb.ticks = append(sb.ticks, tickEntry{tick: t, receivedAt: b.now()})
	evicted := 0
	if len(sb.ticks) > b.cfg.MaxTicks {
		evicted = len(sb.ticks) - b.cfg.MaxTicks
		sb.ticks = sb.ticks[evicted:]
	}
	b.mu.Unlock()
	for i := 0; i < evicted; i++ {
		if b.OnEvict != nil {
			b.OnEvict()
		}
	}
}

// AddBar appends a bar to its symbol's queue, evicting the oldest when full.
func (b *Buffer) AddBar(bar model.MarketBar) {
	b.mu.Lock()
	sb := b.get(bar.Symbol)
	sb.bars = append(sb.bars, bar)
	evicted := 0
	if len(sb.bars) > b.cfg.MaxBars {
		evicted = len(sb.bars) - b.cfg.MaxBars
		sb.bars = sb.bars[evicted:]
	}
	b.mu.Unlock()
	for i := 0; i < evicted; i++ {
		if b.OnEvict != nil {
			b.OnEvict()
		}
	}
}

// Ticks returns a snapshot copy of the symbol's tick queue, oldest first.
func (b *Buffer) Ticks(symbol string) []model.Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, ok := b.bySymbol[symbol]
	if !ok {
		return nil
	}
	out := make([]model.Tick, len(sb.ticks))
	for i, e := range sb.ticks {
		out[i] = e.tick
	}
	return out
}

// Bars returns a snapshot copy of the symbol's bar queue, oldest first.
func (b *Buffer) Bars(symbol string) []model.MarketBar {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, ok := b.bySymbol[symbol]
	if !ok {
		return nil
	}
	out := make([]model.MarketBar, len(sb.bars))
	copy(out, sb.bars)
	return out
}

// TicksSince returns ticks with event time at or after cutoff, oldest first.
func (b *Buffer) TicksSince(symbol string, cutoff time.Time) []model.Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, ok := b.bySymbol[symbol]
	if !ok {
		return nil
	}
	var out []model.Tick
	for _, e := range sb.ticks {
		if !e.tick.TS.Before(cutoff) {
			out = append(out, e.tick)
		}
	}
	return out
}

// Symbols returns all symbols with buffered data, sorted.
func (b *Buffer) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.bySymbol))
	for s := range b.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// AggregateTicks folds ticks into one OHLCV bar: open and close from the
// first and last tick by event time, high/low from the extremes, volume from
// the sum of sizes. The bar timestamp is the first tick's time truncated to
// the window. Returns false for an empty tick set.
func AggregateTicks(ticks []model.Tick, window time.Duration) (model.MarketBar, bool) {
	if len(ticks) == 0 {
		return model.MarketBar{}, false
	}
	sorted := make([]model.Tick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	first := sorted[0]
	bar := model.MarketBar{
		Symbol: first.Symbol,
		TS:     first.TS,
		Open:   first.Price,
		High:   first.Price,
		Low:    first.Price,
	}
	if window > 0 {
		bar.TS = first.TS.Truncate(window)
	}
	for _, t := range sorted {
		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Close = t.Price
		bar.Volume += t.Size
	}
	return bar, true
}
