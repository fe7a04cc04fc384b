package indicator

import (
	"sync"

	"tradesim/internal/model"
)

// StreamEngine maintains per-symbol bar history and recomputes the full
// indicator set on every appended bar. The incremental value is the last
// element of the batch computation, so streaming output is identical to a
// batch run over the same bars. Recurrence-based indicators (EMA, MACD)
// reseed from the retained origin; keep maxHistory large enough that the
// origin does not shift mid-session.
type StreamEngine struct {
	mu         sync.RWMutex
	cfg        Config
	maxHistory int
	bars       map[string][]model.MarketBar
	latest     map[string]Snapshot
}

const defaultMaxHistory = 10000

// NewStreamEngine creates a streaming indicator engine.
// maxHistory bounds retained bars per symbol; <= 0 selects the default.
func NewStreamEngine(cfg Config, maxHistory int) *StreamEngine {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &StreamEngine{
		cfg:        cfg,
		maxHistory: maxHistory,
		bars:       make(map[string][]model.MarketBar),
		latest:     make(map[string]Snapshot),
	}
}

// Update appends one bar to the symbol's history and returns the recomputed
// snapshot. Oldest bars are evicted once history exceeds maxHistory.
func (e *StreamEngine) Update(b model.MarketBar) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist := append(e.bars[b.Symbol], b)
	if len(hist) > e.maxHistory {
		hist = hist[len(hist)-e.maxHistory:]
	}
	e.bars[b.Symbol] = hist

	snap := Compute(b.Symbol, hist, e.cfg).Latest()
	e.latest[b.Symbol] = snap
	return snap
}

// Latest returns the most recent snapshot for a symbol.
func (e *StreamEngine) Latest(symbol string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.latest[symbol]
	return snap, ok
}

// Snapshots returns the latest snapshot for every tracked symbol.
// Cross-symbol reads are eventually consistent, not atomic across symbols.
func (e *StreamEngine) Snapshots() map[string]Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Snapshot, len(e.latest))
	for k, v := range e.latest {
		out[k] = v
	}
	return out
}

// History returns a copy of the retained bars for a symbol.
func (e *StreamEngine) History(symbol string) []model.MarketBar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hist := e.bars[symbol]
	cp := make([]model.MarketBar, len(hist))
	copy(cp, hist)
	return cp
}
