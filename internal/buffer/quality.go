package buffer

import (
	"time"

	"tradesim/internal/model"
)

// gapTolerance is the slack added to the expected interval before two
// consecutive bars count as a gap.
const gapTolerance = 30 * time.Second

// qualityWindow is the trailing window over which tick count and latency
// are measured.
const qualityWindow = 5 * time.Minute

// Gap marks a missing stretch between two consecutive bars.
type Gap struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// DetectGaps flags every consecutive bar pair whose timestamp delta exceeds
// expectedInterval plus a 30 second tolerance.
func DetectGaps(bars []model.MarketBar, expectedInterval time.Duration) []Gap {
	if expectedInterval <= 0 || len(bars) < 2 {
		return nil
	}
	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		delta := bars[i].TS.Sub(bars[i-1].TS)
		if delta > expectedInterval+gapTolerance {
			gaps = append(gaps, Gap{
				Start:    bars[i-1].TS,
				End:      bars[i].TS,
				Duration: delta,
			})
		}
	}
	return gaps
}

// Quality recomputes the DataQuality snapshot for a symbol from the buffered
// stream. The integrity score applies rules in priority order, lowest score
// winning: 0.7 when a bar gap was detected, 0.8 when average tick latency
// exceeds 5s, 0.9 when fewer than 10 ticks arrived in the trailing window,
// else 1.0.
func (b *Buffer) Quality(symbol string, expectedInterval time.Duration) model.DataQuality {
	b.mu.RLock()
	sb, ok := b.bySymbol[symbol]
	var (
		entries []tickEntry
		bars    []model.MarketBar
	)
	if ok {
		entries = make([]tickEntry, len(sb.ticks))
		copy(entries, sb.ticks)
		bars = make([]model.MarketBar, len(sb.bars))
		copy(bars, sb.bars)
	}
	now := b.now()
	b.mu.RUnlock()

	q := model.DataQuality{Symbol: symbol, LastUpdate: now}

	cutoff := now.Add(-qualityWindow)
	var totalLatency time.Duration
	for _, e := range entries {
		if e.tick.TS.Before(cutoff) {
			continue
		}
		q.TickCount++
		totalLatency += e.receivedAt.Sub(e.tick.TS)
	}
	if q.TickCount > 0 {
		q.AvgLatency = totalLatency / time.Duration(q.TickCount)
	}

	if gaps := DetectGaps(bars, expectedInterval); len(gaps) > 0 {
		q.HasGap = true
		q.GapDuration = gaps[len(gaps)-1].Duration
	}

	switch {
	case q.HasGap:
		q.Score = 0.7
	case q.AvgLatency > 5*time.Second:
		q.Score = 0.8
	case q.TickCount < 10:
		q.Score = 0.9
	default:
		q.Score = 1.0
	}
	return q
}
