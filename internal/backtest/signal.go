package backtest

import (
	"math"

	"tradesim/internal/indicator"
)

// SignalType says which way a signal points.
type SignalType int

const (
	SignalNone SignalType = iota
	SignalBuy
	SignalSell
)

func (s SignalType) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	}
	return "NONE"
}

// Signal is one rule firing at one bar, with a confidence in (0, 1].
type Signal struct {
	Type       SignalType
	Source     string // "rsi" or "macd"
	Confidence float64
}

// evalSignals runs every rule against one bar and returns the strongest
// firing, if any. Rules that lack warm indicator history stay silent.
func evalSignals(set *indicator.Set, barIdx int, price float64, cfg Config) (Signal, bool) {
	var best Signal
	consider := func(sig Signal) {
		if sig.Confidence > best.Confidence {
			best = sig
		}
	}

	if rsi, ok := set.RSIAt(barIdx); ok {
		if rsi < cfg.RSIBuyBelow {
			consider(Signal{
				Type:       SignalBuy,
				Source:     "rsi",
				Confidence: clamp01((cfg.RSIBuyBelow - rsi) / cfg.RSIBuyBelow),
			})
		} else if rsi > cfg.RSISellAbove {
			consider(Signal{
				Type:       SignalSell,
				Source:     "rsi",
				Confidence: clamp01((rsi - cfg.RSISellAbove) / (100 - cfg.RSISellAbove)),
			})
		}
	}

	// MACD histogram zero crossover. Needs the previous bar's histogram,
	// so the first warm bar never fires.
	if hist, ok := set.HistAt(barIdx); ok && price > 0 {
		if prev, okPrev := set.HistAt(barIdx - 1); okPrev {
			conf := clamp01(math.Abs(hist) / price * 100)
			if prev <= 0 && hist > 0 {
				consider(Signal{Type: SignalBuy, Source: "macd", Confidence: conf})
			} else if prev >= 0 && hist < 0 {
				consider(Signal{Type: SignalSell, Source: "macd", Confidence: conf})
			}
		}
	}

	return best, best.Type != SignalNone
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
