// Package backtest replays historical bar series through the signal rules
// and a simulated fill model. The run is single-threaded and deterministic:
// timestamps advance through the sorted union across symbols, symbols are
// processed in name order within a timestamp, and at most one order is
// placed per symbol per step.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/indicator"
	"tradesim/internal/model"
)

// Config holds the backtest parameters.
type Config struct {
	StartingCash    float64
	SlippagePct     float64 // fraction, e.g. 0.001 = 0.1%
	CommissionFixed float64 // flat fee per order
	CommissionPct   float64 // fraction of notional per order

	RiskAmount       float64 // base notional per entry, scaled by confidence
	MaxPositionValue float64 // notional cap per position
	SellFraction     float64 // share of a position closed per sell signal

	RSIBuyBelow  float64
	RSISellAbove float64

	Indicators indicator.Config
}

// DefaultConfig returns the standard backtest parameters.
func DefaultConfig() Config {
	return Config{
		StartingCash:     100000,
		SlippagePct:      0.001,
		CommissionFixed:  1.0,
		CommissionPct:    0.0005,
		RiskAmount:       10000,
		MaxPositionValue: 25000,
		SellFraction:     0.5,
		RSIBuyBelow:      30,
		RSISellAbove:     70,
		Indicators:       indicator.DefaultConfig(),
	}
}

// Engine drives one backtest over a fixed dataset.
type Engine struct {
	cfg     Config
	data    map[string][]model.MarketBar
	symbols []string
}

// New validates the configuration and dataset. Bars must already be clean
// and sorted per symbol.
func New(data map[string][]model.MarketBar, cfg Config) (*Engine, error) {
	if cfg.StartingCash <= 0 {
		return nil, fmt.Errorf("starting cash must be positive, got %v", cfg.StartingCash)
	}
	if cfg.SellFraction <= 0 || cfg.SellFraction > 1 {
		return nil, fmt.Errorf("sell fraction must be in (0, 1], got %v", cfg.SellFraction)
	}
	if len(data) == 0 {
		return nil, errors.New("no symbols to backtest")
	}
	symbols := make([]string, 0, len(data))
	for sym, bars := range data {
		if len(bars) == 0 {
			return nil, fmt.Errorf("symbol %s has no bars", sym)
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return &Engine{cfg: cfg, data: data, symbols: symbols}, nil
}

// position is the engine's internal holding. Entries never average in:
// a symbol with an open position ignores further buy signals.
type position struct {
	qty   int64
	entry float64
}

// Run executes the backtest. The context is checked once per timestamp so
// long runs can be abandoned.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	sets := make(map[string]*indicator.Set, len(e.symbols))
	index := make(map[string]map[int64]int, len(e.symbols))
	tsSet := make(map[int64]struct{})
	for _, sym := range e.symbols {
		bars := e.data[sym]
		sets[sym] = indicator.Compute(sym, bars, e.cfg.Indicators)
		idx := make(map[int64]int, len(bars))
		for i, b := range bars {
			key := b.TS.UnixNano()
			idx[key] = i
			tsSet[key] = struct{}{}
		}
		index[sym] = idx
	}

	stamps := make([]int64, 0, len(tsSet))
	for k := range tsSet {
		stamps = append(stamps, k)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	cash := e.cfg.StartingCash
	positions := make(map[string]*position)
	lastPrice := make(map[string]float64)
	var orders []model.Order
	var trades []model.Trade
	var commissionPaid float64
	curve := make([]EquityPoint, 0, len(stamps))
	steps := make([]StepSnapshot, 0, len(stamps))

	for _, stamp := range stamps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		ts := time.Unix(0, stamp).UTC()

		for _, sym := range e.symbols {
			barIdx, ok := index[sym][stamp]
			if !ok {
				continue
			}
			price := e.data[sym][barIdx].Close
			lastPrice[sym] = price

			sig, firing := evalSignals(sets[sym], barIdx, price, e.cfg)
			if !firing {
				continue
			}

			switch sig.Type {
			case SignalBuy:
				pos := positions[sym]
				if pos != nil {
					continue
				}
				fillPrice := price * (1 + e.cfg.SlippagePct)
				qty := e.entrySize(cash, fillPrice, sig.Confidence)
				if qty < 1 {
					continue
				}
				notional := fillPrice * float64(qty)
				fee := e.commission(notional)
				if notional+fee > cash {
					continue
				}
				cash -= notional + fee
				commissionPaid += fee
				positions[sym] = &position{qty: qty, entry: fillPrice}
				orders = append(orders, filledOrder(sym, model.SideBuy, qty, price, fillPrice, ts, sig))
				trades = append(trades, model.Trade{
					Symbol: sym, Side: model.SideBuy, Qty: qty, Price: fillPrice, TS: ts, Note: sig.Source,
				})

			case SignalSell:
				pos := positions[sym]
				if pos == nil {
					continue
				}
				slice := int64(math.Floor(float64(pos.qty) * e.cfg.SellFraction))
				if slice < 1 {
					slice = 1
				}
				if pos.qty-slice < 1 {
					slice = pos.qty
				}
				fillPrice := price * (1 - e.cfg.SlippagePct)
				notional := fillPrice * float64(slice)
				fee := e.commission(notional)
				cash += notional - fee
				commissionPaid += fee
				pnl := (fillPrice - pos.entry) * float64(slice)
				orders = append(orders, filledOrder(sym, model.SideSell, slice, price, fillPrice, ts, sig))
				trades = append(trades, model.Trade{
					Symbol: sym, Side: model.SideSell, Qty: slice, Price: fillPrice,
					TS: ts, PnL: pnl, Note: sig.Source,
				})
				pos.qty -= slice
				if pos.qty == 0 {
					delete(positions, sym)
				}
			}
		}

		equity := cash
		snap := StepSnapshot{TS: ts, Cash: cash, Positions: make(map[string]PositionSnap, len(positions))}
		for sym, pos := range positions {
			px := lastPrice[sym]
			equity += px * float64(pos.qty)
			snap.Positions[sym] = PositionSnap{Qty: pos.qty, EntryPrice: pos.entry, Price: px}
		}
		curve = append(curve, EquityPoint{TS: ts, Value: equity})
		steps = append(steps, snap)
	}

	final := curve[len(curve)-1].Value
	res := Result{
		StartingCash:        e.cfg.StartingCash,
		FinalValue:          final,
		TotalReturnPct:      (final - e.cfg.StartingCash) / e.cfg.StartingCash * 100,
		AnnualizedReturnPct: annualizedReturnPct(e.cfg.StartingCash, final, curve[0].TS, curve[len(curve)-1].TS),
		MaxDrawdownPct:      maxDrawdownPct(curve),
		CommissionPaid:      commissionPaid,
		Orders:              orders,
		Trades:              trades,
		Stats:               computeStats(trades),
		EquityCurve:         curve,
		Steps:               steps,
	}
	return res, nil
}

// entrySize converts the confidence-scaled risk budget into whole shares,
// minimum one. Affordability is the caller's check against cash.
func (e *Engine) entrySize(cash, price, confidence float64) int64 {
	if price <= 0 {
		return 0
	}
	budget := e.cfg.RiskAmount * confidence
	if budget > e.cfg.MaxPositionValue {
		budget = e.cfg.MaxPositionValue
	}
	if budget > cash {
		budget = cash
	}
	qty := int64(budget / price)
	if qty < 1 {
		qty = 1
	}
	return qty
}

func (e *Engine) commission(notional float64) float64 {
	return e.cfg.CommissionFixed + e.cfg.CommissionPct*notional
}

func filledOrder(sym string, side model.OrderSide, qty int64, reqPrice, fillPrice float64, ts time.Time, sig Signal) model.Order {
	ord := model.Order{
		ID:     uuid.NewString(),
		Symbol: sym,
		Side:   side,
		Type:   model.TypeMarket,
		Qty:    qty,
		Price:  reqPrice,
		TS:     ts,
		Reason: fmt.Sprintf("%s %.2f", sig.Source, sig.Confidence),
	}
	ord.MarkFilled(fillPrice, ts)
	return ord
}
