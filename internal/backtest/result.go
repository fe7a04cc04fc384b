package backtest

import (
	"math"
	"time"

	"tradesim/internal/model"
)

// EquityPoint is one sample of total portfolio value over the run.
type EquityPoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// PositionSnap is the state of one holding inside a step snapshot.
type PositionSnap struct {
	Qty        int64   `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	Price      float64 `json:"price"`
}

// StepSnapshot captures the portfolio after one timestamp of the run.
// The risk overlay replays these to compute its measures.
type StepSnapshot struct {
	TS        time.Time               `json:"ts"`
	Cash      float64                 `json:"cash"`
	Positions map[string]PositionSnap `json:"positions"`
}

// Stats summarizes the closed trades of a run.
type Stats struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	AvgPnL      float64 `json:"avg_pnl"`
}

// Result is the full outcome of a backtest run.
type Result struct {
	StartingCash        float64        `json:"starting_cash"`
	FinalValue          float64        `json:"final_value"`
	TotalReturnPct      float64        `json:"total_return_pct"`
	AnnualizedReturnPct float64        `json:"annualized_return_pct"`
	MaxDrawdownPct      float64        `json:"max_drawdown_pct"`
	CommissionPaid      float64        `json:"commission_paid"`
	Orders              []model.Order  `json:"orders"`
	Trades              []model.Trade  `json:"trades"`
	Stats               Stats          `json:"stats"`
	EquityCurve         []EquityPoint  `json:"equity_curve"`
	Steps               []StepSnapshot `json:"-"`
}

// computeStats derives the closed-trade summary. Only sell legs close a
// round trip and carry PnL.
func computeStats(trades []model.Trade) Stats {
	var st Stats
	var sum float64
	for _, tr := range trades {
		if tr.Side != model.SideSell {
			continue
		}
		st.TotalTrades++
		sum += tr.PnL
		if tr.PnL > 0 {
			st.Wins++
		} else {
			st.Losses++
		}
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.TotalTrades)
		st.AvgPnL = sum / float64(st.TotalTrades)
	}
	return st
}

// maxDrawdownPct walks the equity curve tracking the running peak.
func maxDrawdownPct(curve []EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

// annualizedReturnPct compounds the total return over the span of the run.
func annualizedReturnPct(start, final float64, from, to time.Time) float64 {
	if start <= 0 || final <= 0 || !to.After(from) {
		return 0
	}
	years := to.Sub(from).Hours() / (24 * 365)
	if years <= 0 {
		return 0
	}
	return (math.Pow(final/start, 1/years) - 1) * 100
}
