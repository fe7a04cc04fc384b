// Package risk evaluates portfolio risk measures over a backtest run and
// produces an append-only alert log plus advisory stop orders. The overlay
// never changes the underlying run: it observes the recorded portfolio
// snapshots and reports on them.
package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/backtest"
	"tradesim/internal/model"
)

// Limits are the breach thresholds, all in percent.
type Limits struct {
	MaxDailyLossPct     float64
	MaxDrawdownPct      float64
	MaxConcentrationPct float64
	VaRLimitPct         float64
}

// DefaultLimits returns conservative portfolio limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLossPct:     3,
		MaxDrawdownPct:      10,
		MaxConcentrationPct: 40,
		VaRLimitPct:         5,
	}
}

// StopMode selects how advisory stop levels are derived.
type StopMode int

const (
	StopFixed StopMode = iota // entry price minus a fixed percentage
	StopTrailing              // high-water mark since entry minus a fixed percentage
	StopATR                   // entry price minus a multiple of ATR
)

func (m StopMode) String() string {
	switch m {
	case StopFixed:
		return "FIXED"
	case StopTrailing:
		return "TRAILING"
	case StopATR:
		return "ATR"
	}
	return "UNKNOWN"
}

// Config holds the overlay parameters.
type Config struct {
	Limits       Limits
	SampleStride int // evaluate every Nth portfolio snapshot
	ATRPeriod    int
	VolWindow    int // samples of history behind each volatility estimate

	StopMode    StopMode
	StopPct     float64 // fixed/trailing stop distance as a fraction
	ATRMultiple float64
}

// DefaultConfig returns the standard overlay parameters.
func DefaultConfig() Config {
	return Config{
		Limits:       DefaultLimits(),
		SampleStride: 1,
		ATRPeriod:    14,
		VolWindow:    20,
		StopMode:     StopTrailing,
		StopPct:      0.05,
		ATRMultiple:  2,
	}
}

func (c *Config) normalize() error {
	if c.StopPct <= 0 && c.StopMode != StopATR {
		return fmt.Errorf("stop percentage must be positive, got %v", c.StopPct)
	}
	if c.StopMode == StopATR && c.ATRMultiple <= 0 {
		return fmt.Errorf("atr multiple must be positive, got %v", c.ATRMultiple)
	}
	def := DefaultConfig()
	if c.SampleStride < 1 {
		c.SampleStride = def.SampleStride
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = def.ATRPeriod
	}
	if c.VolWindow <= 0 {
		c.VolWindow = def.VolWindow
	}
	return nil
}

// ManagedResult is a backtest result together with the overlay's findings.
// The backtest numbers are untouched; alerts and stop orders are advisory.
type ManagedResult struct {
	Backtest   backtest.Result                      `json:"backtest"`
	Alerts     []model.RiskAlert                    `json:"alerts"`
	StopOrders []model.Order                        `json:"stop_orders"`
	Volatility map[string][]model.VolatilityMeasure `json:"volatility"`
}

// Overlay replays a backtest's portfolio snapshots against the limits.
type Overlay struct {
	cfg   Config
	newID func() string
}

// New validates the overlay configuration.
func New(cfg Config) (*Overlay, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Overlay{cfg: cfg, newID: func() string { return uuid.NewString() }}, nil
}

// holding tracks one open position episode between samples. It resets when
// the position disappears from the snapshots.
type holding struct {
	entry       float64
	highSince   float64
	stopEmitted bool
}

// Apply evaluates every sampled snapshot of the run. data is the bar
// dataset the run was produced from; it feeds the ATR and realized
// volatility measures.
func (o *Overlay) Apply(res backtest.Result, data map[string][]model.MarketBar) ManagedResult {
	out := ManagedResult{
		Backtest:   res,
		Volatility: make(map[string][]model.VolatilityMeasure),
	}

	cursors := make(map[string]int, len(data))
	holdings := make(map[string]*holding)
	volHistory := make(map[string][]float64)

	var peak float64
	var dayKey string
	var dayStart float64
	var equitySeries []float64

	// Crossing state per alert type; alerts fire on crossing, not on every
	// sampled snapshot inside a breach.
	ddBreached := false
	dailyBreached := false
	varBreached := false
	concBreached := make(map[string]bool)
	volBreached := make(map[string]bool)

	for i, step := range res.Steps {
		if i%o.cfg.SampleStride != 0 {
			continue
		}
		ts := step.TS

		equity := step.Cash
		for _, pos := range step.Positions {
			equity += pos.Price * float64(pos.Qty)
		}
		equitySeries = append(equitySeries, equity)
		if equity > peak {
			peak = equity
		}

		if key := ts.Format("2006-01-02"); key != dayKey {
			dayKey = key
			dayStart = equity
		}

		// Advance each bar cursor to the current timestamp.
		for sym, bars := range data {
			c := cursors[sym]
			for c < len(bars) && !bars[c].TS.After(ts) {
				c++
			}
			cursors[sym] = c
		}

		o.checkPortfolio(&out, ts, equity, peak, dayStart, equitySeries,
			&ddBreached, &dailyBreached, &varBreached)
		o.checkPositions(&out, step, ts, equity, data, cursors, holdings, volHistory,
			concBreached, volBreached)

		// Reset holdings for symbols no longer in the portfolio.
		for sym := range holdings {
			if _, held := step.Positions[sym]; !held {
				delete(holdings, sym)
				delete(concBreached, sym)
			}
		}
	}
	return out
}

func (o *Overlay) checkPortfolio(out *ManagedResult, ts time.Time, equity, peak, dayStart float64,
	equitySeries []float64, ddBreached, dailyBreached, varBreached *bool) {
	lim := o.cfg.Limits

	if peak > 0 {
		ddPct := (peak - equity) / peak * 100
		breach := lim.MaxDrawdownPct > 0 && ddPct > lim.MaxDrawdownPct
		if breach && !*ddBreached {
			out.Alerts = append(out.Alerts, o.alert(model.AlertDrawdown, model.SeverityCritical, "", ts,
				ddPct, lim.MaxDrawdownPct,
				fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", ddPct, lim.MaxDrawdownPct)))
		}
		*ddBreached = breach
	}

	if dayStart > 0 {
		lossPct := (dayStart - equity) / dayStart * 100
		breach := lim.MaxDailyLossPct > 0 && lossPct > lim.MaxDailyLossPct
		if breach && !*dailyBreached {
			out.Alerts = append(out.Alerts, o.alert(model.AlertDailyLoss, model.SeverityCritical, "", ts,
				lossPct, lim.MaxDailyLossPct,
				fmt.Sprintf("daily loss %.2f%% exceeds limit %.2f%%", lossPct, lim.MaxDailyLossPct)))
		}
		*dailyBreached = breach
	}

	window := o.cfg.VolWindow
	if len(equitySeries) >= 3 {
		series := equitySeries
		if len(series) > window {
			series = series[len(series)-window:]
		}
		dailyVol := stddev(logReturns(series))
		varPct := 0.0
		if equity > 0 {
			varPct = valueAtRisk(equity, dailyVol) / equity * 100
		}
		breach := lim.VaRLimitPct > 0 && varPct > lim.VaRLimitPct
		if breach && !*varBreached {
			out.Alerts = append(out.Alerts, o.alert(model.AlertVaR, model.SeverityWarning, "", ts,
				varPct, lim.VaRLimitPct,
				fmt.Sprintf("95%% one-day VaR %.2f%% exceeds limit %.2f%%", varPct, lim.VaRLimitPct)))
		}
		*varBreached = breach
	}
}

func (o *Overlay) checkPositions(out *ManagedResult, step backtest.StepSnapshot, ts time.Time,
	equity float64, data map[string][]model.MarketBar, cursors map[string]int,
	holdings map[string]*holding, volHistory map[string][]float64,
	concBreached, volBreached map[string]bool) {
	lim := o.cfg.Limits

	symbols := make([]string, 0, len(step.Positions))
	for sym := range step.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		pos := step.Positions[sym]

		h := holdings[sym]
		if h == nil || h.entry != pos.EntryPrice {
			h = &holding{entry: pos.EntryPrice, highSince: pos.Price}
			holdings[sym] = h
		}
		if pos.Price > h.highSince {
			h.highSince = pos.Price
		}

		if equity > 0 && lim.MaxConcentrationPct > 0 {
			weight := pos.Price * float64(pos.Qty) / equity * 100
			breach := weight > lim.MaxConcentrationPct
			if breach && !concBreached[sym] {
				out.Alerts = append(out.Alerts, o.alert(model.AlertConcentration, model.SeverityWarning, sym, ts,
					weight, lim.MaxConcentrationPct,
					fmt.Sprintf("%s is %.2f%% of the portfolio, limit %.2f%%", sym, weight, lim.MaxConcentrationPct)))
			}
			concBreached[sym] = breach
		}

		bars := data[sym][:cursors[sym]]
		measure := o.measure(sym, ts, bars, volHistory)
		out.Volatility[sym] = append(out.Volatility[sym], measure)

		highVol := measure.Realized > 0 && measure.Percentile >= 95
		if highVol && !volBreached[sym] {
			out.Alerts = append(out.Alerts, o.alert(model.AlertVolatility, model.SeverityInfo, sym, ts,
				measure.Realized, 0,
				fmt.Sprintf("%s realized volatility %.1f%% is at its %.0fth percentile", sym, measure.Realized*100, measure.Percentile)))
		}
		volBreached[sym] = highVol

		o.checkStop(out, sym, pos, h, measure.ATR, ts)
	}
}

// measure computes the volatility view of one symbol from its bar history
// up to the sample point.
func (o *Overlay) measure(sym string, ts time.Time, bars []model.MarketBar, volHistory map[string][]float64) model.VolatilityMeasure {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	realized := realizedVol(closes, o.cfg.VolWindow)
	hist := append(volHistory[sym], realized)
	volHistory[sym] = hist
	return model.VolatilityMeasure{
		Symbol:     sym,
		TS:         ts,
		ATR:        atr(bars, o.cfg.ATRPeriod),
		Realized:   realized,
		Percentile: percentile(hist),
	}
}

// checkStop emits at most one advisory stop order per holding episode.
func (o *Overlay) checkStop(out *ManagedResult, sym string, pos backtest.PositionSnap, h *holding, atrVal float64, ts time.Time) {
	if h.stopEmitted {
		return
	}
	var level float64
	switch o.cfg.StopMode {
	case StopFixed:
		level = h.entry * (1 - o.cfg.StopPct)
	case StopTrailing:
		level = h.highSince * (1 - o.cfg.StopPct)
	case StopATR:
		if atrVal <= 0 {
			return
		}
		level = h.entry - o.cfg.ATRMultiple*atrVal
	}
	if level <= 0 || pos.Price > level {
		return
	}

	out.StopOrders = append(out.StopOrders, model.Order{
		ID:     o.newID(),
		Symbol: sym,
		Side:   model.SideSell,
		Type:   model.TypeStop,
		Qty:    pos.Qty,
		Price:  level,
		TS:     ts,
		Status: model.StatusPending,
		Reason: fmt.Sprintf("%s stop at %.2f", o.cfg.StopMode, level),
	})
	out.Alerts = append(out.Alerts, o.alert(model.AlertStopLossTriggered, model.SeverityWarning, sym, ts,
		pos.Price, level,
		fmt.Sprintf("%s at %.2f crossed its %s stop %.2f", sym, pos.Price, o.cfg.StopMode, level)))
	h.stopEmitted = true
}

func (o *Overlay) alert(typ model.AlertType, sev model.AlertSeverity, sym string, ts time.Time,
	observed, threshold float64, msg string) model.RiskAlert {
	if math.IsNaN(observed) {
		observed = 0
	}
	return model.RiskAlert{
		ID:        o.newID(),
		Type:      typ,
		Severity:  sev,
		Symbol:    sym,
		Message:   msg,
		TS:        ts,
		Observed:  observed,
		Threshold: threshold,
	}
}
