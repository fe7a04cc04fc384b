package risk

import (
	"math"
	"testing"
	"time"

	"tradesim/internal/backtest"
	"tradesim/internal/model"
)

func assertClose(t *testing.T, got, want, eps float64, label string) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Errorf("%s: got %v, want %v", label, got, want)
	}
}

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func bar(i int, high, low, close float64) model.MarketBar {
	return model.MarketBar{
		Symbol: "AAPL",
		TS:     t0.Add(time.Duration(i) * time.Minute),
		Open:   close, High: high, Low: low, Close: close,
		Volume: 100,
	}
}

func TestATRHandComputed(t *testing.T) {
	bars := []model.MarketBar{
		bar(0, 10, 10, 10),
		bar(1, 11, 9, 10),  // TR = max(2, 1, 1) = 2
		bar(2, 12, 10, 11), // TR = max(2, 2, 0) = 2
	}
	assertClose(t, atr(bars, 2), 2, 1e-9, "atr(2)")
	if got := atr(bars, 5); got != 0 {
		t.Errorf("atr with short history: got %v, want 0", got)
	}
}

func TestPercentileRank(t *testing.T) {
	assertClose(t, percentile([]float64{1, 2, 3, 4, 5}), 100, 1e-9, "max element")
	assertClose(t, percentile([]float64{5, 2, 3, 4, 1}), 0, 1e-9, "min element")
	assertClose(t, percentile([]float64{1, 5, 3}), 50, 1e-9, "middle element")
	if got := percentile([]float64{7}); got != 0 {
		t.Errorf("single element: got %v, want 0", got)
	}
}

func TestStddevSample(t *testing.T) {
	// Sample stddev of 2,4,4,4,5,5,7,9 is sqrt(32/7).
	got := stddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assertClose(t, got, math.Sqrt(32.0/7.0), 1e-9, "stddev")
}

// onlyLimits disables every limit except the ones under test so alerts do
// not bleed between checks.
func onlyLimits(set func(*Limits)) Config {
	cfg := DefaultConfig()
	cfg.Limits = Limits{}
	set(&cfg.Limits)
	return cfg
}

func countAlerts(alerts []model.RiskAlert, typ model.AlertType) int {
	n := 0
	for _, a := range alerts {
		if a.Type == typ {
			n++
		}
	}
	return n
}

func cashStep(i int, cash float64) backtest.StepSnapshot {
	return backtest.StepSnapshot{
		TS:        t0.Add(time.Duration(i) * time.Minute),
		Cash:      cash,
		Positions: map[string]backtest.PositionSnap{},
	}
}

func heldStep(i int, cash float64, sym string, qty int64, entry, price float64) backtest.StepSnapshot {
	return backtest.StepSnapshot{
		TS:   t0.Add(time.Duration(i) * time.Minute),
		Cash: cash,
		Positions: map[string]backtest.PositionSnap{
			sym: {Qty: qty, EntryPrice: entry, Price: price},
		},
	}
}

// A breach alerts once on crossing, not on every sample inside it.
func TestDrawdownAlertOnCrossing(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) { l.MaxDrawdownPct = 10 })
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		cashStep(0, 100000),
		cashStep(1, 95000), // 5% dd, under the limit
		cashStep(2, 85000), // 15% dd, crossing
		cashStep(3, 84000), // still breached, no new alert
		cashStep(4, 95000), // recovered
		cashStep(5, 82000), // crossing again
	}}
	out := ov.Apply(res, nil)
	if got := countAlerts(out.Alerts, model.AlertDrawdown); got != 2 {
		t.Errorf("drawdown alerts: got %d, want 2", got)
	}
	for _, a := range out.Alerts {
		if a.Type == model.AlertDrawdown && a.Severity != model.SeverityCritical {
			t.Errorf("drawdown severity: got %v, want CRITICAL", a.Severity)
		}
	}
}

func TestDailyLossResetsAcrossDays(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) { l.MaxDailyLossPct = 3 })
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	day2 := t0.AddDate(0, 0, 1)
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		{TS: t0, Cash: 100000, Positions: map[string]backtest.PositionSnap{}},
		{TS: t0.Add(time.Hour), Cash: 96000, Positions: map[string]backtest.PositionSnap{}}, // -4%, alert
		{TS: day2, Cash: 96000, Positions: map[string]backtest.PositionSnap{}},              // new day start
		{TS: day2.Add(time.Hour), Cash: 95000, Positions: map[string]backtest.PositionSnap{}}, // -1.04%, fine
	}}
	out := ov.Apply(res, nil)
	if got := countAlerts(out.Alerts, model.AlertDailyLoss); got != 1 {
		t.Errorf("daily loss alerts: got %d, want 1", got)
	}
}

func TestConcentrationAlert(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) { l.MaxConcentrationPct = 40 })
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string][]model.MarketBar{"AAPL": {bar(0, 100, 100, 100)}}
	// 50 shares at 100 = 5000 of a 10000 portfolio: 50% weight.
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		heldStep(0, 5000, "AAPL", 50, 100, 100),
		heldStep(1, 5000, "AAPL", 50, 100, 100), // still breached
	}}
	out := ov.Apply(res, data)
	if got := countAlerts(out.Alerts, model.AlertConcentration); got != 1 {
		t.Errorf("concentration alerts: got %d, want 1", got)
	}
	a := out.Alerts[0]
	if a.Symbol != "AAPL" {
		t.Errorf("alert symbol: got %q, want AAPL", a.Symbol)
	}
	assertClose(t, a.Observed, 50, 1e-9, "observed weight")
}

func TestFixedStopOrder(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) {})
	cfg.StopMode = StopFixed
	cfg.StopPct = 0.05
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string][]model.MarketBar{"AAPL": {bar(0, 100, 100, 100)}}
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		heldStep(0, 0, "AAPL", 10, 100, 100),
		heldStep(1, 0, "AAPL", 10, 100, 96), // above the 95 stop
		heldStep(2, 0, "AAPL", 10, 100, 94), // crossed
		heldStep(3, 0, "AAPL", 10, 100, 93), // already emitted
	}}
	out := ov.Apply(res, data)
	if len(out.StopOrders) != 1 {
		t.Fatalf("stop orders: got %d, want 1", len(out.StopOrders))
	}
	ord := out.StopOrders[0]
	if ord.Type != model.TypeStop || ord.Side != model.SideSell || ord.Qty != 10 {
		t.Errorf("stop order shape: got %+v", ord)
	}
	assertClose(t, ord.Price, 95, 1e-9, "stop level")
	if ord.Status != model.StatusPending {
		t.Errorf("stop status: got %v, want PENDING", ord.Status)
	}
	if got := countAlerts(out.Alerts, model.AlertStopLossTriggered); got != 1 {
		t.Errorf("stop alerts: got %d, want 1", got)
	}
}

func TestTrailingStopFollowsHighWaterMark(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) {})
	cfg.StopMode = StopTrailing
	cfg.StopPct = 0.05
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string][]model.MarketBar{"AAPL": {bar(0, 100, 100, 100)}}
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		heldStep(0, 0, "AAPL", 10, 100, 100),
		heldStep(1, 0, "AAPL", 10, 100, 110), // stop trails up to 104.5
		heldStep(2, 0, "AAPL", 10, 100, 105), // above 104.5
		heldStep(3, 0, "AAPL", 10, 100, 104), // crossed
	}}
	out := ov.Apply(res, data)
	if len(out.StopOrders) != 1 {
		t.Fatalf("stop orders: got %d, want 1", len(out.StopOrders))
	}
	assertClose(t, out.StopOrders[0].Price, 104.5, 1e-9, "trailing stop level")
}

// A position that closes and reopens is a fresh episode with a fresh stop.
func TestStopResetsAcrossEpisodes(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) {})
	cfg.StopMode = StopFixed
	cfg.StopPct = 0.05
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string][]model.MarketBar{"AAPL": {bar(0, 100, 100, 100)}}
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		heldStep(0, 0, "AAPL", 10, 100, 94), // first episode, stop fires
		cashStep(1, 940),                    // flat
		heldStep(2, 0, "AAPL", 10, 90, 84),  // new entry at 90, stop 85.5 fires
	}}
	out := ov.Apply(res, data)
	if len(out.StopOrders) != 2 {
		t.Fatalf("stop orders: got %d, want 2", len(out.StopOrders))
	}
	assertClose(t, out.StopOrders[1].Price, 85.5, 1e-9, "second episode stop level")
}

func TestVolatilityMeasuresRecorded(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) {})
	cfg.ATRPeriod = 2
	cfg.VolWindow = 3
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bars := []model.MarketBar{
		bar(0, 10, 10, 10),
		bar(1, 11, 9, 10),
		bar(2, 12, 10, 11),
	}
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		heldStep(2, 0, "AAPL", 1, 10, 11),
	}}
	out := ov.Apply(res, map[string][]model.MarketBar{"AAPL": bars})
	measures := out.Volatility["AAPL"]
	if len(measures) != 1 {
		t.Fatalf("measures: got %d, want 1", len(measures))
	}
	assertClose(t, measures[0].ATR, 2, 1e-9, "atr in measure")
	if measures[0].Realized < 0 {
		t.Errorf("realized vol: got %v, want >= 0", measures[0].Realized)
	}
}

func TestSampleStride(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) { l.MaxDrawdownPct = 10 })
	cfg.SampleStride = 2
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The breach only exists at an odd index, which the stride skips.
	res := backtest.Result{Steps: []backtest.StepSnapshot{
		cashStep(0, 100000),
		cashStep(1, 80000),
		cashStep(2, 100000),
	}}
	out := ov.Apply(res, nil)
	if got := countAlerts(out.Alerts, model.AlertDrawdown); got != 0 {
		t.Errorf("drawdown alerts with stride 2: got %d, want 0", got)
	}
}

func TestOverlayDoesNotMutateBacktest(t *testing.T) {
	cfg := onlyLimits(func(l *Limits) { l.MaxDrawdownPct = 1 })
	ov, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := backtest.Result{
		FinalValue: 12345,
		Steps:      []backtest.StepSnapshot{cashStep(0, 100000), cashStep(1, 50000)},
	}
	out := ov.Apply(res, nil)
	if out.Backtest.FinalValue != 12345 {
		t.Errorf("backtest result changed: %v", out.Backtest.FinalValue)
	}
}
