package trading

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tradesim/internal/execution"
	"tradesim/internal/model"
)

// perfectExecutor fills every order at its requested price.
type perfectExecutor struct {
	fills int
}

func (p *perfectExecutor) Execute(_ context.Context, ord *model.Order) (execution.Fill, error) {
	p.fills++
	return execution.Fill{Price: ord.Price, TS: ord.TS}, nil
}

// failingExecutor rejects everything.
type failingExecutor struct{ err error }

func (f *failingExecutor) Execute(_ context.Context, _ *model.Order) (execution.Fill, error) {
	return execution.Fill{}, f.err
}

func testConfig() Config {
	return Config{
		StartingCash:     10000,
		BuyTriggerPct:    0.005,
		StopLossPct:      0.02,
		TakeProfitPct:    0.01,
		MaxPositionQty:   10,
		MaxPositionValue: 5000,
		HistorySize:      10,
	}
}

func newTestState(t *testing.T, cfg Config) *State {
	t.Helper()
	st, err := NewState(cfg)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	base := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return base })
	return st
}

func tick(symbol string, price float64) model.Tick {
	return model.Tick{Symbol: symbol, Price: price, Size: 1, TS: time.Now()}
}

func assertClose(t *testing.T, got, want, eps float64, label string) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Errorf("%s: got %v, want %v", label, got, want)
	}
}

// Drive the engine into a position: 100.0 then 101.0 is a +1% move, above
// the 0.5% trigger, so the second tick buys.
func openPosition(t *testing.T, st *State, ex execution.Executor, symbol string) {
	t.Helper()
	ctx := context.Background()
	if d := st.OnTick(ctx, tick(symbol, 100), ex); d.Action != ActionHold {
		t.Fatalf("first tick: got %v, want HOLD", d.Action)
	}
	d := st.OnTick(ctx, tick(symbol, 101), ex)
	if d.Action != ActionBought {
		t.Fatalf("second tick: got %v (err=%v), want BOUGHT", d.Action, d.Err)
	}
}

func TestBuySizing(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	openPosition(t, st, ex, "AAPL")

	pos, ok := st.Position("AAPL")
	if !ok {
		t.Fatal("expected open position in AAPL")
	}
	// Notional cap 5000 at 101 allows 49 shares, but the share cap is 10.
	if pos.Qty != 10 {
		t.Errorf("qty: got %d, want 10", pos.Qty)
	}
	assertClose(t, pos.EntryPrice, 101, 1e-9, "entry price")
	assertClose(t, st.Cash(), 10000-1010, 1e-9, "cash after buy")
}

func TestStopLossExit(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	ctx := context.Background()
	openPosition(t, st, ex, "AAPL")

	// 101 -> 98.5 is a 2.48% loss, past the 2% stop.
	d := st.OnTick(ctx, tick("AAPL", 98.5), ex)
	if d.Action != ActionSold || d.Reason != "stop-loss" {
		t.Fatalf("got action=%v reason=%q, want SOLD/stop-loss", d.Action, d.Reason)
	}
	if _, ok := st.Position("AAPL"); ok {
		t.Error("position should be closed after stop-loss")
	}
	// PnL = (98.5 - 101) * 10 = -25; cash = 10000 - 1010 + 985 = 9975.
	assertClose(t, st.Cash(), 9975, 1e-9, "cash after stop-loss")
	sum := st.Summary()
	assertClose(t, sum.RealizedPnL, -25, 1e-9, "realized pnl")
	if sum.TradeCount != 2 {
		t.Errorf("trades: got %d, want 2", sum.TradeCount)
	}
}

func TestTakeProfitExit(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	ctx := context.Background()
	openPosition(t, st, ex, "AAPL")

	// 101 -> 102.5 is a 1.49% gain, past the 1% take-profit.
	d := st.OnTick(ctx, tick("AAPL", 102.5), ex)
	if d.Action != ActionSold || d.Reason != "take-profit" {
		t.Fatalf("got action=%v reason=%q, want SOLD/take-profit", d.Action, d.Reason)
	}
	assertClose(t, st.Summary().RealizedPnL, 15, 1e-9, "realized pnl")
	assertClose(t, st.Cash(), 10015, 1e-9, "cash after take-profit")
}

// A configuration where the same price satisfies both exit rules must take
// the stop-loss: risk reduction wins over profit taking.
func TestStopLossWinsSimultaneousTrigger(t *testing.T) {
	st := newTestState(t, testConfig())
	st.mu.Lock()
	pos := &model.Position{Symbol: "X", Qty: 1, EntryPrice: 100, CurrentPrice: 100}
	reason, sell := st.sellTriggerLocked(pos, 97)
	st.mu.Unlock()
	if !sell || reason != "stop-loss" {
		t.Errorf("got sell=%v reason=%q, want stop-loss", sell, reason)
	}
}

func TestNoBuyWithoutTrend(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	ctx := context.Background()

	for _, p := range []float64{100, 100.2, 100.4} { // each step under 0.5%
		if d := st.OnTick(ctx, tick("AAPL", p), ex); d.Action != ActionHold {
			t.Fatalf("price %v: got %v, want HOLD", p, d.Action)
		}
	}
	if ex.fills != 0 {
		t.Errorf("fills: got %d, want 0", ex.fills)
	}
}

func TestCashNeverGoesNegative(t *testing.T) {
	cfg := testConfig()
	cfg.StartingCash = 50 // below one share at the trigger price
	st := newTestState(t, cfg)
	ex := &perfectExecutor{}
	ctx := context.Background()

	st.OnTick(ctx, tick("AAPL", 100), ex)
	d := st.OnTick(ctx, tick("AAPL", 101), ex)
	if d.Action != ActionHold {
		t.Fatalf("got %v, want HOLD with insufficient cash", d.Action)
	}
	assertClose(t, st.Cash(), 50, 1e-9, "cash untouched")
}

// A round trip through a failing buy leaves the portfolio identical.
func TestBuyFailureLeavesStateUntouched(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &failingExecutor{err: errors.New("broker unreachable")}
	ctx := context.Background()

	st.OnTick(ctx, tick("AAPL", 100), ex)
	d := st.OnTick(ctx, tick("AAPL", 101), ex)
	if d.Action != ActionFailed {
		t.Fatalf("got %v, want FAILED", d.Action)
	}
	if _, ok := st.Position("AAPL"); ok {
		t.Error("no position should exist after a failed buy")
	}
	assertClose(t, st.Cash(), 10000, 1e-9, "cash untouched")
	sum := st.Summary()
	if len(sum.Failures) != 1 || sum.Failures[0].Reconciled {
		t.Errorf("failures: got %+v, want one unreconciled entry", sum.Failures)
	}
}

// A failed sell force-removes the position so bookkeeping stays coherent.
func TestSellFailureForceRemovesPosition(t *testing.T) {
	st := newTestState(t, testConfig())
	good := &perfectExecutor{}
	ctx := context.Background()
	openPosition(t, st, good, "AAPL")

	bad := &failingExecutor{err: errors.New("broker unreachable")}
	d := st.OnTick(ctx, tick("AAPL", 98), bad)
	if d.Action != ActionFailed {
		t.Fatalf("got %v, want FAILED", d.Action)
	}
	if _, ok := st.Position("AAPL"); ok {
		t.Error("position should be force-removed after sell failure")
	}
	sum := st.Summary()
	if len(sum.Failures) != 1 || !sum.Failures[0].Reconciled {
		t.Errorf("failures: got %+v, want one reconciled entry", sum.Failures)
	}
	// Cash reflects only the buy; the failed sell credits nothing.
	assertClose(t, st.Cash(), 10000-1010, 1e-9, "cash after failed sell")
}

func TestCloseAllLiquidatesEverything(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	ctx := context.Background()
	openPosition(t, st, ex, "AAPL")
	openPosition(t, st, ex, "MSFT")

	st.CloseAll(ctx, ex)
	if n := len(st.Positions()); n != 0 {
		t.Errorf("open positions after CloseAll: got %d, want 0", n)
	}
	// Both positions liquidated at their entry price: value is conserved.
	assertClose(t, st.Cash(), 10000, 1e-9, "cash after liquidation")
	sum := st.Summary()
	assertClose(t, sum.RealizedPnL, 0, 1e-9, "realized pnl")
	if sum.TradeCount != 4 {
		t.Errorf("trades: got %d, want 4", sum.TradeCount)
	}
}

// Total value equals cash plus marked positions at every step of a session.
func TestPortfolioConservation(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	ctx := context.Background()

	prices := []float64{100, 101, 101.3, 100.8, 98.5, 99, 100}
	for _, p := range prices {
		st.OnTick(ctx, tick("AAPL", p), ex)
		want := st.Cash()
		if pos, ok := st.Position("AAPL"); ok {
			want += float64(pos.Qty) * pos.CurrentPrice
		}
		assertClose(t, st.TotalValue(), want, 1e-9, "total value identity")
	}
}

func TestDrawdownTracking(t *testing.T) {
	st := newTestState(t, testConfig())
	ex := &perfectExecutor{}
	ctx := context.Background()
	openPosition(t, st, ex, "AAPL")

	st.OnTick(ctx, tick("AAPL", 98.5), ex) // stop-loss, -25 on 10000 peak
	sum := st.Summary()
	if sum.PeakValue < 10000 {
		t.Errorf("peak: got %v, want >= 10000", sum.PeakValue)
	}
	if sum.MaxDrawdown <= 0 {
		t.Errorf("max drawdown: got %v, want > 0", sum.MaxDrawdown)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := testConfig()
	bad.StartingCash = 0
	if _, err := NewState(bad); err == nil {
		t.Error("expected error for zero starting cash")
	}
	bad = testConfig()
	bad.StopLossPct = 0
	if _, err := NewState(bad); err == nil {
		t.Error("expected error for zero stop-loss")
	}
}
