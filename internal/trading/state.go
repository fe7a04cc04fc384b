// Package trading implements the trading state machine: position and cash
// bookkeeping, buy/sell rule evaluation, and order execution through a
// pluggable executor. Exactly one order is submitted per tick, and all
// portfolio mutation happens under a single lock so concurrent symbol
// pipelines observe a consistent cash/position view.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/execution"
	"tradesim/internal/model"
)

// Config holds the trading rule thresholds and sizing bounds.
type Config struct {
	StartingCash     float64
	BuyTriggerPct    float64 // single-step upward move that arms a buy
	StopLossPct      float64 // loss from entry that forces an exit
	TakeProfitPct    float64 // gain from entry that takes profit
	MaxPositionQty   int64   // share cap per position
	MaxPositionValue float64 // notional cap per position
	HistorySize      int     // retained prices per symbol for the trend check
}

// DefaultConfig returns conservative trading parameters.
func DefaultConfig() Config {
	return Config{
		StartingCash:     100000,
		BuyTriggerPct:    0.005,
		StopLossPct:      0.02,
		TakeProfitPct:    0.04,
		MaxPositionQty:   100,
		MaxPositionValue: 10000,
		HistorySize:      10,
	}
}

func (c *Config) normalize() error {
	if c.StartingCash <= 0 {
		return fmt.Errorf("starting cash must be positive, got %v", c.StartingCash)
	}
	if c.StopLossPct <= 0 || c.TakeProfitPct <= 0 {
		return errors.New("stop-loss and take-profit percentages must be positive")
	}
	def := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.MaxPositionQty <= 0 {
		c.MaxPositionQty = def.MaxPositionQty
	}
	if c.MaxPositionValue <= 0 {
		c.MaxPositionValue = def.MaxPositionValue
	}
	return nil
}

// Action is the outcome of one tick through the state machine.
type Action int

const (
	ActionHold Action = iota
	ActionBought
	ActionSold
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionBought:
		return "BOUGHT"
	case ActionSold:
		return "SOLD"
	case ActionFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Decision reports what the engine did with one tick.
type Decision struct {
	Action Action
	Symbol string
	Qty    int64
	Reason string
	Err    error
}

// ExecFailure records an execution failure and any reconciliation applied.
type ExecFailure struct {
	Symbol     string          `json:"symbol"`
	Side       model.OrderSide `json:"side"`
	TS         time.Time       `json:"ts"`
	Err        string          `json:"err"`
	Reconciled bool            `json:"reconciled"` // position force-removed
}

// Summary is the end-of-session view of the trading state.
type Summary struct {
	StartingCash  float64          `json:"starting_cash"`
	Cash          float64          `json:"cash"`
	FinalValue    float64          `json:"final_value"`
	RealizedPnL   float64          `json:"realized_pnl"`
	PeakValue     float64          `json:"peak_value"`
	MaxDrawdown   float64          `json:"max_drawdown"`
	OpenPositions int              `json:"open_positions"`
	TradeCount    int              `json:"trade_count"`
	OrderCount    int              `json:"order_count"`
	Trades        []model.Trade    `json:"trades"`
	Failures      []ExecFailure    `json:"failures"`
	Positions     []model.Position `json:"positions"`
}

// State is the per-session trading state. Created once with starting cash,
// mutated per tick, summarized at session end.
type State struct {
	mu  sync.Mutex
	cfg Config

	cash      float64
	positions map[string]*model.Position
	orders    []model.Order
	trades    []model.Trade
	failures  []ExecFailure

	realized    float64
	peak        float64
	maxDrawdown float64

	// Trailing prices per symbol, most recent first. Used only for the
	// single-step trend trigger.
	history map[string][]float64

	now   func() time.Time
	newID func() string
}

// NewState creates a trading state with the configured starting cash.
func NewState(cfg Config) (*State, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &State{
		cfg:       cfg,
		cash:      cfg.StartingCash,
		positions: make(map[string]*model.Position),
		history:   make(map[string][]float64),
		peak:      cfg.StartingCash,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}, nil
}

// SetClock overrides the state clock. Test use only.
func (s *State) SetClock(now func() time.Time) { s.now = now }

// OnTick drives the per-tick state machine: update the trailing price
// history, then — if holding — refresh the mark and evaluate the sell rules,
// otherwise evaluate and size a buy. At most one order is submitted.
func (s *State) OnTick(ctx context.Context, tick model.Tick, exec execution.Executor) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pushPriceLocked(tick.Symbol, tick.Price)

	if pos, ok := s.positions[tick.Symbol]; ok {
		pos.CurrentPrice = tick.Price
		s.observeValueLocked()

		reason, sell := s.sellTriggerLocked(pos, tick.Price)
		if !sell {
			return Decision{Action: ActionHold, Symbol: tick.Symbol}
		}
		qty := pos.Qty
		if err := s.sellLocked(ctx, tick.Symbol, tick.Price, reason, exec); err != nil {
			return Decision{Action: ActionFailed, Symbol: tick.Symbol, Qty: qty, Reason: reason, Err: err}
		}
		return Decision{Action: ActionSold, Symbol: tick.Symbol, Qty: qty, Reason: reason}
	}

	if !s.buyTriggerLocked(tick.Symbol, tick.Price) {
		return Decision{Action: ActionHold, Symbol: tick.Symbol}
	}
	qty := s.sizeLocked(tick.Price)
	if qty < 1 {
		return Decision{Action: ActionHold, Symbol: tick.Symbol, Reason: "no affordable size"}
	}
	if err := s.buyLocked(ctx, tick.Symbol, qty, tick.Price, exec); err != nil {
		return Decision{Action: ActionFailed, Symbol: tick.Symbol, Qty: qty, Err: err}
	}
	return Decision{Action: ActionBought, Symbol: tick.Symbol, Qty: qty, Reason: "trend trigger"}
}

// pushPriceLocked prepends the price to the symbol's bounded trailing window.
func (s *State) pushPriceLocked(symbol string, price float64) {
	hist := s.history[symbol]
	hist = append([]float64{price}, hist...)
	if len(hist) > s.cfg.HistorySize {
		hist = hist[:s.cfg.HistorySize]
	}
	s.history[symbol] = hist
}

// buyTriggerLocked implements the buy rule: no existing position, cash for
// at least one share, and the latest single-step move above the trigger.
func (s *State) buyTriggerLocked(symbol string, price float64) bool {
	if _, held := s.positions[symbol]; held {
		return false
	}
	if s.cash < price {
		return false
	}
	hist := s.history[symbol]
	if len(hist) < 2 {
		return false
	}
	prev := hist[1]
	if prev <= 0 {
		return false
	}
	return (price-prev)/prev > s.cfg.BuyTriggerPct
}

// sellTriggerLocked implements the sell rules. Stop-loss is evaluated first
// and wins a simultaneous trigger: risk reduction dominates profit taking.
func (s *State) sellTriggerLocked(pos *model.Position, price float64) (string, bool) {
	if pos.EntryPrice <= 0 {
		return "", false
	}
	change := (price - pos.EntryPrice) / pos.EntryPrice
	if -change >= s.cfg.StopLossPct {
		return "stop-loss", true
	}
	if change >= s.cfg.TakeProfitPct {
		return "take-profit", true
	}
	return "", false
}

// sizeLocked bounds a buy by the share cap, the notional cap, and cash.
func (s *State) sizeLocked(price float64) int64 {
	if price <= 0 {
		return 0
	}
	budget := s.cfg.MaxPositionValue
	if s.cash < budget {
		budget = s.cash
	}
	qty := int64(budget / price)
	if qty > s.cfg.MaxPositionQty {
		qty = s.cfg.MaxPositionQty
	}
	return qty
}

// buyLocked executes a buy. A failed or unaffordable execution leaves the
// portfolio untouched; a successful one debits cash and opens the position.
func (s *State) buyLocked(ctx context.Context, symbol string, qty int64, price float64, exec execution.Executor) error {
	ord := model.Order{
		ID:     s.newID(),
		Symbol: symbol,
		Side:   model.SideBuy,
		Type:   model.TypeMarket,
		Qty:    qty,
		Price:  price,
		TS:     s.now(),
	}

	fill, err := exec.Execute(ctx, &ord)
	if err != nil {
		ord.MarkRejected(err.Error())
		s.orders = append(s.orders, ord)
		s.failures = append(s.failures, ExecFailure{
			Symbol: symbol, Side: model.SideBuy, TS: s.now(), Err: err.Error(),
		})
		return err
	}

	cost := fill.Price * float64(qty)
	if cost > s.cash {
		// The fill slipped past our funds; reject without mutating anything.
		ord.MarkRejected("insufficient funds at execution price")
		s.orders = append(s.orders, ord)
		return fmt.Errorf("%w: need %.2f, have %.2f", execution.ErrInsufficientFunds, cost, s.cash)
	}

	ord.MarkFilled(fill.Price, fill.TS)
	s.orders = append(s.orders, ord)
	s.cash -= cost
	s.positions[symbol] = &model.Position{
		Symbol:       symbol,
		Qty:          qty,
		EntryPrice:   fill.Price,
		EntryTime:    fill.TS,
		CurrentPrice: fill.Price,
	}
	s.trades = append(s.trades, model.Trade{
		Symbol: symbol, Side: model.SideBuy, Qty: qty, Price: fill.Price, TS: fill.TS,
	})
	s.observeValueLocked()
	return nil
}

// sellLocked executes a sell against the recorded position. On execution
// failure the position is force-removed so cash/position bookkeeping stays
// coherent, and the inconsistency is logged loudly.
func (s *State) sellLocked(ctx context.Context, symbol string, price float64, note string, exec execution.Executor) error {
	pos, ok := s.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: no position in %s", execution.ErrInsufficientShares, symbol)
	}

	ord := model.Order{
		ID:     s.newID(),
		Symbol: symbol,
		Side:   model.SideSell,
		Type:   model.TypeMarket,
		Qty:    pos.Qty,
		Price:  price,
		TS:     s.now(),
	}

	fill, err := exec.Execute(ctx, &ord)
	if err != nil {
		ord.MarkRejected(err.Error())
		s.orders = append(s.orders, ord)
		delete(s.positions, symbol)
		s.failures = append(s.failures, ExecFailure{
			Symbol: symbol, Side: model.SideSell, TS: s.now(), Err: err.Error(), Reconciled: true,
		})
		log.Printf("[trading] RECONCILIATION: sell of %s failed (%v); position force-removed", symbol, err)
		return err
	}

	proceeds := fill.Price * float64(pos.Qty)
	pnl := (fill.Price - pos.EntryPrice) * float64(pos.Qty)

	ord.MarkFilled(fill.Price, fill.TS)
	s.orders = append(s.orders, ord)
	s.cash += proceeds
	s.realized += pnl
	s.trades = append(s.trades, model.Trade{
		Symbol: symbol, Side: model.SideSell, Qty: pos.Qty, Price: fill.Price,
		TS: fill.TS, PnL: pnl, Note: note,
	})
	delete(s.positions, symbol)
	s.observeValueLocked()
	return nil
}

// observeValueLocked refreshes peak value and max drawdown from the current
// total value. Peak is monotonically non-decreasing.
func (s *State) observeValueLocked() {
	total := s.totalValueLocked()
	if total > s.peak {
		s.peak = total
	}
	if s.peak > 0 {
		dd := (s.peak - total) / s.peak
		if dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}
}

func (s *State) totalValueLocked() float64 {
	total := s.cash
	for _, pos := range s.positions {
		total += pos.MarketValue()
	}
	return total
}

// CloseAll force-liquidates every open position at its last known price
// through the normal sell path, one symbol at a time. A failed liquidation
// is handled like any in-session sell failure: the position is force-removed.
func (s *State) CloseAll(ctx context.Context, exec execution.Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		pos := s.positions[sym]
		if err := s.sellLocked(ctx, sym, pos.CurrentPrice, "session end liquidation", exec); err != nil {
			log.Printf("[trading] liquidation of %s failed: %v", sym, err)
		}
	}
}

// Cash returns the current cash balance.
func (s *State) Cash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// TotalValue returns cash plus the market value of all open positions.
func (s *State) TotalValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalValueLocked()
}

// Positions returns a snapshot of all open positions.
func (s *State) Positions() []model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position for a symbol, if any.
func (s *State) Position(symbol string) (model.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// Orders returns a snapshot of the order history.
func (s *State) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]model.Order, len(s.orders))
	copy(cp, s.orders)
	return cp
}

// Summary returns the end-of-session view.
func (s *State) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := make([]model.Trade, len(s.trades))
	copy(trades, s.trades)
	failures := make([]ExecFailure, len(s.failures))
	copy(failures, s.failures)
	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}

	return Summary{
		StartingCash:  s.cfg.StartingCash,
		Cash:          s.cash,
		FinalValue:    s.totalValueLocked(),
		RealizedPnL:   s.realized,
		PeakValue:     s.peak,
		MaxDrawdown:   s.maxDrawdown,
		OpenPositions: len(s.positions),
		TradeCount:    len(s.trades),
		OrderCount:    len(s.orders),
		Trades:        trades,
		Failures:      failures,
		Positions:     positions,
	}
}
