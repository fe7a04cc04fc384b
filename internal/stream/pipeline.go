// Package stream wires a data source into the live trading pipeline:
// ticks flow through the bounded buffer, roll into aggregated bars, feed
// the streaming indicator engine, and drive the trading state machine.
// A monitor loop recomputes per-symbol data quality on a fixed interval.
//
// Tick processing is a single loop, so per-symbol decisions are naturally
// sequential and the trading state sees one mutation at a time.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/buffer"
	"tradesim/internal/execution"
	"tradesim/internal/indicator"
	"tradesim/internal/model"
	"tradesim/internal/notify"
	"tradesim/internal/source"
	"tradesim/internal/trading"
)

// Config holds the session parameters.
type Config struct {
	Symbols          []string
	BarWindow        time.Duration // tick aggregation window
	MonitorInterval  time.Duration // quality recomputation cadence
	ExpectedInterval time.Duration // bar cadence the quality check assumes

	// Session limits. Zero means unlimited. Hitting either limit ends the
	// session and triggers forced liquidation.
	MaxDuration time.Duration
	MaxTicks    int

	// LiquidationTimeout bounds the end-of-session sell pass.
	LiquidationTimeout time.Duration
}

func (c *Config) normalize() {
	if c.BarWindow <= 0 {
		c.BarWindow = time.Minute
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.ExpectedInterval <= 0 {
		c.ExpectedInterval = c.BarWindow
	}
	if c.LiquidationTimeout <= 0 {
		c.LiquidationTimeout = 30 * time.Second
	}
}

// Hooks are optional integration points; nil hooks are skipped. They run
// on the pipeline goroutines and must not block.
type Hooks struct {
	OnTick     func(model.Tick)
	OnInvalid  func(model.Tick)
	OnBar      func(model.MarketBar)
	OnDecision func(trading.Decision, time.Duration)
	OnQuality  func(model.DataQuality)
}

// Pipeline is one live trading session.
type Pipeline struct {
	cfg   Config
	src   source.Source
	buf   *buffer.Buffer
	ind   *indicator.StreamEngine
	state *trading.State
	exec  execution.Executor

	notifier notify.Notifier
	hooks    Hooks
	logger   *slog.Logger

	// Per-symbol tick accumulation for the current aggregation window.
	pending     map[string][]model.Tick
	windowStart map[string]time.Time

	// Latest source-delivered bar per symbol. Aggregation skips windows the
	// source already covered so replay bars are not double-counted.
	srcBars map[string]time.Time

	ticksSeen int
}

// New assembles a pipeline. notifier may be nil; hooks fields may be nil.
func New(cfg Config, src source.Source, buf *buffer.Buffer, ind *indicator.StreamEngine,
	state *trading.State, exec execution.Executor, notifier notify.Notifier, hooks Hooks) *Pipeline {
	cfg.normalize()
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Pipeline{
		cfg:         cfg,
		src:         src,
		buf:         buf,
		ind:         ind,
		state:       state,
		exec:        exec,
		notifier:    notifier,
		hooks:       hooks,
		logger:      slog.Default().With(slog.String("component", "pipeline")),
		pending:     make(map[string][]model.Tick),
		windowStart: make(map[string]time.Time),
		srcBars:     make(map[string]time.Time),
	}
}

// Run connects, subscribes, and processes events until the source ends, a
// session limit is reached, or the context is cancelled. Open positions are
// force-liquidated synchronously before Run returns. The returned error is
// the source's failure, if any; a normal end of data returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	var sessionCtx context.Context
	var cancel context.CancelFunc
	if p.cfg.MaxDuration > 0 {
		sessionCtx, cancel = context.WithTimeout(ctx, p.cfg.MaxDuration)
	} else {
		sessionCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := p.src.Connect(sessionCtx); err != nil {
		return err
	}
	if err := p.src.Subscribe(p.cfg.Symbols); err != nil {
		return err
	}

	srcErr := make(chan error, 1)
	go func() { srcErr <- p.src.Run(sessionCtx) }()

	monitorDone := make(chan struct{})
	go p.monitor(sessionCtx, monitorDone)

	err := p.consume(sessionCtx)

	// Consumption ended (limit, closed channels, or cancellation); stop the
	// source and the monitor, then collect the source's outcome.
	cancel()
	var runErr error
	select {
	case runErr = <-srcErr:
	case <-time.After(5 * time.Second):
		p.logger.Warn("source did not stop in time")
	}
	<-monitorDone

	p.liquidate()

	if err != nil {
		return err
	}
	// Cancellation errors only echo the session teardown; a real source
	// failure (feed loss, protocol error) propagates to the caller.
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	return nil
}

// consume is the tick/bar event loop. Returns nil when the source channels
// close or a session limit is reached.
func (p *Pipeline) consume(ctx context.Context) error {
	ticks := p.src.Ticks()
	bars := p.src.Bars()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if ticks == nil && bars == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil

		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			p.onTick(ctx, tick)
			p.ticksSeen++
			if p.cfg.MaxTicks > 0 && p.ticksSeen >= p.cfg.MaxTicks {
				p.logger.Info("tick limit reached", slog.Int("ticks", p.ticksSeen))
				return nil
			}

		case bar, ok := <-bars:
			if !ok {
				bars = nil
				continue
			}
			if last, ok := p.srcBars[bar.Symbol]; !ok || bar.TS.After(last) {
				p.srcBars[bar.Symbol] = bar.TS
			}
			p.onBar(bar)
		}
	}
}

// onTick runs the per-tick sequence: buffer insert, window roll, decision.
func (p *Pipeline) onTick(ctx context.Context, tick model.Tick) {
	if !tick.Valid() {
		if p.hooks.OnInvalid != nil {
			p.hooks.OnInvalid(tick)
		}
		return
	}

	p.buf.AddTick(tick)
	if p.hooks.OnTick != nil {
		p.hooks.OnTick(tick)
	}

	p.roll(tick)

	start := time.Now()
	decision := p.state.OnTick(ctx, tick, p.exec)
	if p.hooks.OnDecision != nil {
		p.hooks.OnDecision(decision, time.Since(start))
	}
	switch decision.Action {
	case trading.ActionBought, trading.ActionSold:
		p.logger.Info("order filled",
			slog.String("action", decision.Action.String()),
			slog.String("symbol", decision.Symbol),
			slog.Int64("qty", decision.Qty),
			slog.String("reason", decision.Reason))
	case trading.ActionFailed:
		p.logger.Error("execution failed",
			slog.String("symbol", decision.Symbol),
			slog.Any("error", decision.Err))
	}
}

// roll accumulates the tick into its aggregation window and emits the
// previous window's bar when the window advances.
func (p *Pipeline) roll(tick model.Tick) {
	sym := tick.Symbol
	start := tick.TS.Truncate(p.cfg.BarWindow)

	cur, open := p.windowStart[sym]
	if open && start.After(cur) {
		if bar, ok := buffer.AggregateTicks(p.pending[sym], p.cfg.BarWindow); ok {
			if bar.TS.After(p.srcBars[sym]) {
				p.onBar(bar)
			}
		}
		p.pending[sym] = p.pending[sym][:0]
	}
	p.windowStart[sym] = start
	p.pending[sym] = append(p.pending[sym], tick)
}

// onBar records a finalized bar and refreshes the symbol's indicators.
func (p *Pipeline) onBar(bar model.MarketBar) {
	p.buf.AddBar(bar)
	p.ind.Update(bar)
	if p.hooks.OnBar != nil {
		p.hooks.OnBar(bar)
	}
}

// monitor recomputes per-symbol quality on the configured interval. A gap
// (score 0.7) is surfaced through the notifier once per transition into
// the degraded state.
func (p *Pipeline) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	degraded := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, sym := range p.buf.Symbols() {
			q := p.buf.Quality(sym, p.cfg.ExpectedInterval)
			if p.hooks.OnQuality != nil {
				p.hooks.OnQuality(q)
			}

			bad := q.HasGap
			if bad && !degraded[sym] {
				p.logger.Warn("data gap detected",
					slog.String("symbol", sym),
					slog.Duration("gap", q.GapDuration),
					slog.Float64("score", q.Score))
				alert := model.RiskAlert{
					ID:       uuid.NewString(),
					Type:     model.AlertDataGap,
					Severity: model.SeverityWarning,
					Symbol:   sym,
					Message:  fmt.Sprintf("%s feed gap of %s, quality %.2f", sym, q.GapDuration, q.Score),
					TS:       q.LastUpdate,
					Observed: q.Score,
				}
				if err := p.notifier.Send(ctx, alert); err != nil {
					p.logger.Error("gap alert delivery failed", slog.Any("error", err))
				}
			}
			degraded[sym] = bad
		}
	}
}

// liquidate closes every open position at its last known price. It runs on
// its own bounded context so shutdown cannot strand a position.
func (p *Pipeline) liquidate() {
	if len(p.state.Positions()) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LiquidationTimeout)
	defer cancel()

	p.logger.Info("liquidating open positions", slog.Int("count", len(p.state.Positions())))
	p.state.CloseAll(ctx, p.exec)
}

// TicksSeen reports how many valid ticks the session processed.
func (p *Pipeline) TicksSeen() int { return p.ticksSeen }
