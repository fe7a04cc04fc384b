package source

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"tradesim/internal/model"
)

// Replay plays a historical bar dataset back through the Source interface.
// Each bar is emitted on Bars together with a synthetic tick at the bar's
// close (size = volume) on Ticks, so downstream consumers see the same
// shape of traffic a live feed produces. Run returns once the dataset is
// exhausted and closes both channels.
type Replay struct {
	mu     sync.Mutex
	status model.StreamStatus

	path  string
	speed float64 // 1 = real-time gaps, 0 = as fast as possible

	data    map[string][]model.MarketBar
	symbols map[string]bool // nil after Subscribe(nil): deliver everything

	ticks chan model.Tick
	bars  chan model.MarketBar

	sleep func(ctx context.Context, d time.Duration) error
}

// NewReplay creates a replay source over a CSV bar file.
func NewReplay(path string, speed float64) *Replay {
	return &Replay{
		path:  path,
		speed: speed,
		ticks: make(chan model.Tick, 256),
		bars:  make(chan model.MarketBar, 256),
		sleep: sleepCtx,
	}
}

// Connect loads the dataset.
func (r *Replay) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.setState(model.StreamConnecting, "")
	data, err := LoadCSV(r.path)
	if err != nil {
		r.setState(model.StreamError, err.Error())
		return err
	}
	r.mu.Lock()
	r.data = data
	r.mu.Unlock()
	r.setState(model.StreamConnected, "")
	return nil
}

// Subscribe limits delivery to the given symbols.
func (r *Replay) Subscribe(symbols []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(symbols) == 0 {
		r.symbols = nil
		return nil
	}
	r.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		r.symbols[s] = true
	}
	return nil
}

// Run replays the dataset in timestamp order, scaling inter-bar gaps by the
// speed multiplier with a 5s ceiling per gap. It closes the channels and
// reports Disconnected when the dataset ends.
func (r *Replay) Run(ctx context.Context) error {
	r.mu.Lock()
	data := r.data
	subscribed := r.symbols
	r.mu.Unlock()
	if data == nil {
		return errors.New("replay: Run before Connect")
	}

	var all []model.MarketBar
	for sym, bars := range data {
		if subscribed != nil && !subscribed[sym] {
			continue
		}
		all = append(all, bars...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	defer func() {
		close(r.bars)
		close(r.ticks)
		r.setState(model.StreamDisconnected, "")
	}()

	var prev time.Time
	emitted := 0
	for _, bar := range all {
		if err := ctx.Err(); err != nil {
			log.Printf("[replay] cancelled after %d bars", emitted)
			return err
		}

		if r.speed > 0 && !prev.IsZero() {
			if gap := bar.TS.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / r.speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return err
				}
			}
		}
		prev = bar.TS

		tick := model.Tick{
			Symbol: bar.Symbol,
			Price:  bar.Close,
			Size:   bar.Volume,
			TS:     bar.TS,
			Source: "replay",
		}

		select {
		case r.bars <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case r.ticks <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return nil
}

// Ticks delivers one synthetic tick per bar.
func (r *Replay) Ticks() <-chan model.Tick { return r.ticks }

// Bars delivers the replayed bars.
func (r *Replay) Bars() <-chan model.MarketBar { return r.bars }

// State reports the current replay state.
func (r *Replay) State() model.StreamStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Close is a no-op for replay; Run owns the channel lifecycle.
func (r *Replay) Close() error { return nil }

func (r *Replay) setState(state model.StreamState, reason string) {
	r.mu.Lock()
	r.status = model.StreamStatus{State: state, Reason: reason}
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
