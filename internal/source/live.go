package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"tradesim/internal/model"
	"tradesim/internal/ringbuf"
)

// LiveConfig holds the live websocket feed settings.
type LiveConfig struct {
	URL        string // e.g. "ws://localhost:9001/ws"
	APIKey     string
	TOTPSecret string // when set, an auth frame is sent after connecting
	RingSize   int    // tick ring capacity, default 4096
}

// authFrame is the first message sent on an authenticated feed.
type authFrame struct {
	Action string `json:"action"`
	APIKey string `json:"api_key"`
	TOTP   string `json:"totp,omitempty"`
}

// subscribeFrame restricts the feed to a symbol list.
type subscribeFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Live reads JSON ticks from a websocket feed. The read loop pushes into a
// lock-free ring and a separate emit loop drains it onto the Ticks channel,
// so a slow consumer backs up the ring (and eventually drops ticks) instead
// of stalling the websocket read path.
//
// Live makes a single connection attempt per Connect/Run cycle. When the
// connection drops, Run returns the read error with State reporting
// StreamError; the pipeline above owns the reconnect policy.
type Live struct {
	mu     sync.Mutex
	status model.StreamStatus
	conn   *websocket.Conn

	cfg  LiveConfig
	ring *ringbuf.Ring

	ticks chan model.Tick
	bars  chan model.MarketBar
}

// NewLive creates a live source.
func NewLive(cfg LiveConfig) *Live {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 4096
	}
	return &Live{
		cfg:   cfg,
		ring:  ringbuf.New(cfg.RingSize),
		ticks: make(chan model.Tick, 256),
		bars:  make(chan model.MarketBar),
	}
}

// Connect dials the feed and authenticates when a TOTP secret is configured.
func (l *Live) Connect(ctx context.Context) error {
	l.setState(model.StreamConnecting, "")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		l.setState(model.StreamError, err.Error())
		return fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}

	if l.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(l.cfg.TOTPSecret, time.Now())
		if err != nil {
			conn.Close()
			l.setState(model.StreamError, err.Error())
			return fmt.Errorf("generate totp: %w", err)
		}
		frame := authFrame{Action: "auth", APIKey: l.cfg.APIKey, TOTP: code}
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			l.setState(model.StreamError, err.Error())
			return fmt.Errorf("send auth: %w", err)
		}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.setState(model.StreamConnected, "")
	log.Printf("[live] connected to %s", l.cfg.URL)
	return nil
}

// Subscribe sends the symbol filter over the open connection.
func (l *Live) Subscribe(symbols []string) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("live: Subscribe before Connect")
	}
	if len(symbols) == 0 {
		return nil
	}
	return conn.WriteJSON(subscribeFrame{Action: "subscribe", Symbols: symbols})
}

// Run reads the feed until the connection drops or the context is cancelled.
// It closes the Ticks and Bars channels when it returns.
func (l *Live) Run(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("live: Run before Connect")
	}

	readDone := make(chan error, 1)
	go l.readLoop(ctx, conn, readDone)

	// Close the connection when the context goes so the read unblocks.
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-watcherDone:
		}
	}()

	defer func() {
		close(watcherDone)
		close(l.ticks)
		close(l.bars)
	}()

	err := l.emitLoop(ctx, readDone)
	if err != nil && ctx.Err() == nil {
		l.setState(model.StreamError, err.Error())
		return err
	}
	l.setState(model.StreamDisconnected, "")
	return ctx.Err()
}

// readLoop pulls frames off the wire into the ring. It never blocks on the
// downstream consumer.
func (l *Live) readLoop(ctx context.Context, conn *websocket.Conn, done chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				done <- nil
				return
			}
			done <- err
			return
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[live] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if tick.Symbol == "" || !tick.Valid() {
			continue
		}
		if tick.Source == "" {
			tick.Source = "ws"
		}
		if !l.ring.Push(tick) {
			log.Printf("[live] ring full, tick dropped (total %d)", l.ring.Dropped())
		}
	}
}

// emitLoop drains the ring onto the Ticks channel until the read loop ends
// and the ring is empty.
func (l *Live) emitLoop(ctx context.Context, readDone <-chan error) error {
	var readErr error
	readClosed := false
	for {
		tick, ok := l.ring.Pop()
		if ok {
			select {
			case l.ticks <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if readClosed {
			return readErr
		}
		select {
		case readErr = <-readDone:
			readClosed = true
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Ticks delivers the live ticks.
func (l *Live) Ticks() <-chan model.Tick { return l.ticks }

// Bars is closed when Run returns; the live feed carries no finalized bars.
func (l *Live) Bars() <-chan model.MarketBar { return l.bars }

// State reports the current connection state.
func (l *Live) State() model.StreamStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Live) setState(state model.StreamState, reason string) {
	l.mu.Lock()
	l.status = model.StreamStatus{State: state, Reason: reason}
	l.mu.Unlock()
}

// Dropped returns how many ticks the ring rejected.
func (l *Live) Dropped() uint64 { return l.ring.Dropped() }

// Close tears down the connection.
func (l *Live) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ Source = (*Live)(nil)
var _ Source = (*Replay)(nil)
