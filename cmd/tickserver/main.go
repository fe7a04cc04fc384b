// cmd/tickserver — demo websocket tick server. Broadcasts random-walk tick
// data so livesim can run in live mode without a real feed.
//
// Tick JSON matches model.Tick:
//
//	{"symbol":"AAPL","price":185.42,"size":10,"ts":"...","bid":185.41,"ask":185.43}
//
// Clients may send auth and subscribe frames; auth is accepted unchecked and
// a subscribe frame narrows the broadcast to the named symbols.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  — listen address (default ":9001")
//	TICK_SYMBOLS      — comma-separated SYMBOL:PRICE pairs (default "AAPL:185,MSFT:420")
//	TICK_INTERVAL_MS  — broadcast interval milliseconds (default "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradesim/internal/model"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

// client is one connected consumer with its symbol filter.
type client struct {
	ch      chan []byte
	mu      sync.Mutex
	symbols map[string]struct{} // nil = all symbols
}

func (c *client) wants(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbols == nil {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

func (c *client) setSymbols(symbols []string) {
	filter := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		filter[s] = struct{}{}
	}
	c.mu.Lock()
	c.symbols = filter
	c.mu.Unlock()
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{ch: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.ch <- msg:
		default: // slow client, drop tick
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// controlFrame covers both auth and subscribe messages from clients.
type controlFrame struct {
	Action  string   `json:"action"`
	APIKey  string   `json:"api_key,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: handles auth/subscribe control frames.
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame controlFrame
				if err := json.Unmarshal(raw, &frame); err != nil {
					continue
				}
				switch frame.Action {
				case "auth":
					log.Printf("[tickserver] auth from %s (key %q accepted)", r.RemoteAddr, frame.APIKey)
				case "subscribe":
					c.setSymbols(frame.Symbols)
					log.Printf("[tickserver] %s subscribed to %v", r.RemoteAddr, frame.Symbols)
				}
			}
		}()

		// Write pump: sends tick JSON to this client.
		for msg := range c.ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walkPrice applies a tiny random walk (±0.1%) per tick with a floor.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(instruments[i].Price)
			price := instruments[i].Price
			spread := price * 0.0002
			tick := model.Tick{
				Symbol: instruments[i].Symbol,
				Price:  price,
				Size:   float64(rand.Intn(100) + 1),
				TS:     time.Now().UTC(),
				Bid:    price - spread,
				Ask:    price + spread,
			}
			b, err := json.Marshal(tick)
			if err != nil {
				continue
			}
			h.broadcast(tick.Symbol, b)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	symbolsEnv := envOrDefault("TICK_SYMBOLS", "AAPL:185,MSFT:420")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_SYMBOLS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		symbol := strings.TrimSpace(seg[0])
		price := 100.0
		if len(seg) == 2 {
			if p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64); err == nil && p > 0 {
				price = p
			} else {
				log.Printf("[tickserver] invalid price in spec %q, using %.2f", part, price)
			}
		}
		result = append(result, instrument{Symbol: symbol, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
