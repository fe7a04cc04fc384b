// Package metrics exposes Prometheus metrics and a health endpoint for the
// live simulation pipeline.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading pipeline.
type Metrics struct {
	TicksTotal    prometheus.Counter
	InvalidTicks  prometheus.Counter
	BarsTotal     prometheus.Counter
	BufferEvicted prometheus.Counter
	RingDropped   prometheus.Counter

	DecisionsTotal *prometheus.CounterVec // labels: action
	FillsTotal     prometheus.Counter
	ExecFailures   prometheus.Counter

	QualityScore *prometheus.GaugeVec   // labels: symbol
	AlertsTotal  *prometheus.CounterVec // labels: type

	Equity      prometheus.Gauge
	MaxDrawdown prometheus.Gauge

	TickLatency  prometheus.Histogram // event time to processing time
	DecisionDur  prometheus.Histogram
	SQLiteCommit prometheus.Histogram
}

// NewMetrics registers and returns all pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_ticks_total",
			Help: "Total ticks received from the data source",
		}),
		InvalidTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_invalid_ticks_total",
			Help: "Ticks rejected by validation",
		}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_bars_total",
			Help: "Total bars aggregated or received",
		}),
		BufferEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_buffer_evictions_total",
			Help: "Entries evicted from the bounded tick/bar buffers",
		}),
		RingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_ring_dropped_total",
			Help: "Ticks dropped by the ingest ring buffer",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_decisions_total",
			Help: "Trading decisions by action",
		}, []string{"action"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_fills_total",
			Help: "Orders filled",
		}),
		ExecFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesim_exec_failures_total",
			Help: "Order executions that failed",
		}),
		QualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradesim_quality_score",
			Help: "Per-symbol data quality score in [0,1]",
		}, []string{"symbol"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_alerts_total",
			Help: "Risk alerts by type",
		}, []string{"type"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_equity",
			Help: "Current total portfolio value",
		}),
		MaxDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradesim_max_drawdown",
			Help: "Maximum drawdown of the session as a fraction",
		}),
		TickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradesim_tick_latency_seconds",
			Help:    "Latency from tick event time to processing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		DecisionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradesim_decision_duration_seconds",
			Help:    "Time spent in the per-tick decision step",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		SQLiteCommit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradesim_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.InvalidTicks,
		m.BarsTotal,
		m.BufferEvicted,
		m.RingDropped,
		m.DecisionsTotal,
		m.FillsTotal,
		m.ExecFailures,
		m.QualityScore,
		m.AlertsTotal,
		m.Equity,
		m.MaxDrawdown,
		m.TickLatency,
		m.DecisionDur,
		m.SQLiteCommit,
	)
	return m
}

// HealthStatus is the mutable view served at /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastTickTime   time.Time
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the configured dependencies on an interval.
// Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.FeedConnected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	body := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] serving on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
