// cmd/livesim runs the real-time simulated trading session: a tick source
// (CSV replay or websocket feed) drives the aggregation pipeline and the
// trading state machine, with SQLite/Redis persistence, Prometheus metrics,
// and alert delivery.
//
// Usage:
//
//	go run ./cmd/livesim --config=tradesim.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tradesim/config"
	"tradesim/internal/buffer"
	"tradesim/internal/execution"
	"tradesim/internal/indicator"
	"tradesim/internal/logger"
	"tradesim/internal/metrics"
	"tradesim/internal/model"
	"tradesim/internal/notify"
	"tradesim/internal/source"
	redisstore "tradesim/internal/store/redis"
	sqlitestore "tradesim/internal/store/sqlite"
	"tradesim/internal/stream"
	"tradesim/internal/trading"
	"tradesim/pkg/broker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Init("livesim", slog.LevelInfo)

	cfgPath := flag.String("config", "", "Path to YAML config file (optional, env overrides apply)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[livesim] config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- SQLite writer (off hot path) ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[livesim] sqlite init: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) { prom.SQLiteCommit.Observe(d.Seconds()) }
	health.SetSQLiteOK(true)
	sqliteBarCh := make(chan model.MarketBar, 5000)
	go sqlWriter.Run(ctx, sqliteBarCh)
	log.Println("[livesim] sqlite writer ready")

	// ---- Redis publisher ----
	var publisher *redisstore.Publisher
	publisher, err = redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	redisBarCh := make(chan model.MarketBar, 5000)
	if err != nil {
		log.Printf("[livesim] WARNING: redis init failed: %v (continuing without redis)", err)
		publisher = nil
	} else {
		go publisher.Run(ctx, redisBarCh)
		log.Println("[livesim] redis publisher ready")
	}

	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Notifier ----
	targets := []notify.Notifier{notify.NewLogNotifier(), &alertSink{prom: prom, pub: publisher}}
	if cfg.WebhookURL != "" {
		targets = append(targets, notify.NewWebhookNotifier(cfg.WebhookURL))
	}
	notifier := notify.NewMulti(targets...)

	// ---- Executor ----
	exec, err := buildExecutor(ctx, cfg)
	if err != nil {
		log.Fatalf("[livesim] executor: %v", err)
	}

	// ---- Trading state ----
	state, err := trading.NewState(trading.Config{
		StartingCash:     cfg.StartingCash,
		BuyTriggerPct:    cfg.BuyTriggerPct,
		StopLossPct:      cfg.StopLossPct,
		TakeProfitPct:    cfg.TakeProfitPct,
		MaxPositionQty:   cfg.MaxPositionQty,
		MaxPositionValue: cfg.MaxPositionValue,
	})
	if err != nil {
		log.Fatalf("[livesim] trading state: %v", err)
	}

	buf := buffer.New(buffer.Config{})
	buf.OnEvict = func() { prom.BufferEvicted.Inc() }
	ind := indicator.NewStreamEngine(indicator.DefaultConfig(), 0)

	hooks := stream.Hooks{
		OnTick: func(t model.Tick) {
			prom.TicksTotal.Inc()
			prom.TickLatency.Observe(time.Since(t.TS).Seconds())
			health.SetLastTickTime(t.TS)
		},
		OnInvalid: func(model.Tick) { prom.InvalidTicks.Inc() },
		OnBar: func(b model.MarketBar) {
			prom.BarsTotal.Inc()
			select {
			case sqliteBarCh <- b:
			default:
			}
			if publisher != nil {
				select {
				case redisBarCh <- b:
				default:
				}
				if snap, ok := ind.Latest(b.Symbol); ok {
					publisher.PublishIndicators(ctx, snap)
				}
			}
		},
		OnDecision: func(d trading.Decision, dur time.Duration) {
			prom.DecisionsTotal.WithLabelValues(d.Action.String()).Inc()
			prom.DecisionDur.Observe(dur.Seconds())
			switch d.Action {
			case trading.ActionBought, trading.ActionSold:
				prom.FillsTotal.Inc()
			case trading.ActionFailed:
				prom.ExecFailures.Inc()
			}
			prom.Equity.Set(state.TotalValue())
		},
		OnQuality: func(q model.DataQuality) {
			prom.QualityScore.WithLabelValues(q.Symbol).Set(q.Score)
			if publisher != nil {
				publisher.PublishQuality(ctx, q)
			}
		},
	}

	pipeCfg := stream.Config{
		Symbols:     cfg.Symbols,
		BarWindow:   cfg.BarWindow,
		MaxDuration: cfg.MaxDuration,
		MaxTicks:    cfg.MaxTicks,
	}

	// The feed reconnect loop owns source lifetime. Each pass builds a fresh
	// source and pipeline over the shared trading state; a session that ends
	// on feed loss liquidates, so a restart always begins flat.
	backoff := 2 * time.Second
	const maxBackoff = 30 * time.Second
	for {
		src := buildSource(cfg)
		health.SetFeedConnected(true)
		p := stream.New(pipeCfg, src, buf, ind, state, exec, notifier, hooks)
		runErr := p.Run(ctx)
		health.SetFeedConnected(false)
		if live, ok := src.(*source.Live); ok {
			// Each pass owns a fresh source, so this is the session's count.
			prom.RingDropped.Add(float64(live.Dropped()))
		}

		if ctx.Err() != nil || cfg.Source == "replay" || runErr == nil {
			if runErr != nil && ctx.Err() == nil {
				log.Printf("[livesim] session ended: %v", runErr)
			}
			break
		}
		log.Printf("[livesim] feed lost (%v), reconnecting in %v", runErr, backoff)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if ctx.Err() != nil {
			break
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	// ---- Shutdown ----
	summary := state.Summary()
	prom.MaxDrawdown.Set(summary.MaxDrawdown)
	printSummary(summary)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	if publisher != nil {
		publisher.Close()
	}
	log.Println("[livesim] shutdown complete.")
}

// alertSink counts delivered alerts and mirrors them onto the Redis alert
// stream alongside the configured channels.
type alertSink struct {
	prom *metrics.Metrics
	pub  *redisstore.Publisher
}

func (s *alertSink) Send(ctx context.Context, alert model.RiskAlert) error {
	s.prom.AlertsTotal.WithLabelValues(alert.Type.String()).Inc()
	if s.pub != nil {
		s.pub.PublishAlert(ctx, alert)
	}
	return nil
}

func buildSource(cfg *config.Config) source.Source {
	if cfg.Source == "live" {
		return source.NewLive(source.LiveConfig{
			URL:        cfg.FeedURL,
			APIKey:     cfg.FeedAPIKey,
			TOTPSecret: cfg.TOTPSecret,
		})
	}
	return source.NewReplay(cfg.ReplayPath, cfg.ReplaySpeed)
}

func buildExecutor(ctx context.Context, cfg *config.Config) (execution.Executor, error) {
	if cfg.BrokerURL == "" {
		return execution.NewSimulatedExecutor(0.001, 0), nil
	}
	client, err := broker.New(broker.Config{
		BaseURL:    cfg.BrokerURL,
		APIKey:     cfg.BrokerAPIKey,
		ClientID:   cfg.BrokerClientID,
		Password:   cfg.BrokerPassword,
		TOTPSecret: cfg.TOTPSecret,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	client.SessionExpiryHook = func() {
		log.Println("[livesim] broker session expired, re-authenticating")
		if err := client.Login(context.Background()); err != nil {
			log.Printf("[livesim] re-login failed: %v", err)
		}
	}
	return execution.NewBrokeredExecutor(client, 0, 0), nil
}

func printSummary(s trading.Summary) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          SESSION COMPLETE                ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Starting cash:     %-20.2f ║\n", s.StartingCash)
	fmt.Printf("║  Final value:       %-20.2f ║\n", s.FinalValue)
	fmt.Printf("║  Realized PnL:      %-20.2f ║\n", s.RealizedPnL)
	fmt.Printf("║  Max drawdown:      %-19.2f%% ║\n", s.MaxDrawdown*100)
	fmt.Printf("║  Trades:            %-20d ║\n", s.TradeCount)
	fmt.Printf("║  Orders:            %-20d ║\n", s.OrderCount)
	fmt.Printf("║  Exec failures:     %-20d ║\n", len(s.Failures))
	fmt.Println("╚══════════════════════════════════════════╝")

	if len(s.Failures) > 0 {
		raw, _ := json.Marshal(s.Failures)
		log.Printf("[livesim] execution failures: %s", raw)
	}
}
