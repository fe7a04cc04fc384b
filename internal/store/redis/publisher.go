// Package redis publishes pipeline output for external consumers: bar
// streams, latest-value keys, per-symbol quality and indicator snapshots,
// and the risk alert stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradesim/internal/indicator"
	"tradesim/internal/model"
)

const (
	// ~8h of minute bars per symbol stream, trimmed approximately.
	barStreamMaxLen = 500
	alertStreamMax  = 1000

	defaultLatestTTL  = 30 * time.Minute
	defaultQualityTTL = 10 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes pipeline output to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New connects and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Run consumes finalized bars and publishes each one. Blocks until ctx is
// cancelled or barCh is closed.
func (p *Publisher) Run(ctx context.Context, barCh <-chan model.MarketBar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			p.PublishBar(ctx, bar)
		}
	}
}

// PublishBar appends the bar to its symbol stream, refreshes the latest-bar
// key, and notifies pubsub subscribers. One pipelined roundtrip.
func (p *Publisher) PublishBar(ctx context.Context, bar model.MarketBar) {
	data := string(bar.JSON())
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "bars:" + bar.Symbol,
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, "bars:latest:"+bar.Symbol, data, defaultLatestTTL)
	pipe.Publish(ctx, "pub:bars:"+bar.Symbol, data)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] publish bar %s: %v", bar.Symbol, err)
	}
}

// PublishQuality refreshes the per-symbol quality key. Each write
// supersedes the previous snapshot.
func (p *Publisher) PublishQuality(ctx context.Context, q model.DataQuality) {
	key := "quality:" + q.Symbol
	if err := p.client.Set(ctx, key, string(q.JSON()), defaultQualityTTL).Err(); err != nil {
		log.Printf("[redis] publish quality %s: %v", q.Symbol, err)
	}
}

// PublishIndicators refreshes the per-symbol indicator snapshot key and
// notifies pubsub subscribers.
func (p *Publisher) PublishIndicators(ctx context.Context, snap indicator.Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[redis] marshal indicators %s: %v", snap.Symbol, err)
		return
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, "indicators:"+snap.Symbol, string(raw), defaultLatestTTL)
	pipe.Publish(ctx, "pub:indicators:"+snap.Symbol, string(raw))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] publish indicators %s: %v", snap.Symbol, err)
	}
}

// PublishAlert appends the alert to the shared alert stream and notifies
// pubsub subscribers.
func (p *Publisher) PublishAlert(ctx context.Context, alert model.RiskAlert) {
	data := string(alert.JSON())
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "alerts",
		MaxLen: alertStreamMax,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, "pub:alerts", data)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] publish alert: %v", err)
	}
}

// Close closes the client.
func (p *Publisher) Close() error { return p.client.Close() }
