// Package config loads application configuration from an optional YAML file
// with environment variable overrides. Environment always wins so deployments
// can patch a single value without editing the file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Session
	Symbols     []string      `yaml:"symbols"`
	BarWindow   time.Duration `yaml:"bar_window"`
	MaxDuration time.Duration `yaml:"max_duration"`
	MaxTicks    int           `yaml:"max_ticks"`

	// Trading
	StartingCash     float64 `yaml:"starting_cash"`
	BuyTriggerPct    float64 `yaml:"buy_trigger_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	MaxPositionQty   int64   `yaml:"max_position_qty"`
	MaxPositionValue float64 `yaml:"max_position_value"`

	// Risk limits (percent, 0 disables)
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	DrawdownLimitPct  float64 `yaml:"drawdown_limit_pct"`
	ConcentrationPct  float64 `yaml:"concentration_pct"`
	VaRLimitPct       float64 `yaml:"var_limit_pct"`

	// Source: "replay" or "live"
	Source      string  `yaml:"source"`
	ReplayPath  string  `yaml:"replay_path"`
	ReplaySpeed float64 `yaml:"replay_speed"`
	FeedURL     string  `yaml:"feed_url"`
	FeedAPIKey  string  `yaml:"feed_api_key"`
	TOTPSecret  string  `yaml:"totp_secret"`

	// Broker: empty BrokerURL selects the simulated executor
	BrokerURL      string `yaml:"broker_url"`
	BrokerAPIKey   string `yaml:"broker_api_key"`
	BrokerClientID string `yaml:"broker_client_id"`
	BrokerPassword string `yaml:"broker_password"`

	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`
	MetricsAddr   string `yaml:"metrics_addr"`
	WebhookURL    string `yaml:"webhook_url"`
}

// Defaults returns the configuration used when neither the file nor the
// environment says otherwise.
func Defaults() *Config {
	return &Config{
		Symbols:          []string{"AAPL"},
		BarWindow:        time.Minute,
		StartingCash:     100000,
		BuyTriggerPct:    0.005,
		StopLossPct:      0.02,
		TakeProfitPct:    0.04,
		MaxPositionQty:   100,
		MaxPositionValue: 25000,

		DailyLossLimitPct: 3,
		DrawdownLimitPct:  10,
		ConcentrationPct:  40,
		VaRLimitPct:       5,

		Source:      "replay",
		ReplayPath:  "data/bars.csv",
		ReplaySpeed: 0,

		RedisAddr:   "localhost:6379",
		SQLitePath:  "data/bars.db",
		MetricsAddr: ":9090",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty the file must exist), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TRADESIM_SYMBOLS"); v != "" {
		c.Symbols = splitSymbols(v)
	}
	envDuration("TRADESIM_BAR_WINDOW", &c.BarWindow)
	envDuration("TRADESIM_MAX_DURATION", &c.MaxDuration)
	envInt("TRADESIM_MAX_TICKS", &c.MaxTicks)

	envFloat("TRADESIM_STARTING_CASH", &c.StartingCash)
	envFloat("TRADESIM_BUY_TRIGGER_PCT", &c.BuyTriggerPct)
	envFloat("TRADESIM_STOP_LOSS_PCT", &c.StopLossPct)
	envFloat("TRADESIM_TAKE_PROFIT_PCT", &c.TakeProfitPct)
	envInt64("TRADESIM_MAX_POSITION_QTY", &c.MaxPositionQty)
	envFloat("TRADESIM_MAX_POSITION_VALUE", &c.MaxPositionValue)

	envFloat("TRADESIM_DAILY_LOSS_LIMIT_PCT", &c.DailyLossLimitPct)
	envFloat("TRADESIM_DRAWDOWN_LIMIT_PCT", &c.DrawdownLimitPct)
	envFloat("TRADESIM_CONCENTRATION_PCT", &c.ConcentrationPct)
	envFloat("TRADESIM_VAR_LIMIT_PCT", &c.VaRLimitPct)

	envString("TRADESIM_SOURCE", &c.Source)
	envString("TRADESIM_REPLAY_PATH", &c.ReplayPath)
	envFloat("TRADESIM_REPLAY_SPEED", &c.ReplaySpeed)
	envString("TRADESIM_FEED_URL", &c.FeedURL)
	envString("TRADESIM_FEED_API_KEY", &c.FeedAPIKey)
	envString("TRADESIM_TOTP_SECRET", &c.TOTPSecret)

	envString("TRADESIM_BROKER_URL", &c.BrokerURL)
	envString("TRADESIM_BROKER_API_KEY", &c.BrokerAPIKey)
	envString("TRADESIM_BROKER_CLIENT_ID", &c.BrokerClientID)
	envString("TRADESIM_BROKER_PASSWORD", &c.BrokerPassword)

	envString("TRADESIM_REDIS_ADDR", &c.RedisAddr)
	envString("TRADESIM_REDIS_PASSWORD", &c.RedisPassword)
	envInt("TRADESIM_REDIS_DB", &c.RedisDB)
	envString("TRADESIM_SQLITE_PATH", &c.SQLitePath)
	envString("TRADESIM_METRICS_ADDR", &c.MetricsAddr)
	envString("TRADESIM_WEBHOOK_URL", &c.WebhookURL)
}

func (c *Config) validate() error {
	switch c.Source {
	case "replay":
		if c.ReplayPath == "" {
			return fmt.Errorf("source replay requires replay_path")
		}
	case "live":
		if c.FeedURL == "" {
			return fmt.Errorf("source live requires feed_url")
		}
	default:
		return fmt.Errorf("unknown source %q (want replay or live)", c.Source)
	}
	if c.StartingCash <= 0 {
		return fmt.Errorf("starting_cash must be positive, got %v", c.StartingCash)
	}
	if c.BrokerURL != "" && c.BrokerAPIKey == "" {
		return fmt.Errorf("broker_url set without broker_api_key")
	}
	return nil
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q: %v", key, v, err)
		return
	}
	*dst = f
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func envInt64(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q: %v", key, v, err)
		return
	}
	*dst = d
}
