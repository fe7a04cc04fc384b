package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != "replay" {
		t.Errorf("default source: got %q", cfg.Source)
	}
	if cfg.StartingCash != 100000 {
		t.Errorf("default starting cash: got %v", cfg.StartingCash)
	}
	if cfg.BarWindow != time.Minute {
		t.Errorf("default bar window: got %v", cfg.BarWindow)
	}
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	doc := `
symbols: [AAPL, MSFT]
bar_window: 5m
starting_cash: 50000
source: live
feed_url: wss://feed.example.com/v1
stop_loss_pct: 0.03
`
	path := filepath.Join(t.TempDir(), "tradesim.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[1] != "MSFT" {
		t.Errorf("symbols: got %v", cfg.Symbols)
	}
	if cfg.BarWindow != 5*time.Minute {
		t.Errorf("bar window: got %v", cfg.BarWindow)
	}
	if cfg.StartingCash != 50000 {
		t.Errorf("starting cash: got %v", cfg.StartingCash)
	}
	if cfg.Source != "live" || cfg.FeedURL != "wss://feed.example.com/v1" {
		t.Errorf("source: got %q %q", cfg.Source, cfg.FeedURL)
	}
	if cfg.StopLossPct != 0.03 {
		t.Errorf("stop loss: got %v", cfg.StopLossPct)
	}
	// Untouched keys keep their defaults.
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("redis addr: got %q", cfg.RedisAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	doc := "starting_cash: 50000\nredis_addr: filehost:6379\n"
	path := filepath.Join(t.TempDir(), "tradesim.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("TRADESIM_STARTING_CASH", "75000")
	t.Setenv("TRADESIM_SYMBOLS", "TSLA, NVDA,")
	t.Setenv("TRADESIM_MAX_DURATION", "2h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StartingCash != 75000 {
		t.Errorf("starting cash: got %v, want env override 75000", cfg.StartingCash)
	}
	if cfg.RedisAddr != "filehost:6379" {
		t.Errorf("redis addr: got %q, want file value", cfg.RedisAddr)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "TSLA" || cfg.Symbols[1] != "NVDA" {
		t.Errorf("symbols: got %v", cfg.Symbols)
	}
	if cfg.MaxDuration != 2*time.Hour {
		t.Errorf("max duration: got %v", cfg.MaxDuration)
	}
}

func TestInvalidEnvValueIgnored(t *testing.T) {
	t.Setenv("TRADESIM_STARTING_CASH", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StartingCash != 100000 {
		t.Errorf("starting cash: got %v, want default kept", cfg.StartingCash)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"unknown source", "source: carrier-pigeon\n"},
		{"live without url", "source: live\n"},
		{"replay without path", "source: replay\nreplay_path: \"\"\n"},
		{"non-positive cash", "starting_cash: 0\n"},
		{"broker without key", "broker_url: https://broker.example.com\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tc.doc), 0o644); err != nil {
				t.Fatalf("write yaml: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}

func TestMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load accepted a missing explicit config file")
	}
}
