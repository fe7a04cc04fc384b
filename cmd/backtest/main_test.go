package main

import (
	"testing"

	"tradesim/config"
	"tradesim/internal/risk"
)

func TestRiskLimitsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.DailyLossLimitPct = 2.5
	cfg.DrawdownLimitPct = 8
	cfg.ConcentrationPct = 35
	cfg.VaRLimitPct = 4

	got := riskLimits(cfg)
	want := risk.Limits{
		MaxDailyLossPct:     2.5,
		MaxDrawdownPct:      8,
		MaxConcentrationPct: 35,
		VaRLimitPct:         4,
	}
	if got != want {
		t.Errorf("riskLimits = %+v, want %+v", got, want)
	}
}

func TestParseStopMode(t *testing.T) {
	cases := []struct {
		in   string
		want risk.StopMode
		ok   bool
	}{
		{"fixed", risk.StopFixed, true},
		{"Trailing", risk.StopTrailing, true},
		{" atr ", risk.StopATR, true},
		{"hard", 0, false},
	}
	for _, tc := range cases {
		got, err := parseStopMode(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("parseStopMode(%q) err = %v", tc.in, err)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("parseStopMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
