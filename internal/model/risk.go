package model

import (
	"encoding/json"
	"time"
)

// AlertType classifies a risk alert.
type AlertType int

const (
	AlertDrawdown AlertType = iota
	AlertPositionSize
	AlertDailyLoss
	AlertVolatility
	AlertConcentration
	AlertStopLossTriggered
	AlertVaR
	AlertDataGap
)

func (t AlertType) String() string {
	switch t {
	case AlertDrawdown:
		return "DRAWDOWN"
	case AlertPositionSize:
		return "POSITION_SIZE"
	case AlertDailyLoss:
		return "DAILY_LOSS"
	case AlertVolatility:
		return "VOLATILITY"
	case AlertConcentration:
		return "CONCENTRATION"
	case AlertStopLossTriggered:
		return "STOP_LOSS_TRIGGERED"
	case AlertVaR:
		return "VALUE_AT_RISK"
	case AlertDataGap:
		return "DATA_GAP"
	}
	return "UNKNOWN"
}

// AlertSeverity grades a risk alert.
type AlertSeverity int

const (
	SeverityInfo AlertSeverity = iota
	SeverityWarning
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// RiskAlert is one entry in the append-only risk log; never mutated.
type RiskAlert struct {
	ID        string        `json:"id"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Symbol    string        `json:"symbol,omitempty"`
	Message   string        `json:"message"`
	TS        time.Time     `json:"ts"`
	Observed  float64       `json:"observed"`
	Threshold float64       `json:"threshold"`
}

// JSON returns the JSON-encoded alert.
func (a *RiskAlert) JSON() []byte {
	out, _ := json.Marshal(a)
	return out
}

// VolatilityMeasure holds the volatility view of one symbol at a sample point.
// Implied is zero when no options data is available.
type VolatilityMeasure struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	ATR        float64   `json:"atr"`
	Realized   float64   `json:"realized"` // annualized stddev of log returns
	Implied    float64   `json:"implied,omitempty"`
	Percentile float64   `json:"percentile"` // of realized vol within its window
}

// DataQuality is the monitoring snapshot for one symbol's live stream.
// Each recomputation supersedes the previous snapshot.
type DataQuality struct {
	Symbol      string        `json:"symbol"`
	LastUpdate  time.Time     `json:"last_update"`
	HasGap      bool          `json:"has_gap"`
	GapDuration time.Duration `json:"gap_duration"`
	TickCount   int           `json:"tick_count"`  // trailing window
	AvgLatency  time.Duration `json:"avg_latency"` // event time → arrival
	Score       float64       `json:"score"`       // integrity score in [0,1]
}

// JSON returns the JSON-encoded quality snapshot.
func (q *DataQuality) JSON() []byte {
	out, _ := json.Marshal(q)
	return out
}
