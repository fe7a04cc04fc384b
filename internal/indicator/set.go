package indicator

import (
	"math"
	"time"

	"tradesim/internal/model"
)

// Config specifies the periods for a full indicator set.
type Config struct {
	SMAFast    int
	SMASlow    int
	EMAFast    int
	EMASlow    int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BollPeriod int
	BollK      float64
}

// DefaultConfig returns the standard SMA20/50, EMA12/26, RSI14,
// MACD(12,26,9), Bollinger(20, 2) configuration.
func DefaultConfig() Config {
	return Config{
		SMAFast:    20,
		SMASlow:    50,
		EMAFast:    12,
		EMASlow:    26,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BollPeriod: 20,
		BollK:      2.0,
	}
}

// Set is the full per-symbol indicator view of one bar series.
// Each sequence is compact (length barCount-period+1) and tail-aligned:
// the last element of every sequence belongs to the last bar.
type Set struct {
	Symbol string
	Times  []time.Time
	Closes []float64

	SMAFast []float64
	SMASlow []float64
	EMAFast []float64
	EMASlow []float64
	RSI     []float64
	MACD    MACDSeries
	Boll    BollingerSeries

	cfg Config
}

// Compute derives the indicator set from bars. The set is a value derived
// from the series; recompute it whenever the underlying bars change.
func Compute(symbol string, bars []model.MarketBar, cfg Config) *Set {
	closes := make([]float64, len(bars))
	times := make([]time.Time, len(bars))
	for i := range bars {
		closes[i] = bars[i].Close
		times[i] = bars[i].TS
	}
	return &Set{
		Symbol:  symbol,
		Times:   times,
		Closes:  closes,
		SMAFast: SMA(closes, cfg.SMAFast),
		SMASlow: SMA(closes, cfg.SMASlow),
		EMAFast: EMA(closes, cfg.EMAFast),
		EMASlow: EMA(closes, cfg.EMASlow),
		RSI:     RSI(closes, cfg.RSIPeriod),
		MACD:    MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		Boll:    Bollinger(closes, cfg.BollPeriod, cfg.BollK),
		cfg:     cfg,
	}
}

// at maps a bar index into a tail-aligned sequence.
func (s *Set) at(vals []float64, barIdx int) (float64, bool) {
	off := len(s.Closes) - len(vals)
	i := barIdx - off
	if i < 0 || i >= len(vals) {
		return 0, false
	}
	return vals[i], true
}

// RSIAt returns the RSI value at a bar index, false if not yet warm.
func (s *Set) RSIAt(barIdx int) (float64, bool) { return s.at(s.RSI, barIdx) }

// HistAt returns the MACD histogram value at a bar index.
func (s *Set) HistAt(barIdx int) (float64, bool) { return s.at(s.MACD.Histogram, barIdx) }

// SMAFastAt returns the fast SMA at a bar index.
func (s *Set) SMAFastAt(barIdx int) (float64, bool) { return s.at(s.SMAFast, barIdx) }

// Snapshot holds the most recent value of every configured indicator for one
// symbol. Indicators without enough history are NaN; use Ready to test.
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	Close      float64   `json:"close"`
	SMAFast    float64   `json:"sma_fast"`
	SMASlow    float64   `json:"sma_slow"`
	EMAFast    float64   `json:"ema_fast"`
	EMASlow    float64   `json:"ema_slow"`
	RSI        float64   `json:"rsi"`
	MACD       float64   `json:"macd"`
	MACDSignal float64   `json:"macd_signal"`
	MACDHist   float64   `json:"macd_hist"`
	BollUpper  float64   `json:"boll_upper"`
	BollMiddle float64   `json:"boll_middle"`
	BollLower  float64   `json:"boll_lower"`
}

// Ready reports whether an indicator value has enough data behind it.
func Ready(v float64) bool { return !math.IsNaN(v) }

// Latest extracts the final value of every sequence into a Snapshot.
func (s *Set) Latest() Snapshot {
	snap := Snapshot{Symbol: s.Symbol}
	if n := len(s.Times); n > 0 {
		snap.TS = s.Times[n-1]
		snap.Close = s.Closes[n-1]
	}
	snap.SMAFast = lastOr(s.SMAFast)
	snap.SMASlow = lastOr(s.SMASlow)
	snap.EMAFast = lastOr(s.EMAFast)
	snap.EMASlow = lastOr(s.EMASlow)
	snap.RSI = lastOr(s.RSI)
	snap.MACD = lastOr(s.MACD.MACD)
	snap.MACDSignal = lastOr(s.MACD.Signal)
	snap.MACDHist = lastOr(s.MACD.Histogram)
	snap.BollUpper = lastOr(s.Boll.Upper)
	snap.BollMiddle = lastOr(s.Boll.Middle)
	snap.BollLower = lastOr(s.Boll.Lower)
	return snap
}

func lastOr(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	return vals[len(vals)-1]
}
