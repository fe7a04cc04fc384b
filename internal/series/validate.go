package series

import (
	"math"
	"time"

	"tradesim/internal/model"
)

// Verdict classifies the outcome of series validation.
type Verdict int

const (
	VerdictValid Verdict = iota
	VerdictInvalidPrices
	VerdictMissingData
	VerdictVolumeAnomalies
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "VALID"
	case VerdictInvalidPrices:
		return "INVALID_PRICES"
	case VerdictMissingData:
		return "MISSING_DATA"
	case VerdictVolumeAnomalies:
		return "VOLUME_ANOMALIES"
	}
	return "UNKNOWN"
}

// ValidationResult carries the verdict and its evidence.
// Timestamps lists missing intervals or anomalous bars; Reason explains
// price failures.
type ValidationResult struct {
	Verdict    Verdict
	Timestamps []time.Time
	Reason     string
}

// Valid reports whether the series passed all checks.
func (r ValidationResult) Valid() bool { return r.Verdict == VerdictValid }

// Validate checks a bar series in priority order: invalid prices first, then
// missing intervals against the expected resolution, then volume anomalies
// (volume more than 3 population standard deviations above the series mean).
// Validation is read-only and idempotent: a series that validates Valid will
// do so again unchanged.
func Validate(bars []model.MarketBar, resolution time.Duration) ValidationResult {
	for i := range bars {
		b := &bars[i]
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return ValidationResult{
				Verdict:    VerdictInvalidPrices,
				Timestamps: []time.Time{b.TS},
				Reason:     "non-positive price",
			}
		}
		if !b.OHLCOk() {
			return ValidationResult{
				Verdict:    VerdictInvalidPrices,
				Timestamps: []time.Time{b.TS},
				Reason:     "OHLC inconsistency",
			}
		}
	}

	if resolution > 0 && len(bars) > 1 {
		var missing []time.Time
		for i := 1; i < len(bars); i++ {
			gap := bars[i].TS.Sub(bars[i-1].TS)
			if gap <= resolution {
				continue
			}
			for ts := bars[i-1].TS.Add(resolution); bars[i].TS.Sub(ts) > 0; ts = ts.Add(resolution) {
				missing = append(missing, ts)
			}
		}
		if len(missing) > 0 {
			return ValidationResult{Verdict: VerdictMissingData, Timestamps: missing}
		}
	}

	if anomalies := volumeAnomalies(bars); len(anomalies) > 0 {
		return ValidationResult{Verdict: VerdictVolumeAnomalies, Timestamps: anomalies}
	}

	return ValidationResult{Verdict: VerdictValid}
}

// volumeAnomalies returns timestamps of bars whose volume exceeds the series
// mean by more than 3 population standard deviations.
func volumeAnomalies(bars []model.MarketBar) []time.Time {
	if len(bars) < 2 {
		return nil
	}
	var sum float64
	for i := range bars {
		sum += bars[i].Volume
	}
	mean := sum / float64(len(bars))

	var variance float64
	for i := range bars {
		d := bars[i].Volume - mean
		variance += d * d
	}
	variance /= float64(len(bars))
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	var out []time.Time
	for i := range bars {
		if bars[i].Volume > mean+3*std {
			out = append(out, bars[i].TS)
		}
	}
	return out
}
