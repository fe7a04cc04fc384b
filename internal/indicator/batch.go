// Package indicator provides technical indicator calculations over bar data.
//
// Batch functions operate on close-price slices and return compact sequences
// aligned to the last bar of each lookback window. The streaming engine
// recomputes the batch path on every appended bar, so incremental values can
// never drift from the batch results.
package indicator

import "math"

// SMA returns the simple moving average over a rolling window.
// Output length is len(values)-period+1; nil if there is not enough data.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average seeded with the SMA of the
// first period values; k = 2/(period+1). Output length len(values)-period+1.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out = append(out, seed)

	prev := seed
	for _, v := range values[period:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// RSI returns the relative strength index over trailing windows of period
// closes (period-1 close-to-close deltas per window). RSI is 100 when the
// average loss is zero. Output length len(values)-period+1.
func RSI(values []float64, period int) []float64 {
	if period <= 1 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	for end := period - 1; end < len(values); end++ {
		var gain, loss float64
		for i := end - period + 2; i <= end; i++ {
			delta := values[i] - values[i-1]
			if delta > 0 {
				gain += delta
			} else {
				loss -= delta
			}
		}
		n := float64(period - 1)
		avgGain := gain / n
		avgLoss := loss / n
		if avgLoss == 0 {
			out = append(out, 100.0)
			continue
		}
		rs := avgGain / avgLoss
		out = append(out, 100.0-100.0/(1.0+rs))
	}
	return out
}

// MACDSeries holds the three MACD sequences. MACD is aligned to the slow EMA;
// Signal and Histogram are shorter by the signal period minus one. The final
// elements of all three slices share the same bar.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast)-EMA(slow), its signal EMA, and the histogram.
func MACD(values []float64, fast, slow, signalPeriod int) MACDSeries {
	if fast <= 0 || slow <= fast || len(values) < slow {
		return MACDSeries{}
	}
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)

	// Align the fast series to the slower one's start.
	off := slow - fast
	macd := make([]float64, len(emaSlow))
	for i := range emaSlow {
		macd[i] = emaFast[i+off] - emaSlow[i]
	}

	sig := EMA(macd, signalPeriod)
	hist := make([]float64, len(sig))
	histOff := len(macd) - len(sig)
	for i := range sig {
		hist[i] = macd[i+histOff] - sig[i]
	}
	return MACDSeries{MACD: macd, Signal: sig, Histogram: hist}
}

// BollingerSeries holds the three Bollinger band sequences, equal length,
// aligned to the last bar of each window.
type BollingerSeries struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes middle = SMA(period) and upper/lower bands at
// middle ± k population standard deviations of the trailing window.
func Bollinger(values []float64, period int, k float64) BollingerSeries {
	mid := SMA(values, period)
	if mid == nil {
		return BollingerSeries{}
	}
	upper := make([]float64, len(mid))
	lower := make([]float64, len(mid))
	for i := range mid {
		window := values[i : i+period]
		var variance float64
		for _, v := range window {
			d := v - mid[i]
			variance += d * d
		}
		sigma := math.Sqrt(variance / float64(period))
		upper[i] = mid[i] + k*sigma
		lower[i] = mid[i] - k*sigma
	}
	return BollingerSeries{Upper: upper, Middle: mid, Lower: lower}
}
