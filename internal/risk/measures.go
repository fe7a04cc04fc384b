package risk

import (
	"math"
	"sort"

	"tradesim/internal/model"
)

// zScore95 is the one-sided 95% normal quantile used for value at risk.
const zScore95 = 1.645

// tradingDaysPerYear annualizes daily return volatility.
const tradingDaysPerYear = 252

// atr computes the average true range over the last period bars.
// Returns 0 when there are not enough bars.
func atr(bars []model.MarketBar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	start := len(bars) - period
	var sum float64
	for i := start; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	return sum / float64(period)
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(cur, prev model.MarketBar) float64 {
	tr := cur.High - cur.Low
	if v := math.Abs(cur.High - prev.Close); v > tr {
		tr = v
	}
	if v := math.Abs(cur.Low - prev.Close); v > tr {
		tr = v
	}
	return tr
}

// logReturns converts a price series to log returns. Non-positive prices
// are skipped.
func logReturns(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// stddev is the sample standard deviation.
func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(vals)-1))
}

// realizedVol is the annualized standard deviation of log returns over the
// last window prices.
func realizedVol(prices []float64, window int) float64 {
	if window > len(prices) {
		window = len(prices)
	}
	if window < 3 {
		return 0
	}
	rets := logReturns(prices[len(prices)-window:])
	return stddev(rets) * math.Sqrt(tradingDaysPerYear)
}

// valueAtRisk is the one-day 95% parametric VaR of a portfolio value given
// its daily return volatility.
func valueAtRisk(value, dailyVol float64) float64 {
	return zScore95 * dailyVol * value
}

// percentile returns the rank of the last element within the series,
// in [0, 100]. Returns 0 for series shorter than two elements.
func percentile(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	last := series[len(series)-1]
	sorted := make([]float64, len(series))
	copy(sorted, series)
	sort.Float64s(sorted)
	below := sort.SearchFloat64s(sorted, last)
	return float64(below) / float64(len(sorted)-1) * 100
}
