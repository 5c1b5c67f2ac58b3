// Package indicators computes sliding-window technical indicators over price
// series. Every function is a pure transform series -> series of equal
// length: positions before an indicator's warm-up period hold NaN, and an
// input shorter than the required period returns an empty slice rather than
// an error. Callers treat an empty result as "insufficient data" per the
// shared error taxonomy in internal/validation.
package indicators

import (
	"math"

	"github.com/quantloop/enginecore/internal/candle"
)

// NaN is the warm-up/undefined sentinel used across every indicator output.
var NaN = math.NaN()

// SMA computes the simple moving average with period p using an O(1)-per-step
// sliding window running sum. Positions 0..p-2 are NaN.
func SMA(s candle.PriceSeries, p int) candle.PriceSeries {
	if p <= 0 || len(s) < p {
		return nil
	}
	out := make(candle.PriceSeries, len(s))
	var sum float64
	var count int
	for i := 0; i < len(s); i++ {
		if !math.IsNaN(s[i]) {
			sum += s[i]
			count++
		}
		if i >= p {
			if !math.IsNaN(s[i-p]) {
				sum -= s[i-p]
				count--
			}
		}
		if i < p-1 || count < p {
			out[i] = NaN
		} else {
			out[i] = sum / float64(p)
		}
	}
	return out
}

// EMA computes the exponential moving average with period p. It is seeded at
// index p-1 with SMA(s, p); thereafter e[i] = (s[i]-e[i-1])*alpha + e[i-1]
// with alpha = 2/(p+1).
func EMA(s candle.PriceSeries, p int) candle.PriceSeries {
	if p <= 0 || len(s) < p {
		return nil
	}
	out := make(candle.PriceSeries, len(s))
	for i := 0; i < p-1; i++ {
		out[i] = NaN
	}
	sma := SMA(s, p)
	seed := sma[p-1]
	out[p-1] = seed
	alpha := 2.0 / (float64(p) + 1.0)
	prev := seed
	for i := p; i < len(s); i++ {
		prev = (s[i]-prev)*alpha + prev
		out[i] = prev
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index with period p.
// avgLoss==0 && avgGain==0 yields 50; avgLoss==0 && avgGain>0 yields 100.
func RSI(s candle.PriceSeries, p int) candle.PriceSeries {
	if p <= 0 || len(s) < p+1 {
		return nil
	}
	out := make(candle.PriceSeries, len(s))
	for i := 0; i < p; i++ {
		out[i] = NaN
	}
	var gainSum, lossSum float64
	for i := 1; i <= p; i++ {
		delta := s[i] - s[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(p)
	avgLoss := lossSum / float64(p)
	out[p] = rsiFromAverages(avgGain, avgLoss)
	for i := p + 1; i < len(s); i++ {
		delta := s[i] - s[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(p-1) + gain) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the three MACD series, all the same length as the input.
type MACDResult struct {
	MACDLine  candle.PriceSeries
	Signal    candle.PriceSeries
	Histogram candle.PriceSeries
}

// MACD computes the MACD line (emaFast - emaSlow), its signal line
// (EMA of the MACD line over the signal period), and the histogram.
func MACD(s candle.PriceSeries, fast, slow, signal int) MACDResult {
	if len(s) < slow || len(s) < fast {
		return MACDResult{}
	}
	emaFast := EMA(s, fast)
	emaSlow := EMA(s, slow)
	if emaFast == nil || emaSlow == nil {
		return MACDResult{}
	}
	macdLine := make(candle.PriceSeries, len(s))
	for i := range s {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			macdLine[i] = NaN
		} else {
			macdLine[i] = emaFast[i] - emaSlow[i]
		}
	}
	// The signal line is an EMA of the MACD line's non-NaN tail, starting at
	// slow-1, then re-indexed back onto the full-length series.
	tail := macdLine[slow-1:]
	signalTail := EMA(tail, signal)
	signalLine := make(candle.PriceSeries, len(s))
	for i := 0; i < slow-1; i++ {
		signalLine[i] = NaN
	}
	if signalTail != nil {
		copy(signalLine[slow-1:], signalTail)
	} else {
		for i := slow - 1; i < len(s); i++ {
			signalLine[i] = NaN
		}
	}
	histogram := make(candle.PriceSeries, len(s))
	for i := range s {
		if math.IsNaN(macdLine[i]) || math.IsNaN(signalLine[i]) {
			histogram[i] = NaN
		} else {
			histogram[i] = macdLine[i] - signalLine[i]
		}
	}
	return MACDResult{MACDLine: macdLine, Signal: signalLine, Histogram: histogram}
}

// BollingerResult holds the three Bollinger Band series.
type BollingerResult struct {
	Upper  candle.PriceSeries
	Middle candle.PriceSeries
	Lower  candle.PriceSeries
}

// Bollinger computes Bollinger Bands: middle = SMA(s,p); upper/lower =
// middle +/- k*stddev, using population standard deviation over the
// trailing p-window.
func Bollinger(s candle.PriceSeries, p int, k float64) BollingerResult {
	middle := SMA(s, p)
	if middle == nil {
		return BollingerResult{}
	}
	upper := make(candle.PriceSeries, len(s))
	lower := make(candle.PriceSeries, len(s))
	for i := range s {
		if math.IsNaN(middle[i]) {
			upper[i] = NaN
			lower[i] = NaN
			continue
		}
		var sumSq float64
		mean := middle[i]
		for j := i - p + 1; j <= i; j++ {
			d := s[j] - mean
			sumSq += d * d
		}
		stddev := math.Sqrt(sumSq / float64(p))
		upper[i] = mean + k*stddev
		lower[i] = mean - k*stddev
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}

// ATR computes the Average True Range: tr[i] = max(h-l, |h-c_prev|,
// |l-c_prev|) (tr[0] is NaN, no previous close), then SMA(tr, p).
func ATR(candles []candle.Candle, p int) candle.PriceSeries {
	if len(candles) == 0 {
		return nil
	}
	tr := make(candle.PriceSeries, len(candles))
	tr[0] = NaN
	for i := 1; i < len(candles); i++ {
		h, l, cPrev := candles[i].High, candles[i].Low, candles[i-1].Close
		tr[i] = math.Max(h-l, math.Max(math.Abs(h-cPrev), math.Abs(l-cPrev)))
	}
	return SMA(tr, p)
}

// StochasticResult holds %K and %D.
type StochasticResult struct {
	K candle.PriceSeries
	D candle.PriceSeries
}

// Stochastic computes %K = 100*(close-minLow)/(maxHigh-minLow) over kPeriod
// (flat range yields 50), and %D = SMA(%K, dPeriod).
func Stochastic(candles []candle.Candle, kPeriod, dPeriod int) StochasticResult {
	if len(candles) < kPeriod {
		return StochasticResult{}
	}
	k := make(candle.PriceSeries, len(candles))
	for i := range candles {
		if i < kPeriod-1 {
			k[i] = NaN
			continue
		}
		maxHigh, minLow := candles[i-kPeriod+1].High, candles[i-kPeriod+1].Low
		for j := i - kPeriod + 2; j <= i; j++ {
			if candles[j].High > maxHigh {
				maxHigh = candles[j].High
			}
			if candles[j].Low < minLow {
				minLow = candles[j].Low
			}
		}
		rng := maxHigh - minLow
		if rng == 0 {
			k[i] = 50
		} else {
			k[i] = 100 * (candles[i].Close - minLow) / rng
		}
	}
	d := SMA(k, dPeriod)
	return StochasticResult{K: k, D: d}
}

// OBV computes the On-Balance Volume: cumulative running total of +volume on
// an up close, -volume on a down close, unchanged on an equal close.
func OBV(candles []candle.Candle) candle.PriceSeries {
	if len(candles) == 0 {
		return nil
	}
	out := make(candle.PriceSeries, len(candles))
	out[0] = 0
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			out[i] = out[i-1] + candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			out[i] = out[i-1] - candles[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// CCI computes the Commodity Channel Index:
// (typical - sma_typical) / (0.015 * mean_abs_deviation); zero deviation
// yields 0. typical = (h+l+c)/3.
func CCI(candles []candle.Candle, p int) candle.PriceSeries {
	if len(candles) < p {
		return nil
	}
	typical := make(candle.PriceSeries, len(candles))
	for i, c := range candles {
		typical[i] = (c.High + c.Low + c.Close) / 3
	}
	smaTypical := SMA(typical, p)
	out := make(candle.PriceSeries, len(candles))
	for i := range candles {
		if math.IsNaN(smaTypical[i]) {
			out[i] = NaN
			continue
		}
		mean := smaTypical[i]
		var sumAbs float64
		for j := i - p + 1; j <= i; j++ {
			sumAbs += math.Abs(typical[j] - mean)
		}
		meanDev := sumAbs / float64(p)
		if meanDev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (typical[i] - mean) / (0.015 * meanDev)
	}
	return out
}
