// Package performance enriches a backtest.Result with risk-adjusted metrics
// and renders the text and JSON reports handed back to recipe authors.
package performance

import (
	"math"

	"github.com/quantloop/enginecore/internal/backtest"
)

// secondsPerYear is the Julian year used to annualize returns: 365.25 days.
const secondsPerYear = 31557600

// profitFactorSentinel is reported when a run has zero losses and at least
// one winning trade — an unbounded true profit factor is not useful.
const profitFactorSentinel = 999.99

// Metrics holds the risk-adjusted figures layered on top of a backtest.Result.
type Metrics struct {
	TotalReturnPercent float64
	AnnualizedReturn   float64

	SharpeRatio  float64
	SortinoRatio float64

	MaxDrawdownPercent   float64
	LongestFlatStreak    int
	ProfitFactor         float64
	Expectancy           float64
	AverageWin           float64
	AverageLoss          float64
	LargestWin           float64
	LargestLoss          float64
}

// Analyze computes Metrics from a completed backtest result. It never
// mutates result.
func Analyze(result *backtest.Result) *Metrics {
	m := &Metrics{}

	if result.InitialCapital > 0 {
		m.TotalReturnPercent = (result.FinalEquity - result.InitialCapital) / result.InitialCapital * 100
	}

	m.AnnualizedReturn = annualizedReturn(result)

	returns := equityReturns(result.EquityCurve)
	m.SharpeRatio = sharpeRatio(returns)
	m.SortinoRatio = sortinoRatio(returns)
	m.MaxDrawdownPercent, m.LongestFlatStreak = maxDrawdown(result.EquityCurve)

	var totalWin, totalLoss float64
	for _, t := range result.Trades {
		switch {
		case t.PnL > 0:
			totalWin += t.PnL
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		case t.PnL < 0:
			totalLoss += t.PnL
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		}
	}
	if totalLoss != 0 {
		m.ProfitFactor = totalWin / math.Abs(totalLoss)
	} else if totalWin > 0 {
		m.ProfitFactor = profitFactorSentinel
	}

	if result.WinningTrades > 0 {
		m.AverageWin = totalWin / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		m.AverageLoss = totalLoss / float64(result.LosingTrades)
	}
	if result.TotalTrades > 0 {
		var sumPnL float64
		for _, t := range result.Trades {
			sumPnL += t.PnL
		}
		m.Expectancy = sumPnL / float64(result.TotalTrades)
	}

	return m
}

func annualizedReturn(result *backtest.Result) float64 {
	elapsed := result.EndTime - result.StartTime
	if elapsed <= 0 || result.InitialCapital <= 0 {
		return 0
	}
	years := float64(elapsed) / secondsPerYear
	if years <= 0 {
		return 0
	}
	return (math.Pow(result.FinalEquity/result.InitialCapital, 1/years) - 1) * 100
}

// equityReturns computes r[i] = (equity[i]-equity[i-1])/equity[i-1] for
// i >= 1 where equity[i-1] > 0.
func equityReturns(curve []backtest.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	return returns
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func populationStddev(xs []float64, mu float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mu
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// sharpeRatio is mean(r)/stddev(r), population stddev, risk-free rate
// assumed zero, not annualized.
func sharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mu := mean(returns)
	sd := populationStddev(returns, mu)
	if sd == 0 {
		return 0
	}
	return mu / sd
}

// sortinoRatio uses only the deviations of returns below their own mean as
// the downside sample.
func sortinoRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mu := mean(returns)
	var sumSq float64
	var n int
	for _, r := range returns {
		if r < mu {
			d := r - mu
			sumSq += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	downside := math.Sqrt(sumSq / float64(n))
	if downside == 0 {
		return 0
	}
	return mu / downside
}

// maxDrawdown scans the equity curve tracking a running peak, returning the
// maximum drawdown percentage and the longest run of samples without a new
// peak.
func maxDrawdown(curve []backtest.EquityPoint) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	var maxDD float64
	var streak, longestStreak int
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
			streak = 0
			continue
		}
		streak++
		if streak > longestStreak {
			longestStreak = streak
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, longestStreak
}
