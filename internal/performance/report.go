package performance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantloop/enginecore/internal/backtest"
)

// quoteSuffixes are tried in priority order when splitting a symbol such as
// "BTCUSDT" into base/quote components.
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "BTC", "ETH", "BNB"}

func splitSymbol(full string) (base, quote string) {
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(full, suffix) && len(full) > len(suffix) {
			return strings.TrimSuffix(full, suffix), suffix
		}
	}
	return full, "UNKNOWN"
}

// GenerateTextReport renders a human-readable report in a fixed section
// order: Strategy, Capital, Returns, Risk Metrics, Trading Stats, Costs.
func GenerateTextReport(result *backtest.Result, m *Metrics) string {
	var b strings.Builder

	fmt.Fprintf(&b, "================================================================================\n")
	fmt.Fprintf(&b, "BACKTEST PERFORMANCE REPORT\n")
	fmt.Fprintf(&b, "================================================================================\n\n")

	fmt.Fprintf(&b, "STRATEGY\n")
	fmt.Fprintf(&b, "--------\n")
	fmt.Fprintf(&b, "Recipe:           %s\n", result.RecipeName)
	fmt.Fprintf(&b, "Symbol:           %s\n", result.Symbol)
	fmt.Fprintf(&b, "Period:           %s to %s (%d candles)\n\n",
		time.Unix(result.StartTime, 0).UTC().Format("2006-01-02"),
		time.Unix(result.EndTime, 0).UTC().Format("2006-01-02"),
		result.TotalCandles)

	fmt.Fprintf(&b, "CAPITAL\n")
	fmt.Fprintf(&b, "-------\n")
	fmt.Fprintf(&b, "Initial Capital:  $%.2f\n", result.InitialCapital)
	fmt.Fprintf(&b, "Final Equity:     $%.2f\n", result.FinalEquity)
	fmt.Fprintf(&b, "Peak Equity:      $%.2f\n\n", result.PeakEquity)

	fmt.Fprintf(&b, "RETURNS\n")
	fmt.Fprintf(&b, "-------\n")
	fmt.Fprintf(&b, "Total Return:     $%.2f (%.2f%%)\n", result.TotalReturn, m.TotalReturnPercent)
	fmt.Fprintf(&b, "Annualized:       %.2f%%\n\n", m.AnnualizedReturn)

	fmt.Fprintf(&b, "RISK METRICS\n")
	fmt.Fprintf(&b, "------------\n")
	fmt.Fprintf(&b, "Max Drawdown:     %.2f%%\n", m.MaxDrawdownPercent)
	fmt.Fprintf(&b, "Longest Flat:     %d samples\n", m.LongestFlatStreak)
	fmt.Fprintf(&b, "Sharpe Ratio:     %.4f\n", m.SharpeRatio)
	fmt.Fprintf(&b, "Sortino Ratio:    %.4f\n\n", m.SortinoRatio)

	fmt.Fprintf(&b, "TRADING STATS\n")
	fmt.Fprintf(&b, "-------------\n")
	fmt.Fprintf(&b, "Total Trades:     %d\n", result.TotalTrades)
	fmt.Fprintf(&b, "Winning Trades:   %d\n", result.WinningTrades)
	fmt.Fprintf(&b, "Losing Trades:    %d\n", result.LosingTrades)
	fmt.Fprintf(&b, "Win Rate:         %.2f%%\n", result.WinRate)
	fmt.Fprintf(&b, "Average Win:      $%.2f\n", m.AverageWin)
	fmt.Fprintf(&b, "Average Loss:     $%.2f\n", m.AverageLoss)
	fmt.Fprintf(&b, "Largest Win:      $%.2f\n", m.LargestWin)
	fmt.Fprintf(&b, "Largest Loss:     $%.2f\n", m.LargestLoss)
	fmt.Fprintf(&b, "Profit Factor:    %.2f\n", m.ProfitFactor)
	fmt.Fprintf(&b, "Expectancy:       $%.2f per trade\n\n", m.Expectancy)

	fmt.Fprintf(&b, "COSTS\n")
	fmt.Fprintf(&b, "-----\n")
	fmt.Fprintf(&b, "Total Commission: $%.2f\n", result.TotalCommission)
	fmt.Fprintf(&b, "Total Slippage:   $%.2f\n", result.TotalSlippage)
	fmt.Fprintf(&b, "================================================================================\n")

	return b.String()
}

type jsonSymbol struct {
	Full  string `json:"full"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type jsonPeriod struct {
	StartTime    int64 `json:"startTime"`
	EndTime      int64 `json:"endTime"`
	TotalCandles int   `json:"totalCandles"`
}

type jsonCapital struct {
	Initial    float64 `json:"initial"`
	Final      float64 `json:"final"`
	Peak       float64 `json:"peak"`
}

type jsonReturns struct {
	Total            float64 `json:"total"`
	TotalPercent     float64 `json:"totalPercent"`
	AnnualizedPercent float64 `json:"annualizedPercent"`
}

type jsonRisk struct {
	MaxDrawdownPercent float64 `json:"maxDrawdownPercent"`
	LongestFlatStreak  int     `json:"longestFlatStreak"`
	SharpeRatio        float64 `json:"sharpeRatio"`
	SortinoRatio       float64 `json:"sortinoRatio"`
}

type jsonTrading struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"`
}

type jsonCosts struct {
	TotalCommission float64 `json:"totalCommission"`
	TotalSlippage   float64 `json:"totalSlippage"`
}

type jsonTradeSummary struct {
	ID         string  `json:"id"`
	EntryTime  int64   `json:"entryTime"`
	ExitTime   int64   `json:"exitTime"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	Quantity   float64 `json:"quantity"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnlPercent"`
	ExitReason string  `json:"exitReason"`
}

type jsonPerformance struct {
	ProfitFactor float64           `json:"profitFactor"`
	Expectancy   float64           `json:"expectancy"`
	AverageWin   float64           `json:"averageWin"`
	AverageLoss  float64           `json:"averageLoss"`
	BestTrade    *jsonTradeSummary `json:"bestTrade,omitempty"`
	WorstTrade   *jsonTradeSummary `json:"worstTrade,omitempty"`
}

type jsonReport struct {
	Symbol      jsonSymbol         `json:"symbol"`
	Period      jsonPeriod         `json:"period"`
	Capital     jsonCapital        `json:"capital"`
	Returns     jsonReturns        `json:"returns"`
	Risk        jsonRisk           `json:"risk"`
	Trading     jsonTrading        `json:"trading"`
	Costs       jsonCosts          `json:"costs"`
	Performance jsonPerformance    `json:"performance"`
	Trades      []jsonTradeSummary `json:"trades"`
}

// GenerateJSONReport renders the structured machine-readable report
// documented for PerformanceAnalyzer.
func GenerateJSONReport(result *backtest.Result, m *Metrics) ([]byte, error) {
	base, quote := splitSymbol(result.Symbol)

	trades := make([]jsonTradeSummary, 0, len(result.Trades))
	var best, worst *jsonTradeSummary
	for _, t := range result.Trades {
		ts := jsonTradeSummary{
			ID:         t.ID,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			PnL:        t.PnL,
			PnLPercent: t.PnLPercent,
			ExitReason: t.ExitReason,
		}
		trades = append(trades, ts)
		if best == nil || ts.PnL > best.PnL {
			tsCopy := ts
			best = &tsCopy
		}
		if worst == nil || ts.PnL < worst.PnL {
			tsCopy := ts
			worst = &tsCopy
		}
	}

	report := jsonReport{
		Symbol: jsonSymbol{Full: result.Symbol, Base: base, Quote: quote},
		Period: jsonPeriod{
			StartTime:    result.StartTime,
			EndTime:      result.EndTime,
			TotalCandles: result.TotalCandles,
		},
		Capital: jsonCapital{
			Initial: result.InitialCapital,
			Final:   result.FinalEquity,
			Peak:    result.PeakEquity,
		},
		Returns: jsonReturns{
			Total:             result.TotalReturn,
			TotalPercent:      m.TotalReturnPercent,
			AnnualizedPercent: m.AnnualizedReturn,
		},
		Risk: jsonRisk{
			MaxDrawdownPercent: m.MaxDrawdownPercent,
			LongestFlatStreak:  m.LongestFlatStreak,
			SharpeRatio:        m.SharpeRatio,
			SortinoRatio:       m.SortinoRatio,
		},
		Trading: jsonTrading{
			TotalTrades:   result.TotalTrades,
			WinningTrades: result.WinningTrades,
			LosingTrades:  result.LosingTrades,
			WinRate:       result.WinRate,
		},
		Costs: jsonCosts{
			TotalCommission: result.TotalCommission,
			TotalSlippage:   result.TotalSlippage,
		},
		Performance: jsonPerformance{
			ProfitFactor: m.ProfitFactor,
			Expectancy:   m.Expectancy,
			AverageWin:   m.AverageWin,
			AverageLoss:  m.AverageLoss,
			BestTrade:    best,
			WorstTrade:   worst,
		},
		Trades: trades,
	}

	return json.MarshalIndent(report, "", "  ")
}
