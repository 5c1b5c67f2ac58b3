// Package signal translates a recipe.Recipe and a candle history into a
// per-index stream of BUY/SELL/NONE trading decisions, via one-shot
// indicator pre-computation followed by per-bar rule evaluation.
package signal

import (
	"fmt"
	"math"

	"github.com/quantloop/enginecore/internal/candle"
	"github.com/quantloop/enginecore/internal/indicators"
	"github.com/quantloop/enginecore/internal/recipe"
)

// Type is the kind of trading decision produced for one bar.
type Type string

const (
	None Type = "NONE"
	Buy  Type = "BUY"
	Sell Type = "SELL"
)

// Signal is the per-bar decision returned by GenerateSignalAt.
type Signal struct {
	Type      Type
	Symbol    string
	Price     float64
	Timestamp int64
	Reason    string
}

// crossTolerance is the floating-point equality tolerance used when
// evaluating crosses_above/crosses_below and the == operator.
const crossTolerance = 1e-6

// Generator binds one recipe to one candle sequence. It is not safe for
// concurrent use: indicator precomputation caches state owned exclusively by
// the single compute task running a backtest, per the engine's concurrency
// model.
type Generator struct {
	recipe  *recipe.Recipe
	cache   *indicators.Cache
	candles []candle.Candle
}

// NewGenerator constructs a Generator bound to r. Call PrecalculateIndicators
// before evaluating any signal.
func NewGenerator(r *recipe.Recipe) *Generator {
	return &Generator{recipe: r, cache: indicators.NewCache()}
}

// LoadRecipe replaces the bound recipe and clears the indicator cache.
func (g *Generator) LoadRecipe(r *recipe.Recipe) {
	g.recipe = r
	g.cache = indicators.NewCache()
	g.candles = nil
}

// PrecalculateIndicators computes every indicator named in the bound recipe
// once over candles and caches the results by canonical key. It fails fast
// if any indicator reports insufficient data.
func (g *Generator) PrecalculateIndicators(candles []candle.Candle) (bool, error) {
	g.candles = candles
	g.cache = indicators.NewCache()

	closes := candle.Closes(candles)
	g.cache.Set("close", closes)

	for _, spec := range g.recipe.Indicators {
		if err := g.computeOne(spec, candles, closes); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (g *Generator) computeOne(spec recipe.IndicatorSpec, candles []candle.Candle, closes candle.PriceSeries) error {
	switch spec.Name {
	case "sma":
		out := indicators.SMA(closes, spec.Period)
		if out == nil {
			return fmt.Errorf("insufficient data for sma(%d)", spec.Period)
		}
		g.cache.Set("sma", out)
	case "ema":
		out := indicators.EMA(closes, spec.Period)
		if out == nil {
			return fmt.Errorf("insufficient data for ema(%d)", spec.Period)
		}
		g.cache.Set("ema", out)
	case "rsi":
		out := indicators.RSI(closes, spec.Period)
		if out == nil {
			return fmt.Errorf("insufficient data for rsi(%d)", spec.Period)
		}
		g.cache.Set("rsi", out)
	case "macd":
		fast := paramOrDefault(spec.Params, "fast", 12)
		slow := paramOrDefault(spec.Params, "slow", 26)
		sig := paramOrDefault(spec.Params, "signal", 9)
		res := indicators.MACD(closes, int(fast), int(slow), int(sig))
		if res.MACDLine == nil {
			return fmt.Errorf("insufficient data for macd(%d,%d,%d)", int(fast), int(slow), int(sig))
		}
		g.cache.Set("macd", res.MACDLine)
		g.cache.Set("macd_signal", res.Signal)
		g.cache.Set("macd_histogram", res.Histogram)
	case "bollinger", "bb":
		k := paramOrDefault(spec.Params, "k", 2)
		res := indicators.Bollinger(closes, spec.Period, k)
		if res.Middle == nil {
			return fmt.Errorf("insufficient data for bollinger(%d)", spec.Period)
		}
		g.cache.Set("bb_upper", res.Upper)
		g.cache.Set("bb_middle", res.Middle)
		g.cache.Set("bb_lower", res.Lower)
	case "atr":
		out := indicators.ATR(candles, spec.Period)
		if out == nil {
			return fmt.Errorf("insufficient data for atr(%d)", spec.Period)
		}
		g.cache.Set("atr", out)
	case "stochastic", "stoch":
		dPeriod := int(paramOrDefault(spec.Params, "d_period", 3))
		res := indicators.Stochastic(candles, spec.Period, dPeriod)
		if res.K == nil {
			return fmt.Errorf("insufficient data for stochastic(%d,%d)", spec.Period, dPeriod)
		}
		g.cache.Set("stoch_k", res.K)
		g.cache.Set("stoch_d", res.D)
	case "obv":
		out := indicators.OBV(candles)
		if out == nil {
			return fmt.Errorf("insufficient data for obv")
		}
		g.cache.Set("obv", out)
	case "adx":
		out := indicators.ADX(candles, spec.Period)
		if out == nil {
			return fmt.Errorf("insufficient data for adx(%d)", spec.Period)
		}
		g.cache.Set("adx", out)
	case "cci":
		out := indicators.CCI(candles, spec.Period)
		if out == nil {
			return fmt.Errorf("insufficient data for cci(%d)", spec.Period)
		}
		g.cache.Set("cci", out)
	default:
		return fmt.Errorf("unknown indicator: %s", spec.Name)
	}
	return nil
}

func paramOrDefault(params map[string]float64, key string, def float64) float64 {
	if params == nil {
		return def
	}
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// GenerateSignalAt evaluates entry and exit rule sets at index i. Entry wins
// over exit when both match at the same bar.
func (g *Generator) GenerateSignalAt(i int) Signal {
	c := g.candles[i]
	base := Signal{Symbol: g.recipe.Market.Symbol, Price: c.Close, Timestamp: c.Timestamp}

	if g.CheckEntryConditionsAt(i) {
		base.Type = Buy
		base.Reason = "entry conditions met"
		return base
	}
	if g.CheckExitConditionsAt(i) {
		base.Type = Sell
		base.Reason = "exit conditions met"
		return base
	}
	base.Type = None
	return base
}

// CheckEntryConditionsAt evaluates the recipe's entry condition set at i.
func (g *Generator) CheckEntryConditionsAt(i int) bool {
	return evaluateSet(g.recipe.EntryConditions, g.cache, i)
}

// CheckExitConditionsAt evaluates the recipe's exit condition set at i.
func (g *Generator) CheckExitConditionsAt(i int) bool {
	return evaluateSet(g.recipe.ExitConditions, g.cache, i)
}

func evaluateSet(set recipe.ConditionSet, cache *indicators.Cache, i int) bool {
	if len(set.Rules) == 0 {
		return false
	}
	switch set.Logic {
	case recipe.LogicOR:
		for _, rule := range set.Rules {
			if evaluateRule(rule, cache, i) {
				return true
			}
		}
		return false
	default: // AND
		for _, rule := range set.Rules {
			if !evaluateRule(rule, cache, i) {
				return false
			}
		}
		return true
	}
}

func evaluateRule(rule recipe.TradingRule, cache *indicators.Cache, i int) bool {
	left := cache.ValueAt(rule.Indicator, i)
	if math.IsNaN(left) {
		return false
	}

	rightAt := func(idx int) (float64, bool) {
		if rule.CompareWith != "" {
			v := cache.ValueAt(rule.CompareWith, idx)
			return v, !math.IsNaN(v)
		}
		return rule.Value, true
	}

	right, ok := rightAt(i)
	if !ok {
		return false
	}

	switch rule.Operator {
	case recipe.OpLT:
		return left < right
	case recipe.OpLTE:
		return left <= right
	case recipe.OpGT:
		return left > right
	case recipe.OpGTE:
		return left >= right
	case recipe.OpEQ:
		return math.Abs(left-right) <= crossTolerance
	case recipe.OpCrossesAbove:
		if i < 1 {
			return false
		}
		prevLeft := cache.ValueAt(rule.Indicator, i-1)
		prevRight, ok := rightAt(i - 1)
		if !ok || math.IsNaN(prevLeft) {
			return false
		}
		wasNotAbove := prevLeft <= prevRight+crossTolerance
		isAbove := left > right+crossTolerance
		return wasNotAbove && isAbove
	case recipe.OpCrossesBelow:
		if i < 1 {
			return false
		}
		prevLeft := cache.ValueAt(rule.Indicator, i-1)
		prevRight, ok := rightAt(i - 1)
		if !ok || math.IsNaN(prevLeft) {
			return false
		}
		wasNotBelow := prevLeft >= prevRight-crossTolerance
		isBelow := left < right-crossTolerance
		return wasNotBelow && isBelow
	default:
		return false
	}
}
