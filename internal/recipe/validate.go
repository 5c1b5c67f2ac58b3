package recipe

import "github.com/quantloop/enginecore/internal/validation"

// Validate checks the structural invariants the spec names for a recipe:
// name present, market triple complete, capital.initial > 0. Returns
// validation.ValidationErrors (possibly wrapping multiple field failures).
func Validate(r *Recipe) error {
	v := validation.NewValidator()
	v.Required("name", r.Name)
	v.Required("market.exchange", r.Market.Exchange)
	v.Required("market.symbol", r.Market.Symbol)
	v.Required("market.timeframe", r.Market.Timeframe)
	v.Positive("capital.initial", r.Capital.Initial)
	if r.Capital.PositionSizePercent <= 0 || r.Capital.PositionSizePercent > 100 {
		v.AddError("capital.position_size_percent", "must be in (0, 100]")
	}
	if r.RiskManagement.MaxOpenPositions < 1 {
		v.AddError("risk_management.max_open_positions", "must be at least 1")
	}
	if r.RiskManagement.StopLossPercent < 0 {
		v.AddError("risk_management.stop_loss_percent", "must be non-negative")
	}
	if r.RiskManagement.TakeProfitPercent < 0 {
		v.AddError("risk_management.take_profit_percent", "must be non-negative")
	}
	for i, rule := range r.EntryConditions.Rules {
		validateRule(v, "entry_conditions", i, rule)
	}
	for i, rule := range r.ExitConditions.Rules {
		validateRule(v, "exit_conditions", i, rule)
	}
	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

func validateRule(v *validation.Validator, set string, i int, rule TradingRule) {
	field := func(name string) string {
		return set + "[" + name + "]"
	}
	v.Required(field("indicator"), rule.Indicator)
	switch rule.Operator {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpCrossesAbove, OpCrossesBelow:
	default:
		v.AddError(field("operator"), "unknown operator: "+string(rule.Operator))
	}
	_ = i
}
