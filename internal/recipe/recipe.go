// Package recipe defines the declarative strategy DSL: a Recipe binds a
// market, capital and risk configuration, an ordered indicator list, and
// entry/exit rule sets. Recipes are immutable once loaded; a loader
// constructs them, and the signal generator and simulator only ever read
// them.
package recipe

// SchemaVersion is the schema version emitted by this build and the upper
// bound a loaded recipe file is checked against.
const SchemaVersion = "1.0.0"

// Market identifies the exchange/symbol/timeframe triple a recipe trades.
type Market struct {
	Exchange  string `json:"exchange" yaml:"exchange"`
	Symbol    string `json:"symbol" yaml:"symbol"`
	Timeframe string `json:"timeframe" yaml:"timeframe"`
}

// Capital configures position sizing.
type Capital struct {
	Initial             float64 `json:"initial" yaml:"initial"`
	PositionSizePercent float64 `json:"position_size_percent" yaml:"position_size_percent"`
}

// Risk configures protective exits and daily-loss/position-count limits.
type Risk struct {
	StopLossPercent     float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent" yaml:"take_profit_percent"`
	MaxDailyLossPercent float64 `json:"max_daily_loss_percent" yaml:"max_daily_loss_percent"`
	MaxOpenPositions    int     `json:"max_open_positions" yaml:"max_open_positions"`
}

// IndicatorSpec names one indicator instance the recipe's rules reference,
// e.g. {name: "rsi", period: 14}.
type IndicatorSpec struct {
	Name   string             `json:"name" yaml:"name"`
	Period int                `json:"period" yaml:"period"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Operator is a comparison operator usable in a TradingRule.
type Operator string

const (
	OpLT            Operator = "<"
	OpLTE           Operator = "<="
	OpGT            Operator = ">"
	OpGTE           Operator = ">="
	OpEQ            Operator = "=="
	OpCrossesAbove  Operator = "crosses_above"
	OpCrossesBelow  Operator = "crosses_below"
)

// TradingRule is one clause of an entry or exit condition set. When
// CompareWith is non-empty the rule compares two indicator series;
// otherwise it compares the named indicator against the literal Value.
type TradingRule struct {
	Indicator   string   `json:"indicator" yaml:"indicator"`
	Operator    Operator `json:"operator" yaml:"operator"`
	Value       float64  `json:"value,omitempty" yaml:"value,omitempty"`
	CompareWith string   `json:"compare_with,omitempty" yaml:"compare_with,omitempty"`
}

// Logic is the boolean combinator applied across a rule set.
type Logic string

const (
	LogicAND Logic = "AND"
	LogicOR  Logic = "OR"
)

// ConditionSet is a logic operator plus the rules it combines.
type ConditionSet struct {
	Logic Logic         `json:"logic" yaml:"logic"`
	Rules []TradingRule `json:"rules" yaml:"rules"`
}

// Recipe is the immutable strategy declaration loaded from a JSON or YAML
// file. Consumers never mutate a Recipe after it is returned by Load.
type Recipe struct {
	SchemaVersion    string         `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`
	Name             string         `json:"name" yaml:"name"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	Market           Market         `json:"market" yaml:"market"`
	Capital          Capital        `json:"capital" yaml:"capital"`
	RiskManagement   Risk           `json:"risk_management" yaml:"risk_management"`
	Indicators       []IndicatorSpec `json:"indicators" yaml:"indicators"`
	EntryConditions  ConditionSet   `json:"entry_conditions" yaml:"entry_conditions"`
	ExitConditions   ConditionSet   `json:"exit_conditions" yaml:"exit_conditions"`
}
