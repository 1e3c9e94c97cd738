package domain

// Metric is a possibly-unavailable risk metric. Value is nil when the metric
// could not be computed; RequiresMC marks metrics that are only defined
// across a Monte Carlo distribution.
type Metric struct {
	Value      *float64 `json:"value" msgpack:"value"`
	RequiresMC bool     `json:"requires_mc,omitempty" msgpack:"requires_mc"`
	Diagnostic string   `json:"diagnostic,omitempty" msgpack:"diagnostic"`
}

// MetricOf wraps a computed value.
func MetricOf(v float64) Metric {
	return Metric{Value: &v}
}

// NullMetric marks a metric unavailable with a diagnostic.
func NullMetric(diagnostic string, requiresMC bool) Metric {
	return Metric{RequiresMC: requiresMC, Diagnostic: diagnostic}
}

// StressOutcome is the result of one deterministic stress scenario.
type StressOutcome struct {
	Scenario       string   `json:"scenario" msgpack:"scenario"`
	IRR            *float64 `json:"irr" msgpack:"irr"`
	EquityMultiple float64  `json:"equity_multiple" msgpack:"equity_multiple"`
	IRRDelta       *float64 `json:"irr_delta" msgpack:"irr_delta"`
}

// RiskMetrics is the risk module's output for one path.
type RiskMetrics struct {
	Volatility Metric `json:"volatility" msgpack:"volatility"`
	Alpha      Metric `json:"alpha" msgpack:"alpha"`
	Beta       Metric `json:"beta" msgpack:"beta"`
	VaR        Metric `json:"var" msgpack:"var"`
	CVaR       Metric `json:"cvar" msgpack:"cvar"`
	Sharpe     Metric `json:"sharpe" msgpack:"sharpe"`
	// MSquared is the Modigliani risk-adjusted return: the portfolio's
	// excess return rescaled to the benchmark's volatility.
	MSquared    Metric `json:"m_squared" msgpack:"m_squared"`
	Sortino     Metric `json:"sortino" msgpack:"sortino"`
	Calmar      Metric `json:"calmar" msgpack:"calmar"`
	MaxDrawdown Metric `json:"max_drawdown" msgpack:"max_drawdown"`

	ZoneHHI   float64 `json:"zone_hhi" msgpack:"zone_hhi"`
	SuburbHHI float64 `json:"suburb_hhi" msgpack:"suburb_hhi"`

	StressOutcomes []StressOutcome `json:"stress_outcomes" msgpack:"stress_outcomes"`
}
