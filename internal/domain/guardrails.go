package domain

// Severity ranks guardrail breaches. Ordering: Fail > Warn > Info.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityFail
)

// String returns the canonical lowercase name used in events and reports.
func (s Severity) String() string {
	switch s {
	case SeverityFail:
		return "FAIL"
	case SeverityWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// RuleLayer is the scope a guardrail rule evaluates at.
type RuleLayer string

const (
	LayerLoan      RuleLayer = "loan"
	LayerZone      RuleLayer = "zone"
	LayerPortfolio RuleLayer = "portfolio"
	LayerModel     RuleLayer = "model"
)

// Breach is one guardrail rule violation. Guardrails never abort a run;
// breaches are collected into the report and surfaced with a severity.
type Breach struct {
	Code      string    `json:"code" msgpack:"code"`
	Severity  Severity  `json:"severity" msgpack:"severity"`
	Value     float64   `json:"value" msgpack:"value"`
	Threshold float64   `json:"threshold" msgpack:"threshold"`
	Layer     RuleLayer `json:"layer" msgpack:"layer"`
	Message   string    `json:"message" msgpack:"message"`
}

// GuardrailReport is the full set of breaches for one completed run.
type GuardrailReport struct {
	Breaches   []Breach `json:"breaches" msgpack:"breaches"`
	WorstLevel Severity `json:"worst_level" msgpack:"worst_level"`
}

// Add appends a breach and updates the worst observed level.
func (r *GuardrailReport) Add(b Breach) {
	r.Breaches = append(r.Breaches, b)
	if b.Severity > r.WorstLevel {
		r.WorstLevel = b.Severity
	}
}

// CountAt returns the number of breaches at exactly the given severity.
func (r *GuardrailReport) CountAt(s Severity) int {
	n := 0
	for _, b := range r.Breaches {
		if b.Severity == s {
			n++
		}
	}
	return n
}
