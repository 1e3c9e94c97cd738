// Package domain contains the core value types shared across the simulation
// modules: loans, price paths, exit events, cashflow ledgers, waterfall
// results and guardrail reports. Types here are pure data - no behaviour that
// touches infrastructure.
package domain

// Zone is the TLS risk classification of a geographic area.
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneOrange Zone = "orange"
	ZoneRed    Zone = "red"
)

// AllZones lists the zones in canonical order. Iteration over zone maps must
// use this slice so that draws from named RNG streams stay deterministic.
var AllZones = []Zone{ZoneGreen, ZoneOrange, ZoneRed}

// ExitKind is the way a loan leaves the portfolio.
type ExitKind string

const (
	ExitSale      ExitKind = "sale"
	ExitRefinance ExitKind = "refinance"
	ExitDefault   ExitKind = "default"
	ExitTerm      ExitKind = "term"
)

// Loan is a single home-equity loan in the portfolio.
// Fields up to ReinvestmentFlag are written by the loan generator; the exit
// fields are written once by the exit simulator.
type Loan struct {
	ID               string  `json:"id" msgpack:"id"`
	Zone             Zone    `json:"zone" msgpack:"zone"`
	SuburbID         string  `json:"suburb_id" msgpack:"suburb_id"`
	PropertyID       string  `json:"property_id" msgpack:"property_id"`
	OriginationMonth int     `json:"origination_month" msgpack:"origination_month"`
	Principal        float64 `json:"principal" msgpack:"principal"`
	LTV              float64 `json:"ltv" msgpack:"ltv"`
	TermMonths       int     `json:"term_months" msgpack:"term_months"`
	Rate             float64 `json:"rate" msgpack:"rate"`
	OriginationFee   float64 `json:"origination_fee" msgpack:"origination_fee"`
	Reinvestment     bool    `json:"reinvestment" msgpack:"reinvestment"`
	PropertyValue    float64 `json:"property_value" msgpack:"property_value"`

	// Exit fields, populated by the exit simulator.
	ExitMonth         int      `json:"exit_month" msgpack:"exit_month"`
	ExitKind          ExitKind `json:"exit_kind,omitempty" msgpack:"exit_kind"`
	ExitValue         float64  `json:"exit_value" msgpack:"exit_value"`
	AppreciationShare float64  `json:"appreciation_share" msgpack:"appreciation_share"`
	RecoveryValue     float64  `json:"recovery_value" msgpack:"recovery_value"`
}

// ExitEvent records the single exit of one loan.
type ExitEvent struct {
	LoanID        string   `json:"loan_id" msgpack:"loan_id"`
	Month         int      `json:"month" msgpack:"month"`
	Kind          ExitKind `json:"kind" msgpack:"kind"`
	GrossProceeds float64  `json:"gross_proceeds" msgpack:"gross_proceeds"`
	FundProceeds  float64  `json:"fund_proceeds" msgpack:"fund_proceeds"`
}

// PricePathSet holds the simulated monthly price indices. Zone paths have
// length horizon+1 with index 0 fixed at 1.0. Property multipliers are
// optional idiosyncratic series keyed by property id.
type PricePathSet struct {
	HorizonMonths       int                  `json:"horizon_months" msgpack:"horizon_months"`
	Zone                map[Zone][]float64   `json:"zone" msgpack:"zone"`
	PropertyMultipliers map[string][]float64 `json:"property_multipliers,omitempty" msgpack:"property_multipliers"`
}

// ZoneIndex returns the zone price index at month m, clamping m to the
// simulated horizon.
func (p *PricePathSet) ZoneIndex(z Zone, m int) float64 {
	path, ok := p.Zone[z]
	if !ok || len(path) == 0 {
		return 1.0
	}
	if m < 0 {
		m = 0
	}
	if m >= len(path) {
		m = len(path) - 1
	}
	return path[m]
}

// PropertyIndex returns the combined zone x idiosyncratic price index for a
// property at month m.
func (p *PricePathSet) PropertyIndex(z Zone, propertyID string, m int) float64 {
	idx := p.ZoneIndex(z, m)
	if mult, ok := p.PropertyMultipliers[propertyID]; ok && len(mult) > 0 {
		i := m
		if i < 0 {
			i = 0
		}
		if i >= len(mult) {
			i = len(mult) - 1
		}
		idx *= mult[i]
	}
	return idx
}
