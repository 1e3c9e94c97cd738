package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/fundsim/internal/domain"
)

// allocationTolerance is the permitted deviation of zone fractions from 1.
const allocationTolerance = 1e-9

// FieldError is one validation failure tied to a config field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every validation failure found in a config.
// It corresponds to the ConfigInvalid error kind: raised before any stage
// runs, terminating the run.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config invalid"
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "config invalid: " + strings.Join(parts, "; ")
}

// validator accumulates field errors during a Validate pass.
type validator struct {
	errs []FieldError
}

func (v *validator) addf(field, format string, args ...interface{}) {
	v.errs = append(v.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) requirePositive(field string, val float64) {
	if val <= 0 {
		v.addf(field, "must be positive, got %g", val)
	}
}

func (v *validator) requireFraction(field string, val float64) {
	if val < 0 || val > 1 {
		v.addf(field, "must be in [0,1], got %g", val)
	}
}

// Validate checks every constraint the schema imposes. It returns a
// *ValidationError listing all failures, or nil when the config is usable.
func (c *Config) Validate() error {
	v := &validator{}

	v.validateFund(c.Fund)
	v.validateLoanShape(c.LoanShape, c.Fund)
	v.validateZones(c.Zones)
	v.validatePricePaths(c.PricePaths)
	v.validateExits(c.Exits)
	v.validateReinvestment(c.Reinvestment, c.Fund)
	v.validateLeverage(c.Leverage)
	v.validateFees(c.Fees)
	v.validateRisk(c.Risk)

	if len(v.errs) > 0 {
		return &ValidationError{Errors: v.errs}
	}
	return nil
}

func (v *validator) validateFund(f FundConfig) {
	v.requirePositive("fund.size", f.Size)
	if f.TermYears < 1 || f.TermYears > 50 {
		v.addf("fund.term_years", "must be in [1,50], got %d", f.TermYears)
	}
	if f.VintageYear < 1970 || f.VintageYear > 2100 {
		v.addf("fund.vintage_year", "must be in [1970,2100], got %d", f.VintageYear)
	}
	v.requireFraction("fund.hurdle_rate", f.HurdleRate)
	if f.CarryRate < 0 || f.CarryRate >= 1 {
		v.addf("fund.carry_rate", "must be in [0,1), got %g", f.CarryRate)
	}
	v.requireFraction("fund.catch_up_rate", f.CatchUpRate)
	v.requireFraction("fund.management_fee_rate", f.ManagementFeeRate)
	v.requireFraction("fund.gp_commitment_pct", f.GPCommitmentPct)
	switch f.WaterfallStructure {
	case domain.WaterfallEuropean, domain.WaterfallAmerican:
	default:
		v.addf("fund.waterfall_structure", "must be european or american, got %q", f.WaterfallStructure)
	}
}

func (v *validator) validateLoanShape(l LoanShapeConfig, f FundConfig) {
	v.requirePositive("loan_shape.avg_size", l.AvgSize)
	v.requirePositive("loan_shape.min_size", l.MinSize)
	if l.MaxSize < l.MinSize {
		v.addf("loan_shape.max_size", "must be >= min_size (%g), got %g", l.MinSize, l.MaxSize)
	}
	if l.AvgSize < l.MinSize || l.AvgSize > l.MaxSize {
		v.addf("loan_shape.avg_size", "must lie in [min_size, max_size]")
	}
	if l.SizeStd < 0 {
		v.addf("loan_shape.size_std", "must be >= 0, got %g", l.SizeStd)
	}
	if l.MinLTV <= 0 || l.MinLTV > 1 {
		v.addf("loan_shape.min_ltv", "must be in (0,1], got %g", l.MinLTV)
	}
	if l.MaxLTV < l.MinLTV || l.MaxLTV > 1 {
		v.addf("loan_shape.max_ltv", "must be in [min_ltv,1], got %g", l.MaxLTV)
	}
	if l.AvgLTV < l.MinLTV || l.AvgLTV > l.MaxLTV {
		v.addf("loan_shape.avg_ltv", "must lie in [min_ltv, max_ltv]")
	}
	if l.AvgTermYrs <= 0 || l.AvgTermYrs > float64(f.TermYears) {
		v.addf("loan_shape.avg_term_years", "must be in (0, fund term], got %g", l.AvgTermYrs)
	}
	if l.MinRate < 0 || l.MaxRate < l.MinRate {
		v.addf("loan_shape.rate", "rate bounds invalid: min %g max %g", l.MinRate, l.MaxRate)
	}
}

func (v *validator) validateZones(z ZonesConfig) {
	sum := 0.0
	for _, zone := range domain.AllZones {
		frac, ok := z.Allocations[zone]
		if !ok {
			v.addf("zones.allocations", "missing zone %s", zone)
			continue
		}
		if frac < 0 {
			v.addf("zones.allocations", "zone %s fraction %g is negative", zone, frac)
		}
		if cap, ok := z.Caps[zone]; ok && frac > cap+allocationTolerance {
			v.addf("zones.allocations", "zone %s fraction %g exceeds cap %g", zone, frac, cap)
		}
		sum += frac
	}
	if math.Abs(sum-1) > 1e-6 {
		v.addf("zones.allocations", "fractions sum to %g, want 1", sum)
	}

	for _, zone := range domain.AllZones {
		p, ok := z.Params[zone]
		if !ok {
			v.addf("zones.params", "missing zone %s", zone)
			continue
		}
		if p.Volatility < 0 {
			v.addf("zones.params", "zone %s volatility %g is negative", zone, p.Volatility)
		}
		if p.DefaultRate < 0 || p.DefaultRate > 1 {
			v.addf("zones.params", "zone %s default_rate %g not in [0,1]", zone, p.DefaultRate)
		}
		if p.RecoveryRate < 0 || p.RecoveryRate > 1.5 {
			v.addf("zones.params", "zone %s recovery_rate %g not in [0,1.5]", zone, p.RecoveryRate)
		}
	}

	n := len(domain.AllZones)
	if len(z.Correlation) != n {
		v.addf("zones.correlation", "must be %dx%d, got %d rows", n, n, len(z.Correlation))
		return
	}
	for i, row := range z.Correlation {
		if len(row) != n {
			v.addf("zones.correlation", "row %d has %d columns, want %d", i, len(row), n)
			continue
		}
		if math.Abs(row[i]-1) > 1e-12 {
			v.addf("zones.correlation", "diagonal [%d][%d] must be 1, got %g", i, i, row[i])
		}
		for j := 0; j < i; j++ {
			if math.Abs(row[j]-z.Correlation[j][i]) > 1e-12 {
				v.addf("zones.correlation", "matrix not symmetric at [%d][%d]", i, j)
			}
			if row[j] < -1 || row[j] > 1 {
				v.addf("zones.correlation", "[%d][%d]=%g not in [-1,1]", i, j, row[j])
			}
		}
	}
}

func (v *validator) validatePricePaths(p PricePathConfig) {
	switch p.Model {
	case ModelGBM:
	case ModelMeanReversion:
		if p.ReversionSpeed <= 0 {
			v.addf("price_paths.reversion_speed", "must be positive, got %g", p.ReversionSpeed)
		}
	case ModelRegimeSwitching:
		v.requireFraction("price_paths.bull_to_bear_prob", p.BullToBearProb)
		v.requireFraction("price_paths.bear_to_bull_prob", p.BearToBullProb)
		if p.Bull.Sigma < 0 || p.Bear.Sigma < 0 {
			v.addf("price_paths", "regime sigmas must be >= 0")
		}
	default:
		v.addf("price_paths.model", "unknown model %q", p.Model)
	}
	if p.PropertyNoise && p.PropertyVolatility < 0 {
		v.addf("price_paths.property_volatility", "must be >= 0, got %g", p.PropertyVolatility)
	}
}

func (v *validator) validateExits(e ExitConfig) {
	if e.BaseHazard < 0 || e.BaseHazard > 1 {
		v.addf("exits.base_hazard", "must be in [0,1], got %g", e.BaseHazard)
	}
	if e.MinHoldMonths < 0 {
		v.addf("exits.min_hold_months", "must be >= 0, got %d", e.MinHoldMonths)
	}
	if e.SaleWeight < 0 || e.RefinanceWeight < 0 || e.DefaultWeight < 0 {
		v.addf("exits", "exit-kind weights must be >= 0")
	}
	if e.SaleWeight+e.RefinanceWeight+e.DefaultWeight <= 0 {
		v.addf("exits", "at least one exit-kind weight must be positive")
	}
	v.requireFraction("exits.economic_factor", e.EconomicFactor)
	switch e.AppreciationShareMethod {
	case "pro_rata_ltv":
		v.requireFraction("exits.appreciation_share_factor", e.AppreciationShareFactor)
	case "tiered":
		if len(e.AppreciationTiers) == 0 {
			v.addf("exits.appreciation_tiers", "tiered method needs at least one tier")
		}
		prev := math.Inf(-1)
		for i, tier := range e.AppreciationTiers {
			if tier.Threshold <= prev {
				v.addf("exits.appreciation_tiers", "tier %d threshold %g not strictly increasing", i, tier.Threshold)
			}
			prev = tier.Threshold
			v.requireFraction(fmt.Sprintf("exits.appreciation_tiers[%d].share", i), tier.Share)
		}
	default:
		v.addf("exits.appreciation_share_method", "must be pro_rata_ltv or tiered, got %q", e.AppreciationShareMethod)
	}
}

func (v *validator) validateReinvestment(r ReinvestmentConfig, f FundConfig) {
	if !r.Enabled {
		return
	}
	if r.HorizonMonths < 0 || r.HorizonMonths > f.TermMonths() {
		v.addf("reinvestment.horizon_months", "must be in [0, fund term], got %d", r.HorizonMonths)
	}
	v.requireFraction("reinvestment.liquidity_reserve", r.LiquidityReserve)
	if r.DynamicWeights && r.LookbackMonths <= 0 {
		v.addf("reinvestment.lookback_months", "must be positive with dynamic weights, got %d", r.LookbackMonths)
	}
}

func (v *validator) validateLeverage(l LeverageConfig) {
	for name, fac := range map[string]FacilityConfig{
		"leverage.nav_line":          l.NAVLine,
		"leverage.subscription_line": l.SubscriptionLine,
	} {
		if !fac.Enabled {
			continue
		}
		if fac.AdvanceRate < 0 || fac.AdvanceRate > 1 {
			v.addf(name+".advance_rate", "must be in [0,1], got %g", fac.AdvanceRate)
		}
		if fac.CommitmentPct < 0 || fac.CommitmentPct > 1 {
			v.addf(name+".commitment_pct", "must be in [0,1], got %g", fac.CommitmentPct)
		}
		if fac.Spread < 0 {
			v.addf(name+".spread", "must be >= 0, got %g", fac.Spread)
		}
		if fac.CommitmentFee < 0 {
			v.addf(name+".commitment_fee", "must be >= 0, got %g", fac.CommitmentFee)
		}
	}
	if l.BaseRateVolatility < 0 {
		v.addf("leverage.base_rate_volatility", "must be >= 0, got %g", l.BaseRateVolatility)
	}
	if l.BaseRateSpeed < 0 {
		v.addf("leverage.base_rate_speed", "must be >= 0, got %g", l.BaseRateSpeed)
	}
}

func (v *validator) validateFees(f FeeConfig) {
	switch f.ManagementFeeBasis {
	case "committed", "nav":
	default:
		v.addf("fees.management_fee_basis", "must be committed or nav, got %q", f.ManagementFeeBasis)
	}
	prev := -1
	for i, step := range f.ManagementFeeSteps {
		if step.FromMonth <= prev {
			v.addf("fees.management_fee_steps", "step %d from_month %d not strictly increasing", i, step.FromMonth)
		}
		prev = step.FromMonth
		v.requireFraction(fmt.Sprintf("fees.management_fee_steps[%d].rate", i), step.Rate)
	}
	v.requireFraction("fees.origination_fee_rate", f.OriginationFeeRate)
	v.requireFraction("fees.transaction_fee_rate", f.TransactionFeeRate)
	if f.ExpenseFixedAnnual < 0 || f.ExpenseSetup < 0 {
		v.addf("fees", "expenses must be >= 0")
	}
	v.requireFraction("fees.gp_fee_share", f.GPFeeShare)
}

func (v *validator) validateRisk(r RiskConfig) {
	if r.VaRConfidence <= 0 || r.VaRConfidence >= 1 {
		v.addf("risk.var_confidence", "must be in (0,1), got %g", r.VaRConfidence)
	}
	for i, s := range r.StressScenarios {
		if s.Name == "" {
			v.addf("risk.stress_scenarios", "scenario %d missing name", i)
		}
		if s.PriceShock < -1 {
			v.addf("risk.stress_scenarios", "scenario %q price shock %g below -100%%", s.Name, s.PriceShock)
		}
		if s.PDMultiplier < 0 {
			v.addf("risk.stress_scenarios", "scenario %q pd multiplier %g negative", s.Name, s.PDMultiplier)
		}
	}
}
