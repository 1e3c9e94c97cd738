// Package config defines the validated simulation configuration. A Config is
// immutable once validated: the engine and all modules treat it as read-only
// shared input. Loading is JSON-based; every parameter either carries a
// schema default applied at load time or must be present in the document.
package config

import (
	"github.com/aristath/fundsim/internal/domain"
)

// Config is the root configuration for one simulation run.
type Config struct {
	Fund         FundConfig          `json:"fund"`
	LoanShape    LoanShapeConfig     `json:"loan_shape"`
	Zones        ZonesConfig         `json:"zones"`
	PricePaths   PricePathConfig     `json:"price_paths"`
	Exits        ExitConfig          `json:"exits"`
	Reinvestment ReinvestmentConfig  `json:"reinvestment"`
	Leverage     LeverageConfig      `json:"leverage"`
	Fees         FeeConfig           `json:"fees"`
	Risk         RiskConfig          `json:"risk"`
	Guardrails   GuardrailThresholds `json:"guardrails"`
	Features     FeatureFlags        `json:"features"`
	Seed         uint64              `json:"seed"`
}

// FundConfig holds the fund-level terms.
type FundConfig struct {
	Size               float64                   `json:"size"`
	TermYears          int                       `json:"term_years"`
	VintageYear        int                       `json:"vintage_year"`
	HurdleRate         float64                   `json:"hurdle_rate"`
	CarryRate          float64                   `json:"carry_rate"`
	CatchUpRate        float64                   `json:"catch_up_rate"`
	ManagementFeeRate  float64                   `json:"management_fee_rate"`
	GPCommitmentPct    float64                   `json:"gp_commitment_pct"`
	WaterfallStructure domain.WaterfallStructure `json:"waterfall_structure"`
}

// TermMonths returns the fund term in months.
func (f FundConfig) TermMonths() int {
	return f.TermYears * 12
}

// LoanShapeConfig controls the truncated-normal draws of the loan generator.
type LoanShapeConfig struct {
	AvgSize    float64 `json:"avg_size"`
	SizeStd    float64 `json:"size_std"`
	MinSize    float64 `json:"min_size"`
	MaxSize    float64 `json:"max_size"`
	AvgLTV     float64 `json:"avg_ltv"`
	LTVStd     float64 `json:"ltv_std"`
	MinLTV     float64 `json:"min_ltv"`
	MaxLTV     float64 `json:"max_ltv"`
	AvgTermYrs float64 `json:"avg_term_years"`
	TermStdYrs float64 `json:"term_std_years"`
	AvgRate    float64 `json:"avg_rate"`
	RateStd    float64 `json:"rate_std"`
	MinRate    float64 `json:"min_rate"`
	MaxRate    float64 `json:"max_rate"`
}

// ZoneParams holds the per-zone stochastic parameters.
type ZoneParams struct {
	AppreciationRate float64 `json:"appreciation_rate"` // annual drift
	Volatility       float64 `json:"volatility"`        // annual sigma
	DefaultRate      float64 `json:"default_rate"`      // annual PD
	RecoveryRate     float64 `json:"recovery_rate"`
	ForeclosureCost  float64 `json:"foreclosure_cost"` // fraction of property value
}

// ZonesConfig holds target allocations, caps and per-zone parameters.
type ZonesConfig struct {
	Allocations map[domain.Zone]float64    `json:"allocations"`
	Caps        map[domain.Zone]float64    `json:"caps"`
	Params      map[domain.Zone]ZoneParams `json:"params"`

	// Correlation is the zone correlation matrix in AllZones order.
	// Must be symmetric positive-definite with unit diagonal.
	Correlation [][]float64 `json:"correlation"`
}

// PricePathModel selects the stochastic model for zone price paths.
type PricePathModel string

const (
	ModelGBM             PricePathModel = "gbm"
	ModelMeanReversion   PricePathModel = "mean_reversion"
	ModelRegimeSwitching PricePathModel = "regime_switching"
)

// RegimeParams holds per-regime drift/volatility for the regime-switching
// model.
type RegimeParams struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

// PricePathConfig selects and parameterizes the price-path model.
type PricePathConfig struct {
	Model PricePathModel `json:"model"`

	// Mean reversion (OU on log price).
	ReversionSpeed float64 `json:"reversion_speed"` // kappa
	LongTermMean   float64 `json:"long_term_mean"`  // theta, log-index level

	// Regime switching.
	Bull           RegimeParams `json:"bull"`
	Bear           RegimeParams `json:"bear"`
	BullToBearProb float64      `json:"bull_to_bear_prob"` // monthly
	BearToBullProb float64      `json:"bear_to_bull_prob"` // monthly

	// Idiosyncratic per-property noise.
	PropertyNoise      bool    `json:"property_noise"`
	PropertyVolatility float64 `json:"property_volatility"` // annual sigma of the multiplier
}

// ExitConfig parameterizes the hazard model and proceeds computation.
type ExitConfig struct {
	BaseHazard               float64 `json:"base_hazard"` // monthly
	MinHoldMonths            int     `json:"min_hold_months"`
	TimeWeight               float64 `json:"time_weight"`
	TimeFactorCap            float64 `json:"time_factor_cap"`
	PriceWeight              float64 `json:"price_weight"`
	EconomicWeight           float64 `json:"economic_weight"`
	EconomicFactor           float64 `json:"economic_factor"` // macro state in [0,1]
	SaleWeight               float64 `json:"sale_weight"`
	RefinanceWeight          float64 `json:"refinance_weight"`
	DefaultWeight            float64 `json:"default_weight"`
	RefinanceRateSensitivity float64 `json:"refinance_rate_sensitivity"`

	// Appreciation share: "pro_rata_ltv" or "tiered".
	AppreciationShareMethod string             `json:"appreciation_share_method"`
	AppreciationShareFactor float64            `json:"appreciation_share_factor"`
	AppreciationTiers       []AppreciationTier `json:"appreciation_tiers"`
}

// AppreciationTier maps a total-appreciation threshold to a share fraction.
// Tiers are evaluated in order; the last tier whose threshold is not
// exceeded applies.
type AppreciationTier struct {
	Threshold float64 `json:"threshold"` // total appreciation, e.g. 0.25 = +25%
	Share     float64 `json:"share"`
}

// ReinvestmentConfig controls the reinvestment window.
type ReinvestmentConfig struct {
	Enabled          bool    `json:"enabled"`
	HorizonMonths    int     `json:"horizon_months"`
	LiquidityReserve float64 `json:"liquidity_reserve"` // fraction of proceeds held back
	DynamicWeights   bool    `json:"dynamic_weights"`
	LookbackMonths   int     `json:"lookback_months"`
}

// FacilityConfig describes one credit facility.
type FacilityConfig struct {
	Enabled       bool    `json:"enabled"`
	AdvanceRate   float64 `json:"advance_rate"`   // NAV line: limit = advance_rate * NAV
	CommitmentPct float64 `json:"commitment_pct"` // sub line: limit = pct * uncalled commitments
	TermMonths    int     `json:"term_months"`    // sub line tenor, 0 = fund life
	Spread        float64 `json:"spread"`         // annual, over base rate
	CommitmentFee float64 `json:"commitment_fee"` // annual, on undrawn
	MaxLTV        float64 `json:"max_ltv"`        // covenant
	MinDSCR       float64 `json:"min_dscr"`       // covenant
}

// LeverageConfig holds the two facilities and the base-rate process.
type LeverageConfig struct {
	NAVLine          FacilityConfig `json:"nav_line"`
	SubscriptionLine FacilityConfig `json:"subscription_line"`

	// Mean-reverting base-rate process.
	BaseRateInitial    float64 `json:"base_rate_initial"`
	BaseRateMean       float64 `json:"base_rate_mean"`
	BaseRateSpeed      float64 `json:"base_rate_speed"`
	BaseRateVolatility float64 `json:"base_rate_volatility"`
}

// FeeStep is one step of a stepped management-fee schedule.
type FeeStep struct {
	FromMonth int     `json:"from_month"`
	Rate      float64 `json:"rate"`
}

// FeeConfig holds the fee schedule.
type FeeConfig struct {
	ManagementFeeBasis string    `json:"management_fee_basis"` // "committed" or "nav"
	ManagementFeeSteps []FeeStep `json:"management_fee_steps"` // empty = flat Fund.ManagementFeeRate
	OriginationFeeRate float64   `json:"origination_fee_rate"`
	TransactionFeeRate float64   `json:"transaction_fee_rate"` // on exit proceeds
	ExpenseFixedAnnual float64   `json:"expense_fixed_annual"`
	ExpenseNAVPct      float64   `json:"expense_nav_pct"`
	ExpenseSetup       float64   `json:"expense_setup"`
	ExpenseGrowthRate  float64   `json:"expense_growth_rate"` // annual growth of fixed expenses
	GPFeeShare         float64   `json:"gp_fee_share"`        // share of fees allocated to GP
}

// StressScenario is one deterministic shock applied by the risk module.
type StressScenario struct {
	Name         string  `json:"name"`
	PriceShock   float64 `json:"price_shock"`    // e.g. -0.30
	RateShockBps float64 `json:"rate_shock_bps"` // e.g. +200
	PDMultiplier float64 `json:"pd_multiplier"`  // e.g. 2.0
}

// RiskConfig holds risk-module settings.
type RiskConfig struct {
	VaRConfidence   float64          `json:"var_confidence"`
	RiskFreeRate    float64          `json:"risk_free_rate"`
	BenchmarkReturn float64          `json:"benchmark_return"` // annual, for alpha/beta
	BenchmarkVol    float64          `json:"benchmark_vol"`
	StressScenarios []StressScenario `json:"stress_scenarios"`
}

// GuardrailThresholds parameterizes the guardrail rule set.
type GuardrailThresholds struct {
	MaxZoneWeight     map[domain.Zone]float64 `json:"max_zone_weight"`
	MaxSuburbWeight   float64                 `json:"max_suburb_weight"`
	MaxLoanLTV        float64                 `json:"max_loan_ltv"`
	MaxPortfolioHHI   float64                 `json:"max_portfolio_hhi"`
	MinIRR            float64                 `json:"min_irr"`
	MinEquityMultiple float64                 `json:"min_equity_multiple"`
	MaxDefaultShare   float64                 `json:"max_default_share"`
	MaxLeverageRatio  float64                 `json:"max_leverage_ratio"`
	MaxModelDrift     float64                 `json:"max_model_drift"` // |annualized path drift - configured mu|
}

// FeatureFlags gates optional behaviour.
type FeatureFlags struct {
	IntermediateResults bool `json:"intermediate_results"`
	PropertyLevelPaths  bool `json:"property_level_paths"`
	PersistSnapshots    bool `json:"persist_snapshots"`
}
