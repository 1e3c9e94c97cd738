package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aristath/fundsim/internal/domain"
)

// Load reads a config document from disk, applies schema defaults, and
// validates it. Unknown fields are rejected so that typos surface as
// ConfigInvalid instead of silently falling back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a JSON config document.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Field: "(document)", Message: err.Error()}}}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config pre-populated with every schema default. Values
// without a default (fund size, allocations) are zero and will fail
// validation unless the document provides them.
func Defaults() *Config {
	return &Config{
		Fund: FundConfig{
			TermYears:          10,
			VintageYear:        2024,
			HurdleRate:         0.08,
			CarryRate:          0.20,
			CatchUpRate:        1.0,
			ManagementFeeRate:  0.02,
			GPCommitmentPct:    0.02,
			WaterfallStructure: domain.WaterfallEuropean,
		},
		LoanShape: LoanShapeConfig{
			AvgSize:    250_000,
			SizeStd:    75_000,
			MinSize:    50_000,
			MaxSize:    1_000_000,
			AvgLTV:     0.15,
			LTVStd:     0.05,
			MinLTV:     0.05,
			MaxLTV:     0.30,
			AvgTermYrs: 7,
			TermStdYrs: 2,
			AvgRate:    0.05,
			RateStd:    0.01,
			MinRate:    0.02,
			MaxRate:    0.10,
		},
		Zones: ZonesConfig{
			Caps: map[domain.Zone]float64{
				domain.ZoneGreen:  1.0,
				domain.ZoneOrange: 0.5,
				domain.ZoneRed:    0.05,
			},
			Params: map[domain.Zone]ZoneParams{
				domain.ZoneGreen:  {AppreciationRate: 0.05, Volatility: 0.08, DefaultRate: 0.01, RecoveryRate: 0.90, ForeclosureCost: 0.05},
				domain.ZoneOrange: {AppreciationRate: 0.04, Volatility: 0.12, DefaultRate: 0.03, RecoveryRate: 0.80, ForeclosureCost: 0.07},
				domain.ZoneRed:    {AppreciationRate: 0.03, Volatility: 0.18, DefaultRate: 0.06, RecoveryRate: 0.70, ForeclosureCost: 0.10},
			},
			Correlation: [][]float64{
				{1.0, 0.6, 0.4},
				{0.6, 1.0, 0.5},
				{0.4, 0.5, 1.0},
			},
		},
		PricePaths: PricePathConfig{
			Model:              ModelGBM,
			ReversionSpeed:     0.5,
			LongTermMean:       0.0,
			Bull:               RegimeParams{Mu: 0.08, Sigma: 0.10},
			Bear:               RegimeParams{Mu: -0.04, Sigma: 0.20},
			BullToBearProb:     0.04,
			BearToBullProb:     0.10,
			PropertyNoise:      true,
			PropertyVolatility: 0.05,
		},
		Exits: ExitConfig{
			BaseHazard:               0.01,
			MinHoldMonths:            12,
			TimeWeight:               0.4,
			TimeFactorCap:            3.0,
			PriceWeight:              0.4,
			EconomicWeight:           0.2,
			EconomicFactor:           0.5,
			SaleWeight:               0.6,
			RefinanceWeight:          0.25,
			DefaultWeight:            0.15,
			RefinanceRateSensitivity: 1.0,
			AppreciationShareMethod:  "pro_rata_ltv",
			AppreciationShareFactor:  1.0,
		},
		Reinvestment: ReinvestmentConfig{
			Enabled:          true,
			HorizonMonths:    60,
			LiquidityReserve: 0.05,
			LookbackMonths:   12,
		},
		Leverage: LeverageConfig{
			NAVLine: FacilityConfig{
				AdvanceRate:   0.25,
				Spread:        0.025,
				CommitmentFee: 0.005,
				MaxLTV:        0.50,
				MinDSCR:       1.2,
			},
			SubscriptionLine: FacilityConfig{
				CommitmentPct: 0.30,
				TermMonths:    36,
				Spread:        0.02,
				CommitmentFee: 0.003,
			},
			BaseRateInitial:    0.04,
			BaseRateMean:       0.035,
			BaseRateSpeed:      0.3,
			BaseRateVolatility: 0.01,
		},
		Fees: FeeConfig{
			ManagementFeeBasis: "committed",
			OriginationFeeRate: 0.01,
			TransactionFeeRate: 0.005,
			ExpenseFixedAnnual: 250_000,
			ExpenseNAVPct:      0.001,
			ExpenseSetup:       500_000,
			ExpenseGrowthRate:  0.02,
			GPFeeShare:         0.0,
		},
		Risk: RiskConfig{
			VaRConfidence:   0.95,
			RiskFreeRate:    0.03,
			BenchmarkReturn: 0.07,
			BenchmarkVol:    0.15,
			StressScenarios: []StressScenario{
				{Name: "price_down_30", PriceShock: -0.30, PDMultiplier: 1.5},
				{Name: "rates_up_200", RateShockBps: 200, PDMultiplier: 1.2},
				{Name: "default_wave", PDMultiplier: 3.0},
			},
		},
		Guardrails: GuardrailThresholds{
			MaxZoneWeight: map[domain.Zone]float64{
				domain.ZoneGreen:  1.0,
				domain.ZoneOrange: 0.5,
				domain.ZoneRed:    0.05,
			},
			MaxSuburbWeight:   0.15,
			MaxLoanLTV:        0.30,
			MaxPortfolioHHI:   0.25,
			MinIRR:            0.0,
			MinEquityMultiple: 1.0,
			MaxDefaultShare:   0.25,
			MaxLeverageRatio:  0.50,
			MaxModelDrift:     0.10,
		},
		// Emission and persistence features are opt-in; only the model
		// granularity flag defaults on.
		Features: FeatureFlags{
			PropertyLevelPaths: true,
		},
	}
}

// ApplyDefaults fills in the few derived defaults that depend on other
// fields and so cannot live in Defaults().
func (c *Config) ApplyDefaults() {
	if c.Reinvestment.Enabled && c.Reinvestment.HorizonMonths == 0 {
		c.Reinvestment.HorizonMonths = c.Fund.TermMonths() / 2
	}
	if c.Leverage.SubscriptionLine.Enabled && c.Leverage.SubscriptionLine.TermMonths == 0 {
		c.Leverage.SubscriptionLine.TermMonths = c.Fund.TermMonths()
	}
	if len(c.Fees.ManagementFeeSteps) == 0 {
		c.Fees.ManagementFeeSteps = []FeeStep{{FromMonth: 0, Rate: c.Fund.ManagementFeeRate}}
	}
}
