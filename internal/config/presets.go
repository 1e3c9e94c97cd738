package config

import (
	"github.com/aristath/fundsim/internal/domain"
)

// SmokePreset is the small deterministic configuration used for smoke runs:
// a $10M fund over 10 years with the standard 60/30/10 zone split.
func SmokePreset() *Config {
	cfg := Defaults()
	cfg.Fund.Size = 10_000_000
	cfg.Fund.TermYears = 10
	cfg.Fund.VintageYear = 2024
	cfg.Zones.Allocations = map[domain.Zone]float64{
		domain.ZoneGreen:  0.6,
		domain.ZoneOrange: 0.3,
		domain.ZoneRed:    0.1,
	}
	// The smoke split intentionally overweights red, so relax the 5% red cap.
	cfg.Zones.Caps[domain.ZoneRed] = 0.10
	cfg.Guardrails.MaxZoneWeight[domain.ZoneRed] = 0.10
	cfg.LoanShape.AvgSize = 250_000
	cfg.Seed = 42
	cfg.ApplyDefaults()
	return cfg
}

// Preset100M is the full multi-tranche $100M configuration: leverage on,
// stepped management fee, tiered appreciation share and a deal-by-deal
// waterfall candidate via cfg.Fund.WaterfallStructure.
func Preset100M() *Config {
	cfg := Defaults()
	cfg.Fund.Size = 100_000_000
	cfg.Fund.TermYears = 12
	cfg.Fund.VintageYear = 2024
	cfg.Fund.HurdleRate = 0.08
	cfg.Fund.CarryRate = 0.20
	cfg.Zones.Allocations = map[domain.Zone]float64{
		domain.ZoneGreen:  0.70,
		domain.ZoneOrange: 0.26,
		domain.ZoneRed:    0.04,
	}
	cfg.LoanShape.AvgSize = 400_000
	cfg.LoanShape.SizeStd = 150_000
	cfg.LoanShape.MaxSize = 2_000_000
	cfg.Leverage.NAVLine.Enabled = true
	cfg.Leverage.SubscriptionLine.Enabled = true
	cfg.Fees.ManagementFeeSteps = []FeeStep{
		{FromMonth: 0, Rate: 0.02},
		{FromMonth: 60, Rate: 0.015},
		{FromMonth: 120, Rate: 0.01},
	}
	cfg.Exits.AppreciationShareMethod = "tiered"
	cfg.Exits.AppreciationTiers = []AppreciationTier{
		{Threshold: 0.10, Share: 0.10},
		{Threshold: 0.25, Share: 0.15},
		{Threshold: 0.50, Share: 0.20},
	}
	cfg.Seed = 7
	cfg.ApplyDefaults()
	return cfg
}
