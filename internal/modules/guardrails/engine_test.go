package guardrails

import (
	"context"
	"testing"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluate(t *testing.T, sim *engine.SimulationContext) *domain.GuardrailReport {
	t.Helper()
	require.NoError(t, NewStage(zerolog.Nop()).Run(context.Background(), sim, func(float64, string) {}))
	require.NotNil(t, sim.GuardrailReport)
	return sim.GuardrailReport
}

func baseContext(cfg *config.Config) *engine.SimulationContext {
	sim := engine.NewContext("r", 0, 1, cfg, nil)
	sim.PricePaths = &domain.PricePathSet{HorizonMonths: cfg.Fund.TermMonths()}
	return sim
}

func TestEmptyPortfolioFails(t *testing.T) {
	cfg := config.SmokePreset()
	sim := baseContext(cfg)
	report := evaluate(t, sim)

	assert.Equal(t, domain.SeverityFail, report.WorstLevel)
	found := false
	for _, b := range report.Breaches {
		if b.Code == "empty_portfolio" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLoanLTVSeverityEscalates(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Guardrails.MaxLoanLTV = 0.20
	sim := baseContext(cfg)
	sim.Loans = []domain.Loan{
		{ID: "ok", Zone: domain.ZoneGreen, SuburbID: "s1", Principal: 100, LTV: 0.15},
		{ID: "warn", Zone: domain.ZoneGreen, SuburbID: "s2", Principal: 100, LTV: 0.22},
		{ID: "fail", Zone: domain.ZoneGreen, SuburbID: "s3", Principal: 100, LTV: 0.30},
	}
	report := evaluate(t, sim)

	var warns, fails int
	for _, b := range report.Breaches {
		if b.Code != "loan_ltv" {
			continue
		}
		assert.Equal(t, domain.LayerLoan, b.Layer)
		switch b.Severity {
		case domain.SeverityWarn:
			warns++
		case domain.SeverityFail:
			fails++
		}
	}
	assert.Equal(t, 1, warns)
	assert.Equal(t, 1, fails)
}

func TestZoneCapBreachIsFail(t *testing.T) {
	cfg := config.SmokePreset()
	sim := baseContext(cfg)
	// Everything in red, far over its 10% cap.
	sim.Loans = []domain.Loan{
		{ID: "a", Zone: domain.ZoneRed, SuburbID: "s1", Principal: 100, LTV: 0.1},
		{ID: "b", Zone: domain.ZoneRed, SuburbID: "s2", Principal: 100, LTV: 0.1},
	}
	report := evaluate(t, sim)

	found := false
	for _, b := range report.Breaches {
		if b.Code == "zone_weight" && b.Severity == domain.SeverityFail {
			found = true
			assert.InDelta(t, 1.0, b.Value, 1e-9)
		}
	}
	assert.True(t, found, "red at 100%% must breach its cap")
}

func TestSuburbConcentration(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Guardrails.MaxSuburbWeight = 0.25
	sim := baseContext(cfg)
	sim.Loans = []domain.Loan{
		{ID: "a", Zone: domain.ZoneGreen, SuburbID: "hot", Principal: 500, LTV: 0.1},
		{ID: "b", Zone: domain.ZoneGreen, SuburbID: "cold", Principal: 500, LTV: 0.1},
	}
	report := evaluate(t, sim)

	suburbBreaches := 0
	for _, b := range report.Breaches {
		if b.Code == "suburb_weight" {
			suburbBreaches++
			assert.Equal(t, domain.SeverityFail, b.Severity, "50%% in one suburb is 2x the cap")
		}
	}
	assert.Equal(t, 2, suburbBreaches)
}

func TestDefaultShareRule(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Guardrails.MaxDefaultShare = 0.30
	sim := baseContext(cfg)
	sim.Loans = []domain.Loan{
		{ID: "a", Zone: domain.ZoneGreen, SuburbID: "s1", Principal: 60, LTV: 0.1, ExitKind: domain.ExitDefault},
		{ID: "b", Zone: domain.ZoneGreen, SuburbID: "s2", Principal: 40, LTV: 0.1, ExitKind: domain.ExitSale},
	}
	report := evaluate(t, sim)

	found := false
	for _, b := range report.Breaches {
		if b.Code == "default_share" {
			found = true
			assert.InDelta(t, 0.6, b.Value, 1e-9)
			assert.Equal(t, domain.SeverityFail, b.Severity)
		}
	}
	assert.True(t, found)
}

func TestInvalidPricePathIsModelFail(t *testing.T) {
	cfg := config.SmokePreset()
	sim := baseContext(cfg)
	sim.Loans = []domain.Loan{{ID: "a", Zone: domain.ZoneGreen, SuburbID: "s1", Principal: 100, LTV: 0.1}}
	sim.PricePaths.Zone = map[domain.Zone][]float64{
		domain.ZoneGreen: {1.0, 1.01, -0.5},
	}
	report := evaluate(t, sim)

	found := false
	for _, b := range report.Breaches {
		if b.Code == "invalid_price_path" {
			found = true
			assert.Equal(t, domain.LayerModel, b.Layer)
			assert.Equal(t, domain.SeverityFail, b.Severity)
		}
	}
	assert.True(t, found)
}

func TestCleanPortfolioHasNoWarnings(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Guardrails.MaxModelDrift = 0      // realized drift on a short fabricated path is meaningless
	cfg.Guardrails.MaxSuburbWeight = 0.75 // three loans cannot honour a 15% suburb cap
	sim := baseContext(cfg)
	irr := 0.10
	sim.Loans = []domain.Loan{
		{ID: "a", Zone: domain.ZoneGreen, SuburbID: "s1", Principal: 70, LTV: 0.15, ExitKind: domain.ExitSale},
		{ID: "b", Zone: domain.ZoneOrange, SuburbID: "s2", Principal: 25, LTV: 0.15, ExitKind: domain.ExitSale},
		{ID: "c", Zone: domain.ZoneRed, SuburbID: "s3", Principal: 5, LTV: 0.15, ExitKind: domain.ExitRefinance},
	}
	sim.Cashflows = &domain.CashflowLedger{IRR: &irr, EquityMultiple: 1.6}
	report := evaluate(t, sim)

	assert.LessOrEqual(t, report.WorstLevel, domain.SeverityInfo)
	assert.Zero(t, report.CountAt(domain.SeverityWarn))
	assert.Zero(t, report.CountAt(domain.SeverityFail))
}
