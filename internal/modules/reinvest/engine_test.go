package reinvest

import (
	"bytes"
	"context"
	"testing"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/modules/allocation"
	"github.com/aristath/fundsim/internal/modules/exits"
	"github.com/aristath/fundsim/internal/modules/loans"
	"github.com/aristath/fundsim/internal/modules/pricepaths"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipelineTo(t *testing.T, cfg *config.Config) (*engine.SimulationContext, *loans.Stage, *exits.Stage) {
	t.Helper()
	cat := tlsdata.Synthetic(1, tlsdata.DefaultSyntheticOptions())
	sim := engine.NewContext("r", 0, cfg.Seed, cfg, cat)
	noop := func(float64, string) {}
	ctx := context.Background()

	loanStage := loans.NewStage(zerolog.Nop())
	exitStage := exits.NewStage(zerolog.Nop())
	require.NoError(t, allocation.NewStage(zerolog.Nop()).Run(ctx, sim, noop))
	require.NoError(t, loanStage.Run(ctx, sim, noop))
	require.NoError(t, pricepaths.NewStage(zerolog.Nop()).Run(ctx, sim, noop))
	require.NoError(t, exitStage.Run(ctx, sim, noop))
	return sim, loanStage, exitStage
}

func runReinvest(t *testing.T, cfg *config.Config) *engine.SimulationContext {
	t.Helper()
	sim, loanStage, exitStage := pipelineTo(t, cfg)
	stage := NewStage(loanStage.Generator(), exitStage.Simulator(), zerolog.Nop())
	require.NoError(t, stage.Run(context.Background(), sim, func(float64, string) {}))
	return sim
}

func TestReinvestmentCreatesFlaggedLoans(t *testing.T) {
	cfg := config.SmokePreset()
	sim := runReinvest(t, cfg)

	var reinvested []domain.Loan
	for _, l := range sim.Loans {
		if l.Reinvestment {
			reinvested = append(reinvested, l)
		}
	}
	require.NotEmpty(t, reinvested, "a 60-month window over a 10y fund should recycle some exits")

	for _, l := range reinvested {
		assert.Greater(t, l.OriginationMonth, 0)
		assert.LessOrEqual(t, l.OriginationMonth, cfg.Reinvestment.HorizonMonths)
		assert.LessOrEqual(t, l.OriginationMonth+l.TermMonths, cfg.Fund.TermMonths(),
			"reinvested loan must not extend past fund term")
	}
}

func TestEveryReinvestedLoanHasExit(t *testing.T) {
	cfg := config.SmokePreset()
	sim := runReinvest(t, cfg)

	exitsByLoan := map[string]int{}
	for _, e := range sim.Exits {
		exitsByLoan[e.LoanID]++
	}
	for _, l := range sim.Loans {
		assert.Equal(t, 1, exitsByLoan[l.ID], "loan %s", l.ID)
	}
}

func TestDisabledReinvestmentIsNoop(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Reinvestment.Enabled = false
	sim := runReinvest(t, cfg)

	for _, l := range sim.Loans {
		assert.False(t, l.Reinvestment)
	}
	assert.Empty(t, sim.ReinvestedByMonth)
}

func TestLiquidityReserveHeldBack(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Reinvestment.LiquidityReserve = 0.10
	sim := runReinvest(t, cfg)

	if len(sim.ReinvestedByMonth) > 0 {
		assert.Positive(t, sim.ReserveHeld)
	}
}

func TestReinvestmentDeterministic(t *testing.T) {
	cfg := config.SmokePreset()
	a := runReinvest(t, cfg)
	b := runReinvest(t, cfg)
	assert.Equal(t, a.Loans, b.Loans)
	assert.Equal(t, a.Exits, b.Exits)
}

func TestDynamicWeightsRespectCaps(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Reinvestment.DynamicWeights = true
	cfg.Reinvestment.LookbackMonths = 12
	sim, loanStage, exitStage := pipelineTo(t, cfg)
	e := NewEngine(loanStage.Generator(), exitStage.Simulator(), zerolog.Nop())

	w := e.weights(sim, 24)
	total := 0.0
	for _, z := range domain.AllZones {
		total += w[z]
		if zcap, ok := cfg.Zones.Caps[z]; ok {
			assert.LessOrEqual(t, w[z], zcap+1e-9, "zone %s over cap", z)
		}
	}
	assert.LessOrEqual(t, total, 1.0+1e-9)
	assert.Greater(t, total, 0.5)
}

func TestMissingCatalogueEntryKeepsZonePath(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.PricePaths.PropertyNoise = true
	cfg.Features.PropertyLevelPaths = true
	sim, loanStage, exitStage := pipelineTo(t, cfg)

	var buf bytes.Buffer
	e := NewEngine(loanStage.Generator(), exitStage.Simulator(), zerolog.New(&buf))

	loan := domain.Loan{ID: "x", PropertyID: "no-such-property"}
	e.ensureMultiplier(sim, &loan)

	_, ok := sim.PricePaths.PropertyMultipliers[loan.PropertyID]
	assert.False(t, ok, "an unknown property gets no multiplier series")
	assert.Contains(t, buf.String(), "no catalogue entry for reinvested loan")
	assert.Contains(t, buf.String(), "no-such-property")
}
