package loans

import (
	"context"
	"testing"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/modules/allocation"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSim(t *testing.T, cfg *config.Config) *engine.SimulationContext {
	t.Helper()
	cat := tlsdata.Synthetic(1, tlsdata.DefaultSyntheticOptions())
	sim := engine.NewContext("r", 0, cfg.Seed, cfg, cat)

	alloc := allocation.NewStage(zerolog.Nop())
	require.NoError(t, alloc.Run(context.Background(), sim, func(float64, string) {}))
	return sim
}

func TestStageGeneratesPortfolio(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(t, cfg)
	stage := NewStage(zerolog.Nop())

	require.NoError(t, stage.Run(context.Background(), sim, func(float64, string) {}))
	require.NotEmpty(t, sim.Loans)

	// ~40 loans for $10M at $250k average.
	assert.Greater(t, len(sim.Loans), 25)
	assert.Less(t, len(sim.Loans), 70)

	shape := cfg.LoanShape
	seen := map[string]bool{}
	for _, l := range sim.Loans {
		assert.False(t, seen[l.ID], "duplicate loan id %s", l.ID)
		seen[l.ID] = true
		assert.GreaterOrEqual(t, l.Principal, shape.MinSize)
		assert.LessOrEqual(t, l.Principal, shape.MaxSize)
		assert.GreaterOrEqual(t, l.LTV, shape.MinLTV)
		assert.LessOrEqual(t, l.LTV, shape.MaxLTV)
		assert.GreaterOrEqual(t, l.TermMonths, 1)
		assert.LessOrEqual(t, l.TermMonths, cfg.Fund.TermMonths())
		assert.Equal(t, 0, l.OriginationMonth)
		assert.False(t, l.Reinvestment)
		assert.NotEmpty(t, l.PropertyID)
		assert.InDelta(t, l.Principal*cfg.Fees.OriginationFeeRate, l.OriginationFee, 1e-9)
	}
}

func TestPropertiesSampledWithoutReplacement(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(t, cfg)
	stage := NewStage(zerolog.Nop())
	require.NoError(t, stage.Run(context.Background(), sim, func(float64, string) {}))

	seen := map[string]bool{}
	for _, l := range sim.Loans {
		assert.False(t, seen[l.PropertyID], "property %s used twice", l.PropertyID)
		seen[l.PropertyID] = true
	}
}

func TestGenerationDeterministic(t *testing.T) {
	cfg := config.SmokePreset()

	run := func() []domain.Loan {
		sim := newSim(t, cfg)
		stage := NewStage(zerolog.Nop())
		require.NoError(t, stage.Run(context.Background(), sim, func(float64, string) {}))
		return sim.Loans
	}

	assert.Equal(t, run(), run())
}

func TestActualAllocationRecorded(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(t, cfg)
	stage := NewStage(zerolog.Nop())
	require.NoError(t, stage.Run(context.Background(), sim, func(float64, string) {}))

	require.NotNil(t, sim.ActualAllocation)
	sum := 0.0
	for _, z := range domain.AllZones {
		sum += sim.ActualAllocation[z]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// Realised allocation should land near target.
	assert.InDelta(t, 0.6, sim.ActualAllocation[domain.ZoneGreen], 0.08)
}

func TestReinvestmentBatchRespectsFundTerm(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(t, cfg)
	stage := NewStage(zerolog.Nop())
	require.NoError(t, stage.Run(context.Background(), sim, func(float64, string) {}))

	month := cfg.Fund.TermMonths() - 24
	batch, _, err := stage.Generator().GenerateZone(context.Background(), sim, domain.ZoneGreen, 2_000_000, month, true)
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	for _, l := range batch {
		assert.True(t, l.Reinvestment)
		assert.Equal(t, month, l.OriginationMonth)
		assert.LessOrEqual(t, l.OriginationMonth+l.TermMonths, cfg.Fund.TermMonths())
	}
}

func TestZeroBudgetProducesNoLoans(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(t, cfg)
	gen := NewGenerator(zerolog.Nop())

	out, remaining, err := gen.GenerateZone(context.Background(), sim, domain.ZoneGreen, 10_000, 0, false)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 10_000.0, remaining)
}
