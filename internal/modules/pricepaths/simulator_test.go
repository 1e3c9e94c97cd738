package pricepaths

import (
	"context"
	"testing"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSim(cfg *config.Config) *engine.SimulationContext {
	cat := tlsdata.Synthetic(1, tlsdata.DefaultSyntheticOptions())
	return engine.NewContext("r", 0, cfg.Seed, cfg, cat)
}

func TestSimulateStartsAtOneAndStaysPositive(t *testing.T) {
	for _, model := range []config.PricePathModel{
		config.ModelGBM,
		config.ModelMeanReversion,
		config.ModelRegimeSwitching,
	} {
		t.Run(string(model), func(t *testing.T) {
			cfg := config.SmokePreset()
			cfg.PricePaths.Model = model
			sim := newSim(cfg)

			set, err := NewSimulator(zerolog.Nop()).Simulate(context.Background(), sim, 120)
			require.NoError(t, err)

			for _, z := range domain.AllZones {
				path := set.Zone[z]
				require.Len(t, path, 121)
				assert.Equal(t, 1.0, path[0])
				for m, v := range path {
					assert.Positive(t, v, "zone %s month %d", z, m)
				}
			}
		})
	}
}

func TestSimulateDeterministic(t *testing.T) {
	cfg := config.SmokePreset()

	run := func() *domain.PricePathSet {
		sim := newSim(cfg)
		set, err := NewSimulator(zerolog.Nop()).Simulate(context.Background(), sim, 60)
		require.NoError(t, err)
		return set
	}

	assert.Equal(t, run().Zone, run().Zone)
}

func TestSimulateSeedSensitive(t *testing.T) {
	cfg := config.SmokePreset()
	a := newSim(cfg)
	b := engine.NewContext("r", 1, cfg.Seed+1, cfg, a.Catalogue)

	setA, err := NewSimulator(zerolog.Nop()).Simulate(context.Background(), a, 60)
	require.NoError(t, err)
	setB, err := NewSimulator(zerolog.Nop()).Simulate(context.Background(), b, 60)
	require.NoError(t, err)

	assert.NotEqual(t, setA.Zone[domain.ZoneGreen], setB.Zone[domain.ZoneGreen])
}

func TestSimulateRejectsNonPDMatrix(t *testing.T) {
	cfg := config.SmokePreset()
	// Perfectly collinear zones: PSD but singular, Cholesky must refuse.
	cfg.Zones.Correlation = [][]float64{
		{1, 1, 1},
		{1, 1, 1},
		{1, 1, 1},
	}
	sim := newSim(cfg)

	_, err := NewSimulator(zerolog.Nop()).Simulate(context.Background(), sim, 12)
	require.Error(t, err)
	assert.Equal(t, engine.KindNumericFailure, engine.Classify(err))
}

func TestSimulateCancellation(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulator(zerolog.Nop()).Simulate(ctx, sim, 120)
	require.Error(t, err)
	assert.True(t, engine.IsCancelled(err))
}

func TestMultiplierDeterministicPerProperty(t *testing.T) {
	cfg := config.SmokePreset()
	sim := newSim(cfg)

	a := MultiplierFor(sim, "prop-1", 0.05, 60)
	b := MultiplierFor(sim, "prop-1", 0.05, 60)
	c := MultiplierFor(sim, "prop-2", 0.05, 60)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 1.0, a[0])
	for _, v := range a {
		assert.Positive(t, v)
	}
}

func TestMeanReversionPullsTowardsMean(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.PricePaths.Model = config.ModelMeanReversion
	cfg.PricePaths.ReversionSpeed = 8.0 // aggressive pull for the test
	cfg.PricePaths.LongTermMean = 0.0
	for z, p := range cfg.Zones.Params {
		p.AppreciationRate = 0
		p.Volatility = 0.02
		cfg.Zones.Params[z] = p
	}
	sim := newSim(cfg)

	set, err := NewSimulator(zerolog.Nop()).Simulate(context.Background(), sim, 240)
	require.NoError(t, err)

	// With strong reversion to log 1.0 the terminal index stays near 1.
	for _, z := range domain.AllZones {
		final := set.Zone[z][240]
		assert.InDelta(t, 1.0, final, 0.25, "zone %s drifted to %g", z, final)
	}
}
