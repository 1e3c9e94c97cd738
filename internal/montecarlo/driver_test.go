package montecarlo

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/events"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smokeCatalogue() *tlsdata.Catalogue {
	return tlsdata.Synthetic(1, tlsdata.DefaultSyntheticOptions())
}

func TestRunAggregatesAllPaths(t *testing.T) {
	d := NewDriver(zerolog.Nop(), 0)
	res, err := d.Run(context.Background(), config.SmokePreset(), smokeCatalogue(), events.NopSink{}, Options{Paths: 6, Workers: 2})
	require.NoError(t, err)

	assert.False(t, res.Cancelled)
	require.Len(t, res.Paths, 6)
	for i, pr := range res.Paths {
		assert.Equal(t, i, pr.PathID, "merge is ordered by path id")
	}
	assert.Equal(t, 6, res.IRR.N+countNilIRRs(res))
	assert.GreaterOrEqual(t, res.HurdleClearProbability, 0.0)
	assert.LessOrEqual(t, res.HurdleClearProbability, 1.0)
	assert.GreaterOrEqual(t, res.GuardrailFailRate, 0.0)
	assert.LessOrEqual(t, res.GuardrailFailRate, 1.0)
}

func countNilIRRs(res *Result) int {
	n := 0
	for _, pr := range res.Paths {
		if pr.IRR == nil {
			n++
		}
	}
	return n
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	d := NewDriver(zerolog.Nop(), 0)

	one, err := d.Run(context.Background(), config.SmokePreset(), smokeCatalogue(), events.NopSink{}, Options{Paths: 4, Workers: 1})
	require.NoError(t, err)
	four, err := d.Run(context.Background(), config.SmokePreset(), smokeCatalogue(), events.NopSink{}, Options{Paths: 4, Workers: 4})
	require.NoError(t, err)

	require.Len(t, four.Paths, len(one.Paths))
	for i := range one.Paths {
		a, b := one.Paths[i], four.Paths[i]
		assert.Equal(t, a.PathID, b.PathID)
		assert.Equal(t, a.TVPI, b.TVPI)
		assert.Equal(t, a.EquityMultiple, b.EquityMultiple)
		if a.IRR != nil && b.IRR != nil {
			assert.Equal(t, *a.IRR, *b.IRR)
		} else {
			assert.Equal(t, a.IRR == nil, b.IRR == nil)
		}
	}
}

func TestPathsDifferFromEachOther(t *testing.T) {
	d := NewDriver(zerolog.Nop(), 0)
	res, err := d.Run(context.Background(), config.SmokePreset(), smokeCatalogue(), events.NopSink{}, Options{Paths: 4, Workers: 2})
	require.NoError(t, err)

	distinct := map[float64]bool{}
	for _, pr := range res.Paths {
		distinct[pr.TVPI] = true
	}
	assert.Greater(t, len(distinct), 1, "independent seeds must produce distinct outcomes")
}

func TestDistributionOrdering(t *testing.T) {
	d := NewDriver(zerolog.Nop(), 0)
	res, err := d.Run(context.Background(), config.SmokePreset(), smokeCatalogue(), events.NopSink{}, Options{Paths: 8, Workers: 2})
	require.NoError(t, err)

	dist := res.TVPI
	require.Greater(t, dist.N, 0)
	assert.LessOrEqual(t, dist.Min, dist.P5)
	assert.LessOrEqual(t, dist.P5, dist.P25)
	assert.LessOrEqual(t, dist.P25, dist.Median)
	assert.LessOrEqual(t, dist.Median, dist.P75)
	assert.LessOrEqual(t, dist.P75, dist.P95)
	assert.LessOrEqual(t, dist.P95, dist.Max)
}

func TestEmpiricalTailAtConfidence(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i+1) / 100
	}
	vaR, cvar := empiricalTail(values, 0.95)
	require.NotNil(t, vaR)
	require.NotNil(t, cvar)
	assert.InDelta(t, -0.05, *vaR, 1e-12, "the 5th percentile of 0.01..1.00 is 0.05")
	assert.InDelta(t, -0.03, *cvar, 1e-12, "mean of the five observations at or below it")
	assert.GreaterOrEqual(t, *cvar, *vaR)

	noVaR, noCVaR := empiricalTail(nil, 0.95)
	assert.Nil(t, noVaR)
	assert.Nil(t, noCVaR)
}

func TestRunReportsTailOfIRRDistribution(t *testing.T) {
	cfg := config.SmokePreset()
	d := NewDriver(zerolog.Nop(), 0)
	res, err := d.Run(context.Background(), cfg, smokeCatalogue(), events.NopSink{}, Options{Paths: 8, Workers: 2})
	require.NoError(t, err)

	require.Greater(t, res.IRR.N, 0)
	require.NotNil(t, res.VaR)
	require.NotNil(t, res.CVaR)
	assert.GreaterOrEqual(t, *res.CVaR, *res.VaR)
	assert.LessOrEqual(t, *res.VaR, -res.IRR.Min, "the worst path bounds the tail loss")
}

func TestCancellationKeepsCompletedPaths(t *testing.T) {
	d := NewDriver(zerolog.Nop(), 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		defer close(done)
		res, err = d.Run(ctx, config.SmokePreset(), smokeCatalogue(), events.NopSink{}, Options{Paths: 1000, Workers: 2})
	}()
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Less(t, len(res.Paths), 1000)
	for _, pr := range res.Paths {
		assert.NotZero(t, pr.TVPI, "path %d: only completed paths are merged", pr.PathID)
	}
}

func TestInvalidConfigRejectedUpFront(t *testing.T) {
	cfg := config.SmokePreset()
	cfg.Fund.Size = -1
	d := NewDriver(zerolog.Nop(), 0)
	_, err := d.Run(context.Background(), cfg, smokeCatalogue(), events.NopSink{}, Options{Paths: 2})
	require.Error(t, err)
}

func TestFrontierMarksEfficientMixes(t *testing.T) {
	points := []FrontierPoint{
		{MeanIRR: 0.10, IRRVol: 0.05},
		{MeanIRR: 0.12, IRRVol: 0.05}, // dominates the first
		{MeanIRR: 0.08, IRRVol: 0.02}, // lowest risk, survives
		{MeanIRR: 0.07, IRRVol: 0.06}, // dominated twice over
	}
	markEfficient(points)

	assert.False(t, points[0].Efficient)
	assert.True(t, points[1].Efficient)
	assert.True(t, points[2].Efficient)
	assert.False(t, points[3].Efficient)
}

func TestCandidateMixesHonourCaps(t *testing.T) {
	cfg := config.SmokePreset()
	mixes := candidateMixes(cfg, 0.25)
	require.NotEmpty(t, mixes)
	for _, mix := range mixes {
		sum := 0.0
		for z, w := range mix {
			sum += w
			if limit, ok := cfg.Zones.Caps[z]; ok {
				assert.LessOrEqual(t, w, limit+1e-9, "zone %s", z)
			}
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestWorkerCountClamps(t *testing.T) {
	assert.GreaterOrEqual(t, workerCount(0, 100), 1)
	assert.Equal(t, 1, workerCount(8, 1), "never more workers than paths")
	assert.LessOrEqual(t, workerCount(10_000, 10_000), 10_000)
}
