package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/events"
	"github.com/aristath/fundsim/internal/tlsdata"
)

var stageNames = []string{
	"capital_allocation",
	"loan_generation",
	"price_paths",
	"exit_simulation",
	"reinvestment",
	"leverage",
	"fees",
	"cashflow_aggregation",
	"waterfall",
	"risk",
	"guardrails",
	"reporting",
}

func smokeSetup(t *testing.T) (*config.Config, *tlsdata.Catalogue) {
	t.Helper()
	cfg := config.SmokePreset()
	cat := tlsdata.Synthetic(cfg.Seed, tlsdata.DefaultSyntheticOptions())
	return cfg, cat
}

func TestRunCompletesAllStages(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{})

	res := runner.Run(context.Background(), cfg, cat, events.NopSink{})
	require.Equal(t, engine.StatusCompleted, res.Status)
	require.NoError(t, res.Err)

	sim := res.Context
	require.Len(t, sim.Timings, len(stageNames))
	for i, name := range stageNames {
		assert.Equal(t, name, sim.Timings[i].Stage)
		assert.True(t, sim.StageCompleted(name), "stage %s not marked complete", name)
	}

	assert.NotEmpty(t, sim.Loans)
	require.NotNil(t, sim.Cashflows)
	require.NotNil(t, sim.Waterfall)
	require.NotNil(t, sim.RiskMetrics)
	require.NotNil(t, sim.GuardrailReport)
	require.NotNil(t, sim.Report)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{})
	sink := events.NewCollector()

	res := runner.Run(context.Background(), cfg, cat, sink)
	require.Equal(t, engine.StatusCompleted, res.Status)

	started := sink.OfKind(events.ModuleStarted)
	completed := sink.OfKind(events.ModuleCompleted)
	assert.Len(t, started, len(stageNames))
	assert.Len(t, completed, len(stageNames))

	results := sink.OfKind(events.Result)
	require.Len(t, results, 1)
	data, ok := results[0].Data.(*events.ResultData)
	require.True(t, ok)
	sum, ok := data.Result.(Summary)
	require.True(t, ok)
	assert.Equal(t, res.Context.RunID, sum.RunID)
	assert.Equal(t, engine.StatusCompleted, sum.Status)
	assert.Equal(t, len(res.Context.Loans), sum.NumLoans)

	assert.Empty(t, sink.OfKind(events.Error))
}

func TestIntermediateResultsGatedByFlag(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{})

	sink := events.NewCollector()
	res := runner.Run(context.Background(), cfg, cat, sink)
	require.Equal(t, engine.StatusCompleted, res.Status)
	assert.Empty(t, sink.OfKind(events.IntermediateResult))

	cfg.Features.IntermediateResults = true
	sink = events.NewCollector()
	res = runner.Run(context.Background(), cfg, cat, sink)
	require.Equal(t, engine.StatusCompleted, res.Status)

	inter := sink.OfKind(events.IntermediateResult)
	require.Len(t, inter, len(intermediateExtractors))
	seen := make(map[string]bool)
	for _, e := range inter {
		d := e.Data.(*events.IntermediateResultData)
		seen[d.Module] = true
	}
	for name := range intermediateExtractors {
		assert.True(t, seen[name], "no intermediate event for %s", name)
	}
}

func TestGuardrailBreachesFanOutAsEvents(t *testing.T) {
	cfg, cat := smokeSetup(t)
	// Force a breach: every loan trips an absurdly low LTV cap.
	cfg.Guardrails.MaxLoanLTV = 0.01
	runner := NewRunner(zerolog.Nop(), Options{})
	sink := events.NewCollector()

	res := runner.Run(context.Background(), cfg, cat, sink)
	require.Equal(t, engine.StatusCompleted, res.Status)

	violations := sink.OfKind(events.GuardrailViolation)
	require.NotEmpty(t, violations)
	assert.Len(t, violations, len(res.Context.GuardrailReport.Breaches))

	d := violations[0].Data.(*events.GuardrailViolationData)
	assert.NotEmpty(t, d.Rule)
	assert.NotEmpty(t, d.Severity)
	assert.Contains(t, d.Details, "layer")
}

func TestInvalidConfigFailsBeforeStages(t *testing.T) {
	cfg, cat := smokeSetup(t)
	cfg.Fund.Size = -1
	runner := NewRunner(zerolog.Nop(), Options{})
	sink := events.NewCollector()

	res := runner.Run(context.Background(), cfg, cat, sink)
	require.Equal(t, engine.StatusFailed, res.Status)
	assert.Equal(t, engine.KindConfigInvalid, res.ErrorKind)
	assert.Empty(t, res.Context.Timings)

	require.Len(t, sink.OfKind(events.Error), 1)
	assert.Empty(t, sink.OfKind(events.Result))
}

func TestWatchdogCancelsRun(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{WatchdogTimeout: time.Nanosecond})

	res := runner.Run(context.Background(), cfg, cat, events.NopSink{})
	assert.Equal(t, engine.StatusCancelled, res.Status)
	assert.Equal(t, engine.KindCancelled, res.ErrorKind)
}

func TestCancelledContextStopsRun(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runner.Run(ctx, cfg, cat, events.NopSink{})
	assert.Equal(t, engine.StatusCancelled, res.Status)
}

func TestRepeatedRunsAreIdentical(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{})

	a := runner.RunPath(context.Background(), "run-a", 0, cfg.Seed, cfg, cat, events.NopSink{})
	b := runner.RunPath(context.Background(), "run-b", 0, cfg.Seed, cfg, cat, events.NopSink{})
	require.Equal(t, engine.StatusCompleted, a.Status)
	require.Equal(t, engine.StatusCompleted, b.Status)

	assert.Equal(t, a.Context.Loans, b.Context.Loans)
	assert.Equal(t, a.Context.Exits, b.Context.Exits)
	assert.Equal(t, a.Context.Cashflows, b.Context.Cashflows)
	assert.Equal(t, a.Context.Waterfall, b.Context.Waterfall)
	assert.Equal(t, a.Context.RiskMetrics, b.Context.RiskMetrics)
}

func TestDifferentSeedsDiverge(t *testing.T) {
	cfg, cat := smokeSetup(t)
	runner := NewRunner(zerolog.Nop(), Options{})

	a := runner.RunPath(context.Background(), "run-a", 0, cfg.Seed, cfg, cat, events.NopSink{})
	b := runner.RunPath(context.Background(), "run-b", 0, cfg.Seed+1, cfg, cat, events.NopSink{})
	require.Equal(t, engine.StatusCompleted, a.Status)
	require.Equal(t, engine.StatusCompleted, b.Status)

	assert.NotEqual(t, a.Context.Exits, b.Context.Exits)
}
