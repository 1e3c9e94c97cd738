// Package pipeline wires every stage into the orchestrator and runs one
// simulation path end to end: validation, context construction, stage
// execution, guardrail event fan-out and the terminal result event. The
// Monte Carlo driver reuses RunPath for each path it schedules.
package pipeline

import (
	"context"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/events"
	"github.com/aristath/fundsim/internal/modules/allocation"
	"github.com/aristath/fundsim/internal/modules/cashflows"
	"github.com/aristath/fundsim/internal/modules/exits"
	"github.com/aristath/fundsim/internal/modules/fees"
	"github.com/aristath/fundsim/internal/modules/guardrails"
	"github.com/aristath/fundsim/internal/modules/leverage"
	"github.com/aristath/fundsim/internal/modules/loans"
	"github.com/aristath/fundsim/internal/modules/pricepaths"
	"github.com/aristath/fundsim/internal/modules/reinvest"
	"github.com/aristath/fundsim/internal/modules/reporting"
	"github.com/aristath/fundsim/internal/modules/risk"
	"github.com/aristath/fundsim/internal/modules/waterfall"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes a single run.
type Options struct {
	// WatchdogTimeout aborts a run that exceeds the wall-clock budget.
	// Zero disables the watchdog.
	WatchdogTimeout time.Duration
}

// Runner executes simulation paths.
type Runner struct {
	log  zerolog.Logger
	opts Options
}

// NewRunner creates a runner.
func NewRunner(log zerolog.Logger, opts Options) *Runner {
	return &Runner{log: log.With().Str("component", "pipeline").Logger(), opts: opts}
}

// emittingStage decorates a stage with an intermediate-result event emitted
// after a successful run, for incremental consumers.
type emittingStage struct {
	engine.Stage
	sink    events.Sink
	extract func(*engine.SimulationContext) interface{}
}

func (s *emittingStage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	if err := s.Stage.Run(ctx, sim, progress); err != nil {
		return err
	}
	s.sink.Emit(events.New(sim.RunID, &events.IntermediateResultData{
		Module: s.Stage.Name(),
		Data:   s.extract(sim),
	}))
	return nil
}

// intermediateExtractors maps stage names to the compact snapshot each one
// publishes when intermediate results are enabled.
var intermediateExtractors = map[string]func(*engine.SimulationContext) interface{}{
	"loan_generation": func(sim *engine.SimulationContext) interface{} {
		return map[string]interface{}{
			"num_loans":  len(sim.Loans),
			"allocation": sim.ActualAllocation,
		}
	},
	"exit_simulation": func(sim *engine.SimulationContext) interface{} {
		counts := make(map[domain.ExitKind]int)
		for _, ev := range sim.Exits {
			counts[ev.Kind]++
		}
		return map[string]interface{}{"exit_counts": counts}
	},
	"cashflow_aggregation": func(sim *engine.SimulationContext) interface{} {
		return map[string]interface{}{
			"irr":  sim.Cashflows.IRR,
			"tvpi": sim.Cashflows.TVPI,
		}
	},
	"waterfall": func(sim *engine.SimulationContext) interface{} {
		return map[string]interface{}{
			"lp_total": sim.Waterfall.LPTotal,
			"gp_total": sim.Waterfall.GPTotal,
			"clawback": sim.Waterfall.Clawback,
		}
	},
}

// buildOrchestrator registers the full stage graph. The loan generator and
// exit simulator are shared with the reinvestment engine, which extends the
// book through them mid-life.
func (r *Runner) buildOrchestrator(sink events.Sink, flags config.FeatureFlags) (*engine.Orchestrator, error) {
	loanStage := loans.NewStage(r.log)
	exitStage := exits.NewStage(r.log)

	stages := []engine.Stage{
		allocation.NewStage(r.log),
		loanStage,
		pricepaths.NewStage(r.log),
		exitStage,
		reinvest.NewStage(loanStage.Generator(), exitStage.Simulator(), r.log),
		leverage.NewStage(r.log),
		fees.NewStage(r.log),
		cashflows.NewStage(r.log),
		waterfall.NewStage(r.log),
		risk.NewStage(r.log),
		guardrails.NewStage(r.log),
		reporting.NewStage(r.log),
	}

	orch := engine.NewOrchestrator(r.log)
	for _, s := range stages {
		if flags.IntermediateResults {
			if extract, ok := intermediateExtractors[s.Name()]; ok {
				s = &emittingStage{Stage: s, sink: sink, extract: extract}
			}
		}
		if err := orch.Register(s); err != nil {
			return nil, err
		}
	}
	return orch, nil
}

// Summary is the compact payload of the terminal result event.
type Summary struct {
	RunID          string               `json:"run_id"`
	PathID         int                  `json:"path_id"`
	Status         engine.RunStatus     `json:"status"`
	IRR            *float64             `json:"irr"`
	TVPI           float64              `json:"tvpi"`
	EquityMultiple float64              `json:"equity_multiple"`
	NumLoans       int                  `json:"num_loans"`
	GuardrailWorst string               `json:"guardrail_worst"`
	NumBreaches    int                  `json:"num_breaches"`
	Timings        []engine.StageTiming `json:"timings"`
}

// Summarize condenses a result for events and persistence.
func Summarize(res *engine.Result) Summary {
	sim := res.Context
	s := Summary{
		RunID:   sim.RunID,
		PathID:  sim.PathID,
		Status:  res.Status,
		Timings: sim.Timings,
	}
	if sim.Cashflows != nil {
		s.IRR = sim.Cashflows.IRR
		s.TVPI = sim.Cashflows.TVPI
		s.EquityMultiple = sim.Cashflows.EquityMultiple
	}
	s.NumLoans = len(sim.Loans)
	if sim.GuardrailReport != nil {
		s.GuardrailWorst = sim.GuardrailReport.WorstLevel.String()
		s.NumBreaches = len(sim.GuardrailReport.Breaches)
	}
	return s
}

// RunPath executes the pipeline for one path with an explicit run id and
// seed. Guardrail breaches fan out as events after the pipeline finishes;
// cancellation is not reported as an error event.
func (r *Runner) RunPath(ctx context.Context, runID string, pathID int, seed uint64, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink) *engine.Result {
	if r.opts.WatchdogTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.WatchdogTimeout)
		defer cancel()
	}

	sim := engine.NewContext(runID, pathID, seed, cfg, cat)
	orch, err := r.buildOrchestrator(sink, cfg.Features)
	if err != nil {
		return &engine.Result{
			Status:    engine.StatusFailed,
			ErrorKind: engine.KindInternal,
			Err:       err,
			Context:   sim,
		}
	}

	res := orch.Run(ctx, sim, sink)

	if sim.GuardrailReport != nil {
		for _, b := range sim.GuardrailReport.Breaches {
			sink.Emit(events.New(runID, &events.GuardrailViolationData{
				Rule:     b.Code,
				Severity: b.Severity.String(),
				Message:  b.Message,
				Details: map[string]interface{}{
					"layer":     string(b.Layer),
					"value":     b.Value,
					"threshold": b.Threshold,
				},
			}))
		}
	}
	return res
}

// Run validates the configuration and executes a single path seeded from
// the config, emitting the terminal result event.
func (r *Runner) Run(ctx context.Context, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink) *engine.Result {
	runID := uuid.NewString()

	if err := cfg.Validate(); err != nil {
		sink.Emit(events.New(runID, &events.ErrorData{Error: err.Error()}))
		return &engine.Result{
			Status:    engine.StatusFailed,
			ErrorKind: engine.KindConfigInvalid,
			Err:       err,
			Context:   engine.NewContext(runID, 0, cfg.Seed, cfg, cat),
		}
	}

	started := time.Now()
	res := r.RunPath(ctx, runID, 0, cfg.Seed, cfg, cat, sink)
	if res.Succeeded() {
		sink.Emit(events.New(runID, &events.ResultData{
			Result:               Summarize(res),
			ExecutionTimeSeconds: time.Since(started).Seconds(),
		}))
	}
	return res
}
