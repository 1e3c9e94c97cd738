package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/fundsim/internal/events"
	"github.com/rs/zerolog"
)

// ProgressFunc receives fractional progress for the currently running stage.
// Fractions must be monotonically non-decreasing; the orchestrator clamps
// regressions before forwarding.
type ProgressFunc func(fraction float64, message string)

// Stage is one node of the pipeline dependency graph. A stage writes only
// its own output fields on the context and reads only upstream outputs. It
// must call CheckCancelled between inner loops and report progress through
// the supplied callback.
type Stage interface {
	Name() string
	DependsOn() []string
	Run(ctx context.Context, sim *SimulationContext, progress ProgressFunc) error
}

// RunStatus is the terminal state of one pipeline execution.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Result is the outcome of running the pipeline for one path. On failure or
// cancellation the partial context is still populated with every stage that
// completed.
type Result struct {
	Status    RunStatus
	ErrorKind ErrorKind
	Err       error
	Context   *SimulationContext
	Elapsed   time.Duration
}

// Succeeded reports whether the pipeline ran to completion.
func (r *Result) Succeeded() bool {
	return r.Status == StatusCompleted
}

// Orchestrator runs registered stages in dependency order for one path.
// Stages execute sequentially; parallelism is reserved for the Monte Carlo
// fan-out across paths.
type Orchestrator struct {
	stages []Stage
	byName map[string]Stage
	order  []Stage
	log    zerolog.Logger
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator(log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		byName: make(map[string]Stage),
		log:    log.With().Str("component", "orchestrator").Logger(),
	}
}

// Register adds a stage. Returns an error on duplicate names so wiring
// mistakes surface at construction time.
func (o *Orchestrator) Register(s Stage) error {
	if _, dup := o.byName[s.Name()]; dup {
		return fmt.Errorf("stage %q registered twice", s.Name())
	}
	o.stages = append(o.stages, s)
	o.byName[s.Name()] = s
	o.order = nil // invalidate cached order
	return nil
}

// MustRegister registers a set of stages, panicking on wiring errors.
func (o *Orchestrator) MustRegister(stages ...Stage) {
	for _, s := range stages {
		if err := o.Register(s); err != nil {
			panic(err)
		}
	}
}

// Order returns the topological execution order, computing and caching it
// on first use. Ties break by registration order, so the order is stable.
func (o *Orchestrator) Order() ([]Stage, error) {
	if o.order != nil {
		return o.order, nil
	}

	indegree := make(map[string]int, len(o.stages))
	for _, s := range o.stages {
		indegree[s.Name()] = 0
	}
	for _, s := range o.stages {
		for _, dep := range s.DependsOn() {
			if _, ok := o.byName[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on unregistered stage %q", s.Name(), dep)
			}
			indegree[s.Name()]++
		}
	}

	// Kahn's algorithm; the ready set is scanned in registration order so
	// the tie-break is deterministic.
	var order []Stage
	done := make(map[string]bool, len(o.stages))
	for len(order) < len(o.stages) {
		progressed := false
		for _, s := range o.stages {
			if done[s.Name()] || indegree[s.Name()] != 0 {
				continue
			}
			order = append(order, s)
			done[s.Name()] = true
			progressed = true
			for _, t := range o.stages {
				for _, dep := range t.DependsOn() {
					if dep == s.Name() {
						indegree[t.Name()]--
					}
				}
			}
		}
		if !progressed {
			return nil, fmt.Errorf("stage dependency cycle among %d unresolved stages", len(o.stages)-len(order))
		}
	}
	o.order = order
	return order, nil
}

// Run executes the pipeline over the given context. Progress and lifecycle
// events are emitted to sink. A failed stage aborts the remaining stages,
// which are recorded as skipped; the partial context is returned either way.
func (o *Orchestrator) Run(ctx context.Context, sim *SimulationContext, sink events.Sink) *Result {
	started := time.Now()
	order, err := o.Order()
	if err != nil {
		return &Result{
			Status:    StatusFailed,
			ErrorKind: KindInternal,
			Err:       err,
			Context:   sim,
			Elapsed:   time.Since(started),
		}
	}

	var failure error
	var failedStage string
	for i, stage := range order {
		if failure != nil {
			sim.Timings = append(sim.Timings, StageTiming{Stage: stage.Name(), Status: "skipped"})
			continue
		}
		if err := CheckCancelled(ctx); err != nil {
			failure = &StageError{Stage: stage.Name(), Kind: KindCancelled, Err: err}
			failedStage = stage.Name()
			sim.Timings = append(sim.Timings, StageTiming{Stage: stage.Name(), Status: "cancelled"})
			continue
		}

		sink.Emit(events.New(sim.RunID, &events.ModuleStartedData{Module: stage.Name()}))
		o.log.Debug().Str("stage", stage.Name()).Int("position", i).Msg("stage started")

		stageStart := time.Now()
		lastFraction := 0.0
		progress := func(fraction float64, message string) {
			if fraction < lastFraction {
				fraction = lastFraction
			}
			if fraction > 1 {
				fraction = 1
			}
			lastFraction = fraction
			sink.Emit(events.New(sim.RunID, &events.ProgressData{
				Module:   stage.Name(),
				Fraction: fraction,
				Message:  message,
			}))
		}

		err := stage.Run(ctx, sim, progress)
		elapsed := time.Since(stageStart)

		if err != nil {
			kind := Classify(err)
			status := "failed"
			if kind == KindCancelled {
				status = "cancelled"
			}
			sim.Timings = append(sim.Timings, StageTiming{
				Stage:   stage.Name(),
				Seconds: elapsed.Seconds(),
				Status:  status,
			})
			failure = &StageError{Stage: stage.Name(), Kind: kind, Err: err}
			failedStage = stage.Name()
			if kind != KindCancelled {
				sink.Emit(events.New(sim.RunID, &events.ErrorData{
					Error:  err.Error(),
					Module: stage.Name(),
				}))
			}
			o.log.Warn().Err(err).Str("stage", stage.Name()).Str("kind", string(kind)).Msg("stage failed")
			continue
		}

		sim.Completed[stage.Name()] = true
		sim.Timings = append(sim.Timings, StageTiming{
			Stage:   stage.Name(),
			Seconds: elapsed.Seconds(),
			Status:  "completed",
		})
		sink.Emit(events.New(sim.RunID, &events.ModuleCompletedData{
			Module:               stage.Name(),
			ExecutionTimeSeconds: elapsed.Seconds(),
		}))
	}

	res := &Result{Context: sim, Elapsed: time.Since(started)}
	switch {
	case failure == nil:
		res.Status = StatusCompleted
	case IsCancelled(failure):
		res.Status = StatusCancelled
		res.ErrorKind = KindCancelled
		res.Err = failure
	default:
		res.Status = StatusFailed
		res.ErrorKind = Classify(failure)
		res.Err = failure
	}
	if failure != nil {
		o.log.Info().
			Str("status", string(res.Status)).
			Str("failed_stage", failedStage).
			Msg("pipeline aborted")
	}
	return res
}
