// Package montecarlo fans the pipeline out across many independently seeded
// paths and aggregates the outcome distribution. Path seeds derive from the
// root seed and the path index, so results are identical for any worker
// count: workers race only over which path they pick up, never over what a
// path computes, and the merge orders by path id.
package montecarlo

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/events"
	"github.com/aristath/fundsim/internal/pipeline"
	"github.com/aristath/fundsim/internal/rng"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"gonum.org/v1/gonum/stat"
)

// pathMemoryEstimate is a coarse per-path working set used to cap worker
// count on small machines: loan book, price paths, ledger and report for a
// 100M-scale fund land in the low tens of megabytes.
const pathMemoryEstimate = 64 << 20

// Options tunes a Monte Carlo run.
type Options struct {
	Paths   int
	Workers int // 0 = auto
	// WatchdogTimeout bounds each path's wall time. Zero disables it.
	WatchdogTimeout time.Duration
}

// PathResult is one completed path's contribution to the aggregate.
type PathResult struct {
	PathID         int
	Status         engine.RunStatus
	IRR            *float64
	TVPI           float64
	EquityMultiple float64
	GuardrailWorst domain.Severity
	LPTotal        float64
	GPTotal        float64
}

// Distribution summarizes one metric across paths.
type Distribution struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Result is the aggregate of a Monte Carlo run.
type Result struct {
	RunID     string
	Paths     []PathResult // ordered by path id, completed paths only
	Requested int
	Cancelled bool
	Elapsed   time.Duration

	IRR            Distribution
	TVPI           Distribution
	EquityMultiple Distribution

	// VaR and CVaR are the empirical tail of the net IRR distribution at
	// the configured confidence level, reported as positive losses. Nil
	// when no completed path produced a solvable IRR.
	VaR  *float64
	CVaR *float64

	// HurdleClearProbability is the share of paths whose net IRR met the
	// fund hurdle. Paths with unsolvable IRR count as missing it.
	HurdleClearProbability float64
	// GuardrailFailRate is the share of paths with at least one FAIL.
	GuardrailFailRate float64
}

// Driver runs Monte Carlo simulations.
type Driver struct {
	runner *pipeline.Runner
	log    zerolog.Logger
}

// NewDriver creates a driver.
func NewDriver(log zerolog.Logger, watchdog time.Duration) *Driver {
	return &Driver{
		runner: pipeline.NewRunner(log, pipeline.Options{WatchdogTimeout: watchdog}),
		log:    log.With().Str("component", "montecarlo").Logger(),
	}
}

// workerCount clamps the requested worker count to the host: never more
// than one per CPU, and never more than available memory supports.
func workerCount(requested, paths int) int {
	n := requested
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > runtime.NumCPU() {
		n = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		if byMem := int(vm.Available / pathMemoryEstimate); byMem < n && byMem > 0 {
			n = byMem
		}
	}
	if n > paths {
		n = paths
	}
	if n < 1 {
		n = 1
	}
	return n
}

// summarize builds a distribution from a value slice.
func summarize(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Distribution{
		N:      len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P5:     stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P25:    stat.Quantile(0.25, stat.Empirical, sorted, nil),
		P75:    stat.Quantile(0.75, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// empiricalTail computes value-at-risk and conditional value-at-risk from
// a sample at the given confidence level, as positive losses. CVaR is the
// mean of the sample at or below the VaR quantile, so CVaR >= VaR.
func empiricalTail(values []float64, confidence float64) (*float64, *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	var tail float64
	n := 0
	for _, v := range sorted {
		if v > q {
			break
		}
		tail += v
		n++
	}
	vaR := -q
	cvar := -(tail / float64(n))
	return &vaR, &cvar
}

func toPathResult(res *engine.Result) PathResult {
	sim := res.Context
	pr := PathResult{PathID: sim.PathID, Status: res.Status}
	if sim.Cashflows != nil {
		pr.IRR = sim.Cashflows.IRR
		pr.TVPI = sim.Cashflows.TVPI
		pr.EquityMultiple = sim.Cashflows.EquityMultiple
	}
	if sim.GuardrailReport != nil {
		pr.GuardrailWorst = sim.GuardrailReport.WorstLevel
	}
	if sim.Waterfall != nil {
		pr.LPTotal = sim.Waterfall.LPTotal
		pr.GPTotal = sim.Waterfall.GPTotal
	}
	return pr
}

// Run executes opts.Paths paths and aggregates the distribution. On
// cancellation the aggregate covers the paths that completed, and the
// result is flagged rather than discarded.
func (d *Driver) Run(ctx context.Context, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Paths <= 0 {
		opts.Paths = 1
	}

	runID := uuid.NewString()
	workers := workerCount(opts.Workers, opts.Paths)
	started := time.Now()
	d.log.Info().
		Str("run_id", runID).
		Int("paths", opts.Paths).
		Int("workers", workers).
		Msg("monte carlo run started")

	pathCh := make(chan int)
	resultCh := make(chan PathResult, opts.Paths)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pathID := range pathCh {
				seed := rng.DeriveSeed(cfg.Seed, pathID)
				res := d.runner.RunPath(ctx, runID, pathID, seed, cfg, cat, sink)
				if res.Status == engine.StatusCancelled {
					continue
				}
				resultCh <- toPathResult(res)
			}
		}()
	}

	cancelled := false
feed:
	for pathID := 0; pathID < opts.Paths; pathID++ {
		select {
		case pathCh <- pathID:
		case <-ctx.Done():
			cancelled = true
			break feed
		}
	}
	close(pathCh)
	wg.Wait()
	close(resultCh)

	result := &Result{
		RunID:     runID,
		Requested: opts.Paths,
		Cancelled: cancelled || ctx.Err() != nil,
	}
	for pr := range resultCh {
		result.Paths = append(result.Paths, pr)
	}
	sort.Slice(result.Paths, func(i, j int) bool { return result.Paths[i].PathID < result.Paths[j].PathID })

	var irrs, tvpis, multiples []float64
	hurdleCleared, fails := 0, 0
	for _, pr := range result.Paths {
		if pr.Status != engine.StatusCompleted {
			continue
		}
		tvpis = append(tvpis, pr.TVPI)
		multiples = append(multiples, pr.EquityMultiple)
		if pr.IRR != nil {
			irrs = append(irrs, *pr.IRR)
			if *pr.IRR >= cfg.Fund.HurdleRate {
				hurdleCleared++
			}
		}
		if pr.GuardrailWorst == domain.SeverityFail {
			fails++
		}
	}
	result.IRR = summarize(irrs)
	result.TVPI = summarize(tvpis)
	result.EquityMultiple = summarize(multiples)
	result.VaR, result.CVaR = empiricalTail(irrs, cfg.Risk.VaRConfidence)
	if n := len(result.Paths); n > 0 {
		result.HurdleClearProbability = float64(hurdleCleared) / float64(n)
		result.GuardrailFailRate = float64(fails) / float64(n)
	}
	result.Elapsed = time.Since(started)

	d.log.Info().
		Str("run_id", runID).
		Int("completed", len(result.Paths)).
		Bool("cancelled", result.Cancelled).
		Dur("elapsed", result.Elapsed).
		Msg("monte carlo run finished")
	return result, nil
}
