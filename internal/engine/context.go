// Package engine contains the simulation context, the stage contract and
// the orchestrator that runs registered stages in dependency order for a
// single path. The Monte Carlo fan-out lives in internal/montecarlo.
package engine

import (
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/rng"
	"github.com/aristath/fundsim/internal/tlsdata"
)

// StageTiming records one stage's execution for the result payload.
type StageTiming struct {
	Stage   string  `json:"stage" msgpack:"stage"`
	Seconds float64 `json:"seconds" msgpack:"seconds"`
	Status  string  `json:"status" msgpack:"status"` // completed, failed, cancelled, skipped
}

// SimulationContext owns all derived state for one simulation path.
// Ownership discipline: each stage has exclusive write access to its own
// output fields and read access to everything written by its upstream
// dependencies. A context is never shared mutably across paths; after the
// pipeline completes it is immutable.
type SimulationContext struct {
	RunID  string
	PathID int
	Seed   uint64

	// Shared immutable inputs.
	Config    *config.Config
	Catalogue *tlsdata.Catalogue
	RNG       *rng.Factory

	// capital_allocation
	Allocation       map[domain.Zone]float64
	ActualAllocation map[domain.Zone]float64
	RebalanceAdjust  map[domain.Zone]float64

	// loan_generation (PropertyOrder/Cursor also advanced by reinvestment,
	// which extends the loan book through the same generator).
	Loans          []domain.Loan
	PropertyOrder  map[domain.Zone][]string
	PropertyCursor map[domain.Zone]int

	// price_paths
	PricePaths *domain.PricePathSet

	// exit_simulation (reinvestment appends exits for its own loans)
	Exits []domain.ExitEvent

	// reinvestment
	ReinvestedByMonth map[int]float64
	ReserveHeld       float64

	// leverage
	BaseRates    []float64
	Leverage     []domain.LeverageMonth
	NAVSeries    []float64
	CapitalCalls []float64

	// fees
	Fees []domain.FeeMonth

	// cashflow_aggregation
	Cashflows *domain.CashflowLedger

	// waterfall
	Waterfall *domain.WaterfallResult

	// risk
	RiskMetrics *domain.RiskMetrics

	// guardrails
	GuardrailReport *domain.GuardrailReport

	// reporting
	Report *domain.PerformanceReport

	// Bookkeeping owned by the orchestrator.
	Timings   []StageTiming
	Completed map[string]bool
	StartedAt time.Time
}

// NewContext creates the context for one path. Config and catalogue are
// shared immutably; the RNG factory is seeded per path.
func NewContext(runID string, pathID int, seed uint64, cfg *config.Config, cat *tlsdata.Catalogue) *SimulationContext {
	return &SimulationContext{
		RunID:     runID,
		PathID:    pathID,
		Seed:      seed,
		Config:    cfg,
		Catalogue: cat,
		RNG:       rng.NewFactory(seed),
		Completed: make(map[string]bool),
		StartedAt: time.Now(),
	}
}

// StageCompleted reports whether a stage has finished successfully.
func (c *SimulationContext) StageCompleted(name string) bool {
	return c.Completed[name]
}

// ExitsAtMonth returns the exit events landing at month m, in loan order.
func (c *SimulationContext) ExitsAtMonth(m int) []domain.ExitEvent {
	var out []domain.ExitEvent
	for _, e := range c.Exits {
		if e.Month == m {
			out = append(out, e)
		}
	}
	return out
}

// LoanByID returns a pointer into the loan book, or nil.
func (c *SimulationContext) LoanByID(id string) *domain.Loan {
	for i := range c.Loans {
		if c.Loans[i].ID == id {
			return &c.Loans[i]
		}
	}
	return nil
}
