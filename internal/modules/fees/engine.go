// Package fees computes the monthly fee schedule: management fees on a
// committed or NAV basis with an optional stepped rate, origination fees
// collected at loan origination, transaction fees on exit proceeds and fund
// operating expenses.
package fees

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

// Engine computes the fee schedule for one path.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a fee engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "fees").Logger()}
}

// managementRate returns the annual management-fee rate in force at month m.
// Steps are sorted by FromMonth at validation time; the last step whose
// FromMonth is not after m applies.
func managementRate(sim *engine.SimulationContext, m int) float64 {
	rate := sim.Config.Fund.ManagementFeeRate
	for _, step := range sim.Config.Fees.ManagementFeeSteps {
		if step.FromMonth <= m {
			rate = step.Rate
		}
	}
	return rate
}

// Run fills sim.Fees with one row per month.
func (e *Engine) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	cfg := sim.Config.Fees
	horizon := sim.Config.Fund.TermMonths()

	switch cfg.ManagementFeeBasis {
	case "committed", "nav":
	default:
		return &engine.StageError{
			Stage: "fees",
			Kind:  engine.KindConfigInvalid,
			Err:   fmt.Errorf("unknown management fee basis %q", cfg.ManagementFeeBasis),
		}
	}

	origination := make(map[int]float64)
	for _, l := range sim.Loans {
		origination[l.OriginationMonth] += l.OriginationFee
	}

	sim.Fees = make([]domain.FeeMonth, horizon+1)
	for m := 0; m <= horizon; m++ {
		if m%24 == 0 {
			if err := engine.CheckCancelled(ctx); err != nil {
				return err
			}
		}

		nav := 0.0
		if m < len(sim.NAVSeries) {
			nav = sim.NAVSeries[m]
		}

		basis := sim.Config.Fund.Size
		if cfg.ManagementFeeBasis == "nav" {
			basis = nav
		}
		// The GP retains its contractual share of origination fees at
		// source; only the remainder is fund income.
		row := domain.FeeMonth{
			Month:         m,
			Management:    managementRate(sim, m) / 12.0 * basis,
			Origination:   (1 - cfg.GPFeeShare) * origination[m],
			GPOrigination: cfg.GPFeeShare * origination[m],
		}

		for _, ev := range sim.ExitsAtMonth(m) {
			row.Transaction += cfg.TransactionFeeRate * ev.FundProceeds
		}

		years := float64(m) / 12.0
		row.Expense = cfg.ExpenseFixedAnnual * math.Pow(1+cfg.ExpenseGrowthRate, years) / 12.0
		row.Expense += cfg.ExpenseNAVPct / 12.0 * nav
		if m == 0 {
			row.Expense += cfg.ExpenseSetup
		}

		sim.Fees[m] = row
	}

	progress(1.0, "")
	return nil
}

// Stage adapts the engine to the pipeline as fees.
type Stage struct {
	engine *Engine
}

// NewStage creates the fees stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{engine: NewEngine(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "fees" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"leverage"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.engine.Run(ctx, sim, progress)
}
