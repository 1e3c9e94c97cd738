// Package cashflows rolls loan-level and facility-level activity up into the
// fund's monthly ledger and derives the summary return metrics. The fund is
// modelled as a cash account: capital calls, exit proceeds and facility
// draws flow in; investments, fees, expenses and debt service flow out; any
// positive month-end balance is distributed immediately.
package cashflows

import (
	"context"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/modules/exits"
	"github.com/rs/zerolog"
)

// Aggregator builds the fund-level ledger.
type Aggregator struct {
	log zerolog.Logger
}

// NewAggregator creates a cashflow aggregator.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("component", "cashflows").Logger()}
}

// Run fills sim.Cashflows. The cumulative column satisfies
// cumulative[t] = cumulative[t-1] + net[t] for every t.
func (a *Aggregator) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	horizon := sim.Config.Fund.TermMonths()
	ledger := &domain.CashflowLedger{}
	ledger.Row(horizon) // size the ledger up front

	for i := range sim.Loans {
		l := &sim.Loans[i]
		inv := ledger.Row(l.OriginationMonth)
		inv.LoanInvestment += l.Principal

		p := exits.ComputeProceeds(sim.Config, l, l.ExitKind, l.ExitMonth, sim.PricePaths)
		out := ledger.Row(l.ExitMonth)
		if l.ExitKind == domain.ExitDefault {
			out.PrincipalRepayment += p.Recovery
		} else {
			out.PrincipalRepayment += p.Principal
			out.InterestIncome += p.Interest
			out.AppreciationShare += p.AppreciationShare
		}
	}

	for m := 0; m <= horizon; m++ {
		row := ledger.Row(m)
		if m < len(sim.CapitalCalls) {
			row.CapitalCall = sim.CapitalCalls[m]
		}
		if m < len(sim.Fees) {
			// Fund share only; the GP's origination cut never lands here.
			row.OriginationFee = sim.Fees[m].Origination
			row.ManagementFee = sim.Fees[m].Management
			row.TransactionFee = sim.Fees[m].Transaction
			row.FundExpense = sim.Fees[m].Expense
		}
		if m < len(sim.Leverage) {
			row.LeverageDraw = sim.Leverage[m].Draw
			row.LeverageRepayment = sim.Leverage[m].Repayment
			row.LeverageInterest = sim.Leverage[m].Interest + sim.Leverage[m].CommitmentFee
		}
	}

	// Cash account sweep. A negative balance is a funding deficit carried
	// into the next month; only positive balances distribute.
	balance := 0.0
	cumulative := 0.0
	for m := 0; m <= horizon; m++ {
		if m%24 == 0 {
			if err := engine.CheckCancelled(ctx); err != nil {
				return err
			}
		}
		row := ledger.Row(m)
		balance += row.CapitalCall + row.OriginationFee +
			row.PrincipalRepayment + row.InterestIncome + row.AppreciationShare +
			row.LeverageDraw
		balance -= row.LoanInvestment + row.ManagementFee + row.TransactionFee +
			row.FundExpense + row.LeverageRepayment + row.LeverageInterest

		if balance > 0 {
			row.Distribution = balance
			balance = 0
		}

		row.Net = row.Distribution - row.CapitalCall
		cumulative += row.Net
		row.Cumulative = cumulative

		ledger.TotalContributions += row.CapitalCall
		ledger.TotalDistributions += row.Distribution
	}
	ledger.TerminalNAV = math.Max(0, balance)

	a.deriveMetrics(ledger)
	sim.Cashflows = ledger
	progress(1.0, "")
	return nil
}

// deriveMetrics computes IRR and the multiple family from the filled rows.
func (a *Aggregator) deriveMetrics(l *domain.CashflowLedger) {
	if l.TotalContributions > 0 {
		l.DPI = l.TotalDistributions / l.TotalContributions
		l.RVPI = l.TerminalNAV / l.TotalContributions
		l.TVPI = l.DPI + l.RVPI
		l.MOIC = l.TVPI
		l.EquityMultiple = l.TVPI
	}

	irr, diag := SolveIRR(l.NetSeries())
	l.IRR = irr
	l.IRRDiagnostic = diag
	if irr == nil {
		a.log.Debug().Str("diagnostic", diag).Msg("irr not solvable")
	}
}

// npv discounts the monthly flow series at monthly rate r.
func npv(flows []float64, r float64) float64 {
	v := 0.0
	d := 1.0
	for _, f := range flows {
		v += f / d
		d *= 1 + r
	}
	return v
}

// SolveIRR finds the annualized IRR of a monthly net flow series by
// bracketing and bisection, with a secant refinement. Returns nil and a
// diagnostic when no sign change exists so no root can be bracketed.
func SolveIRR(flows []float64) (*float64, string) {
	hasNeg, hasPos := false, false
	for _, f := range flows {
		if f < 0 {
			hasNeg = true
		}
		if f > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return nil, "irr undefined: flows do not change sign"
	}

	lo, hi := -0.99, 10.0
	flo, fhi := npv(flows, lo), npv(flows, hi)
	if flo*fhi > 0 {
		return nil, "irr undefined: no root in bracket"
	}

	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		fmid := npv(flows, mid)
		if math.Abs(fmid) < 1e-9 || hi-lo < 1e-12 {
			lo, hi = mid, mid
			break
		}
		if flo*fmid <= 0 {
			hi, fhi = mid, fmid
		} else {
			lo, flo = mid, fmid
		}
	}
	monthly := (lo + hi) / 2

	// One secant step sharpens the bisection result when the NPV curve is
	// locally well behaved.
	f1 := npv(flows, monthly)
	f2 := npv(flows, monthly+1e-7)
	if slope := (f2 - f1) / 1e-7; slope != 0 {
		refined := monthly - f1/slope
		if refined > -1 && !math.IsNaN(refined) && math.Abs(npv(flows, refined)) <= math.Abs(f1) {
			monthly = refined
		}
	}

	annual := math.Pow(1+monthly, 12) - 1
	if math.IsNaN(annual) || math.IsInf(annual, 0) {
		return nil, "irr undefined: solver diverged"
	}
	return &annual, ""
}

// Stage adapts the aggregator to the pipeline as cashflow_aggregation.
type Stage struct {
	agg *Aggregator
}

// NewStage creates the cashflow_aggregation stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{agg: NewAggregator(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "cashflow_aggregation" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"fees"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.agg.Run(ctx, sim, progress)
}
