// Package leverage models the fund's credit facilities: a NAV line sized
// against portfolio value with LTV and DSCR covenants, and a subscription
// line sized against uncalled commitments with a fixed tenor. The floating
// base rate follows a mean-reverting process. The stage also owns the NAV
// proxy series and the capital-call schedule consumed downstream.
package leverage

import (
	"context"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

// Engine runs the monthly treasury loop.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a leverage engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "leverage").Logger()}
}

// baseRatePath simulates the mean-reverting base rate over the horizon.
func (e *Engine) baseRatePath(sim *engine.SimulationContext, horizon int) []float64 {
	cfg := sim.Config.Leverage
	stream := sim.RNG.Stream("leverage/base_rate")
	dt := 1.0 / 12.0

	rates := make([]float64, horizon+1)
	rates[0] = cfg.BaseRateInitial
	for t := 1; t <= horizon; t++ {
		r := rates[t-1]
		r += cfg.BaseRateSpeed*(cfg.BaseRateMean-r)*dt + cfg.BaseRateVolatility*math.Sqrt(dt)*stream.NormFloat64()
		if r < 0 {
			r = 0
		}
		rates[t] = r
	}
	return rates
}

// navAt computes the NAV proxy at month m: outstanding principal of active
// loans grown by their property's price index since origination.
func navAt(sim *engine.SimulationContext, m int) float64 {
	nav := 0.0
	for i := range sim.Loans {
		l := &sim.Loans[i]
		if l.OriginationMonth > m || l.ExitMonth <= m {
			continue
		}
		base := sim.PricePaths.PropertyIndex(l.Zone, l.PropertyID, l.OriginationMonth)
		cur := sim.PricePaths.PropertyIndex(l.Zone, l.PropertyID, m)
		growth := 1.0
		if base > 0 {
			growth = cur / base
		}
		nav += l.Principal * growth
	}
	return nav
}

// interestIncomeAt is the monthly contractual interest accrual of active
// loans, used for the DSCR covenant.
func interestIncomeAt(sim *engine.SimulationContext, m int) float64 {
	income := 0.0
	for i := range sim.Loans {
		l := &sim.Loans[i]
		if l.OriginationMonth > m || l.ExitMonth <= m {
			continue
		}
		income += l.Principal * l.Rate / 12.0
	}
	return income
}

// Run simulates both facilities month by month and writes the leverage
// schedule, base rates, NAV series and capital-call schedule.
func (e *Engine) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	cfg := sim.Config
	horizon := cfg.Fund.TermMonths()
	nav := cfg.Leverage.NAVLine
	sub := cfg.Leverage.SubscriptionLine

	sim.BaseRates = e.baseRatePath(sim, horizon)
	sim.NAVSeries = make([]float64, horizon+1)
	sim.CapitalCalls = make([]float64, horizon+1)
	sim.Leverage = make([]domain.LeverageMonth, horizon+1)

	// Month-0 funding need: the initial portfolio plus setup costs.
	initialNeed := cfg.Fees.ExpenseSetup
	for _, l := range sim.Loans {
		if l.OriginationMonth == 0 {
			initialNeed += l.Principal
		}
	}

	called := 0.0
	navBalance := 0.0
	subBalance := 0.0
	for m := 0; m <= horizon; m++ {
		if m%12 == 0 {
			if err := engine.CheckCancelled(ctx); err != nil {
				return err
			}
		}

		row := domain.LeverageMonth{Month: m, BaseRate: sim.BaseRates[m]}
		navValue := navAt(sim, m)
		sim.NAVSeries[m] = navValue
		row.NAV = navValue

		// Funding need this month. Reinvestment is self-funded from
		// proceeds, so only month 0 calls capital for loans.
		need := 0.0
		if m == 0 {
			need = initialNeed
		}

		if need > 0 {
			// Bridge with the subscription line first. The borrowing base
			// is the uncalled commitments before this month's call.
			if sub.Enabled && m < sub.TermMonths {
				uncalled := math.Max(0, cfg.Fund.Size-called)
				limit := sub.CommitmentPct * uncalled
				draw := math.Min(need, math.Max(0, limit-subBalance))
				subBalance += draw
				need -= draw
				row.Draw += draw
			}
			// Then the NAV line, subject to covenants.
			if nav.Enabled && need > 0 {
				limit := nav.AdvanceRate * navValue
				if nav.MaxLTV > 0 && navValue > 0 {
					limit = math.Min(limit, nav.MaxLTV*navValue)
				}
				projected := (sim.BaseRates[m] + nav.Spread) / 12.0 * (navBalance + need)
				dscrOK := nav.MinDSCR <= 0 || projected <= 0 || interestIncomeAt(sim, m)/projected >= nav.MinDSCR
				if dscrOK {
					draw := math.Min(need, math.Max(0, limit-navBalance))
					navBalance += draw
					need -= draw
					row.Draw += draw
				}
			}
			// Whatever remains is called from LPs, never beyond the
			// remaining commitments. A residual shortfall carries as a
			// negative cash balance in the ledger.
			if need > 0 {
				call := math.Min(need, math.Max(0, cfg.Fund.Size-called))
				sim.CapitalCalls[m] += call
				called += call
			}
		}

		// Interest and commitment fees accrue on month-end balances.
		monthlyRate := func(spread float64) float64 { return (sim.BaseRates[m] + spread) / 12.0 }
		interest := navBalance*monthlyRate(nav.Spread) + subBalance*monthlyRate(sub.Spread)
		row.Interest = interest

		commitFee := 0.0
		if nav.Enabled {
			undrawn := math.Max(0, nav.AdvanceRate*navValue-navBalance)
			commitFee += undrawn * nav.CommitmentFee / 12.0
		}
		if sub.Enabled && m < sub.TermMonths {
			undrawn := math.Max(0, sub.CommitmentPct*math.Max(0, cfg.Fund.Size-called)-subBalance)
			commitFee += undrawn * sub.CommitmentFee / 12.0
		}
		row.CommitmentFee = commitFee

		// Repay from exit proceeds that were not recycled.
		proceeds := 0.0
		for _, ev := range sim.ExitsAtMonth(m) {
			proceeds += ev.FundProceeds
		}
		cash := math.Max(0, proceeds-sim.ReinvestedByMonth[m])
		if cash > 0 {
			repay := math.Min(cash, subBalance)
			subBalance -= repay
			row.Repayment += repay
			cash -= repay

			repay = math.Min(cash, navBalance)
			navBalance -= repay
			row.Repayment += repay
		}

		// Subscription-line maturity: the residual balance is taken out by
		// a capital call, capped at the remaining commitments.
		if sub.Enabled && m == sub.TermMonths && subBalance > 0 {
			takeout := math.Min(subBalance, math.Max(0, cfg.Fund.Size-called))
			sim.CapitalCalls[m] += takeout
			called += takeout
			row.Repayment += takeout
			subBalance -= takeout
		}

		row.NAVBalance = navBalance
		row.SubBalance = subBalance
		sim.Leverage[m] = row

		if m%12 == 0 || m == horizon {
			progress(float64(m)/float64(horizon), "")
		}
	}
	return nil
}

// Stage adapts the engine to the pipeline as leverage.
type Stage struct {
	engine *Engine
}

// NewStage creates the leverage stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{engine: NewEngine(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "leverage" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"reinvestment"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.engine.Run(ctx, sim, progress)
}
