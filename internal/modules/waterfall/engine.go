// Package waterfall allocates the fund's monthly distributions between LPs
// and the GP. The european structure runs a whole-fund four-tier waterfall
// over the ledger; the american structure pays carry deal by deal as exits
// realize, with losses netted against realized profits and an end-of-life
// clawback that trues the GP up to the whole-fund entitlement.
package waterfall

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

// Engine runs the distribution waterfall.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a waterfall engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "waterfall").Logger()}
}

// tierTotals accumulates per-tier LP/GP amounts.
type tierTotals struct {
	lp map[domain.TierName]float64
	gp map[domain.TierName]float64
}

func newTierTotals() *tierTotals {
	return &tierTotals{lp: make(map[domain.TierName]float64), gp: make(map[domain.TierName]float64)}
}

func (t *tierTotals) result(structure domain.WaterfallStructure) *domain.WaterfallResult {
	res := &domain.WaterfallResult{Structure: structure}
	order := []domain.TierName{
		domain.TierReturnOfCapital,
		domain.TierPreferredReturn,
		domain.TierGPCatchUp,
		domain.TierCarriedInterest,
	}
	for _, name := range order {
		lp, gp := t.lp[name], t.gp[name]
		if lp == 0 && gp == 0 {
			continue
		}
		res.Tiers = append(res.Tiers, domain.TierDistribution{Tier: name, LP: lp, GP: gp, Total: lp + gp})
		res.LPTotal += lp
		res.GPTotal += gp
	}
	return res
}

// european runs the whole-fund waterfall over the ledger rows. Unreturned
// capital accrues the hurdle monthly, compounding on unpaid preferred
// return.
func (e *Engine) european(sim *engine.SimulationContext) *domain.WaterfallResult {
	fund := sim.Config.Fund
	totals := newTierTotals()

	unreturned := 0.0 // outstanding LP capital
	accruedPref := 0.0
	lpProfit := 0.0 // profit distributions to LPs beyond capital
	gpCarry := 0.0

	for _, row := range sim.Cashflows.Rows {
		accruedPref += (unreturned + accruedPref) * fund.HurdleRate / 12.0
		unreturned += row.CapitalCall

		d := row.Distribution
		if d <= 0 {
			continue
		}

		roc := math.Min(d, unreturned)
		unreturned -= roc
		d -= roc
		totals.lp[domain.TierReturnOfCapital] += roc

		pref := math.Min(d, accruedPref)
		accruedPref -= pref
		d -= pref
		lpProfit += pref
		totals.lp[domain.TierPreferredReturn] += pref

		// GP catch-up until carry reaches CarryRate of all profit
		// distributions.
		if d > 0 && fund.CatchUpRate > 0 && fund.CarryRate > 0 && fund.CarryRate < 1 {
			target := fund.CarryRate / (1 - fund.CarryRate) * lpProfit
			gap := math.Max(0, target-gpCarry)
			if gap > 0 {
				tierTotal := math.Min(d, gap/fund.CatchUpRate)
				gpPart := tierTotal * fund.CatchUpRate
				lpPart := tierTotal - gpPart
				gpCarry += gpPart
				lpProfit += lpPart
				d -= tierTotal
				totals.gp[domain.TierGPCatchUp] += gpPart
				totals.lp[domain.TierGPCatchUp] += lpPart
			}
		}

		// Residual split.
		if d > 0 {
			gpPart := d * fund.CarryRate
			lpPart := d - gpPart
			gpCarry += gpPart
			lpProfit += lpPart
			totals.gp[domain.TierCarriedInterest] += gpPart
			totals.lp[domain.TierCarriedInterest] += lpPart
		}
	}

	res := totals.result(domain.WaterfallEuropean)
	res.CarryPaid = gpCarry
	res.EntitledCarry = gpCarry
	return res
}

// dealPref is the simple preferred accrual on one deal's capital over its
// holding period.
func dealPref(sim *engine.SimulationContext, principal float64, held int) float64 {
	return principal * sim.Config.Fund.HurdleRate * float64(held) / 12.0
}

// american pays carry as deals realize. Carry accrues on the running net
// realized profit, so losses reduce future carry before any is paid.
func (e *Engine) american(sim *engine.SimulationContext) *domain.WaterfallResult {
	fund := sim.Config.Fund
	totals := newTierTotals()

	unreturned := 0.0
	cumNetProfit := 0.0 // realized deal profits net of realized losses
	carryPaid := 0.0
	prefPaid := 0.0

	profitAt := make(map[int]float64)
	prefAt := make(map[int]float64)
	for i := range sim.Loans {
		l := &sim.Loans[i]
		held := l.ExitMonth - l.OriginationMonth
		pref := dealPref(sim, l.Principal, held)
		profitAt[l.ExitMonth] += l.ExitValue - l.Principal - pref
		prefAt[l.ExitMonth] += math.Min(pref, math.Max(0, l.ExitValue-l.Principal))
	}

	for _, row := range sim.Cashflows.Rows {
		unreturned += row.CapitalCall
		cumNetProfit += profitAt[row.Month]

		d := row.Distribution
		if d <= 0 {
			continue
		}

		roc := math.Min(d, unreturned)
		unreturned -= roc
		d -= roc
		totals.lp[domain.TierReturnOfCapital] += roc

		if d <= 0 {
			continue
		}

		pref := math.Min(d, prefAt[row.Month])
		d -= pref
		prefPaid += pref
		totals.lp[domain.TierPreferredReturn] += pref

		desired := fund.CarryRate * math.Max(0, cumNetProfit)
		carry := math.Min(d, math.Max(0, desired-carryPaid))
		carryPaid += carry
		d -= carry
		totals.gp[domain.TierCarriedInterest] += carry

		totals.lp[domain.TierCarriedInterest] += d
	}

	res := totals.result(domain.WaterfallAmerican)
	res.CarryPaid = carryPaid

	// End-of-life true-up: the GP is entitled to carry on the fund's
	// aggregate profit, measured at liquidation. Interim carry paid on
	// deals whose gains were later erased by losses comes back.
	ledger := sim.Cashflows
	wholeFundProfit := ledger.TotalDistributions + ledger.TerminalNAV - ledger.TotalContributions
	entitled := fund.CarryRate * math.Max(0, wholeFundProfit)
	res.EntitledCarry = entitled
	res.Clawback = math.Max(0, carryPaid-entitled)
	if res.Clawback > 0 {
		res.GPTotal -= res.Clawback
		res.LPTotal += res.Clawback
	}
	return res
}

// Run computes sim.Waterfall from the filled ledger.
func (e *Engine) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	if err := engine.CheckCancelled(ctx); err != nil {
		return err
	}
	if sim.Cashflows == nil {
		return &engine.StageError{
			Stage: "waterfall",
			Kind:  engine.KindInternal,
			Err:   fmt.Errorf("cashflow ledger not populated"),
		}
	}

	switch sim.Config.Fund.WaterfallStructure {
	case domain.WaterfallEuropean:
		sim.Waterfall = e.european(sim)
	case domain.WaterfallAmerican:
		sim.Waterfall = e.american(sim)
	default:
		return &engine.StageError{
			Stage: "waterfall",
			Kind:  engine.KindConfigInvalid,
			Err:   fmt.Errorf("unknown waterfall structure %q", sim.Config.Fund.WaterfallStructure),
		}
	}

	progress(1.0, "")
	return nil
}

// Stage adapts the engine to the pipeline as waterfall.
type Stage struct {
	engine *Engine
}

// NewStage creates the waterfall stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{engine: NewEngine(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "waterfall" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"cashflow_aggregation"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.engine.Run(ctx, sim, progress)
}
