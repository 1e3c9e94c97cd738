// Package risk derives single-path risk metrics from the simulated
// portfolio: volatility, CAPM alpha and beta against an allocation-weighted
// zone benchmark, a log-normal VaR and CVaR approximation of the monthly
// return tail, the ratio family, drawdown, concentration indices and
// deterministic
// stress scenarios re-priced through the exit proceeds model.
package risk

import (
	"context"
	"math"
	"sort"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/modules/cashflows"
	"github.com/aristath/fundsim/internal/modules/exits"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minObservations is the smallest return series the moment-based metrics
// accept.
const minObservations = 6

// Engine computes sim.RiskMetrics.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a risk engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "risk").Logger()}
}

// returnSeries builds monthly asset-level returns from the NAV series and
// the ledger. Investments are deposits into the asset base and exit
// realizations are withdrawals, so the return isolates price and income
// effects. The series stops once NAV decays below a floor: ratios against a
// near-empty book are noise, not signal.
func returnSeries(sim *engine.SimulationContext) []float64 {
	floor := sim.Config.Fund.Size * 0.005
	var out []float64
	for m := 1; m < len(sim.NAVSeries); m++ {
		prev := sim.NAVSeries[m-1]
		if prev < floor {
			break
		}
		row := sim.Cashflows.Rows[m]
		realized := row.PrincipalRepayment + row.InterestIncome + row.AppreciationShare
		r := (sim.NAVSeries[m] - prev - row.LoanInvestment + realized) / prev
		out = append(out, r)
	}
	return out
}

// benchmarkSeries is the allocation-weighted zone index return, the closest
// observable market proxy for the portfolio.
func benchmarkSeries(sim *engine.SimulationContext, n int) []float64 {
	out := make([]float64, 0, n)
	for m := 1; m <= n; m++ {
		prev, cur := 0.0, 0.0
		for _, z := range domain.AllZones {
			w := sim.Config.Zones.Allocations[z]
			prev += w * sim.PricePaths.ZoneIndex(z, m-1)
			cur += w * sim.PricePaths.ZoneIndex(z, m)
		}
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

// hhi computes the Herfindahl-Hirschman index of the given exposure map.
// Keys are sorted before summing so the float accumulation order, and with
// it the last bits of the result, never depends on map iteration order.
func hhi(exposure map[string]float64) float64 {
	keys := make([]string, 0, len(exposure))
	for k := range exposure {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := 0.0
	for _, k := range keys {
		total += exposure[k]
	}
	if total <= 0 {
		return 0
	}
	h := 0.0
	for _, k := range keys {
		w := exposure[k] / total
		h += w * w
	}
	return h
}

// lognormalTail fits a log-normal distribution to the observed monthly
// growth factors and reads the one-month VaR and CVaR off the fitted tail
// at the given confidence, as positive losses. The metrics carry
// requires_mc because the parametric fit stands in for the empirical tail,
// which only exists across Monte Carlo paths.
func lognormalTail(returns []float64, sigma, confidence float64) (domain.Metric, domain.Metric) {
	if sigma <= 0 {
		null := domain.NullMetric("zero return variance", true)
		return null, null
	}
	logs := make([]float64, len(returns))
	for i, r := range returns {
		if r <= -1 {
			null := domain.NullMetric("total-loss month breaks the log-normal fit", true)
			return null, null
		}
		logs[i] = math.Log1p(r)
	}
	lmu := stat.Mean(logs, nil)
	lsig := stat.StdDev(logs, nil)
	if lsig <= 0 {
		null := domain.NullMetric("zero return variance", true)
		return null, null
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	z := norm.Quantile(1 - confidence)
	vaR := -(math.Exp(lmu+lsig*z) - 1)
	tailMean := math.Exp(lmu+lsig*lsig/2) * norm.CDF(z-lsig) / (1 - confidence)
	cvar := -(tailMean - 1)
	return approxTailMetric(vaR), approxTailMetric(cvar)
}

func approxTailMetric(v float64) domain.Metric {
	return domain.Metric{Value: &v, RequiresMC: true, Diagnostic: "log-normal approximation"}
}

// maxDrawdown computes the peak-to-trough loss of the wealth index implied
// by the return series.
func maxDrawdown(returns []float64) float64 {
	wealth, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		if dd := (peak - wealth) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Run computes sim.RiskMetrics from the upstream results.
func (e *Engine) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	if err := engine.CheckCancelled(ctx); err != nil {
		return err
	}
	cfg := sim.Config.Risk
	metrics := &domain.RiskMetrics{}

	returns := returnSeries(sim)
	if len(returns) < minObservations {
		null := domain.NullMetric("insufficient return observations", false)
		metrics.Volatility, metrics.Alpha, metrics.Beta = null, null, null
		tailNull := domain.NullMetric("insufficient return observations", true)
		metrics.VaR, metrics.CVaR = tailNull, tailNull
		metrics.Sharpe, metrics.Sortino, metrics.Calmar = null, null, null
		metrics.MSquared, metrics.MaxDrawdown = null, null
	} else {
		mu := stat.Mean(returns, nil)
		sigma := stat.StdDev(returns, nil)
		annRet := mu * 12
		annVol := sigma * math.Sqrt(12)
		metrics.Volatility = domain.MetricOf(annVol)

		bench := benchmarkSeries(sim, len(returns))
		if bvar := stat.Variance(bench, nil); bvar > 0 {
			beta := stat.Covariance(returns, bench, nil) / bvar
			metrics.Beta = domain.MetricOf(beta)
			metrics.Alpha = domain.MetricOf(annRet - (cfg.RiskFreeRate + beta*(cfg.BenchmarkReturn-cfg.RiskFreeRate)))
		} else {
			metrics.Beta = domain.NullMetric("benchmark variance is zero", false)
			metrics.Alpha = domain.NullMetric("benchmark variance is zero", false)
		}

		// Analytic one-month VaR and CVaR under a log-normal fit of the
		// observed growth factors. These carry requires_mc because the
		// parametric fit only approximates the tail; the empirical tail
		// is defined across Monte Carlo paths.
		metrics.VaR, metrics.CVaR = lognormalTail(returns, sigma, cfg.VaRConfidence)

		if annVol > 0 {
			sharpe := (annRet - cfg.RiskFreeRate) / annVol
			metrics.Sharpe = domain.MetricOf(sharpe)
			metrics.MSquared = domain.MetricOf(cfg.RiskFreeRate + sharpe*cfg.BenchmarkVol)
		} else {
			metrics.Sharpe = domain.NullMetric("zero volatility", false)
			metrics.MSquared = domain.NullMetric("zero volatility", false)
		}

		downside := 0.0
		target := cfg.RiskFreeRate / 12
		for _, r := range returns {
			if d := r - target; d < 0 {
				downside += d * d
			}
		}
		downside = math.Sqrt(downside/float64(len(returns))) * math.Sqrt(12)
		if downside > 0 {
			metrics.Sortino = domain.MetricOf((annRet - cfg.RiskFreeRate) / downside)
		} else {
			metrics.Sortino = domain.NullMetric("no downside observations", false)
		}

		dd := maxDrawdown(returns)
		metrics.MaxDrawdown = domain.MetricOf(dd)
		if dd > 0 {
			metrics.Calmar = domain.MetricOf(annRet / dd)
		} else {
			metrics.Calmar = domain.NullMetric("no drawdown observed", false)
		}
	}

	zoneExp := make(map[string]float64)
	suburbExp := make(map[string]float64)
	for _, l := range sim.Loans {
		zoneExp[string(l.Zone)] += l.Principal
		suburbExp[l.SuburbID] += l.Principal
	}
	metrics.ZoneHHI = hhi(zoneExp)
	metrics.SuburbHHI = hhi(suburbExp)

	for i, scenario := range cfg.StressScenarios {
		if err := engine.CheckCancelled(ctx); err != nil {
			return err
		}
		metrics.StressOutcomes = append(metrics.StressOutcomes, e.runStress(sim, &cfg.StressScenarios[i]))
		progress(float64(i+1)/float64(len(cfg.StressScenarios)+1), "stress "+scenario.Name)
	}

	sim.RiskMetrics = metrics
	progress(1.0, "")
	return nil
}

// shockedPrices clones the zone paths with the price shock applied from
// month 1 onward. Index 0 stays at 1 so loans originated at the start feel
// the full shock in their appreciation.
func shockedPrices(base *domain.PricePathSet, shock float64) *domain.PricePathSet {
	out := &domain.PricePathSet{
		HorizonMonths:       base.HorizonMonths,
		Zone:                make(map[domain.Zone][]float64, len(base.Zone)),
		PropertyMultipliers: base.PropertyMultipliers,
	}
	for z, path := range base.Zone {
		shocked := make([]float64, len(path))
		copy(shocked, path)
		for m := 1; m < len(shocked); m++ {
			shocked[m] *= 1 + shock
		}
		out.Zone[z] = shocked
	}
	return out
}

// runStress re-prices every exit under the scenario and rebuilds the net
// flow series deterministically. Extra defaults from the PD multiplier are
// blended in expectation rather than re-drawn, so stress outcomes stay
// deterministic for a given path.
func (e *Engine) runStress(sim *engine.SimulationContext, scenario *config.StressScenario) domain.StressOutcome {
	prices := sim.PricePaths
	if scenario.PriceShock != 0 {
		prices = shockedPrices(sim.PricePaths, scenario.PriceShock)
	}

	proceedsAt := make(map[int]float64)
	for i := range sim.Loans {
		l := &sim.Loans[i]
		p := exits.ComputeProceeds(sim.Config, l, l.ExitKind, l.ExitMonth, prices).Fund
		if scenario.PDMultiplier > 1 && l.ExitKind != domain.ExitDefault {
			pd := sim.Config.Zones.Params[l.Zone].DefaultRate
			heldYears := float64(l.ExitMonth-l.OriginationMonth) / 12.0
			extra := math.Min(1, (scenario.PDMultiplier-1)*pd*heldYears)
			pDefault := exits.ComputeProceeds(sim.Config, l, domain.ExitDefault, l.ExitMonth, prices).Fund
			p = (1-extra)*p + extra*pDefault
		}
		proceedsAt[l.ExitMonth] += p
	}

	// Cash sweep mirroring the aggregator, with stressed inflows and the
	// rate shock loaded onto the debt service.
	rateBump := scenario.RateShockBps / 10_000 / 12
	balance := 0.0
	contributions, distributions := 0.0, 0.0
	net := make([]float64, len(sim.Cashflows.Rows))
	for m, row := range sim.Cashflows.Rows {
		interest := row.LeverageInterest
		if m < len(sim.Leverage) {
			interest += rateBump * sim.Leverage[m].TotalBalance()
		}
		balance += row.CapitalCall + row.OriginationFee + proceedsAt[m] + row.LeverageDraw
		balance -= row.LoanInvestment + row.ManagementFee + row.TransactionFee +
			row.FundExpense + row.LeverageRepayment + interest

		dist := 0.0
		if balance > 0 {
			dist = balance
			balance = 0
		}
		net[m] = dist - row.CapitalCall
		contributions += row.CapitalCall
		distributions += dist
	}

	out := domain.StressOutcome{Scenario: scenario.Name}
	if contributions > 0 {
		out.EquityMultiple = distributions / contributions
	}
	irr, _ := cashflows.SolveIRR(net)
	out.IRR = irr
	if irr != nil && sim.Cashflows.IRR != nil {
		delta := *irr - *sim.Cashflows.IRR
		out.IRRDelta = &delta
	}
	return out
}

// Stage adapts the engine to the pipeline as risk.
type Stage struct {
	engine *Engine
}

// NewStage creates the risk stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{engine: NewEngine(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "risk" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"waterfall"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.engine.Run(ctx, sim, progress)
}
