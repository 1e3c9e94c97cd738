// Package reinvest implements the reinvestment engine: during the
// reinvestment window, exit proceeds (net of a liquidity reserve) are fed
// back into the loan generator, and exits for the newly originated loans
// are simulated immediately so later months see their proceeds too.
package reinvest

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/modules/exits"
	"github.com/aristath/fundsim/internal/modules/loans"
	"github.com/aristath/fundsim/internal/modules/pricepaths"
	"github.com/rs/zerolog"
)

// Engine reinvests exit proceeds month by month.
type Engine struct {
	gen  *loans.Generator
	exit *exits.Simulator
	log  zerolog.Logger
}

// NewEngine creates a reinvestment engine sharing the loan generator and
// exit simulator used by the upstream stages.
func NewEngine(gen *loans.Generator, exit *exits.Simulator, log zerolog.Logger) *Engine {
	return &Engine{
		gen:  gen,
		exit: exit,
		log:  log.With().Str("component", "reinvestment").Logger(),
	}
}

// weights returns the zone weights for month m: the static target, or the
// target tilted by trailing zone performance when dynamic weighting is on.
// Per-zone caps always win; weights are renormalized after capping.
func (e *Engine) weights(sim *engine.SimulationContext, m int) map[domain.Zone]float64 {
	cfg := sim.Config
	base := cfg.Zones.Allocations

	w := make(map[domain.Zone]float64, len(domain.AllZones))
	if !cfg.Reinvestment.DynamicWeights {
		for _, z := range domain.AllZones {
			w[z] = base[z]
		}
		return w
	}

	lookback := cfg.Reinvestment.LookbackMonths
	for _, z := range domain.AllZones {
		from := m - lookback
		if from < 0 {
			from = 0
		}
		cur := sim.PricePaths.ZoneIndex(z, m)
		prev := sim.PricePaths.ZoneIndex(z, from)
		trailing := 0.0
		if prev > 0 {
			trailing = cur/prev - 1
		}
		w[z] = base[z] * math.Max(0.1, 1+trailing)
	}

	// Normalize, then push excess over per-zone caps onto the uncapped
	// zones. Caps always win; if every zone is capped the weights may sum
	// below 1 and the shortfall stays undeployed for the month.
	total := 0.0
	for _, z := range domain.AllZones {
		total += w[z]
	}
	if total <= 0 {
		return base
	}
	for _, z := range domain.AllZones {
		w[z] /= total
	}
	for iter := 0; iter < 4; iter++ {
		excess := 0.0
		uncapped := 0.0
		for _, z := range domain.AllZones {
			limit, ok := cfg.Zones.Caps[z]
			if ok && w[z] > limit {
				excess += w[z] - limit
				w[z] = limit
			} else {
				uncapped += w[z]
			}
		}
		if excess <= 1e-12 || uncapped <= 0 {
			break
		}
		for _, z := range domain.AllZones {
			limit, ok := cfg.Zones.Caps[z]
			if !ok || w[z] < limit {
				w[z] += excess * w[z] / uncapped
			}
		}
	}
	for _, z := range domain.AllZones {
		if limit, ok := cfg.Zones.Caps[z]; ok && w[z] > limit {
			w[z] = limit
		}
	}
	return w
}

// Run walks the reinvestment window month by month.
func (e *Engine) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	cfg := sim.Config
	sim.ReinvestedByMonth = make(map[int]float64)
	if !cfg.Reinvestment.Enabled {
		progress(1.0, "reinvestment disabled")
		return nil
	}

	horizon := cfg.Reinvestment.HorizonMonths
	if horizon > cfg.Fund.TermMonths() {
		horizon = cfg.Fund.TermMonths()
	}

	carry := 0.0 // undeployed remainder rolled into the next month
	for m := 1; m <= horizon; m++ {
		if err := engine.CheckCancelled(ctx); err != nil {
			return err
		}

		proceeds := 0.0
		for _, ev := range sim.ExitsAtMonth(m) {
			proceeds += ev.FundProceeds
		}
		if proceeds <= 0 && carry <= 0 {
			progress(float64(m)/float64(horizon), "")
			continue
		}

		reserve := proceeds * cfg.Reinvestment.LiquidityReserve
		sim.ReserveHeld += reserve
		available := proceeds - reserve + carry

		weights := e.weights(sim, m)
		deployed := 0.0
		leftover := 0.0
		for _, z := range domain.AllZones {
			budget := available * weights[z]
			batch, remaining, err := e.gen.GenerateZone(ctx, sim, z, budget, m, true)
			if err != nil {
				return err
			}
			leftover += remaining
			for i := range batch {
				loan := batch[i]
				e.ensureMultiplier(sim, &loan)
				sim.Loans = append(sim.Loans, loan)
				event := e.exit.SimulateLoan(cfg, sim, &sim.Loans[len(sim.Loans)-1])
				sim.Exits = append(sim.Exits, event)
				deployed += loan.Principal
			}
		}
		carry = leftover
		if deployed > 0 {
			sim.ReinvestedByMonth[m] = deployed
		}
		progress(float64(m)/float64(horizon), fmt.Sprintf("month %d: reinvested %.0f", m, deployed))
	}
	return nil
}

// ensureMultiplier extends the property-multiplier map for a loan
// originated after the price_paths stage ran. Series are derived from the
// property's own named stream, so this is identical to what price_paths
// would have produced.
func (e *Engine) ensureMultiplier(sim *engine.SimulationContext, loan *domain.Loan) {
	cfg := sim.Config
	if !cfg.PricePaths.PropertyNoise || !cfg.Features.PropertyLevelPaths {
		return
	}
	if sim.PricePaths.PropertyMultipliers == nil {
		sim.PricePaths.PropertyMultipliers = make(map[string][]float64)
	}
	if _, ok := sim.PricePaths.PropertyMultipliers[loan.PropertyID]; ok {
		return
	}
	prop, err := sim.Catalogue.Property(loan.PropertyID)
	if err != nil {
		// The loan keeps the zone-level path; noise is a refinement, not
		// a requirement.
		e.log.Debug().
			Err(err).
			Str("property_id", loan.PropertyID).
			Msg("no catalogue entry for reinvested loan, keeping zone path")
		return
	}
	vol := prop.Volatility
	if vol <= 0 {
		vol = cfg.PricePaths.PropertyVolatility
	}
	sim.PricePaths.PropertyMultipliers[loan.PropertyID] =
		pricepaths.MultiplierFor(sim, loan.PropertyID, vol, cfg.Fund.TermMonths())
}

// Stage adapts the engine to the pipeline as reinvestment.
type Stage struct {
	engine *Engine
}

// NewStage creates the reinvestment stage.
func NewStage(gen *loans.Generator, exit *exits.Simulator, log zerolog.Logger) *Stage {
	return &Stage{engine: NewEngine(gen, exit, log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "reinvestment" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"exit_simulation"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.engine.Run(ctx, sim, progress)
}
