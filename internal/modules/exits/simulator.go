// Package exits simulates when and how each loan leaves the portfolio. For
// every month of a loan's life an instantaneous hazard is computed from
// time, price and macro factors; the first Bernoulli hit sets the exit
// month, and the exit kind is drawn from a categorical distribution
// conditioned on the state at that month. Every loan yields exactly one
// exit event.
package exits

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/rng"
	"github.com/rs/zerolog"
)

// Simulator draws exit months and kinds. It is reused by the reinvestment
// engine for loans originated mid-life, so all per-loan state comes from
// the loan's own named stream "exit/loan/{id}".
type Simulator struct {
	log zerolog.Logger
}

// NewSimulator creates an exit simulator.
func NewSimulator(log zerolog.Logger) *Simulator {
	return &Simulator{log: log.With().Str("component", "exit_simulator").Logger()}
}

// hazard computes the monthly exit hazard for a loan at month m.
func hazard(cfg *config.ExitConfig, loan *domain.Loan, appreciation float64, m int) float64 {
	ageMonths := m - loan.OriginationMonth

	// Time factor: zero until min hold, then rising with age in years,
	// capped.
	timeFactor := 0.0
	if ageMonths > cfg.MinHoldMonths {
		timeFactor = float64(ageMonths-cfg.MinHoldMonths) / 12.0
		if timeFactor > cfg.TimeFactorCap {
			timeFactor = cfg.TimeFactorCap
		}
	}

	// Price factor: baseline 1, rising with realized appreciation.
	priceFactor := 1.0 + math.Max(0, appreciation)

	// Economic factor: configured macro distress level in [0,1].
	econFactor := cfg.EconomicFactor

	h := cfg.BaseHazard * (cfg.TimeWeight*timeFactor + cfg.PriceWeight*priceFactor + cfg.EconomicWeight*econFactor)
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}

// kindWeights builds the unnormalized categorical weights for the exit kind
// at the exit month.
func kindWeights(cfg *config.ExitConfig, zone config.ZoneParams, loan *domain.Loan, appreciation float64) []float64 {
	// Appreciation favours sales.
	fAppr := 1.0 + math.Max(0, appreciation)
	// Above-market loan rates favour refinancing.
	fRate := 1.0
	if loan.Rate > 0 {
		fRate = 1.0 + cfg.RefinanceRateSensitivity*math.Max(0, appreciation/2)
	}
	// Macro distress and the zone's default propensity drive defaults.
	fEcon := (0.5 + cfg.EconomicFactor) * (1.0 + 10.0*zone.DefaultRate)

	return []float64{
		cfg.SaleWeight * fAppr,
		cfg.RefinanceWeight * fRate,
		cfg.DefaultWeight * fEcon,
	}
}

// appreciationShareFraction resolves the contractual share of appreciation
// for a loan given its total appreciation at exit.
func appreciationShareFraction(cfg *config.ExitConfig, loan *domain.Loan, appreciation float64) float64 {
	switch cfg.AppreciationShareMethod {
	case "tiered":
		share := 0.0
		for _, tier := range cfg.AppreciationTiers {
			if appreciation >= tier.Threshold {
				share = tier.Share
			}
		}
		return share
	default: // pro_rata_ltv
		return cfg.AppreciationShareFactor * loan.LTV
	}
}

// Proceeds is the decomposed payout of one exit.
type Proceeds struct {
	Gross             float64
	Fund              float64
	Principal         float64
	Interest          float64
	AppreciationShare float64
	Recovery          float64
}

// ComputeProceeds computes gross and fund proceeds for a loan exiting at
// month m with the given kind. Exposed so the risk module can re-price
// exits under deterministic stress shocks.
func ComputeProceeds(cfg *config.Config, loan *domain.Loan, kind domain.ExitKind, m int, prices *domain.PricePathSet) Proceeds {
	zoneParams := cfg.Zones.Params[loan.Zone]
	v0 := loan.PropertyValue * prices.PropertyIndex(loan.Zone, loan.PropertyID, loan.OriginationMonth)
	vm := loan.PropertyValue * prices.PropertyIndex(loan.Zone, loan.PropertyID, m)
	appreciation := 0.0
	if v0 > 0 {
		appreciation = vm/v0 - 1
	}

	p := Proceeds{Principal: loan.Principal}
	switch kind {
	case domain.ExitDefault:
		recovery := zoneParams.RecoveryRate*vm - zoneParams.ForeclosureCost*vm
		if recovery < 0 {
			recovery = 0
		}
		p.Recovery = recovery
		p.Gross = zoneParams.RecoveryRate * vm
		p.Fund = recovery
	default: // sale, refinance, term: appreciation share still due
		months := m - loan.OriginationMonth
		p.Interest = loan.Principal * loan.Rate * float64(months) / 12.0
		shareFrac := appreciationShareFraction(&cfg.Exits, loan, appreciation)
		p.AppreciationShare = shareFrac * math.Max(0, vm-v0)
		p.Gross = vm
		p.Fund = p.Principal + p.Interest + p.AppreciationShare
	}
	return p
}

// SimulateLoan draws the exit for one loan and fills the loan's exit
// fields. The returned event is the loan's single exit.
func (s *Simulator) SimulateLoan(cfg *config.Config, sim *engine.SimulationContext, loan *domain.Loan) domain.ExitEvent {
	stream := sim.RNG.Stream("exit/loan/" + loan.ID)
	prices := sim.PricePaths
	zoneParams := cfg.Zones.Params[loan.Zone]

	endMonth := loan.OriginationMonth + loan.TermMonths
	if fundEnd := cfg.Fund.TermMonths(); endMonth > fundEnd {
		endMonth = fundEnd
	}

	v0 := loan.PropertyValue * prices.PropertyIndex(loan.Zone, loan.PropertyID, loan.OriginationMonth)

	exitMonth := endMonth
	kind := domain.ExitTerm
	for m := loan.OriginationMonth + 1; m < endMonth; m++ {
		vm := loan.PropertyValue * prices.PropertyIndex(loan.Zone, loan.PropertyID, m)
		appreciation := 0.0
		if v0 > 0 {
			appreciation = vm/v0 - 1
		}
		if rng.Bernoulli(stream, hazard(&cfg.Exits, loan, appreciation, m)) {
			exitMonth = m
			weights := kindWeights(&cfg.Exits, zoneParams, loan, appreciation)
			switch rng.Categorical(stream, weights) {
			case 0:
				kind = domain.ExitSale
			case 1:
				kind = domain.ExitRefinance
			case 2:
				kind = domain.ExitDefault
			default:
				kind = domain.ExitSale
			}
			break
		}
	}

	p := ComputeProceeds(cfg, loan, kind, exitMonth, prices)

	loan.ExitMonth = exitMonth
	loan.ExitKind = kind
	loan.ExitValue = p.Fund
	loan.AppreciationShare = p.AppreciationShare
	loan.RecoveryValue = p.Recovery

	return domain.ExitEvent{
		LoanID:        loan.ID,
		Month:         exitMonth,
		Kind:          kind,
		GrossProceeds: p.Gross,
		FundProceeds:  p.Fund,
	}
}

// Stage adapts the simulator to the pipeline as exit_simulation.
type Stage struct {
	sim *Simulator
}

// NewStage creates the exit_simulation stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{sim: NewSimulator(log)}
}

// Simulator exposes the underlying simulator for the reinvestment engine.
func (s *Stage) Simulator() *Simulator { return s.sim }

// Name implements engine.Stage.
func (s *Stage) Name() string { return "exit_simulation" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"price_paths"} }

// Run simulates one exit per loan, checking cancellation between loans.
// Loan mutations and exit events accumulate on a local copy of the book and
// commit to the context only once every loan has been drawn, so a
// cancellation mid-loop leaves the context untouched.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	n := len(sim.Loans)
	book := make([]domain.Loan, n)
	copy(book, sim.Loans)
	events := make([]domain.ExitEvent, 0, n)

	for i := range book {
		if err := engine.CheckCancelled(ctx); err != nil {
			return err
		}
		events = append(events, s.sim.SimulateLoan(sim.Config, sim, &book[i]))
		if n > 0 && (i%32 == 0 || i == n-1) {
			progress(float64(i+1)/float64(n), fmt.Sprintf("simulated %d/%d exits", i+1, n))
		}
	}

	sim.Loans = book
	sim.Exits = append(sim.Exits, events...)
	return nil
}
