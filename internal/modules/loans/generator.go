// Package loans implements the loan generator. It builds the initial
// portfolio from the zone capital allocation and serves reinvestment
// batches later in the fund's life through the same drawing logic.
package loans

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/aristath/fundsim/internal/modules/allocation"
	"github.com/aristath/fundsim/internal/rng"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/rs/zerolog"
)

// Generator draws loans from the configured shape distributions. All draws
// come from the named stream "loan_gen/{zone}", so loan generation is
// unaffected by draws made in other stages.
type Generator struct {
	log zerolog.Logger
}

// NewGenerator creates a loan generator.
func NewGenerator(log zerolog.Logger) *Generator {
	return &Generator{log: log.With().Str("component", "loan_generator").Logger()}
}

// ensureSampler lays out the without-replacement property order for a zone.
// The order is a deterministic shuffle from the zone's sampling stream; the
// cursor persists on the context so reinvestment batches continue where the
// initial portfolio stopped.
func (g *Generator) ensureSampler(sim *engine.SimulationContext, zone domain.Zone) error {
	if sim.PropertyOrder == nil {
		sim.PropertyOrder = make(map[domain.Zone][]string)
		sim.PropertyCursor = make(map[domain.Zone]int)
	}
	if _, ok := sim.PropertyOrder[zone]; ok {
		return nil
	}
	props, err := sim.Catalogue.PropertiesInZone(zone)
	if err != nil {
		return err
	}
	order := make([]string, len(props))
	for i, p := range props {
		order[i] = p.ID
	}
	stream := sim.RNG.Stream("loan_gen/shuffle/" + string(zone))
	stream.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	sim.PropertyOrder[zone] = order
	return nil
}

// nextProperty pops the next unused property for a zone.
func (g *Generator) nextProperty(sim *engine.SimulationContext, zone domain.Zone) (tlsdata.Property, error) {
	if err := g.ensureSampler(sim, zone); err != nil {
		return tlsdata.Property{}, err
	}
	order := sim.PropertyOrder[zone]
	cursor := sim.PropertyCursor[zone]
	if cursor >= len(order) {
		return tlsdata.Property{}, &tlsdata.NotFoundError{Kind: "zone", ID: string(zone) + " (property universe exhausted)"}
	}
	sim.PropertyCursor[zone] = cursor + 1
	return sim.Catalogue.Property(order[cursor])
}

// GenerateZone draws loans for one zone until the budget is exhausted.
// Loans are stamped with originationMonth; terms never extend past the fund
// term. Returns the loans and the undeployed remainder.
func (g *Generator) GenerateZone(ctx context.Context, sim *engine.SimulationContext, zone domain.Zone, budget float64, originationMonth int, reinvest bool) ([]domain.Loan, float64, error) {
	cfg := sim.Config
	shape := cfg.LoanShape
	stream := sim.RNG.Stream("loan_gen/" + string(zone))
	fundTerm := cfg.Fund.TermMonths()
	maxTerm := fundTerm - originationMonth
	if maxTerm < 1 {
		return nil, budget, nil
	}

	var out []domain.Loan
	remaining := budget
	seq := sim.PropertyCursor[zone] // stable per-zone sequence across batches
	for remaining >= shape.MinSize {
		if len(out)%64 == 0 {
			if err := engine.CheckCancelled(ctx); err != nil {
				return nil, remaining, err
			}
		}

		principal := rng.TruncNormal(stream, shape.AvgSize, shape.SizeStd, shape.MinSize, shape.MaxSize)
		if principal > remaining {
			if remaining < shape.MinSize {
				break
			}
			principal = remaining
		}
		ltv := rng.TruncNormal(stream, shape.AvgLTV, shape.LTVStd, shape.MinLTV, shape.MaxLTV)
		termMonths := int(math.Round(rng.TruncNormal(stream,
			shape.AvgTermYrs*12, shape.TermStdYrs*12, 1, float64(maxTerm))))
		rate := rng.TruncNormal(stream, shape.AvgRate, shape.RateStd, shape.MinRate, shape.MaxRate)

		prop, err := g.nextProperty(sim, zone)
		if err != nil {
			return nil, remaining, err
		}

		// Keep principal consistent with the property: a loan cannot exceed
		// the LTV share of the property's value.
		if maxPrincipal := prop.Value * ltv; principal > maxPrincipal {
			principal = maxPrincipal
			if principal < shape.MinSize {
				continue // property too small for a conforming loan
			}
		}

		loan := domain.Loan{
			ID:               fmt.Sprintf("loan-m%03d-%s-%05d", originationMonth, zone, seq),
			Zone:             zone,
			SuburbID:         prop.SuburbID,
			PropertyID:       prop.ID,
			OriginationMonth: originationMonth,
			Principal:        principal,
			LTV:              ltv,
			TermMonths:       termMonths,
			Rate:             rate,
			OriginationFee:   principal * cfg.Fees.OriginationFeeRate,
			Reinvestment:     reinvest,
			PropertyValue:    prop.Value,
		}
		out = append(out, loan)
		remaining -= principal
		seq++
	}
	return out, remaining, nil
}

// Stage adapts the generator to the pipeline as loan_generation.
type Stage struct {
	gen       *Generator
	allocator *allocation.Allocator
}

// NewStage creates the loan_generation stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{
		gen:       NewGenerator(log),
		allocator: allocation.NewAllocator(log),
	}
}

// Generator exposes the underlying generator for the reinvestment engine.
func (s *Stage) Generator() *Generator { return s.gen }

// Name implements engine.Stage.
func (s *Stage) Name() string { return "loan_generation" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"capital_allocation"} }

// Run builds the initial loan portfolio and records realised allocation.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	for i, zone := range domain.AllZones {
		budget := sim.Allocation[zone]
		loans, _, err := s.gen.GenerateZone(ctx, sim, zone, budget, 0, false)
		if err != nil {
			return err
		}
		sim.Loans = append(sim.Loans, loans...)
		progress(float64(i+1)/float64(len(domain.AllZones)),
			fmt.Sprintf("generated %d loans in %s", len(loans), zone))
	}

	sim.ActualAllocation, sim.RebalanceAdjust = s.allocator.UpdateActual(sim.Loans, sim.Config.Zones.Allocations)
	return nil
}
