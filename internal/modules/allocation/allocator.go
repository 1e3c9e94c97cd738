// Package allocation implements the capital allocator: splitting committed
// capital across zones per the target policy and tracking realised
// allocation after loan generation.
package allocation

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

// InvalidAllocationError reports a target vector that cannot be allocated.
type InvalidAllocationError struct {
	Reason string
}

func (e *InvalidAllocationError) Error() string {
	return "invalid allocation: " + e.Reason
}

// Allocator splits committed capital across zones.
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates an allocator.
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{log: log.With().Str("component", "allocator").Logger()}
}

// Split computes zone -> dollars for the committed capital. Fractions must
// be non-negative, respect per-zone caps and sum to 1 within tolerance.
func (a *Allocator) Split(committed float64, fractions, caps map[domain.Zone]float64) (map[domain.Zone]float64, error) {
	if committed <= 0 {
		return nil, &InvalidAllocationError{Reason: fmt.Sprintf("committed capital %g not positive", committed)}
	}
	sum := 0.0
	for _, z := range domain.AllZones {
		f, ok := fractions[z]
		if !ok {
			return nil, &InvalidAllocationError{Reason: fmt.Sprintf("zone %s missing from target", z)}
		}
		if f < 0 {
			return nil, &InvalidAllocationError{Reason: fmt.Sprintf("zone %s fraction %g negative", z, f)}
		}
		if cap, ok := caps[z]; ok && f > cap+1e-9 {
			return nil, &InvalidAllocationError{Reason: fmt.Sprintf("zone %s fraction %g exceeds cap %g", z, f, cap)}
		}
		sum += f
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, &InvalidAllocationError{Reason: fmt.Sprintf("fractions sum to %g, want 1", sum)}
	}

	out := make(map[domain.Zone]float64, len(domain.AllZones))
	for _, z := range domain.AllZones {
		out[z] = committed * fractions[z]
	}
	return out, nil
}

// UpdateActual computes realised per-zone fractions from the loan book and
// the rebalance adjustment (target minus actual) per zone.
func (a *Allocator) UpdateActual(loans []domain.Loan, target map[domain.Zone]float64) (actual, adjust map[domain.Zone]float64) {
	deployed := 0.0
	byZone := make(map[domain.Zone]float64)
	for _, l := range loans {
		byZone[l.Zone] += l.Principal
		deployed += l.Principal
	}

	actual = make(map[domain.Zone]float64, len(domain.AllZones))
	adjust = make(map[domain.Zone]float64, len(domain.AllZones))
	for _, z := range domain.AllZones {
		if deployed > 0 {
			actual[z] = byZone[z] / deployed
		}
		adjust[z] = target[z] - actual[z]
	}
	return actual, adjust
}

// Stage adapts the allocator to the pipeline.
type Stage struct {
	allocator *Allocator
}

// NewStage creates the capital_allocation stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{allocator: NewAllocator(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "capital_allocation" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return nil }

// Run splits the fund's committed capital across zones.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	if err := engine.CheckCancelled(ctx); err != nil {
		return err
	}
	split, err := s.allocator.Split(
		sim.Config.Fund.Size,
		sim.Config.Zones.Allocations,
		sim.Config.Zones.Caps,
	)
	if err != nil {
		return err
	}
	sim.Allocation = split
	progress(1.0, "capital allocated")
	return nil
}
