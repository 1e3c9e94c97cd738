package montecarlo

import (
	"context"
	"math"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/events"
	"github.com/aristath/fundsim/internal/tlsdata"
	"gonum.org/v1/gonum/stat"
)

// FrontierPoint is one candidate allocation mix and its simulated
// risk/return profile.
type FrontierPoint struct {
	Allocations map[domain.Zone]float64 `json:"allocations"`
	MeanIRR     float64                 `json:"mean_irr"`
	IRRVol      float64                 `json:"irr_vol"`
	Efficient   bool                    `json:"efficient"`
}

// FrontierOptions tunes the allocation search.
type FrontierOptions struct {
	Step          float64 // grid step over zone weights, e.g. 0.1
	PathsPerPoint int
	Workers       int
}

// candidateMixes enumerates allocation triples on the grid that honour the
// configured zone caps and sum to one.
func candidateMixes(cfg *config.Config, step float64) []map[domain.Zone]float64 {
	if step <= 0 {
		step = 0.1
	}
	var out []map[domain.Zone]float64
	steps := int(math.Round(1/step)) + 1
	for gi := 0; gi < steps; gi++ {
		for oi := 0; gi+oi < steps; oi++ {
			g := float64(gi) * step
			o := float64(oi) * step
			r := 1 - g - o
			if r < -1e-9 {
				continue
			}
			if r < 0 {
				r = 0
			}
			mix := map[domain.Zone]float64{
				domain.ZoneGreen:  g,
				domain.ZoneOrange: o,
				domain.ZoneRed:    r,
			}
			ok := true
			for z, w := range mix {
				if limit, has := cfg.Zones.Caps[z]; has && w > limit+1e-9 {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, mix)
			}
		}
	}
	return out
}

// markEfficient flags the Pareto frontier: a point survives unless another
// point has at least its return with strictly less risk, or more return
// with at most its risk.
func markEfficient(points []FrontierPoint) {
	for i := range points {
		dominated := false
		for j := range points {
			if i == j {
				continue
			}
			betterReturn := points[j].MeanIRR >= points[i].MeanIRR
			lessRisk := points[j].IRRVol <= points[i].IRRVol
			strict := points[j].MeanIRR > points[i].MeanIRR || points[j].IRRVol < points[i].IRRVol
			if betterReturn && lessRisk && strict {
				dominated = true
				break
			}
		}
		points[i].Efficient = !dominated
	}
}

// Frontier sweeps candidate zone allocations, runs a small Monte Carlo per
// candidate and marks the Pareto-efficient mixes on the mean-IRR /
// IRR-volatility plane.
func (d *Driver) Frontier(ctx context.Context, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink, opts FrontierOptions) ([]FrontierPoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.PathsPerPoint <= 0 {
		opts.PathsPerPoint = 16
	}

	var points []FrontierPoint
	for _, mix := range candidateMixes(cfg, opts.Step) {
		if err := ctx.Err(); err != nil {
			return points, err
		}

		candidate := *cfg
		candidate.Zones.Allocations = mix

		res, err := d.Run(ctx, &candidate, cat, sink, Options{
			Paths:   opts.PathsPerPoint,
			Workers: opts.Workers,
		})
		if err != nil {
			// A mix the validator rejects (e.g. cap interactions) is
			// skipped, not fatal to the sweep.
			d.log.Debug().Err(err).Interface("mix", mix).Msg("candidate mix rejected")
			continue
		}

		var irrs []float64
		for _, pr := range res.Paths {
			if pr.IRR != nil {
				irrs = append(irrs, *pr.IRR)
			}
		}
		if len(irrs) < 2 {
			continue
		}
		points = append(points, FrontierPoint{
			Allocations: mix,
			MeanIRR:     stat.Mean(irrs, nil),
			IRRVol:      stat.StdDev(irrs, nil),
		})
	}
	markEfficient(points)
	return points, nil
}
