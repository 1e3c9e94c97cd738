// Package pricepaths simulates per-zone and per-property home-price
// trajectories. Three models are supported - geometric Brownian motion,
// Ornstein-Uhlenbeck mean reversion on log price and a two-state
// regime-switching process - selected at config-load time. Zones are
// correlated through the Cholesky factor of the configured correlation
// matrix.
package pricepaths

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

const monthsPerYear = 12.0

// model advances one zone's log-price by one month given a standard normal
// shock. Implementations are stateless aside from the state struct.
type model interface {
	// step returns the next log price from the current log price.
	step(zone domain.Zone, logPrice float64, z float64, st *pathState) float64
}

// pathState carries cross-month state (the regime chain).
type pathState struct {
	inBear bool
}

// gbmModel: dlogP = (mu - sigma^2/2) dt + sigma sqrt(dt) z, per zone.
type gbmModel struct {
	params map[domain.Zone]config.ZoneParams
}

func (m *gbmModel) step(zone domain.Zone, logPrice, z float64, _ *pathState) float64 {
	p := m.params[zone]
	dt := 1.0 / monthsPerYear
	return logPrice + (p.AppreciationRate-0.5*p.Volatility*p.Volatility)*dt + p.Volatility*math.Sqrt(dt)*z
}

// ouModel: mean reversion on log price with speed kappa towards theta.
type ouModel struct {
	params map[domain.Zone]config.ZoneParams
	kappa  float64
	theta  float64
}

func (m *ouModel) step(zone domain.Zone, logPrice, z float64, _ *pathState) float64 {
	p := m.params[zone]
	dt := 1.0 / monthsPerYear
	drift := m.kappa*(m.theta-logPrice)*dt + p.AppreciationRate*dt
	return logPrice + drift + p.Volatility*math.Sqrt(dt)*z
}

// regimeModel: a single macro bull/bear chain shared by all zones, with
// per-regime drift and volatility. Zone correlation still applies through
// the shocks.
type regimeModel struct {
	bull, bear config.RegimeParams
}

func (m *regimeModel) step(_ domain.Zone, logPrice, z float64, st *pathState) float64 {
	params := m.bull
	if st.inBear {
		params = m.bear
	}
	dt := 1.0 / monthsPerYear
	return logPrice + (params.Mu-0.5*params.Sigma*params.Sigma)*dt + params.Sigma*math.Sqrt(dt)*z
}

// Simulator generates the full PricePathSet for one path.
type Simulator struct {
	log zerolog.Logger
}

// NewSimulator creates a price-path simulator.
func NewSimulator(log zerolog.Logger) *Simulator {
	return &Simulator{log: log.With().Str("component", "price_paths").Logger()}
}

// buildModel selects the closed model variant from config.
func buildModel(cfg *config.Config) (model, error) {
	switch cfg.PricePaths.Model {
	case config.ModelGBM:
		return &gbmModel{params: cfg.Zones.Params}, nil
	case config.ModelMeanReversion:
		return &ouModel{
			params: cfg.Zones.Params,
			kappa:  cfg.PricePaths.ReversionSpeed,
			theta:  cfg.PricePaths.LongTermMean,
		}, nil
	case config.ModelRegimeSwitching:
		return &regimeModel{bull: cfg.PricePaths.Bull, bear: cfg.PricePaths.Bear}, nil
	default:
		return nil, fmt.Errorf("unknown price-path model %q", cfg.PricePaths.Model)
	}
}

// choleskyFactor computes the lower factor L of the zone correlation matrix.
// A non-positive-definite matrix is a numeric failure.
func choleskyFactor(corr [][]float64) (*mat.TriDense, error) {
	n := len(corr)
	data := make([]float64, 0, n*n)
	for _, row := range corr {
		data = append(data, row...)
	}
	sym := mat.NewSymDense(n, data)

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("correlation matrix is not positive definite")
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, nil
}

// Simulate produces zone paths over [0, horizon] months (index 0 = 1.0) and
// idiosyncratic multipliers for the given property set.
func (s *Simulator) Simulate(ctx context.Context, sim *engine.SimulationContext, horizon int) (*domain.PricePathSet, error) {
	cfg := sim.Config
	m, err := buildModel(cfg)
	if err != nil {
		return nil, &engine.StageError{Stage: "price_paths", Kind: engine.KindConfigInvalid, Err: err}
	}
	l, err := choleskyFactor(cfg.Zones.Correlation)
	if err != nil {
		return nil, &engine.StageError{Stage: "price_paths", Kind: engine.KindNumericFailure, Err: err}
	}

	zones := domain.AllZones
	n := len(zones)
	stream := sim.RNG.Stream("price_path/zone")

	set := &domain.PricePathSet{
		HorizonMonths: horizon,
		Zone:          make(map[domain.Zone][]float64, n),
	}
	logPrice := make([]float64, n)
	for _, z := range zones {
		path := make([]float64, horizon+1)
		path[0] = 1.0
		set.Zone[z] = path
	}

	st := &pathState{}
	iid := mat.NewVecDense(n, nil)
	correlated := mat.NewVecDense(n, nil)
	for t := 1; t <= horizon; t++ {
		if err := engine.CheckCancelled(ctx); err != nil {
			return nil, err
		}

		// Regime transition happens at month boundaries, before the step.
		if cfg.PricePaths.Model == config.ModelRegimeSwitching {
			p := cfg.PricePaths.BullToBearProb
			if st.inBear {
				p = cfg.PricePaths.BearToBullProb
			}
			if stream.Float64() < p {
				st.inBear = !st.inBear
			}
		}

		for i := 0; i < n; i++ {
			iid.SetVec(i, stream.NormFloat64())
		}
		correlated.MulVec(l, iid)

		for i, z := range zones {
			logPrice[i] = m.step(z, logPrice[i], correlated.AtVec(i), st)
			set.Zone[z][t] = math.Exp(logPrice[i])
		}
	}

	return set, nil
}

// MultiplierFor generates the idiosyncratic multiplier series for one
// property. Each property uses its own named stream, so adding loans later
// (reinvestment) does not disturb existing series.
func MultiplierFor(sim *engine.SimulationContext, propertyID string, vol float64, horizon int) []float64 {
	stream := sim.RNG.Stream("price_path/property/" + propertyID)
	return multiplierSeries(stream, vol, horizon)
}

func multiplierSeries(stream *rand.Rand, vol float64, horizon int) []float64 {
	dt := 1.0 / monthsPerYear
	series := make([]float64, horizon+1)
	series[0] = 1.0
	cur := 0.0 // log multiplier
	for t := 1; t <= horizon; t++ {
		cur += -0.5*vol*vol*dt + vol*math.Sqrt(dt)*stream.NormFloat64()
		series[t] = math.Exp(cur)
	}
	return series
}

// Stage adapts the simulator to the pipeline as price_paths.
type Stage struct {
	sim *Simulator
}

// NewStage creates the price_paths stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{sim: NewSimulator(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "price_paths" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"loan_generation"} }

// Run simulates zone paths and per-property multipliers for the loan book.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	horizon := sim.Config.Fund.TermMonths()
	set, err := s.sim.Simulate(ctx, sim, horizon)
	if err != nil {
		return err
	}
	progress(0.8, "zone paths simulated")

	if sim.Config.PricePaths.PropertyNoise && sim.Config.Features.PropertyLevelPaths {
		set.PropertyMultipliers = make(map[string][]float64, len(sim.Loans))
		for i, loan := range sim.Loans {
			if i%128 == 0 {
				if err := engine.CheckCancelled(ctx); err != nil {
					return err
				}
			}
			prop, err := sim.Catalogue.Property(loan.PropertyID)
			if err != nil {
				return err
			}
			vol := prop.Volatility
			if vol <= 0 {
				vol = sim.Config.PricePaths.PropertyVolatility
			}
			set.PropertyMultipliers[loan.PropertyID] = MultiplierFor(sim, loan.PropertyID, vol, horizon)
		}
	}

	sim.PricePaths = set
	progress(1.0, "price paths complete")
	return nil
}
