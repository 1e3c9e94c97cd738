// Package guardrails evaluates the completed path against the configured
// rule set. Rules observe and report; they never abort the run. Each breach
// carries the measured value, the threshold it crossed and the layer the
// rule evaluates at, so reporting can group them.
package guardrails

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

// Engine evaluates the rule set.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a guardrail engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "guardrails").Logger()}
}

func (e *Engine) loanRules(sim *engine.SimulationContext, report *domain.GuardrailReport) {
	maxLTV := sim.Config.Guardrails.MaxLoanLTV
	if maxLTV <= 0 {
		return
	}
	for i := range sim.Loans {
		l := &sim.Loans[i]
		if l.LTV <= maxLTV {
			continue
		}
		severity := domain.SeverityWarn
		if l.LTV > maxLTV*1.25 {
			severity = domain.SeverityFail
		}
		report.Add(domain.Breach{
			Code:      "loan_ltv",
			Severity:  severity,
			Value:     l.LTV,
			Threshold: maxLTV,
			Layer:     domain.LayerLoan,
			Message:   fmt.Sprintf("loan %s LTV %.3f exceeds limit %.3f", l.ID, l.LTV, maxLTV),
		})
	}
}

func (e *Engine) zoneRules(sim *engine.SimulationContext, report *domain.GuardrailReport) {
	total := 0.0
	byZone := make(map[domain.Zone]float64)
	bySuburb := make(map[string]float64)
	for i := range sim.Loans {
		l := &sim.Loans[i]
		total += l.Principal
		byZone[l.Zone] += l.Principal
		bySuburb[l.SuburbID] += l.Principal
	}
	if total <= 0 {
		report.Add(domain.Breach{
			Code:     "empty_portfolio",
			Severity: domain.SeverityFail,
			Layer:    domain.LayerPortfolio,
			Message:  "no loans were originated",
		})
		return
	}

	for _, z := range domain.AllZones {
		limit, ok := sim.Config.Guardrails.MaxZoneWeight[z]
		if !ok || limit <= 0 {
			continue
		}
		w := byZone[z] / total
		if w > limit {
			report.Add(domain.Breach{
				Code:      "zone_weight",
				Severity:  domain.SeverityFail,
				Value:     w,
				Threshold: limit,
				Layer:     domain.LayerZone,
				Message:   fmt.Sprintf("zone %s weight %.3f exceeds limit %.3f", z, w, limit),
			})
		} else if w > limit*0.9 {
			report.Add(domain.Breach{
				Code:      "zone_weight_near_limit",
				Severity:  domain.SeverityInfo,
				Value:     w,
				Threshold: limit,
				Layer:     domain.LayerZone,
				Message:   fmt.Sprintf("zone %s weight %.3f is within 10%% of limit %.3f", z, w, limit),
			})
		}
	}

	maxSuburb := sim.Config.Guardrails.MaxSuburbWeight
	if maxSuburb > 0 {
		for suburb, principal := range bySuburb {
			w := principal / total
			if w <= maxSuburb {
				continue
			}
			severity := domain.SeverityWarn
			if w > maxSuburb*1.5 {
				severity = domain.SeverityFail
			}
			report.Add(domain.Breach{
				Code:      "suburb_weight",
				Severity:  severity,
				Value:     w,
				Threshold: maxSuburb,
				Layer:     domain.LayerZone,
				Message:   fmt.Sprintf("suburb %s weight %.3f exceeds limit %.3f", suburb, w, maxSuburb),
			})
		}
	}
}

func (e *Engine) portfolioRules(sim *engine.SimulationContext, report *domain.GuardrailReport) {
	g := sim.Config.Guardrails

	if sim.RiskMetrics != nil && g.MaxPortfolioHHI > 0 && sim.RiskMetrics.ZoneHHI > g.MaxPortfolioHHI {
		report.Add(domain.Breach{
			Code:      "portfolio_hhi",
			Severity:  domain.SeverityWarn,
			Value:     sim.RiskMetrics.ZoneHHI,
			Threshold: g.MaxPortfolioHHI,
			Layer:     domain.LayerPortfolio,
			Message:   fmt.Sprintf("zone HHI %.3f exceeds limit %.3f", sim.RiskMetrics.ZoneHHI, g.MaxPortfolioHHI),
		})
	}

	if ledger := sim.Cashflows; ledger != nil {
		if ledger.IRR == nil {
			report.Add(domain.Breach{
				Code:     "irr_unavailable",
				Severity: domain.SeverityInfo,
				Layer:    domain.LayerPortfolio,
				Message:  "irr could not be solved: " + ledger.IRRDiagnostic,
			})
		} else if *ledger.IRR < g.MinIRR {
			report.Add(domain.Breach{
				Code:      "min_irr",
				Severity:  domain.SeverityWarn,
				Value:     *ledger.IRR,
				Threshold: g.MinIRR,
				Layer:     domain.LayerPortfolio,
				Message:   fmt.Sprintf("net IRR %.4f below floor %.4f", *ledger.IRR, g.MinIRR),
			})
		}
		if g.MinEquityMultiple > 0 && ledger.EquityMultiple < g.MinEquityMultiple {
			report.Add(domain.Breach{
				Code:      "min_equity_multiple",
				Severity:  domain.SeverityWarn,
				Value:     ledger.EquityMultiple,
				Threshold: g.MinEquityMultiple,
				Layer:     domain.LayerPortfolio,
				Message:   fmt.Sprintf("equity multiple %.3f below floor %.3f", ledger.EquityMultiple, g.MinEquityMultiple),
			})
		}
	}

	if g.MaxDefaultShare > 0 {
		total, defaulted := 0.0, 0.0
		for i := range sim.Loans {
			total += sim.Loans[i].Principal
			if sim.Loans[i].ExitKind == domain.ExitDefault {
				defaulted += sim.Loans[i].Principal
			}
		}
		if total > 0 {
			share := defaulted / total
			if share > g.MaxDefaultShare {
				report.Add(domain.Breach{
					Code:      "default_share",
					Severity:  domain.SeverityFail,
					Value:     share,
					Threshold: g.MaxDefaultShare,
					Layer:     domain.LayerPortfolio,
					Message:   fmt.Sprintf("defaulted principal share %.3f exceeds limit %.3f", share, g.MaxDefaultShare),
				})
			}
		}
	}

	if g.MaxLeverageRatio > 0 {
		worst := 0.0
		for _, row := range sim.Leverage {
			if row.NAV <= 0 {
				continue
			}
			if ratio := row.TotalBalance() / row.NAV; ratio > worst {
				worst = ratio
			}
		}
		if worst > g.MaxLeverageRatio {
			report.Add(domain.Breach{
				Code:      "leverage_ratio",
				Severity:  domain.SeverityWarn,
				Value:     worst,
				Threshold: g.MaxLeverageRatio,
				Layer:     domain.LayerPortfolio,
				Message:   fmt.Sprintf("peak debt to NAV %.3f exceeds limit %.3f", worst, g.MaxLeverageRatio),
			})
		}
	}
}

// modelRules sanity-checks the simulated paths themselves: NaN leakage is a
// hard failure, and realized drift far from the configured drift flags a
// mis-parameterized model.
func (e *Engine) modelRules(sim *engine.SimulationContext, report *domain.GuardrailReport) {
	if sim.PricePaths == nil {
		return
	}
	maxDrift := sim.Config.Guardrails.MaxModelDrift
	for _, z := range domain.AllZones {
		path := sim.PricePaths.Zone[z]
		if len(path) < 2 {
			continue
		}
		for _, v := range path {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				report.Add(domain.Breach{
					Code:     "invalid_price_path",
					Severity: domain.SeverityFail,
					Layer:    domain.LayerModel,
					Message:  fmt.Sprintf("zone %s produced a non-finite or non-positive index", z),
				})
				break
			}
		}

		if maxDrift <= 0 {
			continue
		}
		years := float64(len(path)-1) / 12.0
		realized := math.Log(path[len(path)-1]/path[0]) / years
		expected := sim.Config.Zones.Params[z].AppreciationRate
		if drift := math.Abs(realized - expected); drift > maxDrift {
			report.Add(domain.Breach{
				Code:      "model_drift",
				Severity:  domain.SeverityInfo,
				Value:     realized,
				Threshold: maxDrift,
				Layer:     domain.LayerModel,
				Message:   fmt.Sprintf("zone %s realized drift %.4f deviates from configured %.4f by more than %.4f", z, realized, expected, maxDrift),
			})
		}
	}
}

// Run evaluates all layers and writes sim.GuardrailReport.
func (e *Engine) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	if err := engine.CheckCancelled(ctx); err != nil {
		return err
	}
	report := &domain.GuardrailReport{}

	e.loanRules(sim, report)
	e.zoneRules(sim, report)
	e.portfolioRules(sim, report)
	e.modelRules(sim, report)

	if report.WorstLevel >= domain.SeverityWarn {
		e.log.Warn().
			Int("breaches", len(report.Breaches)).
			Str("worst", report.WorstLevel.String()).
			Msg("guardrail breaches recorded")
	}
	sim.GuardrailReport = report
	progress(1.0, "")
	return nil
}

// Stage adapts the engine to the pipeline as guardrails.
type Stage struct {
	engine *Engine
}

// NewStage creates the guardrails stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{engine: NewEngine(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "guardrails" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"risk"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.engine.Run(ctx, sim, progress)
}
