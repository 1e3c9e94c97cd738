// Package reporting assembles the visualization-ready performance report
// from the completed context. It derives nothing new; it labels, buckets
// and orders what the upstream stages produced.
package reporting

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/engine"
	"github.com/rs/zerolog"
)

// Builder assembles sim.Report.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a report builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{log: log.With().Str("component", "reporting").Logger()}
}

func kpi(label string, v float64, format string) domain.KPIRow {
	return domain.KPIRow{Label: label, Value: &v, Format: format}
}

func metricRow(label string, m domain.Metric, format string) domain.KPIRow {
	return domain.KPIRow{Label: label, Value: m.Value, Format: format}
}

func (b *Builder) kpis(sim *engine.SimulationContext) []domain.KPIRow {
	ledger := sim.Cashflows
	rows := []domain.KPIRow{
		kpi("Committed Capital", sim.Config.Fund.Size, "currency"),
		kpi("Called Capital", ledger.TotalContributions, "currency"),
		kpi("Distributions", ledger.TotalDistributions, "currency"),
		{Label: "Net IRR", Value: ledger.IRR, Format: "percent"},
		kpi("TVPI", ledger.TVPI, "ratio"),
		kpi("DPI", ledger.DPI, "ratio"),
		kpi("RVPI", ledger.RVPI, "ratio"),
		kpi("Equity Multiple", ledger.EquityMultiple, "ratio"),
		kpi("Loans Originated", float64(len(sim.Loans)), "count"),
	}
	if wf := sim.Waterfall; wf != nil {
		rows = append(rows,
			kpi("LP Proceeds", wf.LPTotal, "currency"),
			kpi("GP Carry", wf.CarryPaid, "currency"),
		)
		if wf.Clawback > 0 {
			rows = append(rows, kpi("GP Clawback", wf.Clawback, "currency"))
		}
	}
	return rows
}

func (b *Builder) allocations(sim *engine.SimulationContext) []domain.AllocationSlice {
	dollars := make(map[domain.Zone]float64)
	counts := make(map[domain.Zone]int)
	for i := range sim.Loans {
		dollars[sim.Loans[i].Zone] += sim.Loans[i].Principal
		counts[sim.Loans[i].Zone]++
	}
	out := make([]domain.AllocationSlice, 0, len(domain.AllZones))
	for _, z := range domain.AllZones {
		out = append(out, domain.AllocationSlice{
			Zone:     z,
			Target:   sim.Config.Zones.Allocations[z],
			Actual:   sim.ActualAllocation[z],
			Dollars:  dollars[z],
			NumLoans: counts[z],
		})
	}
	return out
}

func series(values []float64) []domain.SeriesPoint {
	out := make([]domain.SeriesPoint, len(values))
	for m, v := range values {
		out[m] = domain.SeriesPoint{Month: m, Value: v}
	}
	return out
}

func (b *Builder) riskTable(sim *engine.SimulationContext) []domain.KPIRow {
	m := sim.RiskMetrics
	if m == nil {
		return nil
	}
	rows := []domain.KPIRow{
		metricRow("Volatility", m.Volatility, "percent"),
		metricRow("Alpha", m.Alpha, "percent"),
		metricRow("Beta", m.Beta, "ratio"),
		metricRow("VaR", m.VaR, "percent"),
		metricRow("CVaR", m.CVaR, "percent"),
		metricRow("Sharpe", m.Sharpe, "ratio"),
		metricRow("M-Squared", m.MSquared, "percent"),
		metricRow("Sortino", m.Sortino, "ratio"),
		metricRow("Calmar", m.Calmar, "ratio"),
		metricRow("Max Drawdown", m.MaxDrawdown, "percent"),
		kpi("Zone HHI", m.ZoneHHI, "ratio"),
		kpi("Suburb HHI", m.SuburbHHI, "ratio"),
	}
	for _, s := range m.StressOutcomes {
		rows = append(rows, domain.KPIRow{
			Label:  "Stress " + s.Scenario + " IRR",
			Value:  s.IRR,
			Format: "percent",
		})
	}
	return rows
}

// cohortOf buckets a loan into the initial tranche or its reinvestment
// vintage year.
func cohortOf(l *domain.Loan) string {
	if !l.Reinvestment {
		return "initial"
	}
	return fmt.Sprintf("reinvest_y%d", (l.OriginationMonth-1)/12+1)
}

func (b *Builder) tranches(sim *engine.SimulationContext) []domain.TranchePerformance {
	byCohort := make(map[string]*domain.TranchePerformance)
	defaulted := make(map[string]float64)
	for i := range sim.Loans {
		l := &sim.Loans[i]
		key := cohortOf(l)
		tr, ok := byCohort[key]
		if !ok {
			tr = &domain.TranchePerformance{Cohort: key}
			byCohort[key] = tr
		}
		tr.NumLoans++
		tr.Principal += l.Principal
		tr.FundProceeds += l.ExitValue
		if l.ExitKind == domain.ExitDefault {
			defaulted[key] += l.Principal
		}
	}

	keys := make([]string, 0, len(byCohort))
	for k := range byCohort {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "initial" {
			return true
		}
		if keys[j] == "initial" {
			return false
		}
		var yi, yj int
		fmt.Sscanf(keys[i], "reinvest_y%d", &yi)
		fmt.Sscanf(keys[j], "reinvest_y%d", &yj)
		return yi < yj
	})

	out := make([]domain.TranchePerformance, 0, len(keys))
	for _, k := range keys {
		tr := byCohort[k]
		if tr.Principal > 0 {
			tr.GrossMultiple = tr.FundProceeds / tr.Principal
			tr.DefaultedShare = defaulted[k] / tr.Principal
		}
		out = append(out, *tr)
	}
	return out
}

// exitHistogram buckets exit months by year of fund life.
func (b *Builder) exitHistogram(sim *engine.SimulationContext) []domain.HistogramBucket {
	years := sim.Config.Fund.TermYears
	buckets := make([]domain.HistogramBucket, years)
	for y := 0; y < years; y++ {
		buckets[y] = domain.HistogramBucket{Lo: float64(y * 12), Hi: float64((y + 1) * 12)}
	}
	for _, ev := range sim.Exits {
		y := (ev.Month - 1) / 12
		if y < 0 {
			y = 0
		}
		if y >= years {
			y = years - 1
		}
		buckets[y].Count++
	}
	return buckets
}

// Run assembles sim.Report.
func (b *Builder) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	if err := engine.CheckCancelled(ctx); err != nil {
		return err
	}
	if sim.Cashflows == nil {
		return &engine.StageError{
			Stage: "reporting",
			Kind:  engine.KindInternal,
			Err:   fmt.Errorf("cashflow ledger not populated"),
		}
	}

	loanList := make([]domain.Loan, len(sim.Loans))
	copy(loanList, sim.Loans)
	sort.Slice(loanList, func(i, j int) bool { return loanList[i].ID < loanList[j].ID })

	sim.Report = &domain.PerformanceReport{
		KPIs:             b.kpis(sim),
		Allocations:      b.allocations(sim),
		CashflowSeries:   series(sim.Cashflows.NetSeries()),
		CumulativeSeries: series(sim.Cashflows.CumulativeSeries()),
		NAVSeries:        series(sim.NAVSeries),
		RiskTable:        b.riskTable(sim),
		Tranches:         b.tranches(sim),
		LoanList:         loanList,
		ExitHistogram:    b.exitHistogram(sim),
	}
	progress(1.0, "")
	return nil
}

// Stage adapts the builder to the pipeline as reporting.
type Stage struct {
	builder *Builder
}

// NewStage creates the reporting stage.
func NewStage(log zerolog.Logger) *Stage {
	return &Stage{builder: NewBuilder(log)}
}

// Name implements engine.Stage.
func (s *Stage) Name() string { return "reporting" }

// DependsOn implements engine.Stage.
func (s *Stage) DependsOn() []string { return []string{"guardrails"} }

// Run implements engine.Stage.
func (s *Stage) Run(ctx context.Context, sim *engine.SimulationContext, progress engine.ProgressFunc) error {
	return s.builder.Run(ctx, sim, progress)
}
