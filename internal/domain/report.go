package domain

// KPIRow is one labelled figure in the KPI table.
type KPIRow struct {
	Label  string   `json:"label" msgpack:"label"`
	Value  *float64 `json:"value" msgpack:"value"`
	Format string   `json:"format" msgpack:"format"` // "currency", "percent", "ratio", "count"
}

// AllocationSlice is one zone's share of the deployed portfolio.
type AllocationSlice struct {
	Zone     Zone    `json:"zone" msgpack:"zone"`
	Target   float64 `json:"target" msgpack:"target"`
	Actual   float64 `json:"actual" msgpack:"actual"`
	Dollars  float64 `json:"dollars" msgpack:"dollars"`
	NumLoans int     `json:"num_loans" msgpack:"num_loans"`
}

// SeriesPoint is one point of a chart-ready time series.
type SeriesPoint struct {
	Month int     `json:"month" msgpack:"month"`
	Value float64 `json:"value" msgpack:"value"`
}

// HistogramBucket is one bucket of a chart-ready histogram.
type HistogramBucket struct {
	Lo    float64 `json:"lo" msgpack:"lo"`
	Hi    float64 `json:"hi" msgpack:"hi"`
	Count int     `json:"count" msgpack:"count"`
}

// TranchePerformance summarizes loans bucketed by origination cohort.
type TranchePerformance struct {
	Cohort         string  `json:"cohort" msgpack:"cohort"` // "initial" or "reinvest_yN"
	NumLoans       int     `json:"num_loans" msgpack:"num_loans"`
	Principal      float64 `json:"principal" msgpack:"principal"`
	FundProceeds   float64 `json:"fund_proceeds" msgpack:"fund_proceeds"`
	GrossMultiple  float64 `json:"gross_multiple" msgpack:"gross_multiple"`
	DefaultedShare float64 `json:"defaulted_share" msgpack:"defaulted_share"`
}

// PerformanceReport is the visualization-ready bundle produced by the
// reporting module. It contains no figures not already derivable from the
// context; it formats and buckets.
type PerformanceReport struct {
	KPIs             []KPIRow             `json:"kpis" msgpack:"kpis"`
	Allocations      []AllocationSlice    `json:"allocations" msgpack:"allocations"`
	CashflowSeries   []SeriesPoint        `json:"cashflow_series" msgpack:"cashflow_series"`
	CumulativeSeries []SeriesPoint        `json:"cumulative_series" msgpack:"cumulative_series"`
	NAVSeries        []SeriesPoint        `json:"nav_series" msgpack:"nav_series"`
	RiskTable        []KPIRow             `json:"risk_table" msgpack:"risk_table"`
	Tranches         []TranchePerformance `json:"tranches" msgpack:"tranches"`
	LoanList         []Loan               `json:"loan_list" msgpack:"loan_list"`
	ExitHistogram    []HistogramBucket    `json:"exit_histogram" msgpack:"exit_histogram"`
}
