package domain

// CashflowRow is one month of fund-level flows. Sign convention: outflows
// from the fund (investments, fees paid) are negative in Net; inflows
// (repayments, interest) are positive. Capital calls are recorded both as a
// positive CapitalCall column and as part of Net via the matching
// LoanInvestment, so the ledger nets contributions and distributions in a
// single row per month.
type CashflowRow struct {
	Month              int     `json:"month" msgpack:"month"`
	CapitalCall        float64 `json:"capital_call" msgpack:"capital_call"`
	LoanInvestment     float64 `json:"loan_investment" msgpack:"loan_investment"`
	OriginationFee     float64 `json:"origination_fee" msgpack:"origination_fee"`
	PrincipalRepayment float64 `json:"principal_repayment" msgpack:"principal_repayment"`
	InterestIncome     float64 `json:"interest_income" msgpack:"interest_income"`
	AppreciationShare  float64 `json:"appreciation_share" msgpack:"appreciation_share"`
	ManagementFee      float64 `json:"management_fee" msgpack:"management_fee"`
	TransactionFee     float64 `json:"transaction_fee" msgpack:"transaction_fee"`
	FundExpense        float64 `json:"fund_expense" msgpack:"fund_expense"`
	LeverageDraw       float64 `json:"leverage_draw" msgpack:"leverage_draw"`
	LeverageRepayment  float64 `json:"leverage_repayment" msgpack:"leverage_repayment"`
	LeverageInterest   float64 `json:"leverage_interest" msgpack:"leverage_interest"`
	Distribution       float64 `json:"distribution" msgpack:"distribution"`
	Net                float64 `json:"net" msgpack:"net"`
	Cumulative         float64 `json:"cumulative" msgpack:"cumulative"`
}

// CashflowLedger is the fund-level monthly ledger plus derived summary
// metrics. Rows are indexed by month, 0..TermMonths.
type CashflowLedger struct {
	Rows []CashflowRow `json:"rows" msgpack:"rows"`

	TotalContributions float64 `json:"total_contributions" msgpack:"total_contributions"`
	TotalDistributions float64 `json:"total_distributions" msgpack:"total_distributions"`
	TerminalNAV        float64 `json:"terminal_nav" msgpack:"terminal_nav"`

	// IRR is nil when the root search failed (all-positive or all-negative
	// flows, or no sign change in the bracket).
	IRR            *float64 `json:"irr" msgpack:"irr"`
	IRRDiagnostic  string   `json:"irr_diagnostic,omitempty" msgpack:"irr_diagnostic"`
	MOIC           float64  `json:"moic" msgpack:"moic"`
	TVPI           float64  `json:"tvpi" msgpack:"tvpi"`
	DPI            float64  `json:"dpi" msgpack:"dpi"`
	RVPI           float64  `json:"rvpi" msgpack:"rvpi"`
	EquityMultiple float64  `json:"equity_multiple" msgpack:"equity_multiple"`
}

// Row returns the row for month m, growing the ledger as needed so that
// writers can append out of order.
func (l *CashflowLedger) Row(m int) *CashflowRow {
	for len(l.Rows) <= m {
		l.Rows = append(l.Rows, CashflowRow{Month: len(l.Rows)})
	}
	return &l.Rows[m]
}

// NetSeries returns the per-month net flows as a slice indexed by month.
func (l *CashflowLedger) NetSeries() []float64 {
	out := make([]float64, len(l.Rows))
	for i, r := range l.Rows {
		out[i] = r.Net
	}
	return out
}

// CumulativeSeries returns the running cumulative net flows.
func (l *CashflowLedger) CumulativeSeries() []float64 {
	out := make([]float64, len(l.Rows))
	for i, r := range l.Rows {
		out[i] = r.Cumulative
	}
	return out
}
