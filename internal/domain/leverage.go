package domain

// FacilityKind names the two modelled credit facilities.
type FacilityKind string

const (
	FacilityNAVLine          FacilityKind = "nav_line"
	FacilitySubscriptionLine FacilityKind = "subscription_line"
)

// LeverageMonth is one month of activity across both facilities.
type LeverageMonth struct {
	Month         int     `json:"month" msgpack:"month"`
	BaseRate      float64 `json:"base_rate" msgpack:"base_rate"`
	Draw          float64 `json:"draw" msgpack:"draw"`
	Repayment     float64 `json:"repayment" msgpack:"repayment"`
	Interest      float64 `json:"interest" msgpack:"interest"`
	CommitmentFee float64 `json:"commitment_fee" msgpack:"commitment_fee"`
	NAVBalance    float64 `json:"nav_balance" msgpack:"nav_balance"`
	SubBalance    float64 `json:"sub_balance" msgpack:"sub_balance"`
	NAV           float64 `json:"nav" msgpack:"nav"`
}

// TotalBalance is the combined outstanding balance at month end.
func (m LeverageMonth) TotalBalance() float64 {
	return m.NAVBalance + m.SubBalance
}

// FeeMonth is one month of fee accruals. Origination is the fund's share
// of origination fees; GPOrigination is the portion the GP retains at
// source and never reaches the fund's cash account.
type FeeMonth struct {
	Month         int     `json:"month" msgpack:"month"`
	Management    float64 `json:"management" msgpack:"management"`
	Origination   float64 `json:"origination" msgpack:"origination"`
	GPOrigination float64 `json:"gp_origination" msgpack:"gp_origination"`
	Transaction   float64 `json:"transaction" msgpack:"transaction"`
	Expense       float64 `json:"expense" msgpack:"expense"`
}

// Total is the month's combined fee load.
func (m FeeMonth) Total() float64 {
	return m.Management + m.Origination + m.Transaction + m.Expense
}
