package domain

// WaterfallStructure selects between whole-fund and deal-by-deal
// distribution rules.
type WaterfallStructure string

const (
	WaterfallEuropean WaterfallStructure = "european"
	WaterfallAmerican WaterfallStructure = "american"
)

// TierName identifies one tier of the distribution waterfall, in order.
type TierName string

const (
	TierReturnOfCapital TierName = "return_of_capital"
	TierPreferredReturn TierName = "preferred_return"
	TierGPCatchUp       TierName = "gp_catch_up"
	TierCarriedInterest TierName = "carried_interest"
)

// TierDistribution is the LP/GP split produced by one waterfall tier.
type TierDistribution struct {
	Tier  TierName `json:"tier" msgpack:"tier"`
	LP    float64  `json:"lp" msgpack:"lp"`
	GP    float64  `json:"gp" msgpack:"gp"`
	Total float64  `json:"total" msgpack:"total"`
}

// WaterfallResult is the outcome of running the distribution waterfall over
// the fund's realized cashflows.
type WaterfallResult struct {
	Structure     WaterfallStructure `json:"structure" msgpack:"structure"`
	Tiers         []TierDistribution `json:"tiers" msgpack:"tiers"`
	LPTotal       float64            `json:"lp_total" msgpack:"lp_total"`
	GPTotal       float64            `json:"gp_total" msgpack:"gp_total"`
	CarryPaid     float64            `json:"carry_paid" msgpack:"carry_paid"`
	EntitledCarry float64            `json:"entitled_carry" msgpack:"entitled_carry"`
	Clawback      float64            `json:"clawback" msgpack:"clawback"`
}

// Distributable returns the total amount that flowed through the waterfall.
func (w *WaterfallResult) Distributable() float64 {
	return w.LPTotal + w.GPTotal
}
