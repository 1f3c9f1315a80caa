package models

// Tier is the throttling class of a (provider, component) pair.
type Tier string

const (
	TierNormal   Tier = "NORMAL"
	TierDegraded Tier = "DEGRADED"
	TierDisabled Tier = "DISABLED"
)

// BudgetStatus shows current usage against an allocation.
type BudgetStatus struct {
	Provider  string  `json:"provider"`
	Component string  `json:"component"`
	Share     string  `json:"share"`
	Allowance int64   `json:"allowance"`
	Used      int64   `json:"used"`
	Fraction  float64 `json:"fraction"`
	Tier      Tier    `json:"tier"`
	Critical  bool    `json:"critical"`
}
