package models

// CredentialStatus is a point-in-time view of one API key.
type CredentialStatus struct {
	Provider           string `json:"provider"`
	ID                 string `json:"id"`
	Active             bool   `json:"active"`
	CallsUsedThisMonth int64  `json:"calls_used_this_month"`
	InFlight           int64  `json:"in_flight"`
	MonthlyQuota       int64  `json:"monthly_quota"`
	FailuresThisMonth  int64  `json:"failures_this_month"`
	Exhausted          bool   `json:"exhausted"`
	CycleCount         int    `json:"cycle_count"`
	LastResetMonth     string `json:"last_reset_month"`
}

// BreakerStatus is a point-in-time view of a circuit breaker.
type BreakerStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	OpenedAt            string `json:"opened_at,omitempty"`
}
