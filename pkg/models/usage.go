package models

import "time"

// UsageRecord tracks one confirmed successful provider call.
type UsageRecord struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider"`
	CredentialID string    `json:"credential_id"`
	Component    string    `json:"component"`
	Kind         Kind      `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSummary aggregates successful calls per provider and component.
type UsageSummary struct {
	Provider     string `json:"provider"`
	Component    string `json:"component"`
	RequestCount int    `json:"request_count"`
}

// CredentialUsage is the number of successful calls made on one credential.
type CredentialUsage struct {
	Provider     string `json:"provider"`
	CredentialID string `json:"credential_id"`
	Calls        int64  `json:"calls"`
}

// ComponentUsage is the number of successful calls charged to one component.
type ComponentUsage struct {
	Provider  string `json:"provider"`
	Component string `json:"component"`
	Calls     int64  `json:"calls"`
}
