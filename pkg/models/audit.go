package models

import "time"

// Outcome is the result of one step of a Fetch.
type Outcome string

const (
	OutcomeCacheHit  Outcome = "cache_hit"
	OutcomeServed    Outcome = "served"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeStale     Outcome = "stale"
)

// AuditEntry records a single provider attempt (or cache answer) of a Fetch.
type AuditEntry struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Fingerprint  string    `json:"fingerprint"`
	Component    string    `json:"component"`
	Kind         Kind      `json:"kind"`
	Provider     string    `json:"provider"`
	CredentialID string    `json:"credential_id"`
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	StatusCode   int       `json:"status_code"`
	Attempts     int       `json:"attempts"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	RequestID string
	Provider  string
	Component string
	Outcome   Outcome
	Since     time.Time
	Limit     int
}

// AuditStat holds aggregate audit counts for a provider/outcome/day combination.
type AuditStat struct {
	Provider string
	Outcome  Outcome
	Day      string
	Count    int
}
