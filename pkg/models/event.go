package models

import "time"

// Event describes one step of a Fetch: a cache answer, a skipped provider or
// a provider attempt. Events fan out to metrics, stats, the live feed and the
// audit log.
type Event struct {
	RequestID    string        `json:"request_id"`
	Fingerprint  string        `json:"fingerprint"`
	Component    string        `json:"component"`
	Kind         Kind          `json:"kind"`
	Provider     string        `json:"provider,omitempty"`
	CredentialID string        `json:"credential_id,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	Reason       string        `json:"reason,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	Attempts     int           `json:"attempts,omitempty"`
	Latency      time.Duration `json:"latency_ns,omitempty"`
	Tier         Tier          `json:"tier,omitempty"`
	Time         time.Time     `json:"time"`
}

// AuditEntry converts an event into its audit log row.
func (e Event) AuditEntry() AuditEntry {
	return AuditEntry{
		RequestID:    e.RequestID,
		Fingerprint:  e.Fingerprint,
		Component:    e.Component,
		Kind:         e.Kind,
		Provider:     e.Provider,
		CredentialID: e.CredentialID,
		Outcome:      e.Outcome,
		Reason:       e.Reason,
		StatusCode:   e.StatusCode,
		Attempts:     e.Attempts,
		LatencyMs:    e.Latency.Milliseconds(),
		CreatedAt:    e.Time,
	}
}
