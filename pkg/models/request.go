package models

import (
	"fmt"
	"time"
)

// Kind classifies what a provider returns.
type Kind string

const (
	KindSearch      Kind = "search"
	KindAIReasoning Kind = "ai-reasoning"
	KindNews        Kind = "news"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSearch, KindAIReasoning, KindNews:
		return true
	}
	return false
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Request is a single lookup issued by a consumer component.
type Request struct {
	Query     string `json:"query"`
	Component string `json:"component"`
	Kind      Kind   `json:"kind"`
	// FreshnessHint caps how old a cached answer may be. Zero uses the cache TTL.
	FreshnessHint time.Duration `json:"freshness_hint,omitempty"`
	// AllowStale lets the gateway return an expired cache entry when every
	// provider in the chain is unavailable.
	AllowStale bool `json:"allow_stale,omitempty"`
}

// Result is the answer to a Request.
type Result struct {
	Payload     []byte `json:"payload"`
	ServedBy    string `json:"served_by"`
	FromCache   bool   `json:"from_cache"`
	Stale       bool   `json:"stale,omitempty"`
	Fingerprint string `json:"fingerprint"`
	RequestID   string `json:"request_id"`
}
