package models

import "time"

// CacheEntry stores a provider payload under its request fingerprint.
type CacheEntry struct {
	Fingerprint    string        `json:"fingerprint"`
	Payload        []byte        `json:"payload"`
	StoredAt       time.Time     `json:"stored_at"`
	TTL            time.Duration `json:"ttl"`
	SourceProvider string        `json:"source_provider"`
}

// Expired reports whether the entry is no longer eligible at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
