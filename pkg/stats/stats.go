// Package stats keeps best-effort outcome counters for gateway events, in
// memory or in Redis.
package stats

import (
	"context"
	"log"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
)

// Counters maps an outcome to its count.
type Counters map[models.Outcome]int64

// Snapshot is the aggregate view of recorded events.
type Snapshot struct {
	Total      Counters            `json:"total"`
	ByProvider map[string]Counters `json:"by_provider"`
	ByKind     map[string]Counters `json:"by_kind"`
}

// Store persists outcome counters. Callers treat errors as best-effort.
type Store interface {
	Record(ctx context.Context, e models.Event) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Sink adapts a Store to the gateway's event fan-out.
type Sink struct {
	store   Store
	timeout time.Duration
}

// NewSink wraps store. Each write is bounded by timeout.
func NewSink(store Store, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Sink{store: store, timeout: timeout}
}

// Observe records e, logging failures instead of returning them.
func (s *Sink) Observe(e models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.Record(ctx, e); err != nil {
		log.Printf("stats: record %s: %v", e.Outcome, err)
	}
}

func (c Counters) add(o models.Outcome, n int64) {
	c[o] += n
}
