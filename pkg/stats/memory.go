package stats

import (
	"context"
	"maps"
	"sync"

	"github.com/edgebet/intelgate/pkg/models"
)

// MemoryStore keeps counters in process memory. Counters never expire.
type MemoryStore struct {
	mu         sync.Mutex
	total      Counters
	byProvider map[string]Counters
	byKind     map[string]Counters
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		total:      make(Counters),
		byProvider: make(map[string]Counters),
		byKind:     make(map[string]Counters),
	}
}

// Record counts one event.
func (s *MemoryStore) Record(_ context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(e.Outcome, 1)
	if e.Provider != "" {
		c, ok := s.byProvider[e.Provider]
		if !ok {
			c = make(Counters)
			s.byProvider[e.Provider] = c
		}
		c.add(e.Outcome, 1)
	}
	if e.Kind != "" {
		c, ok := s.byKind[string(e.Kind)]
		if !ok {
			c = make(Counters)
			s.byKind[string(e.Kind)] = c
		}
		c.add(e.Outcome, 1)
	}
	return nil
}

// Snapshot returns a copy of every counter.
func (s *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:      maps.Clone(s.total),
		ByProvider: make(map[string]Counters, len(s.byProvider)),
		ByKind:     make(map[string]Counters, len(s.byKind)),
	}
	for k, v := range s.byProvider {
		snap.ByProvider[k] = maps.Clone(v)
	}
	for k, v := range s.byKind {
		snap.ByKind[k] = maps.Clone(v)
	}
	return snap, nil
}
