// Package breaker implements per-provider circuit breakers.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
)

// State is the breaker position.
type State int

const (
	// Closed lets every call through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls until the recovery timeout elapses.
	Open
	// HalfOpen lets a single probe through to decide between Closed and Open.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings tunes a breaker.
type Settings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultSettings trips after 3 consecutive failures and probes after 5 minutes.
var DefaultSettings = Settings{FailureThreshold: 3, RecoveryTimeout: 5 * time.Minute}

func (s Settings) normalize() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultSettings.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = DefaultSettings.RecoveryTimeout
	}
	return s
}

// Breaker is a CLOSED/OPEN/HALF_OPEN state machine. In HALF_OPEN exactly one
// probe is let through at a time.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(name string, s Settings, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{name: name, settings: s.normalize(), now: now}
}

// Allow reports whether a call may be attempted. An OPEN breaker whose
// recovery timeout has elapsed moves to HALF_OPEN and grants the caller the
// probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(b.openedAt.Add(b.settings.RecoveryTimeout)) {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Release gives back a probe granted by Allow that was never used.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.probing = false
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
	b.probing = false
	b.openedAt = time.Time{}
}

// RecordFailure counts a failure. It returns true if this call opened the
// breaker.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case HalfOpen:
		b.trip()
		return true
	case Closed:
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
			return true
		}
	case Open:
		// A late result from a call allowed before the trip.
	}
	return false
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.probing = false
}

// State returns the current state without triggering the OPEN to HALF_OPEN move.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for reporting.
func (b *Breaker) Status() models.BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := models.BreakerStatus{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
	}
	if !b.openedAt.IsZero() {
		st.OpenedAt = b.openedAt.UTC().Format(time.RFC3339)
	}
	return st
}

// Set is a registry of breakers keyed by provider name or scraped domain.
type Set struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	settings map[string]Settings
	fallback Settings
	now      func() time.Time
}

// NewSet creates an empty registry. Breakers for unconfigured keys use fallback.
func NewSet(fallback Settings, now func() time.Time) *Set {
	if now == nil {
		now = time.Now
	}
	return &Set{
		breakers: make(map[string]*Breaker),
		settings: make(map[string]Settings),
		fallback: fallback.normalize(),
		now:      now,
	}
}

// Configure sets the settings used when the breaker for key is first created.
func (s *Set) Configure(key string, st Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = st
	delete(s.breakers, key)
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		st, ok := s.settings[key]
		if !ok {
			st = s.fallback
		}
		b = New(key, st, s.now)
		s.breakers[key] = b
	}
	return b
}

// Status returns every breaker's snapshot sorted by name.
func (s *Set) Status() []models.BreakerStatus {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]models.BreakerStatus, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
