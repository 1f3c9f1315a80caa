// Package ratelimit spaces requests to each remote domain with a minimum
// interval plus random jitter.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is the spacing applied to one domain.
type Policy struct {
	MinInterval time.Duration
	JitterMin   time.Duration
	JitterMax   time.Duration
	// PerMinute caps the request rate on top of the spacing. Zero disables it.
	PerMinute int
}

// RandomSource draws jitter. *rand.Rand satisfies it.
type RandomSource interface {
	Int64N(n int64) int64
}

type domainState struct {
	mu          sync.Mutex
	policy      Policy
	lastRequest time.Time
	ceiling     *rate.Limiter
}

// Limiter holds independent per-domain state. Waiting on one domain never
// blocks another.
type Limiter struct {
	mu       sync.Mutex
	domains  map[string]*domainState
	fallback Policy

	randMu sync.Mutex
	rnd    RandomSource

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRandom replaces the jitter source.
func WithRandom(r RandomSource) Option {
	return func(l *Limiter) { l.rnd = r }
}

// WithClock replaces time.Now and the sleep used to wait out delays.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// WithDefault sets the policy applied to domains that were never configured.
func WithDefault(p Policy) Option {
	return func(l *Limiter) { l.fallback = p }
}

// New creates a Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		domains: make(map[string]*domainState),
		rnd:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configure sets the policy for a domain. Existing spacing state is kept.
func (l *Limiter) Configure(domain string, p Policy) {
	st := l.state(domain)
	st.mu.Lock()
	st.policy = p
	st.ceiling = nil
	if p.PerMinute > 0 {
		st.ceiling = rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.PerMinute)), 1)
	}
	st.mu.Unlock()
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{policy: l.fallback}
		if l.fallback.PerMinute > 0 {
			st.ceiling = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.fallback.PerMinute)), 1)
		}
		l.domains[domain] = st
	}
	return st
}

// Wait blocks until a request to domain may be issued.
//
// The delay is max(0, MinInterval - (now - last)) plus a fresh jitter draw.
// The domain's last-request time is moved to the end of that delay before the
// caller sleeps, so concurrent waiters queue behind each other.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	st := l.state(domain)

	st.mu.Lock()
	ceiling := st.ceiling
	st.mu.Unlock()
	if ceiling != nil {
		if err := ceiling.Wait(ctx); err != nil {
			return err
		}
	}

	st.mu.Lock()
	now := l.now()
	var delay time.Duration
	if !st.lastRequest.IsZero() {
		if gap := st.policy.MinInterval - now.Sub(st.lastRequest); gap > 0 {
			delay = gap
		}
	}
	delay += l.jitter(st.policy)
	st.lastRequest = now.Add(delay)
	st.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, delay)
}

func (l *Limiter) jitter(p Policy) time.Duration {
	span := p.JitterMax - p.JitterMin
	if span <= 0 {
		return p.JitterMin
	}
	l.randMu.Lock()
	n := l.rnd.Int64N(int64(span) + 1)
	l.randMu.Unlock()
	return p.JitterMin + time.Duration(n)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
