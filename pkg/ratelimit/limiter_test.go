package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep records the delay without advancing time; tests advance explicitly.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// seqRandom returns the queued values in order, then repeats the last one.
type seqRandom struct {
	vals []int64
	n    []int64
}

func (r *seqRandom) Int64N(n int64) int64 {
	r.n = append(r.n, n)
	v := r.vals[0]
	if len(r.vals) > 1 {
		r.vals = r.vals[1:]
	}
	return v
}

func TestFirstRequestOnlyJitter(t *testing.T) {
	clk := newFakeClock()
	l := New(WithClock(clk.Now, clk.Sleep), WithRandom(&seqRandom{vals: []int64{0}}))
	l.Configure("api.example.com", Policy{MinInterval: time.Second})

	if err := l.Wait(context.Background(), "api.example.com"); err != nil {
		t.Fatal(err)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("expected no sleep on first request, got %v", clk.Sleeps())
	}
}

func TestSpacing(t *testing.T) {
	clk := newFakeClock()
	rnd := &seqRandom{vals: []int64{int64(30 * time.Millisecond)}}
	l := New(WithClock(clk.Now, clk.Sleep), WithRandom(rnd))
	l.Configure("d", Policy{
		MinInterval: time.Second,
		JitterMin:   100 * time.Millisecond,
		JitterMax:   200 * time.Millisecond,
	})

	ctx := context.Background()
	if err := l.Wait(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	// First slot ends at now+130ms.
	clk.Advance(400 * time.Millisecond)
	if err := l.Wait(ctx, "d"); err != nil {
		t.Fatal(err)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", sleeps)
	}
	if sleeps[0] != 130*time.Millisecond {
		t.Errorf("first delay: expected 130ms, got %v", sleeps[0])
	}
	// 1s - (400ms - 130ms) + 130ms jitter
	if want := 860 * time.Millisecond; sleeps[1] != want {
		t.Errorf("second delay: expected %v, got %v", want, sleeps[1])
	}
	for _, n := range rnd.n {
		if n != int64(100*time.Millisecond)+1 {
			t.Errorf("jitter drawn over wrong span: %d", n)
		}
	}
}

func TestConcurrentWaitersQueue(t *testing.T) {
	clk := newFakeClock()
	l := New(WithClock(clk.Now, clk.Sleep), WithRandom(&seqRandom{vals: []int64{0}}))
	l.Configure("d", Policy{MinInterval: time.Second})

	ctx := context.Background()
	for range 3 {
		if err := l.Wait(ctx, "d"); err != nil {
			t.Fatal(err)
		}
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("expected waiters to queue at 1s and 2s, got %v", sleeps)
	}
}

func TestDomainsIndependent(t *testing.T) {
	clk := newFakeClock()
	l := New(WithClock(clk.Now, clk.Sleep), WithRandom(&seqRandom{vals: []int64{0}}))
	l.Configure("a", Policy{MinInterval: time.Minute})
	l.Configure("b", Policy{MinInterval: time.Minute})

	ctx := context.Background()
	if err := l.Wait(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("domain b should not wait on domain a, got %v", clk.Sleeps())
	}
}

func TestJitterRedrawnEachCall(t *testing.T) {
	clk := newFakeClock()
	rnd := &seqRandom{vals: []int64{5, 17, 42}}
	l := New(WithClock(clk.Now, clk.Sleep), WithRandom(rnd))
	l.Configure("d", Policy{JitterMin: 10, JitterMax: 100})

	ctx := context.Background()
	for range 3 {
		if err := l.Wait(ctx, "d"); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Second)
	}
	sleeps := clk.Sleeps()
	want := []time.Duration{15, 27, 52}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	clk := newFakeClock()
	l := New(
		WithClock(clk.Now, clk.Sleep),
		WithRandom(&seqRandom{vals: []int64{0}}),
		WithDefault(Policy{MinInterval: 2 * time.Second}),
	)
	ctx := context.Background()
	_ = l.Wait(ctx, "unconfigured")
	_ = l.Wait(ctx, "unconfigured")
	sleeps := clk.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
		t.Errorf("expected default 2s spacing, got %v", sleeps)
	}
}

func TestWaitCancelled(t *testing.T) {
	l := New(WithRandom(&seqRandom{vals: []int64{0}}))
	l.Configure("d", Policy{MinInterval: time.Hour})

	if err := l.Wait(context.Background(), "d"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Wait(ctx, "d")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("wait did not abort on cancellation")
	}
}

func TestPerMinuteCeiling(t *testing.T) {
	l := New(WithRandom(&seqRandom{vals: []int64{0}}))
	l.Configure("d", Policy{PerMinute: 1})

	if err := l.Wait(context.Background(), "d"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "d"); err == nil {
		t.Error("expected second call within the minute to be held by the ceiling")
	}
}
