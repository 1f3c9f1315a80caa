package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker() (*Breaker, *clock) {
	clk := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	return New("brave", Settings{FailureThreshold: 3, RecoveryTimeout: 5 * time.Minute}, clk.Now), clk
}

func TestTripAfterThreshold(t *testing.T) {
	b, _ := newBreaker()

	for i := range 3 {
		if !b.Allow() {
			t.Fatalf("call %d should be allowed", i+1)
		}
		opened := b.RecordFailure()
		if opened != (i == 2) {
			t.Errorf("failure %d: opened=%v", i+1, opened)
		}
	}
	if b.Allow() {
		t.Error("fourth call should be blocked")
	}
	if b.State() != Open {
		t.Errorf("expected open, got %v", b.State())
	}
}

func TestSuccessResetsCount(t *testing.T) {
	b, _ := newBreaker()

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Errorf("non-consecutive failures should not trip, got %v", b.State())
	}
}

func TestRecoverySingleProbe(t *testing.T) {
	b, clk := newBreaker()
	for range 3 {
		b.RecordFailure()
	}

	clk.Advance(5*time.Minute - time.Second)
	if b.Allow() {
		t.Fatal("should stay open before recovery timeout")
	}

	clk.Advance(time.Second)
	if !b.Allow() {
		t.Fatal("probe should be allowed at recovery timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
	if b.Allow() {
		t.Error("only one probe may be in flight")
	}

	b.RecordSuccess()
	if b.State() != Closed || !b.Allow() {
		t.Errorf("expected closed after successful probe, got %v", b.State())
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b, clk := newBreaker()
	for range 3 {
		b.RecordFailure()
	}
	clk.Advance(5 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe should be allowed")
	}
	if !b.RecordFailure() {
		t.Error("probe failure should reopen")
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}

	clk.Advance(4 * time.Minute)
	if b.Allow() {
		t.Error("timeout should restart from the probe failure")
	}
	clk.Advance(time.Minute)
	if !b.Allow() {
		t.Error("expected a new probe after the restarted timeout")
	}
}

func TestReleaseReturnsProbe(t *testing.T) {
	b, clk := newBreaker()
	for range 3 {
		b.RecordFailure()
	}
	clk.Advance(5 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe should be allowed")
	}
	b.Release()
	if !b.Allow() {
		t.Error("released probe should be available again")
	}
}

func TestConcurrentProbe(t *testing.T) {
	b, clk := newBreaker()
	for range 3 {
		b.RecordFailure()
	}
	clk.Advance(10 * time.Minute)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 1 {
		t.Errorf("expected exactly one probe, got %d", allowed.Load())
	}
}

func TestStatus(t *testing.T) {
	b, _ := newBreaker()
	for range 3 {
		b.RecordFailure()
	}
	st := b.Status()
	if st.Name != "brave" || st.State != "open" || st.ConsecutiveFailures != 3 {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.OpenedAt != "2026-05-01T08:00:00Z" {
		t.Errorf("unexpected opened_at %q", st.OpenedAt)
	}
}

func TestSet(t *testing.T) {
	s := NewSet(Settings{FailureThreshold: 1}, nil)
	s.Configure("newsapi", Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	if s.Get("brave") != s.Get("brave") {
		t.Error("expected the same breaker for the same key")
	}

	s.Get("brave").RecordFailure()
	s.Get("newsapi").RecordFailure()
	if s.Get("brave").State() != Open {
		t.Error("fallback threshold of 1 should open brave")
	}
	if s.Get("newsapi").State() != Closed {
		t.Error("configured threshold of 2 should keep newsapi closed")
	}

	st := s.Status()
	if len(st) != 2 || st[0].Name != "brave" || st[1].Name != "newsapi" {
		t.Errorf("unexpected status order: %+v", st)
	}
}
