package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgebet/intelgate/pkg/config"
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

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func providers(quotas ...int64) []config.ProviderConfig {
	pc := config.ProviderConfig{Name: "brave"}
	for i, q := range quotas {
		pc.Credentials = append(pc.Credentials, config.CredentialConfig{
			ID:           string(rune('a' + i)),
			Key:          "key-" + string(rune('a'+i)),
			MonthlyQuota: q,
		})
	}
	return []config.ProviderConfig{pc}
}

func newLedger(t *testing.T, quotas ...int64) (*Ledger, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return New(providers(quotas...), WithClock(clk.Now)), clk
}

func TestStickyUntilFailure(t *testing.T) {
	l, _ := newLedger(t, 10, 10)

	for range 5 {
		c, err := l.NextCredential("brave")
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != "a" {
			t.Fatalf("expected sticky credential a, got %s", c.ID)
		}
		if err := l.RecordSuccess("brave", c.ID); err != nil {
			t.Fatal(err)
		}
	}

	st, _ := l.Status("brave")
	if st[0].CallsUsedThisMonth != 5 || !st[0].Active {
		t.Errorf("unexpected status: %+v", st[0])
	}
}

func TestQuotaFailureRotates(t *testing.T) {
	l, _ := newLedger(t, 10, 10, 10)

	c, _ := l.NextCredential("brave")
	if err := l.RecordFailure("brave", c.ID, ReasonQuota); err != nil {
		t.Fatal(err)
	}
	next, err := l.NextCredential("brave")
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != "b" {
		t.Errorf("expected rotation to b, got %s", next.ID)
	}
	if next.Key != "key-b" || next.Provider != "brave" {
		t.Errorf("unexpected credential: %+v", next)
	}
}

func TestOtherFailureDoesNotRotate(t *testing.T) {
	l, _ := newLedger(t, 10, 10)

	c, _ := l.NextCredential("brave")
	_ = l.RecordFailure("brave", c.ID, ReasonError)
	next, _ := l.NextCredential("brave")
	if next.ID != "a" {
		t.Errorf("expected to stay on a, got %s", next.ID)
	}
	st, _ := l.Status("brave")
	if st[0].FailuresThisMonth != 1 || st[0].Exhausted {
		t.Errorf("unexpected status: %+v", st[0])
	}
}

func TestRotationSkipsExhausted(t *testing.T) {
	l, _ := newLedger(t, 10, 10, 10)

	_ = l.RecordFailure("brave", "b", ReasonQuota)
	_ = l.RecordFailure("brave", "a", ReasonQuota)
	c, _ := l.NextCredential("brave")
	if c.ID != "c" {
		t.Fatalf("expected c, got %s", c.ID)
	}

	_ = l.RecordFailure("brave", "c", ReasonQuota)
	if _, err := l.NextCredential("brave"); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestRotationWrapsToStart(t *testing.T) {
	l, _ := newLedger(t, 10, 10, 10)

	_ = l.Restore("brave", "a", 10)
	_ = l.RecordFailure("brave", "b", ReasonQuota)
	c, _ := l.NextCredential("brave")
	if c.ID != "c" {
		t.Fatalf("expected c, got %s", c.ID)
	}

	_ = l.Restore("brave", "a", 0)
	_ = l.RecordFailure("brave", "c", ReasonQuota)
	c, err := l.NextCredential("brave")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "a" {
		t.Errorf("expected wrap to a, got %s", c.ID)
	}
}

func TestQuotaReachedBySuccesses(t *testing.T) {
	l, _ := newLedger(t, 10)

	for range 10 {
		_ = l.RecordSuccess("brave", "a")
	}
	if _, err := l.NextCredential("brave"); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestNeverExceedsQuota(t *testing.T) {
	l, _ := newLedger(t, 3, 2)

	served := map[string]int64{}
	for {
		c, err := l.NextCredential("brave")
		if errors.Is(err, ErrNoneAvailable) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		served[c.ID]++
		_ = l.RecordSuccess("brave", c.ID)
	}
	if served["a"] != 3 || served["b"] != 2 {
		t.Errorf("expected 3 and 2 calls, got %v", served)
	}
	st, _ := l.Status("brave")
	for _, s := range st {
		if s.CallsUsedThisMonth > s.MonthlyQuota {
			t.Errorf("%s used %d over quota %d", s.ID, s.CallsUsedThisMonth, s.MonthlyQuota)
		}
		if s.Exhausted {
			t.Errorf("%s should not be marked exhausted without a quota failure", s.ID)
		}
	}
}

func TestDoubleCycleOnNewMonth(t *testing.T) {
	l, clk := newLedger(t, 10, 10)

	_ = l.RecordFailure("brave", "a", ReasonQuota)
	_ = l.RecordFailure("brave", "b", ReasonQuota)
	if _, err := l.NextCredential("brave"); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable in the same month, got %v", err)
	}

	// Last day of the month to the first of the next is enough.
	clk.Set(time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC))
	c, err := l.NextCredential("brave")
	if err != nil {
		t.Fatalf("expected reset on month change, got %v", err)
	}
	if c.ID != "a" {
		t.Errorf("expected reset to first credential, got %s", c.ID)
	}

	st, _ := l.Status("brave")
	for _, s := range st {
		if s.Exhausted || s.CallsUsedThisMonth != 0 {
			t.Errorf("credential %s not reset: %+v", s.ID, s)
		}
		if s.CycleCount != 1 {
			t.Errorf("expected cycle count 1, got %d", s.CycleCount)
		}
		if s.LastResetMonth != "2026-04" {
			t.Errorf("expected last reset 2026-04, got %s", s.LastResetMonth)
		}
	}

	// A second exhaustion in April does not reset again.
	_ = l.RecordFailure("brave", "a", ReasonQuota)
	_ = l.RecordFailure("brave", "b", ReasonQuota)
	if _, err := l.NextCredential("brave"); !errors.Is(err, ErrNoneAvailable) {
		t.Errorf("expected ErrNoneAvailable after second exhaustion, got %v", err)
	}
}

func TestNewYearCountsAsNewMonth(t *testing.T) {
	clk := &clock{now: time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)}
	l := New(providers(1), WithClock(clk.Now))
	_ = l.RecordFailure("brave", "a", ReasonQuota)

	clk.Set(time.Date(2026, 12, 5, 0, 0, 0, 0, time.UTC))
	if _, err := l.NextCredential("brave"); err != nil {
		t.Errorf("expected reset across years, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	l, _ := newLedger(t, 5, 5)
	if err := l.Restore("brave", "a", 5); err != nil {
		t.Fatal(err)
	}
	c, _ := l.NextCredential("brave")
	if c.ID != "b" {
		t.Errorf("expected restored-full credential to be skipped, got %s", c.ID)
	}
}

func TestUnknownProvider(t *testing.T) {
	l, _ := newLedger(t, 1)
	if _, err := l.NextCredential("ghost"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if err := l.RecordSuccess("brave", "zzz"); err == nil {
		t.Error("expected error for unknown credential")
	}
}

func TestConcurrentSuccesses(t *testing.T) {
	l, _ := newLedger(t, 1000)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				c, err := l.NextCredential("brave")
				if err != nil {
					t.Error(err)
					return
				}
				_ = l.RecordSuccess("brave", c.ID)
			}
		}()
	}
	wg.Wait()

	st, _ := l.Status("brave")
	if st[0].CallsUsedThisMonth != 500 {
		t.Errorf("expected 500 calls, got %d", st[0].CallsUsedThisMonth)
	}
}

func TestGrantReservesQuota(t *testing.T) {
	l, _ := newLedger(t, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := l.NextCredential("brave")
			if errors.Is(err, ErrNoneAvailable) {
				return
			}
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			granted++
			mu.Unlock()
			_ = l.RecordSuccess("brave", c.ID)
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Fatalf("expected exactly one grant of a quota-1 credential, got %d", granted)
	}
	st, _ := l.Status("brave")
	if st[0].CallsUsedThisMonth != 1 || st[0].InFlight != 0 || st[0].Exhausted {
		t.Errorf("unexpected status: %+v", st[0])
	}
}

func TestInFlightRotatesToNextCredential(t *testing.T) {
	l, _ := newLedger(t, 1, 5)

	first, _ := l.NextCredential("brave")
	second, err := l.NextCredential("brave")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "a" || second.ID != "b" {
		t.Errorf("expected a then b while a is in flight, got %s and %s", first.ID, second.ID)
	}
}

func TestReleaseReturnsReservation(t *testing.T) {
	l, _ := newLedger(t, 1)

	c, _ := l.NextCredential("brave")
	if _, err := l.NextCredential("brave"); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable while the only unit is reserved, got %v", err)
	}
	if err := l.Release("brave", c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.NextCredential("brave"); err != nil {
		t.Fatalf("expected the released unit to be granted again, got %v", err)
	}
	st, _ := l.Status("brave")
	if st[0].CallsUsedThisMonth != 0 || st[0].InFlight != 1 {
		t.Errorf("release should not count a call: %+v", st[0])
	}
}

func TestFailureSettlesReservation(t *testing.T) {
	l, _ := newLedger(t, 1)

	c, _ := l.NextCredential("brave")
	_ = l.RecordFailure("brave", c.ID, ReasonError)
	if _, err := l.NextCredential("brave"); err != nil {
		t.Fatalf("expected credential usable after a non-quota failure, got %v", err)
	}
}
