// Package budget splits each provider's monthly quota between consumer
// components and throttles components that approach their share.
package budget

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrBudgetExceeded is returned by Check when a component may not call a provider.
var ErrBudgetExceeded = errors.New("budget exceeded")

var (
	degradedAt = decimal.RequireFromString("0.90")
	disabledAt = decimal.RequireFromString("0.95")
)

// RandomSource decides DEGRADED coin flips. *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

type key struct {
	provider  string
	component string
}

type allocation struct {
	share     decimal.Decimal
	allowance decimal.Decimal
	used      int64
}

// Manager holds per (provider, component) usage for the current month.
type Manager struct {
	mu       sync.Mutex
	allocs   map[key]*allocation
	order    []key
	critical map[string]bool
	month    time.Month
	year     int

	randMu sync.Mutex
	rnd    RandomSource
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRandom replaces the coin used in the DEGRADED tier.
func WithRandom(r RandomSource) Option {
	return func(m *Manager) { m.rnd = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New builds a Manager from the budget section and the provider quotas.
func New(cfg config.BudgetConfig, providers []config.ProviderConfig, opts ...Option) *Manager {
	m := &Manager{
		allocs:   make(map[key]*allocation),
		critical: make(map[string]bool),
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xda3e39cb94b95bdb)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	totals := make(map[string]int64, len(providers))
	for _, p := range providers {
		totals[p.Name] = p.TotalMonthlyQuota()
	}
	for _, a := range cfg.Allocations {
		k := key{a.Provider, a.Component}
		m.allocs[k] = &allocation{
			share:     a.Share,
			allowance: decimal.NewFromInt(totals[a.Provider]).Mul(a.Share),
		}
		m.order = append(m.order, k)
	}
	for _, c := range cfg.Critical {
		m.critical[c] = true
	}
	m.year, m.month, _ = m.now().Date()
	return m
}

// rollover zeroes usage when the calendar month changes. Caller holds m.mu.
func (m *Manager) rollover() {
	y, mon, _ := m.now().Date()
	if y == m.year && mon == m.month {
		return
	}
	for _, a := range m.allocs {
		a.used = 0
	}
	m.year, m.month = y, mon
}

func tierOf(a *allocation) (models.Tier, decimal.Decimal) {
	if !a.allowance.IsPositive() {
		return models.TierDisabled, decimal.NewFromInt(1)
	}
	frac := decimal.NewFromInt(a.used).Div(a.allowance)
	switch {
	case frac.GreaterThanOrEqual(disabledAt):
		return models.TierDisabled, frac
	case frac.GreaterThanOrEqual(degradedAt):
		return models.TierDegraded, frac
	default:
		return models.TierNormal, frac
	}
}

// Tier returns the current tier of a pair. Pairs without an allocation are NORMAL.
func (m *Manager) Tier(provider, component string) models.Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	a, ok := m.allocs[key{provider, component}]
	if !ok {
		return models.TierNormal
	}
	t, _ := tierOf(a)
	return t
}

// IsCritical reports whether a component bypasses tier throttling.
func (m *Manager) IsCritical(component string) bool {
	return m.critical[component]
}

// Allow decides whether component may call provider now. Critical components
// are always allowed; DEGRADED pairs pass half of the time.
func (m *Manager) Allow(provider, component string) (bool, models.Tier) {
	tier := m.Tier(provider, component)
	if m.critical[component] {
		return true, tier
	}
	switch tier {
	case models.TierDisabled:
		return false, tier
	case models.TierDegraded:
		m.randMu.Lock()
		pass := m.rnd.Float64() < 0.5
		m.randMu.Unlock()
		return pass, tier
	default:
		return true, tier
	}
}

// Check is Allow expressed as an error wrapping ErrBudgetExceeded.
func (m *Manager) Check(provider, component string) error {
	ok, tier := m.Allow(provider, component)
	if ok {
		return nil
	}
	return fmt.Errorf("%s/%s %s: %w", provider, component, tier, ErrBudgetExceeded)
}

// RecordUsage counts one successful call. Unallocated pairs are ignored.
func (m *Manager) RecordUsage(provider, component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	if a, ok := m.allocs[key{provider, component}]; ok {
		a.used++
	}
}

// Restore seeds a pair's usage for the current month.
func (m *Manager) Restore(provider, component string, used int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	if a, ok := m.allocs[key{provider, component}]; ok {
		a.used = used
	}
}

// Status returns every allocation in configuration order.
func (m *Manager) Status() []models.BudgetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	statuses := make([]models.BudgetStatus, 0, len(m.order))
	for _, k := range m.order {
		a := m.allocs[k]
		tier, frac := tierOf(a)
		f, _ := frac.Round(4).Float64()
		statuses = append(statuses, models.BudgetStatus{
			Provider:  k.provider,
			Component: k.component,
			Share:     a.share.String(),
			Allowance: a.allowance.IntPart(),
			Used:      a.used,
			Fraction:  f,
			Tier:      tier,
			Critical:  m.critical[k.component],
		})
	}
	return statuses
}
