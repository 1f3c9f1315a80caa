// Package ledger tracks API credentials per provider: monthly usage, quota
// exhaustion, sticky rotation and the once-per-month "double cycle" reset.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/models"
)

// ErrNoneAvailable is returned when every credential of a provider is
// unusable and the month has not changed since the last reset.
var ErrNoneAvailable = errors.New("no credential available")

// Reason classifies a failed call for RecordFailure.
type Reason string

const (
	// ReasonQuota marks the credential exhausted.
	ReasonQuota Reason = "quota"
	// ReasonError is any other failure. It is counted but never rotates.
	ReasonError Reason = "error"
)

// Credential is the key handed to a provider adapter.
type Credential struct {
	Provider string
	ID       string
	Key      string
}

type credential struct {
	id        string
	key       string
	quota     int64
	used      int64
	inflight  int64
	failures  int64
	exhausted bool
}

// usable counts calls handed out but not yet settled against the quota.
func (c *credential) usable() bool {
	return !c.exhausted && c.used+c.inflight < c.quota
}

func (c *credential) settle() {
	if c.inflight > 0 {
		c.inflight--
	}
}

type provider struct {
	mu         sync.Mutex
	creds      []*credential
	active     int
	cycleCount int
	lastReset  month
}

type month struct {
	year int
	mon  time.Month
}

func monthOf(t time.Time) month {
	y, m, _ := t.Date()
	return month{year: y, mon: m}
}

func (m month) String() string {
	return fmt.Sprintf("%04d-%02d", m.year, int(m.mon))
}

// Ledger owns the credential state of every provider. The provider map is
// built once in New and only read afterwards; each provider has its own lock.
type Ledger struct {
	providers map[string]*provider
	order     []string
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New builds a ledger from the configured providers. The reset month starts
// at the current month.
func New(providers []config.ProviderConfig, opts ...Option) *Ledger {
	l := &Ledger{
		providers: make(map[string]*provider, len(providers)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	start := monthOf(l.now())
	for _, pc := range providers {
		p := &provider{lastReset: start}
		for _, cc := range pc.Credentials {
			p.creds = append(p.creds, &credential{id: cc.ID, key: cc.Key, quota: cc.MonthlyQuota})
		}
		l.providers[pc.Name] = p
		l.order = append(l.order, pc.Name)
	}
	return l
}

func (l *Ledger) provider(name string) (*provider, error) {
	p, ok := l.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// NextCredential returns the active credential if it is still usable,
// otherwise the next usable one after it, wrapping around. If none is usable
// and the calendar month changed since the last reset, every credential is
// reset and the first usable one is returned.
//
// The returned credential holds one unit of its quota until the call is
// settled with RecordSuccess, RecordFailure or Release.
func (l *Ledger) NextCredential(name string) (Credential, error) {
	p, err := l.provider(name)
	if err != nil {
		return Credential{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.grant(name, p.active); ok {
		return c, nil
	}

	current := monthOf(l.now())
	if len(p.creds) == 0 || current == p.lastReset {
		return Credential{}, fmt.Errorf("%s: %w", name, ErrNoneAvailable)
	}

	for _, c := range p.creds {
		c.exhausted = false
		c.used = 0
		c.failures = 0
	}
	p.cycleCount++
	p.lastReset = current
	p.active = 0
	if c, ok := p.grant(name, 0); ok {
		return c, nil
	}
	return Credential{}, fmt.Errorf("%s: %w", name, ErrNoneAvailable)
}

// grant reserves the first usable credential at or after from. Caller holds p.mu.
func (p *provider) grant(name string, from int) (Credential, bool) {
	n := len(p.creds)
	for i := range n {
		idx := (from + i) % n
		c := p.creds[idx]
		if c.usable() {
			p.active = idx
			c.inflight++
			return Credential{Provider: name, ID: c.id, Key: c.key}, true
		}
	}
	return Credential{}, false
}

func (p *provider) find(id string) *credential {
	for _, c := range p.creds {
		if c.id == id {
			return c
		}
	}
	return nil
}

// RecordSuccess counts one successful call against the credential. The
// rotation position does not move.
func (l *Ledger) RecordSuccess(name, credentialID string) error {
	return l.update(name, credentialID, func(c *credential) {
		c.settle()
		c.used++
	})
}

// RecordFailure records a failed call. A quota failure exhausts the
// credential until the next monthly reset.
func (l *Ledger) RecordFailure(name, credentialID string, reason Reason) error {
	return l.update(name, credentialID, func(c *credential) {
		c.settle()
		c.failures++
		if reason == ReasonQuota {
			c.exhausted = true
		}
	})
}

// Release hands back a credential granted by NextCredential whose call was
// never sent. Nothing is counted.
func (l *Ledger) Release(name, credentialID string) error {
	return l.update(name, credentialID, (*credential).settle)
}

func (l *Ledger) update(name, credentialID string, fn func(*credential)) error {
	p, err := l.provider(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.find(credentialID)
	if c == nil {
		return fmt.Errorf("%s: unknown credential %q", name, credentialID)
	}
	fn(c)
	return nil
}

// Restore seeds a credential's usage for the current month, typically from
// the usage tracker at startup.
func (l *Ledger) Restore(name, credentialID string, used int64) error {
	return l.update(name, credentialID, func(c *credential) { c.used = used })
}

// Len reports how many credentials a provider has.
func (l *Ledger) Len(name string) int {
	p, ok := l.providers[name]
	if !ok {
		return 0
	}
	return len(p.creds)
}

// Status returns a snapshot of a provider's credentials.
func (l *Ledger) Status(name string) ([]models.CredentialStatus, error) {
	p, err := l.provider(name)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.CredentialStatus, 0, len(p.creds))
	for i, c := range p.creds {
		out = append(out, models.CredentialStatus{
			Provider:           name,
			ID:                 c.id,
			Active:             i == p.active,
			CallsUsedThisMonth: c.used,
			InFlight:           c.inflight,
			MonthlyQuota:       c.quota,
			FailuresThisMonth:  c.failures,
			Exhausted:          c.exhausted,
			CycleCount:         p.cycleCount,
			LastResetMonth:     p.lastReset.String(),
		})
	}
	return out, nil
}

// All returns the status of every provider's credentials in configuration order.
func (l *Ledger) All() []models.CredentialStatus {
	var out []models.CredentialStatus
	for _, name := range l.order {
		st, _ := l.Status(name)
		out = append(out, st...)
	}
	return out
}
