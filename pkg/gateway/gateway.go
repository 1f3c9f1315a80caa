// Package gateway turns "I need search, AI or news results for this query"
// into one reliable call across several unreliable providers.
//
// Fetch checks the cache, then walks the priority-ordered fallback chain for
// the request kind. Each provider is gated by its circuit breaker, the
// component's budget tier and the credential ledger, spaced by the per-domain
// rate limiter, and called with local retries of transient failures.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/edgebet/intelgate/pkg/breaker"
	"github.com/edgebet/intelgate/pkg/budget"
	"github.com/edgebet/intelgate/pkg/cache"
	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/ledger"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/provider"
	"github.com/edgebet/intelgate/pkg/ratelimit"
	"github.com/edgebet/intelgate/pkg/router"
	"github.com/edgebet/intelgate/pkg/tracker"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Gateway owns every sub-component. It is safe for concurrent use.
type Gateway struct {
	cfg      *config.Config
	cache    *cache.LRU
	store    cache.Store
	router   *router.Router
	ledger   *ledger.Ledger
	breakers *breaker.Set
	budget   *budget.Manager
	limiter  *ratelimit.Limiter
	tracker  tracker.Tracker
	sinks    []Sink

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	skipLog rate.Sometimes
}

// New wires a Gateway from configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("gateway: nil config")
	}
	o := options{now: time.Now, sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{
		cfg:     cfg,
		store:   o.store,
		router:  router.New(cfg, o.adapters, o.client),
		tracker: o.tracker,
		sinks:   o.sinks,
		now:     o.now,
		sleep:   o.sleep,
		skipLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}

	if cfg.Cache.Enabled {
		cacheOpts := []cache.Option{cache.WithClock(o.now)}
		if o.store != nil {
			cacheOpts = append(cacheOpts, cache.WithStore(o.store))
		}
		g.cache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL, cacheOpts...)
	}

	g.ledger = ledger.New(cfg.Providers, ledger.WithClock(o.now))

	g.breakers = breaker.NewSet(breaker.DefaultSettings, o.now)
	limOpts := []ratelimit.Option{ratelimit.WithClock(o.now, o.sleep)}
	if o.jitterRandom != nil {
		limOpts = append(limOpts, ratelimit.WithRandom(o.jitterRandom))
	}
	g.limiter = ratelimit.New(limOpts...)
	for _, p := range cfg.Providers {
		g.breakers.Configure(p.Name, breaker.Settings{
			FailureThreshold: p.Breaker.FailureThreshold,
			RecoveryTimeout:  p.Breaker.RecoveryTimeout,
		})
		g.limiter.Configure(p.Domain, ratelimit.Policy{
			MinInterval: p.RateLimit.MinInterval,
			JitterMin:   p.RateLimit.JitterMin,
			JitterMax:   p.RateLimit.JitterMax,
			PerMinute:   p.RateLimit.PerMinute,
		})
	}

	budgetOpts := []budget.Option{budget.WithClock(o.now)}
	if o.budgetRandom != nil {
		budgetOpts = append(budgetOpts, budget.WithRandom(o.budgetRandom))
	}
	g.budget = budget.New(cfg.Budget, cfg.Providers, budgetOpts...)

	return g, nil
}

// Fetch answers req from the cache or from the first provider in the chain
// that succeeds. It returns a *FetchError once every provider was skipped or
// failed.
func (g *Gateway) Fetch(ctx context.Context, req models.Request) (models.Result, error) {
	if !req.Kind.Valid() {
		return models.Result{}, fmt.Errorf("fetch: unknown kind %q", req.Kind)
	}
	if strings.TrimSpace(req.Query) == "" {
		return models.Result{}, fmt.Errorf("fetch: %w", ErrEmptyQuery)
	}

	f := &fetch{
		g:     g,
		req:   req,
		id:    uuid.NewString(),
		fp:    cache.Fingerprint(req),
		start: g.now(),
	}

	var stale *models.CacheEntry
	if g.cache != nil {
		if req.AllowStale {
			if e, ok := g.cache.Peek(f.fp); ok {
				stale = &e
			}
		}
		if e, ok := g.cache.LookupWithin(f.fp, req.FreshnessHint); ok {
			f.emit(models.Event{Provider: e.SourceProvider, Outcome: models.OutcomeCacheHit})
			return f.result(e.Payload, e.SourceProvider, true), nil
		}
	}

	routes, err := g.router.Resolve(req.Kind)
	if err != nil {
		return models.Result{}, fmt.Errorf("fetch: %w", err)
	}

	fe := &FetchError{Kind: AllProvidersUnavailable, Retriable: true}
	for _, rt := range routes {
		payload, err := f.try(ctx, rt)
		if err == nil {
			return f.result(payload, rt.Provider.Name, false), nil
		}
		fe.Errs = append(fe.Errs, err)
		if ctx.Err() != nil {
			fe.Errs = append(fe.Errs, ctx.Err())
			break
		}
	}
	fe.Attempts = f.attempts

	if stale != nil {
		f.emit(models.Event{Provider: stale.SourceProvider, Outcome: models.OutcomeStale, Latency: g.now().Sub(f.start)})
		res := f.result(stale.Payload, stale.SourceProvider, true)
		res.Stale = true
		return res, nil
	}

	f.emit(models.Event{Outcome: models.OutcomeExhausted, Reason: fe.Error(), Latency: g.now().Sub(f.start)})
	return models.Result{}, fe
}

// fetch carries the state of one Fetch call.
type fetch struct {
	g        *Gateway
	req      models.Request
	id       string
	fp       string
	start    time.Time
	attempts []Attempt
}

func (f *fetch) result(payload []byte, servedBy string, fromCache bool) models.Result {
	return models.Result{
		Payload:     payload,
		ServedBy:    servedBy,
		FromCache:   fromCache,
		Fingerprint: f.fp,
		RequestID:   f.id,
	}
}

func (f *fetch) emit(e models.Event) {
	e.RequestID = f.id
	e.Fingerprint = f.fp
	e.Component = f.req.Component
	e.Kind = f.req.Kind
	if e.Time.IsZero() {
		e.Time = f.g.now()
	}
	for _, s := range f.g.sinks {
		s.Observe(e)
	}
}

func (f *fetch) skip(name string, tier models.Tier, err error) error {
	f.attempts = append(f.attempts, Attempt{Provider: name, Outcome: models.OutcomeSkipped, Reason: err.Error()})
	f.emit(models.Event{Provider: name, Outcome: models.OutcomeSkipped, Reason: err.Error(), Tier: tier})
	f.g.skipLog.Do(func() {
		log.Printf("gateway: skip %s for %s/%s: %v", name, f.req.Component, f.req.Kind, err)
	})
	return err
}

// try runs one provider: breaker, budget, credential, rate limit, call. Quota
// failures rotate to the provider's next credential, bounded by the number of
// credentials.
func (f *fetch) try(ctx context.Context, rt router.Route) ([]byte, error) {
	g := f.g
	name := rt.Provider.Name

	b := g.breakers.Get(name)
	if !b.Allow() {
		return nil, f.skip(name, "", fmt.Errorf("%s: %w", name, ErrBreakerOpen))
	}
	// A probe that ends without a breaker verdict is handed back.
	settled := false
	defer func() {
		if !settled {
			b.Release()
		}
	}()

	ok, tier := g.budget.Allow(name, f.req.Component)
	if !ok {
		return nil, f.skip(name, tier, fmt.Errorf("%s/%s %s: %w", name, f.req.Component, tier, budget.ErrBudgetExceeded))
	}

	var lastErr error
	rotations := max(g.ledger.Len(name), 1)
	for range rotations {
		cred, err := g.ledger.NextCredential(name)
		if err != nil {
			if lastErr != nil {
				return nil, errors.Join(lastErr, err)
			}
			return nil, f.skip(name, tier, err)
		}

		if err := g.limiter.Wait(ctx, rt.Provider.Domain); err != nil {
			if lerr := g.ledger.Release(name, cred.ID); lerr != nil {
				log.Printf("gateway: %v", lerr)
			}
			return nil, fmt.Errorf("%s: rate limit wait: %w", name, err)
		}

		started := g.now()
		payload, attempts, err := g.call(ctx, rt.Adapter, f.req, cred)
		ev := models.Event{
			Provider:     name,
			CredentialID: cred.ID,
			Attempts:     attempts,
			Latency:      g.now().Sub(started),
			StatusCode:   provider.StatusOf(err),
			Tier:         tier,
		}

		if err == nil {
			settled = true
			b.RecordSuccess()
			if lerr := g.ledger.RecordSuccess(name, cred.ID); lerr != nil {
				log.Printf("gateway: %v", lerr)
			}
			g.budget.RecordUsage(name, f.req.Component)
			f.store(payload, name)
			f.track(ctx, name, cred.ID)
			ev.Outcome = models.OutcomeServed
			ev.StatusCode = 200
			f.emit(ev)
			return payload, nil
		}

		ev.Outcome = models.OutcomeFailed
		ev.Reason = err.Error()
		f.attempts = append(f.attempts, Attempt{Provider: name, Outcome: models.OutcomeFailed, Reason: err.Error()})

		if provider.IsQuota(err) {
			if lerr := g.ledger.RecordFailure(name, cred.ID, ledger.ReasonQuota); lerr != nil {
				log.Printf("gateway: %v", lerr)
			}
			f.emit(ev)
			log.Printf("gateway: %s credential %s exhausted: %v", name, cred.ID, err)
			lastErr = err
			continue
		}

		settled = true
		if lerr := g.ledger.RecordFailure(name, cred.ID, ledger.ReasonError); lerr != nil {
			log.Printf("gateway: %v", lerr)
		}
		if b.RecordFailure() {
			log.Printf("gateway: circuit breaker for %s opened", name)
		}
		f.emit(ev)
		return nil, err
	}
	return nil, lastErr
}

// call performs the request with local retries of transient failures under
// the configured call timeout. It returns the number of attempts made.
func (g *Gateway) call(ctx context.Context, a provider.Adapter, req models.Request, cred ledger.Credential) ([]byte, int, error) {
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	maxAttempts := max(g.cfg.Retry.MaxAttempts, 1)
	backoff := g.cfg.Retry.BaseBackoff
	pc := provider.Credential{ID: cred.ID, Key: cred.Key}

	for attempt := 1; ; attempt++ {
		payload, err := a.Call(ctx, req, pc)
		if err == nil {
			return payload, attempt, nil
		}
		if !provider.IsTransient(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return nil, attempt, err
		}
		if backoff > 0 {
			if serr := g.sleep(ctx, backoff); serr != nil {
				return nil, attempt, &provider.Error{
					Provider: a.Name(),
					Kind:     provider.Transient,
					Err:      fmt.Errorf("retry aborted: %w", errors.Join(err, serr)),
				}
			}
		}
		backoff *= 2
		if g.cfg.Retry.MaxBackoff > 0 && backoff > g.cfg.Retry.MaxBackoff {
			backoff = g.cfg.Retry.MaxBackoff
		}
	}
}

func (f *fetch) store(payload []byte, provider string) {
	if f.g.cache == nil {
		return
	}
	ttl := f.g.cache.TTL()
	if f.req.FreshnessHint > 0 && f.req.FreshnessHint < ttl {
		ttl = f.req.FreshnessHint
	}
	f.g.cache.Put(f.fp, payload, ttl, provider)
}

func (f *fetch) track(ctx context.Context, provider, credentialID string) {
	if f.g.tracker == nil {
		return
	}
	rec := models.UsageRecord{
		RequestID:    f.id,
		Provider:     provider,
		CredentialID: credentialID,
		Component:    f.req.Component,
		Kind:         f.req.Kind,
		CreatedAt:    f.g.now().UTC(),
	}
	if err := f.g.tracker.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("gateway: record usage: %v", err)
	}
}

// Status returns a snapshot of breakers, credentials, budgets and the cache.
func (g *Gateway) Status() models.GatewayStatus {
	var st models.GatewayStatus
	for _, rt := range g.router.Routes() {
		p := rt.Provider
		creds, err := g.ledger.Status(p.Name)
		if err != nil {
			log.Printf("gateway: %v", err)
		}
		st.Providers = append(st.Providers, models.ProviderStatus{
			Name:        p.Name,
			Kind:        p.Kind,
			Priority:    p.Priority,
			Domain:      p.Domain,
			Breaker:     g.breakers.Get(p.Name).Status(),
			Credentials: creds,
		})
	}
	st.Budget = g.budget.Status()
	if g.cache != nil {
		if cs, err := g.cache.Stats(); err == nil {
			st.Cache = &cs
		}
	}
	return st
}

// Cache returns the in-memory cache, or nil when caching is disabled.
func (g *Gateway) Cache() *cache.LRU { return g.cache }

// Restore reloads this month's credential and budget counters from the
// tracker. It is a no-op without a tracker.
func (g *Gateway) Restore(ctx context.Context) error {
	if g.tracker == nil {
		return nil
	}
	since := tracker.MonthStart(g.now())

	creds, err := g.tracker.CredentialTotals(ctx, since)
	if err != nil {
		return fmt.Errorf("restore credentials: %w", err)
	}
	for _, c := range creds {
		if err := g.ledger.Restore(c.Provider, c.CredentialID, c.Calls); err != nil {
			log.Printf("gateway: restore: %v", err)
		}
	}

	comps, err := g.tracker.ComponentTotals(ctx, since)
	if err != nil {
		return fmt.Errorf("restore budgets: %w", err)
	}
	for _, c := range comps {
		g.budget.Restore(c.Provider, c.Component, c.Calls)
	}
	log.Printf("gateway: restored %d credential and %d budget counters since %s",
		len(creds), len(comps), since.Format("2006-01-02"))
	return nil
}

// Close releases the tracker and the durable cache store.
func (g *Gateway) Close() error {
	var errs []error
	if g.tracker != nil {
		errs = append(errs, g.tracker.Close())
	}
	if c, ok := g.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
