package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/edgebet/intelgate/pkg/budget"
	"github.com/edgebet/intelgate/pkg/cache"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/provider"
	"github.com/edgebet/intelgate/pkg/ratelimit"
	"github.com/edgebet/intelgate/pkg/tracker"
)

// Sink receives every Fetch event. Observe must not block for long.
type Sink interface {
	Observe(e models.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.Event)

func (f SinkFunc) Observe(e models.Event) { f(e) }

type options struct {
	adapters     map[string]provider.Adapter
	client       *http.Client
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	budgetRandom budget.RandomSource
	jitterRandom ratelimit.RandomSource
	store        cache.Store
	tracker      tracker.Tracker
	sinks        []Sink
}

// Option configures a Gateway.
type Option func(*options)

// WithAdapters replaces the HTTP adapter of the named providers.
func WithAdapters(adapters map[string]provider.Adapter) Option {
	return func(o *options) { o.adapters = adapters }
}

// WithHTTPClient sets the client used by HTTP adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithClock replaces time.Now and the context-aware sleep used for rate
// limiting and retry backoff in every component.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.now = now
		o.sleep = sleep
	}
}

// WithBudgetRandom replaces the coin flipped in the DEGRADED tier.
func WithBudgetRandom(r budget.RandomSource) Option {
	return func(o *options) { o.budgetRandom = r }
}

// WithJitterRandom replaces the rate limiter jitter source.
func WithJitterRandom(r ratelimit.RandomSource) Option {
	return func(o *options) { o.jitterRandom = r }
}

// WithCacheStore adds a durable tier behind the in-memory cache.
func WithCacheStore(s cache.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTracker records successful calls and enables Restore.
func WithTracker(t tracker.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithSinks registers event sinks.
func WithSinks(sinks ...Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}
