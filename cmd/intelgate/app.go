package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/edgebet/intelgate/pkg/audit"
	cachepkg "github.com/edgebet/intelgate/pkg/cache/sqlite"
	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/gateway"
	"github.com/edgebet/intelgate/pkg/metrics"
	"github.com/edgebet/intelgate/pkg/stats"
	"github.com/edgebet/intelgate/pkg/streaming"
	"github.com/edgebet/intelgate/pkg/tracker"
)

// app holds a gateway and the stores wired around it.
type app struct {
	cfg     *config.Config
	gw      *gateway.Gateway
	tracker tracker.Tracker
	auditor *audit.Logger
	stats   stats.Store
	metrics *metrics.GatewayMetrics
	hub     *streaming.Hub
}

type appOptions struct {
	live bool
}

// openApp loads the config and builds the gateway with its usage tracker,
// durable cache, audit log and stats sinks. With live set it also attaches
// Prometheus metrics and the event hub. Usage counters are restored from the
// tracker before returning.
func openApp(ctx context.Context, configPath string, o appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg}

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	a.tracker = tr
	opts := []gateway.Option{gateway.WithTracker(tr)}

	var closers []io.Closer
	fail := func(err error) (*app, error) {
		_ = tr.Close()
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	if cfg.Cache.Enabled && cfg.Cache.Persist {
		store, err := cachepkg.New(cfg.DBPath)
		if err != nil {
			return fail(fmt.Errorf("init cache: %w", err))
		}
		closers = append(closers, store)
		opts = append(opts, gateway.WithCacheStore(store))
	}

	if cfg.Audit.Enabled {
		l, err := audit.New(cfg.Audit)
		if err != nil {
			return fail(fmt.Errorf("init audit: %w", err))
		}
		closers = append(closers, l)
		a.auditor = l
		opts = append(opts, gateway.WithSinks(l))
	}

	a.stats = stats.NewMemoryStore()
	if cfg.Stats.RedisAddr != "" {
		rs, err := stats.Dial(ctx, cfg.Stats.RedisAddr, stats.WithPrefix(cfg.Stats.Prefix), stats.WithTTL(cfg.Stats.TTL))
		if err != nil {
			log.Printf("stats: %v; keeping counters in memory", err)
		} else {
			closers = append(closers, rs)
			a.stats = rs
		}
	}
	opts = append(opts, gateway.WithSinks(stats.NewSink(a.stats, time.Second)))

	if o.live {
		a.metrics = metrics.New()
		a.hub = streaming.NewHub()
		opts = append(opts, gateway.WithSinks(a.metrics, a.hub))
	}

	gw, err := gateway.New(cfg, opts...)
	if err != nil {
		return fail(err)
	}
	a.gw = gw

	if err := gw.Restore(ctx); err != nil {
		log.Printf("restore usage: %v", err)
	}
	return a, nil
}

// Close releases the gateway, then the audit log and stats store.
func (a *app) Close() error {
	errs := []error{a.gw.Close()}
	if a.auditor != nil {
		errs = append(errs, a.auditor.Close())
	}
	if c, ok := a.stats.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
