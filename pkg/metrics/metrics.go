// Package metrics exposes gateway activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics collects gateway metrics on a private registry.
type GatewayMetrics struct {
	registry *prometheus.Registry

	// Fetch events
	EventsTotal    *prometheus.CounterVec
	AttemptLatency *prometheus.HistogramVec
	RetriesTotal   *prometheus.CounterVec

	// State gauges, refreshed from status snapshots
	BreakerOpen     *prometheus.GaugeVec
	CredentialUsed  *prometheus.GaugeVec
	CredentialQuota *prometheus.GaugeVec
	BudgetFraction  *prometheus.GaugeVec
	CacheEntries    prometheus.Gauge
}

// New creates a metrics collector with every metric registered.
func New() *GatewayMetrics {
	registry := prometheus.NewRegistry()

	m := &GatewayMetrics{
		registry: registry,

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelgate_events_total",
				Help: "Fetch steps by kind, provider and outcome",
			},
			[]string{"kind", "provider", "outcome"},
		),
		AttemptLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intelgate_attempt_latency_seconds",
				Help:    "Latency of provider attempts including local retries",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"provider"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelgate_retries_total",
				Help: "Local transient retries per provider",
			},
			[]string{"provider"},
		),

		BreakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intelgate_breaker_open",
				Help: "1 when the breaker is open or half-open",
			},
			[]string{"name"},
		),
		CredentialUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intelgate_credential_calls_used",
				Help: "Calls used this month per credential",
			},
			[]string{"provider", "credential"},
		),
		CredentialQuota: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intelgate_credential_monthly_quota",
				Help: "Monthly quota per credential",
			},
			[]string{"provider", "credential"},
		),
		BudgetFraction: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intelgate_budget_usage_fraction",
				Help: "Share of the component allowance used this month",
			},
			[]string{"provider", "component"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "intelgate_cache_entries",
				Help: "Entries held in the in-memory cache",
			},
		),
	}

	registry.MustRegister(
		m.EventsTotal,
		m.AttemptLatency,
		m.RetriesTotal,
		m.BreakerOpen,
		m.CredentialUsed,
		m.CredentialQuota,
		m.BudgetFraction,
		m.CacheEntries,
	)
	return m
}

// Registry returns the prometheus registry.
func (m *GatewayMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *GatewayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records one gateway event.
func (m *GatewayMetrics) Observe(e models.Event) {
	m.EventsTotal.WithLabelValues(string(e.Kind), e.Provider, string(e.Outcome)).Inc()
	if e.Provider == "" || e.Attempts == 0 {
		return
	}
	m.AttemptLatency.WithLabelValues(e.Provider).Observe(e.Latency.Seconds())
	if e.Attempts > 1 {
		m.RetriesTotal.WithLabelValues(e.Provider).Add(float64(e.Attempts - 1))
	}
}

// SyncBreakers refreshes the breaker gauges.
func (m *GatewayMetrics) SyncBreakers(statuses []models.BreakerStatus) {
	for _, s := range statuses {
		v := 0.0
		if s.State != "closed" {
			v = 1
		}
		m.BreakerOpen.WithLabelValues(s.Name).Set(v)
	}
}

// SyncCredentials refreshes the credential gauges.
func (m *GatewayMetrics) SyncCredentials(statuses []models.CredentialStatus) {
	for _, s := range statuses {
		m.CredentialUsed.WithLabelValues(s.Provider, s.ID).Set(float64(s.CallsUsedThisMonth))
		m.CredentialQuota.WithLabelValues(s.Provider, s.ID).Set(float64(s.MonthlyQuota))
	}
}

// SyncBudget refreshes the budget gauges.
func (m *GatewayMetrics) SyncBudget(statuses []models.BudgetStatus) {
	for _, s := range statuses {
		m.BudgetFraction.WithLabelValues(s.Provider, s.Component).Set(s.Fraction)
	}
}

// SyncCache refreshes the cache size gauge.
func (m *GatewayMetrics) SyncCache(stats models.CacheStats) {
	m.CacheEntries.Set(float64(stats.Entries))
}
