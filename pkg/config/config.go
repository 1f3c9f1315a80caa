package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all intelgate configuration.
type Config struct {
	Listen      string             `yaml:"listen"`
	DBPath      string             `yaml:"db_path"`
	CallTimeout time.Duration      `yaml:"call_timeout"`
	Providers   []ProviderConfig   `yaml:"providers"`
	Cache       CacheConfig        `yaml:"cache"`
	Budget      BudgetConfig       `yaml:"budget"`
	Retry       RetryConfig        `yaml:"retry"`
	Audit       models.AuditConfig `yaml:"audit"`
	Stats       StatsConfig        `yaml:"stats"`
}

// ProviderConfig defines one upstream search, AI or news service.
type ProviderConfig struct {
	Name     string      `yaml:"name"`
	Kind     models.Kind `yaml:"kind"`
	Priority int         `yaml:"priority"`
	URL      string      `yaml:"url"`
	// Domain is the rate-limit key. Defaults to the URL host.
	Domain string `yaml:"domain"`
	// Method defaults to POST for ai-reasoning and GET otherwise.
	Method string `yaml:"method"`
	// Model is sent in the body of ai-reasoning requests.
	Model string `yaml:"model"`
	// Format is "json" (default) or "text".
	Format string `yaml:"format"`
	// QueryParam names the query-string parameter carrying the query. Defaults to "q".
	QueryParam   string             `yaml:"query_param"`
	Params       map[string]string  `yaml:"params"`
	Auth         AuthConfig         `yaml:"auth"`
	QuotaStatus  []int              `yaml:"quota_status"`
	QuotaMarkers []string           `yaml:"quota_markers"`
	Credentials  []CredentialConfig `yaml:"credentials"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Breaker      BreakerConfig      `yaml:"breaker"`
}

// AuthConfig says where the API key goes.
// Style is "bearer" (default), "header" or "query".
type AuthConfig struct {
	Style string `yaml:"style"`
	Name  string `yaml:"name"`
}

// CredentialConfig is one API key with its monthly quota.
type CredentialConfig struct {
	ID           string `yaml:"id"`
	Key          string `yaml:"key"`
	MonthlyQuota int64  `yaml:"monthly_quota"`
}

// RateLimitConfig spaces requests to one remote domain.
type RateLimitConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	JitterMin   time.Duration `yaml:"jitter_min"`
	JitterMax   time.Duration `yaml:"jitter_max"`
	// PerMinute is an optional hard ceiling on top of the spacing. Zero disables it.
	PerMinute int `yaml:"per_minute"`
}

// BreakerConfig tunes the provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	// Persist writes entries through to SQLite at DBPath.
	Persist bool `yaml:"persist"`
}

// BudgetConfig splits provider quotas between consumer components.
type BudgetConfig struct {
	Allocations []Allocation `yaml:"allocations"`
	// Critical components are never throttled by budget tiers.
	Critical []string `yaml:"critical"`
}

// Allocation gives a component a share of a provider's monthly quota.
type Allocation struct {
	Provider  string          `yaml:"provider"`
	Component string          `yaml:"component"`
	Share     decimal.Decimal `yaml:"share"`
}

// RetryConfig controls local retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// StatsConfig selects the outcome counter store. Empty RedisAddr keeps counters in memory.
type StatsConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		DBPath:      "intelgate.db",
		CallTimeout: 30 * time.Second,
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        time.Hour,
			MaxEntries: 1000,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		},
		Audit: models.AuditConfig{
			DBPath:        "intelgate-audit.db",
			RetentionDays: 30,
		},
		Stats: StatsConfig{
			Prefix: "intelgate:stats",
			TTL:    24 * time.Hour,
		},
	}
}

// Load reads a YAML config file, expands environment variables, checks it
// against the embedded schema and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes an already expanded YAML document.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills provider-level fields left empty in the file.
func (c *Config) ApplyDefaults() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Method == "" {
			if p.Kind == models.KindAIReasoning {
				p.Method = "POST"
			} else {
				p.Method = "GET"
			}
		}
		if p.Format == "" {
			p.Format = "json"
		}
		if p.QueryParam == "" {
			p.QueryParam = "q"
		}
		if p.Auth.Style == "" {
			p.Auth.Style = "bearer"
		}
		if p.Auth.Name == "" {
			switch p.Auth.Style {
			case "header":
				p.Auth.Name = "X-API-Key"
			case "query":
				p.Auth.Name = "api_key"
			}
		}
		if len(p.QuotaStatus) == 0 {
			p.QuotaStatus = []int{429}
		}
		if p.Domain == "" {
			if u, err := url.Parse(p.URL); err == nil {
				p.Domain = u.Hostname()
			}
		}
		if p.Breaker.FailureThreshold <= 0 {
			p.Breaker.FailureThreshold = 3
		}
		if p.Breaker.RecoveryTimeout <= 0 {
			p.Breaker.RecoveryTimeout = 5 * time.Minute
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 1
	}
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// TotalMonthlyQuota sums the monthly quota of every credential.
func (p ProviderConfig) TotalMonthlyQuota() int64 {
	var total int64
	for _, c := range p.Credentials {
		total += c.MonthlyQuota
	}
	return total
}
