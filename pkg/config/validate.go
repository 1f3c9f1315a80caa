package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []error

	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider without name"))
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("provider %q: duplicate name", p.Name))
		}
		names[p.Name] = true

		if !p.Kind.Valid() {
			errs = append(errs, fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind))
		}
		if u, err := url.Parse(p.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("provider %q: invalid url %q", p.Name, p.URL))
		}
		switch p.Format {
		case "json", "text":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown format %q", p.Name, p.Format))
		}
		switch p.Auth.Style {
		case "bearer", "header", "query":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown auth style %q", p.Name, p.Auth.Style))
		}
		if len(p.Credentials) == 0 {
			errs = append(errs, fmt.Errorf("provider %q: no credentials", p.Name))
		}
		ids := make(map[string]bool, len(p.Credentials))
		for _, cred := range p.Credentials {
			if cred.ID == "" {
				errs = append(errs, fmt.Errorf("provider %q: credential without id", p.Name))
				continue
			}
			if ids[cred.ID] {
				errs = append(errs, fmt.Errorf("provider %q: duplicate credential %q", p.Name, cred.ID))
			}
			ids[cred.ID] = true
			if cred.MonthlyQuota <= 0 {
				errs = append(errs, fmt.Errorf("provider %q: credential %q: monthly_quota must be positive", p.Name, cred.ID))
			}
		}
		rl := p.RateLimit
		if rl.MinInterval < 0 || rl.JitterMin < 0 || rl.JitterMax < 0 {
			errs = append(errs, fmt.Errorf("provider %q: negative rate limit", p.Name))
		}
		if rl.JitterMax < rl.JitterMin {
			errs = append(errs, fmt.Errorf("provider %q: jitter_max below jitter_min", p.Name))
		}
	}

	shares := make(map[string]decimal.Decimal)
	seen := make(map[string]bool)
	for _, a := range c.Budget.Allocations {
		if !names[a.Provider] {
			errs = append(errs, fmt.Errorf("budget: unknown provider %q", a.Provider))
			continue
		}
		if a.Component == "" {
			errs = append(errs, fmt.Errorf("budget: provider %q: allocation without component", a.Provider))
			continue
		}
		key := a.Provider + "/" + a.Component
		if seen[key] {
			errs = append(errs, fmt.Errorf("budget: duplicate allocation %s", key))
		}
		seen[key] = true
		if !a.Share.IsPositive() || a.Share.GreaterThan(one) {
			errs = append(errs, fmt.Errorf("budget: %s: share %s outside (0, 1]", key, a.Share))
			continue
		}
		shares[a.Provider] = shares[a.Provider].Add(a.Share)
	}
	for provider, total := range shares {
		if total.GreaterThan(one) {
			errs = append(errs, fmt.Errorf("budget: provider %q: shares sum to %s", provider, total))
		}
	}

	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache: max_entries must be positive"))
	}
	if c.Retry.BaseBackoff < 0 || c.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry: negative backoff"))
	}

	return errors.Join(errs...)
}
