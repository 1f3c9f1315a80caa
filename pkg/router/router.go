// Package router orders the providers that can serve a request kind.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/provider"
)

// ErrNoProviders is returned when no provider serves the requested kind.
var ErrNoProviders = errors.New("no providers configured")

// Route is one provider in a fallback chain.
type Route struct {
	Provider config.ProviderConfig
	Adapter  provider.Adapter
}

// Router resolves request kinds to priority-ordered fallback chains.
type Router struct {
	chains map[models.Kind][]Route
}

// New builds the chains once. Providers without an entry in adapters get an
// HTTPAdapter using client.
func New(cfg *config.Config, adapters map[string]provider.Adapter, client *http.Client) *Router {
	r := &Router{chains: make(map[models.Kind][]Route)}
	for _, p := range cfg.Providers {
		a, ok := adapters[p.Name]
		if !ok {
			a = provider.NewHTTP(p, client)
		}
		r.chains[p.Kind] = append(r.chains[p.Kind], Route{Provider: p, Adapter: a})
	}
	for kind := range r.chains {
		chain := r.chains[kind]
		// Ties keep declaration order.
		sort.SliceStable(chain, func(i, j int) bool {
			return chain[i].Provider.Priority < chain[j].Provider.Priority
		})
	}
	return r
}

// Resolve returns the chain for kind, lowest priority value first. The
// returned slice is a copy.
func (r *Router) Resolve(kind models.Kind) ([]Route, error) {
	chain := r.chains[kind]
	if len(chain) == 0 {
		return nil, fmt.Errorf("kind %q: %w", kind, ErrNoProviders)
	}
	out := make([]Route, len(chain))
	copy(out, chain)
	return out, nil
}

// Routes returns every route across all kinds.
func (r *Router) Routes() []Route {
	var out []Route
	for _, kind := range []models.Kind{models.KindSearch, models.KindAIReasoning, models.KindNews} {
		out = append(out, r.chains[kind]...)
	}
	return out
}
