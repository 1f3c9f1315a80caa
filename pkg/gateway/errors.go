package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edgebet/intelgate/pkg/models"
)

// ErrorKind classifies a terminal Fetch error.
type ErrorKind string

// AllProvidersUnavailable means every provider in the chain was skipped or failed.
const AllProvidersUnavailable ErrorKind = "all_providers_unavailable"

var (
	// ErrAllProvidersUnavailable matches any *FetchError of kind AllProvidersUnavailable.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
	// ErrBreakerOpen is recorded for providers skipped by their circuit breaker.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrEmptyQuery rejects requests without query text.
	ErrEmptyQuery = errors.New("empty query")
)

// Attempt summarizes what happened to one provider during a Fetch.
type Attempt struct {
	Provider string         `json:"provider"`
	Outcome  models.Outcome `json:"outcome"`
	Reason   string         `json:"reason,omitempty"`
}

// FetchError is the single terminal error returned once the whole fallback
// chain is exhausted. The per-provider errors are reachable through errors.Is
// and errors.As.
type FetchError struct {
	Kind      ErrorKind
	Retriable bool
	Attempts  []Attempt
	Errs      []error
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersUnavailable.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s %s: %s", a.Provider, a.Outcome, a.Reason))
	}
	return fmt.Sprintf("%s (%s)", ErrAllProvidersUnavailable, strings.Join(parts, "; "))
}

func (e *FetchError) Unwrap() []error {
	out := make([]error, 0, len(e.Errs)+1)
	if e.Kind == AllProvidersUnavailable {
		out = append(out, ErrAllProvidersUnavailable)
	}
	return append(out, e.Errs...)
}
