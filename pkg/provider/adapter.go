// Package provider calls remote search, AI and news services and classifies
// their failures.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/models"
)

// maxBodySize caps how much of a provider response is read.
const maxBodySize = 8 << 20

// Credential is the key an adapter authenticates with.
type Credential struct {
	ID  string
	Key string
}

// Adapter performs one call against one provider.
type Adapter interface {
	Name() string
	Kind() models.Kind
	Domain() string
	Call(ctx context.Context, req models.Request, cred Credential) ([]byte, error)
}

// HTTPAdapter is the generic adapter driven by a ProviderConfig.
type HTTPAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
}

// NewHTTP creates an adapter. A nil client means http.DefaultClient.
func NewHTTP(cfg config.ProviderConfig, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{cfg: cfg, client: client}
}

func (a *HTTPAdapter) Name() string      { return a.cfg.Name }
func (a *HTTPAdapter) Kind() models.Kind { return a.cfg.Kind }
func (a *HTTPAdapter) Domain() string    { return a.cfg.Domain }

// Call sends the query and returns the response body. Every failure is a *Error.
func (a *HTTPAdapter) Call(ctx context.Context, req models.Request, cred Credential) ([]byte, error) {
	httpReq, err := a.buildRequest(ctx, req, cred)
	if err != nil {
		return nil, a.fail(Permanent, 0, err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, a.fail(Transient, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, a.fail(Transient, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if kind, failed := a.classify(resp.StatusCode, body); failed {
		return nil, a.fail(kind, resp.StatusCode, fmt.Errorf("%s", snippet(body)))
	}

	if a.cfg.Format == "text" {
		return body, nil
	}
	if !json.Valid(body) {
		return nil, a.fail(Malformed, resp.StatusCode, errors.New("response is not valid JSON"))
	}
	if err := validateResponse(a.cfg.Kind, body); err != nil {
		return nil, a.fail(Malformed, resp.StatusCode, err)
	}
	return body, nil
}

func (a *HTTPAdapter) fail(kind ErrorKind, status int, err error) *Error {
	return &Error{Provider: a.cfg.Name, Kind: kind, StatusCode: status, Err: err}
}

// classify maps a response to an error kind. The second result is false for
// a successful response.
func (a *HTTPAdapter) classify(status int, body []byte) (ErrorKind, bool) {
	if slices.Contains(a.cfg.QuotaStatus, status) {
		return QuotaExceeded, true
	}
	switch {
	case status >= 500:
		return Transient, true
	case status == http.StatusRequestTimeout:
		return Transient, true
	case status >= 400:
		if a.hasQuotaMarker(body) {
			return QuotaExceeded, true
		}
		return Permanent, true
	case status < 200 || status >= 300:
		return Permanent, true
	}
	if a.hasQuotaMarker(body) {
		return QuotaExceeded, true
	}
	return 0, false
}

func (a *HTTPAdapter) hasQuotaMarker(body []byte) bool {
	if len(a.cfg.QuotaMarkers) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range a.cfg.QuotaMarkers {
		if m != "" && bytes.Contains(lower, []byte(strings.ToLower(m))) {
			return true
		}
	}
	return false
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

func (a *HTTPAdapter) buildRequest(ctx context.Context, req models.Request, cred Credential) (*http.Request, error) {
	target, err := url.Parse(a.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}
	q := target.Query()
	for k, v := range a.cfg.Params {
		q.Set(k, v)
	}

	var body io.Reader
	if a.cfg.Method == http.MethodPost {
		payload, err := json.Marshal(a.postBody(req))
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	} else {
		q.Set(a.cfg.QueryParam, req.Query)
	}

	if a.cfg.Auth.Style == "query" {
		q.Set(a.cfg.Auth.Name, cred.Key)
	}
	target.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, a.cfg.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if a.cfg.Format == "json" {
		httpReq.Header.Set("Accept", "application/json")
	}
	switch a.cfg.Auth.Style {
	case "bearer":
		httpReq.Header.Set("Authorization", "Bearer "+cred.Key)
	case "header":
		httpReq.Header.Set(a.cfg.Auth.Name, cred.Key)
	}
	return httpReq, nil
}

func (a *HTTPAdapter) postBody(req models.Request) any {
	if a.cfg.Kind == models.KindAIReasoning {
		return chatRequest{
			Model:    a.cfg.Model,
			Messages: []chatMessage{{Role: "user", Content: req.Query}},
		}
	}
	return map[string]string{a.cfg.QueryParam: req.Query}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
