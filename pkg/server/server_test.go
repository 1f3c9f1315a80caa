package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/gateway"
	"github.com/edgebet/intelgate/pkg/metrics"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/provider"
	"github.com/edgebet/intelgate/pkg/stats"
	"github.com/edgebet/intelgate/pkg/streaming"
	"github.com/gorilla/websocket"
)

type stubAdapter struct {
	calls atomic.Int32
	fail  error
	body  string
}

func (a *stubAdapter) Name() string      { return "brave" }
func (a *stubAdapter) Kind() models.Kind { return models.KindSearch }
func (a *stubAdapter) Domain() string    { return "api.search.brave.com" }

func (a *stubAdapter) Call(context.Context, models.Request, provider.Credential) ([]byte, error) {
	a.calls.Add(1)
	if a.fail != nil {
		return nil, a.fail
	}
	if a.body != "" {
		return []byte(a.body), nil
	}
	return []byte(`{"web":{"results":[{"title":"Arsenal"}]}}`), nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Listen = ":0"
	cfg.Providers = []config.ProviderConfig{{
		Name:        "brave",
		Kind:        models.KindSearch,
		Priority:    1,
		URL:         "https://api.search.brave.com/res/v1/web/search",
		Credentials: []config.CredentialConfig{{ID: "brave-1", Key: "k", MonthlyQuota: 2000}},
	}}
	cfg.Retry.MaxAttempts = 1
	cfg.ApplyDefaults()
	return cfg
}

func setupServer(t *testing.T, a *stubAdapter, opts ...Option) (*Server, *gateway.Gateway) {
	t.Helper()
	gw, err := gateway.New(testConfig(), gateway.WithAdapters(map[string]provider.Adapter{"brave": a}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { gw.Close() })
	return New(":0", gw, opts...), gw
}

func postFetch(srv http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestFetchEndpoint(t *testing.T) {
	a := &stubAdapter{}
	srv, _ := setupServer(t, a)

	body := `{"query":"Arsenal injuries","component":"crawler","kind":"search"}`
	w := postFetch(srv, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Intelgate-Cache") != "miss" {
		t.Error("expected cache miss on first request")
	}
	var resp struct {
		ServedBy string          `json:"served_by"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ServedBy != "brave" || !strings.Contains(string(resp.Payload), `"Arsenal"`) {
		t.Errorf("unexpected response %s", w.Body.String())
	}

	w2 := postFetch(srv, body)
	if w2.Header().Get("X-Intelgate-Cache") != "hit" {
		t.Error("expected cache hit on second request")
	}
	if a.calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", a.calls.Load())
	}
}

func TestFetchTextPayload(t *testing.T) {
	srv, _ := setupServer(t, &stubAdapter{body: "plain words"})

	w := postFetch(srv, `{"query":"q","component":"crawler","kind":"search"}`)
	var resp struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected string payload: %v (%s)", err, w.Body.String())
	}
	if resp.Payload != "plain words" {
		t.Errorf("unexpected payload %q", resp.Payload)
	}
}

func TestFetchUnavailable(t *testing.T) {
	a := &stubAdapter{fail: &provider.Error{Provider: "brave", Kind: provider.Permanent, StatusCode: 401, Err: errors.New("unauthorized")}}
	srv, _ := setupServer(t, a)

	w := postFetch(srv, `{"query":"q","component":"crawler","kind":"search"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp struct {
		Error struct {
			Type      string            `json:"type"`
			Retriable bool              `json:"retriable"`
			Attempts  []gateway.Attempt `json:"attempts"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Type != string(gateway.AllProvidersUnavailable) || !resp.Error.Retriable {
		t.Errorf("unexpected error body %s", w.Body.String())
	}
	if len(resp.Error.Attempts) != 1 || resp.Error.Attempts[0].Provider != "brave" {
		t.Errorf("unexpected attempts %+v", resp.Error.Attempts)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestFetchBadRequest(t *testing.T) {
	srv, _ := setupServer(t, &stubAdapter{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{"query":`, http.StatusBadRequest},
		{"unknown kind", `{"query":"q","kind":"weather"}`, http.StatusBadRequest},
		{"empty query", `{"query":"  ","kind":"search"}`, http.StatusBadRequest},
		{"bad hint", `{"query":"q","kind":"search","freshness_hint":"soon"}`, http.StatusBadRequest},
		{"no providers", `{"query":"q","kind":"news"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postFetch(srv, tt.body)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := setupServer(t, &stubAdapter{})
	postFetch(srv, `{"query":"q","component":"crawler","kind":"search"}`)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st models.GatewayStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Providers) != 1 || st.Providers[0].Credentials[0].CallsUsedThisMonth != 1 {
		t.Errorf("unexpected status %s", w.Body.String())
	}
	if st.Cache == nil || st.Cache.Entries != 1 {
		t.Errorf("expected one cache entry, got %+v", st.Cache)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := setupServer(t, &stubAdapter{})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	a := &stubAdapter{}
	gw, err := gateway.New(testConfig(),
		gateway.WithAdapters(map[string]provider.Adapter{"brave": a}),
		gateway.WithSinks(m),
	)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(":0", gw, WithMetrics(m))
	postFetch(srv, `{"query":"q","component":"crawler","kind":"search"}`)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		`intelgate_events_total{kind="search",outcome="served",provider="brave"} 1`,
		`intelgate_breaker_open{name="brave"} 0`,
		`intelgate_credential_calls_used{credential="brave-1",provider="brave"} 1`,
		`intelgate_cache_entries 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	store := stats.NewMemoryStore()
	gw, err := gateway.New(testConfig(),
		gateway.WithAdapters(map[string]provider.Adapter{"brave": &stubAdapter{}}),
		gateway.WithSinks(stats.NewSink(store, time.Second)),
	)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(":0", gw, WithStats(store))
	body := `{"query":"q","component":"crawler","kind":"search"}`
	postFetch(srv, body)
	postFetch(srv, body)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	var snap stats.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Total[models.OutcomeServed] != 1 || snap.Total[models.OutcomeCacheHit] != 1 {
		t.Errorf("unexpected totals %+v", snap.Total)
	}
}

func TestEventsFeed(t *testing.T) {
	hub := streaming.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	gw, err := gateway.New(testConfig(),
		gateway.WithAdapters(map[string]provider.Adapter{"brave": &stubAdapter{}}),
		gateway.WithSinks(hub),
	)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(":0", gw, WithHub(hub)))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/v1/fetch", "application/json",
		strings.NewReader(`{"query":"q","component":"crawler","kind":"search"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type streaming.EventType `json:"type"`
		Data models.Event        `json:"data"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != streaming.EventTypeFetch || got.Data.Outcome != models.OutcomeServed {
		t.Errorf("unexpected event %s", data)
	}
}
