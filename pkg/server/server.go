// Package server exposes the gateway over HTTP: fetch, status, the live event
// feed, Prometheus metrics and a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/edgebet/intelgate/pkg/gateway"
	"github.com/edgebet/intelgate/pkg/metrics"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/router"
	"github.com/edgebet/intelgate/pkg/stats"
	"github.com/edgebet/intelgate/pkg/streaming"
)

// maxBodySize caps the size of a fetch request body.
const maxBodySize = 64 << 10

// Gateway is the part of *gateway.Gateway the server needs.
type Gateway interface {
	Fetch(ctx context.Context, req models.Request) (models.Result, error)
	Status() models.GatewayStatus
}

// Server is the intelgate HTTP front end.
type Server struct {
	listen  string
	gw      Gateway
	hub     *streaming.Hub
	metrics *metrics.GatewayMetrics
	stats   stats.Store
	mux     *http.ServeMux

	statusEvery time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithHub serves the live event feed on /v1/events.
func WithHub(h *streaming.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics serves the registry on /metrics.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStats serves outcome counters on /v1/stats.
func WithStats(st stats.Store) Option {
	return func(s *Server) { s.stats = st }
}

// WithStatusInterval sets how often a status snapshot is pushed to the event
// feed. Zero disables the push.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Server) { s.statusEvery = d }
}

// New creates a Server listening on listen.
func New(listen string, gw Gateway, opts ...Option) *Server {
	s := &Server{
		listen:      listen,
		gw:          gw,
		mux:         http.NewServeMux(),
		statusEvery: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /v1/fetch", s.handleFetch)
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.stats != nil {
		s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	}
	if s.hub != nil {
		s.mux.Handle("GET /v1/events", s.hub)
	}
	if s.metrics != nil {
		s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support. The event
// hub, when present, runs for the lifetime of ctx.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.hub != nil {
		go s.hub.Run(ctx)
		if s.statusEvery > 0 {
			go s.pushStatus(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("intelgate listening on %s", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(s.statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() > 0 {
				s.hub.BroadcastStatus(s.gw.Status())
			}
		}
	}
}

// fetchRequest is the JSON body of POST /v1/fetch.
type fetchRequest struct {
	Query         string `json:"query"`
	Component     string `json:"component"`
	Kind          string `json:"kind"`
	FreshnessHint string `json:"freshness_hint,omitempty"`
	AllowStale    bool   `json:"allow_stale,omitempty"`
}

func (r fetchRequest) toModel() (models.Request, error) {
	kind, err := models.ParseKind(r.Kind)
	if err != nil {
		return models.Request{}, err
	}
	req := models.Request{
		Query:      r.Query,
		Component:  r.Component,
		Kind:       kind,
		AllowStale: r.AllowStale,
	}
	if r.FreshnessHint != "" {
		d, err := time.ParseDuration(r.FreshnessHint)
		if err != nil {
			return models.Request{}, fmt.Errorf("freshness_hint: %w", err)
		}
		req.FreshnessHint = d
	}
	return req, nil
}

// fetchResponse is the JSON answer of POST /v1/fetch. JSON payloads are
// embedded as-is, text payloads as a string.
type fetchResponse struct {
	RequestID   string          `json:"request_id"`
	ServedBy    string          `json:"served_by"`
	FromCache   bool            `json:"from_cache"`
	Stale       bool            `json:"stale,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
}

func newFetchResponse(res models.Result) fetchResponse {
	payload := json.RawMessage(res.Payload)
	if !json.Valid(res.Payload) {
		payload, _ = json.Marshal(string(res.Payload))
	}
	return fetchResponse{
		RequestID:   res.RequestID,
		ServedBy:    res.ServedBy,
		FromCache:   res.FromCache,
		Stale:       res.Stale,
		Fingerprint: res.Fingerprint,
		Payload:     payload,
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body fetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req, err := body.toModel()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.gw.Fetch(r.Context(), req)
	if err != nil {
		var fe *gateway.FetchError
		switch {
		case errors.As(err, &fe):
			writeFetchError(w, fe)
		case errors.Is(err, gateway.ErrEmptyQuery):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, router.ErrNoProviders):
			writeJSONError(w, http.StatusNotFound, err.Error())
		default:
			log.Printf("server: fetch: %v", err)
			writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("X-Intelgate-Request-Id", res.RequestID)
	switch {
	case res.Stale:
		w.Header().Set("X-Intelgate-Cache", "stale")
	case res.FromCache:
		w.Header().Set("X-Intelgate-Cache", "hit")
	default:
		w.Header().Set("X-Intelgate-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, newFetchResponse(res))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.stats.Snapshot(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics refreshes the gauges from a status snapshot before scraping.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := s.gw.Status()
	breakers := make([]models.BreakerStatus, 0, len(st.Providers))
	for _, p := range st.Providers {
		breakers = append(breakers, p.Breaker)
		s.metrics.SyncCredentials(p.Credentials)
	}
	s.metrics.SyncBreakers(breakers)
	s.metrics.SyncBudget(st.Budget)
	if st.Cache != nil {
		s.metrics.SyncCache(*st.Cache)
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"intelgate_error","code":%d}}`, message, code)
}

func writeFetchError(w http.ResponseWriter, fe *gateway.FetchError) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error": map[string]any{
			"message":   fe.Error(),
			"type":      string(fe.Kind),
			"code":      http.StatusServiceUnavailable,
			"retriable": fe.Retriable,
			"attempts":  fe.Attempts,
		},
	})
}
