package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		RequestID:    "req-001",
		Fingerprint:  "9f2c",
		Component:    "analyzer",
		Kind:         models.KindSearch,
		Provider:     "brave",
		CredentialID: "brave-1",
		Outcome:      models.OutcomeServed,
		StatusCode:   200,
		Attempts:     1,
		LatencyMs:    150,
		CreatedAt:    time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Provider: "brave"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.RequestID != "req-001" || got.Outcome != models.OutcomeServed || got.Kind != models.KindSearch {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.LatencyMs != 150 || got.Attempts != 1 || got.CredentialID != "brave-1" {
		t.Errorf("unexpected entry fields: %+v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	a := sampleEntry()
	b := sampleEntry()
	b.Provider = "serper"
	b.Outcome = models.OutcomeFailed
	b.Reason = "transient (status 503)"
	c := sampleEntry()
	c.RequestID = "req-002"
	c.Component = "crawler"
	c.Outcome = models.OutcomeCacheHit
	c.Provider = ""
	for _, e := range []models.AuditEntry{a, b, c} {
		if err := l.Log(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts models.AuditQueryOpts
		want int
	}{
		{"all", models.AuditQueryOpts{}, 3},
		{"request", models.AuditQueryOpts{RequestID: "req-001"}, 2},
		{"outcome", models.AuditQueryOpts{Outcome: models.OutcomeFailed}, 1},
		{"component", models.AuditQueryOpts{Component: "crawler"}, 1},
		{"since future", models.AuditQueryOpts{Since: time.Now().Add(time.Hour)}, 0},
		{"limit", models.AuditQueryOpts{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(entries))
			}
		})
	}
}

func TestObserve(t *testing.T) {
	l := mustNew(t, tempCfg(t))

	l.Observe(models.Event{
		RequestID: "req-9",
		Kind:      models.KindNews,
		Provider:  "newsapi",
		Outcome:   models.OutcomeSkipped,
		Reason:    "breaker open",
		Latency:   1500 * time.Millisecond,
		Time:      time.Now(),
	})

	entries, err := l.Query(context.Background(), models.AuditQueryOpts{RequestID: "req-9"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Reason != "breaker open" || entries[0].LatencyMs != 1500 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 1
	l := mustNew(t, cfg)
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().AddDate(0, 0, -2)
	_ = l.Log(ctx, old)
	_ = l.Log(ctx, sampleEntry())

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 stat row, got %d", len(stats))
	}
	if stats[0].Count != 2 || stats[0].Provider != "brave" || stats[0].Outcome != models.OutcomeServed {
		t.Errorf("unexpected stat: %+v", stats[0])
	}
	if stats[0].Day != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("unexpected day %q", stats[0].Day)
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
