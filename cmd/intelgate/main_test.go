package main

import (
	"strings"
	"testing"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/streaming"
)

func TestEventsURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/v1/events"},
		{"https://gate.example.com/", "wss://gate.example.com/v1/events"},
		{"http://10.0.0.2:9000/intel", "ws://10.0.0.2:9000/intel/v1/events"},
	}
	for _, tt := range tests {
		got, err := eventsURL(tt.in, streaming.Filter{})
		if err != nil {
			t.Fatalf("eventsURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("eventsURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	got, err := eventsURL("http://localhost:8080", streaming.Filter{
		Types:     []streaming.EventType{streaming.EventTypeFetch},
		Providers: []string{"brave"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := "ws://localhost:8080/v1/events?provider=brave&type=fetch"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatAuditEntries(t *testing.T) {
	if got := formatAuditEntries(nil); got != "No audit entries found.\n" {
		t.Errorf("unexpected empty output %q", got)
	}

	out := formatAuditEntries([]models.AuditEntry{{
		RequestID:    "req-1",
		Component:    "analyzer",
		Provider:     "brave",
		CredentialID: "brave-1",
		Outcome:      models.OutcomeServed,
		StatusCode:   200,
		LatencyMs:    42,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}})
	for _, want := range []string{"req-1", "analyzer", "brave-1", "served", "42ms", "2026-03-01 12:00:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatAuditStats(t *testing.T) {
	out := formatAuditStats([]models.AuditStat{
		{Provider: "", Outcome: models.OutcomeCacheHit, Day: "2026-03-01", Count: 7},
		{Provider: "brave", Outcome: models.OutcomeServed, Day: "2026-03-01", Count: 3},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[2], "-") {
		t.Errorf("cache hits without provider should print '-', got %q", lines[2])
	}
	if !strings.Contains(lines[3], "brave") || !strings.HasSuffix(lines[3], "3") {
		t.Errorf("unexpected row %q", lines[3])
	}
}
