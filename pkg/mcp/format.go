package mcp

import (
	"fmt"
	"strings"

	"github.com/edgebet/intelgate/pkg/gateway"
	"github.com/edgebet/intelgate/pkg/models"
)

// maxPayloadText caps how much of a payload is echoed back to the agent.
const maxPayloadText = 16 << 10

func formatFetchResult(res models.Result) string {
	var b strings.Builder
	source := "live"
	switch {
	case res.Stale:
		source = "stale cache"
	case res.FromCache:
		source = "cache"
	}
	fmt.Fprintf(&b, "Served by %s (%s), request %s\n\n", res.ServedBy, source, res.RequestID)
	payload := string(res.Payload)
	if len(payload) > maxPayloadText {
		payload = payload[:maxPayloadText] + "\n... (truncated)"
	}
	b.WriteString(payload)
	return b.String()
}

func formatFetchError(fe *gateway.FetchError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "All providers unavailable (retriable: %t)\n", fe.Retriable)
	for _, a := range fe.Attempts {
		fmt.Fprintf(&b, "  %-15s %-8s %s\n", a.Provider, a.Outcome, a.Reason)
	}
	return b.String()
}

// formatStatus formats provider breakers and credentials as a text table.
func formatStatus(providers []models.ProviderStatus) string {
	if len(providers) == 0 {
		return "No providers configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %-13s %4s %-10s %-15s %10s %10s %-9s\n",
		"Provider", "Kind", "Prio", "Breaker", "Credential", "Used", "Quota", "Exhausted")
	b.WriteString(strings.Repeat("-", 95) + "\n")
	for _, p := range providers {
		for i, c := range p.Credentials {
			name, kind, prio, state := "", "", "", ""
			if i == 0 {
				name, kind, prio, state = p.Name, string(p.Kind), fmt.Sprint(p.Priority), p.Breaker.State
			}
			id := c.ID
			if c.Active {
				id += "*"
			}
			fmt.Fprintf(&b, "%-15s %-13s %4s %-10s %-15s %10d %10d %-9t\n",
				name, kind, prio, state, id, c.CallsUsedThisMonth, c.MonthlyQuota, c.Exhausted)
		}
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget allocations found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %-15s %6s %10s %10s %6s %-9s\n",
		"Provider", "Component", "Share", "Allowance", "Used", "Usage%", "Tier")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, s := range statuses {
		tier := string(s.Tier)
		if s.Critical {
			tier += " (critical)"
		}
		fmt.Fprintf(&b, "%-15s %-15s %6s %10d %10d %5.1f%% %-9s\n",
			s.Provider, s.Component, s.Share, s.Allowance, s.Used, s.Fraction*100, tier)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:   %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Evictions: %d\n"+
		"  Hit Rate:  %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, stats.Evictions, hitRate)
}

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %10s\n", "Provider", "Component", "Calls")
	b.WriteString(strings.Repeat("-", 52) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s %-20s %10d\n", r.Provider, r.Component, r.RequestCount)
	}
	return b.String()
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-12s %-12s %-10s %6s %8s  %s\n",
		"Time", "Request", "Component", "Provider", "Outcome", "Status", "Latency", "Reason")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, e := range entries {
		reqID := e.RequestID
		if len(reqID) > 8 {
			reqID = reqID[:8]
		}
		reason := e.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-10s %-12s %-12s %-10s %6d %6dms  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			reqID, e.Component, e.Provider, e.Outcome, e.StatusCode, e.LatencyMs, reason)
	}
	return b.String()
}
