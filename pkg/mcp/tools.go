package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/edgebet/intelgate/pkg/gateway"
	"github.com/edgebet/intelgate/pkg/models"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"intel_fetch":        handleFetch,
	"intel_status":       handleStatus,
	"intel_cache_stats":  handleCacheStats,
	"intel_budget":       handleBudget,
	"intel_audit_search": handleAuditSearch,
	"intel_usage":        handleUsage,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "intel_fetch",
		Description: "Look up search, AI reasoning or news results through the gateway, with caching and provider fallback.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query", "kind"},
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Query text",
				},
				"kind": map[string]any{
					"type":        "string",
					"enum":        []string{"search", "ai-reasoning", "news"},
					"description": "Kind of provider to ask",
				},
				"component": map[string]any{
					"type":        "string",
					"description": "Consumer component charged for the call (defaults to mcp)",
				},
				"freshness_hint": map[string]any{
					"type":        "string",
					"description": "Maximum age of a cached answer, e.g. 15m (optional)",
				},
				"allow_stale": map[string]any{
					"type":        "boolean",
					"description": "Return an expired cached answer if every provider is unavailable",
				},
			},
		},
	},
	{
		Name:        "intel_status",
		Description: "Show provider circuit breakers and credential usage.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "intel_cache_stats",
		Description: "Show result cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "intel_budget",
		Description: "Show budget usage and tier per provider and component, optionally filtered by provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{
					"type":        "string",
					"description": "Filter by provider (optional)",
				},
			},
		},
	},
	{
		Name:        "intel_audit_search",
		Description: "Search the fetch audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request_id": map[string]any{
					"type":        "string",
					"description": "Filter by request ID (optional)",
				},
				"provider": map[string]any{
					"type":        "string",
					"description": "Filter by provider (optional)",
				},
				"component": map[string]any{
					"type":        "string",
					"description": "Filter by component (optional)",
				},
				"outcome": map[string]any{
					"type":        "string",
					"description": "Filter by outcome: served, failed, skipped, cache_hit, stale, exhausted (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
			},
		},
	},
	{
		Name:        "intel_usage",
		Description: "Show successful provider calls per provider and component.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{
					"type":        "string",
					"description": "Filter by provider (optional)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

type fetchArgs struct {
	Query         string `json:"query"`
	Kind          string `json:"kind"`
	Component     string `json:"component"`
	FreshnessHint string `json:"freshness_hint"`
	AllowStale    bool   `json:"allow_stale"`
}

func handleFetch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args fetchArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	kind, err := models.ParseKind(args.Kind)
	if err != nil {
		return errorResult(err.Error())
	}
	req := models.Request{
		Query:      args.Query,
		Kind:       kind,
		Component:  args.Component,
		AllowStale: args.AllowStale,
	}
	if req.Component == "" {
		req.Component = "mcp"
	}
	if args.FreshnessHint != "" {
		d, err := time.ParseDuration(args.FreshnessHint)
		if err != nil {
			return errorResult("Invalid freshness_hint: " + err.Error())
		}
		req.FreshnessHint = d
	}

	res, err := s.gw.Fetch(ctx, req)
	if err != nil {
		var fe *gateway.FetchError
		if errors.As(err, &fe) {
			return errorResult(formatFetchError(fe))
		}
		return errorResult("Fetch failed: " + err.Error())
	}
	return textResult(formatFetchResult(res))
}

func handleStatus(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatStatus(s.gw.Status().Providers))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	st := s.gw.Status()
	if st.Cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(*st.Cache))
}

type providerArgs struct {
	Provider string `json:"provider"`
}

func handleBudget(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args providerArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	statuses := s.gw.Status().Budget
	if args.Provider != "" {
		filtered := statuses[:0:0]
		for _, b := range statuses {
			if strings.EqualFold(b.Provider, args.Provider) {
				filtered = append(filtered, b)
			}
		}
		statuses = filtered
	}
	return textResult(formatBudgetStatus(statuses))
}

type auditSearchArgs struct {
	RequestID string `json:"request_id"`
	Provider  string `json:"provider"`
	Component string `json:"component"`
	Outcome   string `json:"outcome"`
	Since     string `json:"since"`
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		RequestID: args.RequestID,
		Provider:  args.Provider,
		Component: args.Component,
		Outcome:   models.Outcome(args.Outcome),
		Limit:     50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.tracker == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args providerArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rows, err := s.tracker.Summary(ctx, args.Provider)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}
