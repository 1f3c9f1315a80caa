package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edgebet/intelgate/pkg/audit"
	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the fetch audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		requestID  string
		provider   string
		component  string
		outcome    string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				RequestID: requestID,
				Provider:  provider,
				Component: component,
				Outcome:   models.Outcome(outcome),
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to intelgate config file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by request ID")
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&component, "component", "", "filter by component")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (served, failed, skipped, cache_hit, stale, exhausted)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit log counts by provider, outcome and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to intelgate config file")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to intelgate config file")
	return cmd
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-12s %-12s %-15s %-10s %6s %8s %-20s %s\n",
		"REQUEST ID", "COMPONENT", "PROVIDER", "CREDENTIAL", "OUTCOME", "STATUS", "LATENCY", "TIME", "REASON")
	b.WriteString(strings.Repeat("-", 140) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-12s %-12s %-15s %-10s %6d %6dms %-20s %s\n",
			e.RequestID, e.Component, e.Provider, e.CredentialID, e.Outcome, e.StatusCode,
			e.LatencyMs, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Reason)
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %-10s %-12s %8s\n", "PROVIDER", "OUTCOME", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 48) + "\n")
	for _, s := range stats {
		provider := s.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Fprintf(&b, "%-15s %-10s %-12s %8d\n", provider, s.Outcome, s.Day, s.Count)
	}
	return b.String()
}
