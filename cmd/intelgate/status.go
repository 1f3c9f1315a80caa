package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show breakers, credentials and budgets",
		Long: "Show breakers, credentials and budgets. Without --server the status is rebuilt\n" +
			"from this month's usage records; breaker state is only known to a running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadStatus(configPath, serverURL)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tKIND\tPRIORITY\tBREAKER\tCREDENTIAL\tUSED\tQUOTA\tEXHAUSTED")
			for _, p := range st.Providers {
				for _, c := range p.Credentials {
					id := c.ID
					if c.Active {
						id += "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%d\t%t\n",
						p.Name, p.Kind, p.Priority, p.Breaker.State, id, c.CallsUsedThisMonth, c.MonthlyQuota, c.Exhausted)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(st.Budget) > 0 {
				fmt.Println()
				if err := printBudget(st.Budget); err != nil {
					return err
				}
			}
			if st.Cache != nil {
				fmt.Printf("\nCache: %d entries, %d hits, %d misses, %d evictions\n",
					st.Cache.Entries, st.Cache.Hits, st.Cache.Misses, st.Cache.Evictions)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	cmd.Flags().StringVar(&serverURL, "server", "", "read live status from a running server, e.g. http://localhost:8080")
	return cmd
}

// loadStatus asks a running server when serverURL is set, otherwise builds a
// local gateway restored from the usage tracker.
func loadStatus(configPath, serverURL string) (models.GatewayStatus, error) {
	var st models.GatewayStatus
	if serverURL == "" {
		a, err := openApp(context.Background(), configPath, appOptions{})
		if err != nil {
			return st, err
		}
		defer func() { _ = a.Close() }()
		return a.gw.Status(), nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/v1/status")
	if err != nil {
		return st, fmt.Errorf("query server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("query server: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func printBudget(statuses []models.BudgetStatus) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCOMPONENT\tSHARE\tALLOWANCE\tUSED\tUSAGE\tTIER")
	for _, s := range statuses {
		tier := string(s.Tier)
		if s.Critical {
			tier += " (critical)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\n",
			s.Provider, s.Component, s.Share, s.Allowance, s.Used, s.Fraction*100, tier)
	}
	return w.Flush()
}
