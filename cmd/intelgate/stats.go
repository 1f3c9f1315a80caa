package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/edgebet/intelgate/pkg/config"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/stats"
	"github.com/edgebet/intelgate/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show successful calls per provider and component, and outcome counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()
			summaries, err := tr.Summary(ctx, provider)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
			} else {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PROVIDER\tCOMPONENT\tCALLS")
				for _, s := range summaries {
					fmt.Fprintf(w, "%s\t%s\t%d\n", s.Provider, s.Component, s.RequestCount)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			if cfg.Stats.RedisAddr == "" {
				return nil
			}
			rs, err := stats.Dial(ctx, cfg.Stats.RedisAddr, stats.WithPrefix(cfg.Stats.Prefix))
			if err != nil {
				return err
			}
			defer rs.Close()
			snap, err := rs.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Println()
			return printCounters(snap)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	return cmd
}

var counterOrder = []models.Outcome{
	models.OutcomeServed,
	models.OutcomeCacheHit,
	models.OutcomeStale,
	models.OutcomeFailed,
	models.OutcomeSkipped,
	models.OutcomeExhausted,
}

func printCounters(snap stats.Snapshot) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "SCOPE")
	for _, o := range counterOrder {
		fmt.Fprintf(w, "\t%s", o)
	}
	fmt.Fprintln(w)

	row := func(scope string, c stats.Counters) {
		fmt.Fprint(w, scope)
		for _, o := range counterOrder {
			fmt.Fprintf(w, "\t%d", c[o])
		}
		fmt.Fprintln(w)
	}
	row("total", snap.Total)
	for _, k := range sortedKeys(snap.ByKind) {
		row("kind:"+k, snap.ByKind[k])
	}
	for _, p := range sortedKeys(snap.ByProvider) {
		row("provider:"+p, snap.ByProvider[p])
	}
	return w.Flush()
}

func sortedKeys(m map[string]stats.Counters) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
