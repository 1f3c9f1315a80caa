package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edgebet/intelgate/pkg/gateway"
	"github.com/edgebet/intelgate/pkg/models"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		component  string
		freshness  time.Duration
		allowStale bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <query>",
		Short: "Run one lookup through the gateway and print the payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := models.ParseKind(kind)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.gw.Fetch(ctx, models.Request{
				Query:         strings.Join(args, " "),
				Kind:          k,
				Component:     component,
				FreshnessHint: freshness,
				AllowStale:    allowStale,
			})
			if err != nil {
				var fe *gateway.FetchError
				if errors.As(err, &fe) {
					for _, at := range fe.Attempts {
						fmt.Fprintf(os.Stderr, "  %s %s: %s\n", at.Provider, at.Outcome, at.Reason)
					}
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			source := "live"
			switch {
			case res.Stale:
				source = "stale cache"
			case res.FromCache:
				source = "cache"
			}
			fmt.Fprintf(os.Stderr, "served by %s (%s) request %s\n", res.ServedBy, source, res.RequestID)
			fmt.Println(string(res.Payload))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	cmd.Flags().StringVarP(&kind, "kind", "k", string(models.KindSearch), "provider kind: search, ai-reasoning or news")
	cmd.Flags().StringVar(&component, "component", "cli", "component charged for the call")
	cmd.Flags().DurationVar(&freshness, "freshness", 0, "maximum age of a cached answer")
	cmd.Flags().BoolVar(&allowStale, "allow-stale", false, "accept an expired cached answer if every provider fails")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
