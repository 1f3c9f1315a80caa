package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgebet/intelgate/pkg/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start intelgate as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, configPath, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := []mcp.Option{mcp.WithTracker(a.tracker)}
			if a.auditor != nil {
				opts = append(opts, mcp.WithAuditor(a.auditor))
			}
			return mcp.New(a.gw, version, opts...).Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	return cmd
}
