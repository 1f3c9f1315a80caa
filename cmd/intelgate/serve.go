package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/edgebet/intelgate/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the intelgate HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, configPath, appOptions{live: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			srv := server.New(addr, a.gw,
				server.WithHub(a.hub),
				server.WithMetrics(a.metrics),
				server.WithStats(a.stats),
			)

			log.Printf("starting intelgate with config: %s (%d providers)", configPath, len(a.cfg.Providers))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
