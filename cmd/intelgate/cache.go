package main

import (
	"fmt"

	cachepkg "github.com/edgebet/intelgate/pkg/cache/sqlite"
	"github.com/edgebet/intelgate/pkg/config"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent result cache",
	}

	open := func() (*cachepkg.Cache, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return cachepkg.New(cfg.DBPath)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\n", stats.Entries)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("Cleared %d expired cache entries.\n", n)
			} else {
				fmt.Printf("Cleared %d cache entries.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
