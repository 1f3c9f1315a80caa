package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBudgetCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
	)

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect per-component provider budgets",
	}

	var provider string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage and tier per provider and component",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadStatus(configPath, serverURL)
			if err != nil {
				return err
			}
			statuses := st.Budget
			if provider != "" {
				statuses = statuses[:0:0]
				for _, s := range st.Budget {
					if s.Provider == provider {
						statuses = append(statuses, s)
					}
				}
			}
			if len(statuses) == 0 {
				fmt.Println("No budget allocations found.")
				return nil
			}
			return printBudget(statuses)
		},
	}
	statusCmd.Flags().StringVar(&provider, "provider", "", "filter by provider")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "intelgate.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "read live status from a running server")
	cmd.AddCommand(statusCmd)
	return cmd
}
