package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "intelgate",
		Short:   "intelgate: cached, budgeted, fault-tolerant access to search, AI and news providers",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newFetchCmd(),
		newStatusCmd(),
		newStatsCmd(),
		newTopCmd(),
		newMCPCmd(),
		newCacheCmd(),
		newBudgetCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
