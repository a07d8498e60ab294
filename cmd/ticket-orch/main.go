package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:     "ticket-orch",
		Version: version,
		Short:   "Ticket Orchestrator - Dependency-aware ticket scheduler",
		Long:    `Ticket Orchestrator schedules tickets across parallel workers.
It builds the dependency graph from ticket files, resolves which tickets
are ready, sizes batches to the available workers, and lands finished
work through a serialized commit queue.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
