// Command syncctl is an operator CLI for a running syncdemo process:
// inspect the Outbox and Dead-Letter Queue, retry or clear dead letters,
// check Circuit Breaker state, and flip the persistence mode.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Operator CLI for the sync engine's admin API",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8089", "syncdemo admin API base URL")

	root.AddCommand(
		newOutboxCmd(),
		newDeadLettersCmd(),
		newBreakerCmd(),
		newStatsCmd(),
		newModeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
