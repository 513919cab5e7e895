package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBreakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "breaker",
		Short: "Show the Circuit Breaker's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var state map[string]string
			if err := newAdminClient().get("/breaker", &state); err != nil {
				return err
			}
			fmt.Println(state["state"])
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show Recovery Stats (success rate, retries, trips)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snapshot map[string]any
			if err := newAdminClient().get("/stats", &snapshot); err != nil {
				return err
			}
			return printTable([]map[string]any{snapshot},
				"TotalOperations", "SuccessfulOperations", "FailedOperations", "RetriedOperations",
				"CircuitBreakerTrips", "RetryBudgetExhausted", "DeadLetterCount")
		},
	}
}
