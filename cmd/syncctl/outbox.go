package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List pending Outbox entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []map[string]any
			if err := newAdminClient().get("/outbox", &entries); err != nil {
				return err
			}
			return printTable(entries, "Table", "RecordID", "ProjectID", "Action", "Attempts", "Status")
		},
	}
}

func printTable(rows []map[string]any, columns ...string) error {
	if len(rows) == 0 {
		fmt.Println("(empty)")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, row := range rows {
		filtered := make(map[string]any, len(columns))
		for _, col := range columns {
			if v, ok := row[col]; ok {
				filtered[col] = v
			}
		}
		if err := enc.Encode(filtered); err != nil {
			return err
		}
	}
	return nil
}
