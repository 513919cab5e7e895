package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Manage the Dead-Letter Queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []map[string]any
			if err := newAdminClient().get("/deadletters", &entries); err != nil {
				return err
			}
			return printTable(entries, "ID", "Table", "RecordID", "ProjectID", "FinalError", "DeadAt")
		},
	}

	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-enqueue a dead letter as a fresh Outbox entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]string
			if err := newAdminClient().post("/deadletters/"+args[0]+"/retry", nil, &result); err != nil {
				return err
			}
			fmt.Printf("re-enqueued as outbox entry %s\n", result["outbox_id"])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Permanently discard a dead letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAdminClient().delete("/deadletters/" + args[0])
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Discard every dead letter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAdminClient().delete("/deadletters")
		},
	}

	cmd.AddCommand(list, retry, remove, clear)
	return cmd
}
