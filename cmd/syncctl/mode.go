package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode [local-only|cloud-sync|hybrid]",
		Short: "Show or change the persistence mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAdminClient()
			var result map[string]string

			if len(args) == 0 {
				if err := client.get("/mode", &result); err != nil {
					return err
				}
			} else {
				if err := client.post("/mode", map[string]string{"mode": args[0]}, &result); err != nil {
					return err
				}
			}
			fmt.Println(result["mode"])
			return nil
		},
	}
	return cmd
}
