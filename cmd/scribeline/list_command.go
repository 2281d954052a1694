package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			views, err := client.list(statusFilter)
			if err != nil {
				return err
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no appointments")
				return nil
			}

			rows := make([][]string, 0, len(views))
			for _, view := range views {
				lastError := view.LastError
				if len(lastError) > 48 {
					lastError = lastError[:45] + "..."
				}
				rows = append(rows, []string{
					view.ID,
					view.PatientRef,
					statusLabel(view.Status),
					fmt.Sprintf("%d", view.Attempt),
					view.CreatedAt.Local().Format(time.DateTime),
					lastError,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Patient", "Status", "Attempt", "Created", "Last Error"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by lifecycle status")
	return cmd
}
