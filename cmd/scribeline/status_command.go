package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			view, err := client.status()
			if err != nil {
				return err
			}

			running := "stopped"
			if view.Running {
				running = "running"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scheduler: %s\n", running)
			fmt.Fprintln(out, renderTable(
				[]string{"Total", "Ready", "Processing", "Completed", "Failed"},
				[][]string{{
					fmt.Sprintf("%d", view.Health.Total),
					fmt.Sprintf("%d", view.Health.Ready),
					fmt.Sprintf("%d", view.Health.Processing),
					fmt.Sprintf("%d", view.Health.Completed),
					fmt.Sprintf("%d", view.Health.Failed),
				}},
			))
			return nil
		},
	}
}
