package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <appointment-id>",
		Short: "Show one appointment and its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			view, err := client.get(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", view.ID)
			fmt.Fprintf(out, "Patient:   %s\n", view.PatientRef)
			fmt.Fprintf(out, "Status:    %s\n", statusLabel(view.Status))
			fmt.Fprintf(out, "Attempt:   %d\n", view.Attempt)
			fmt.Fprintf(out, "Created:   %s\n", view.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Updated:   %s\n", view.UpdatedAt.Local().Format(time.DateTime))
			if view.NextAttemptAt != nil {
				fmt.Fprintf(out, "Next try:  %s\n", view.NextAttemptAt.Local().Format(time.DateTime))
			}
			if view.LastError != "" {
				fmt.Fprintf(out, "Error:     %s\n", view.LastError)
			}

			events, err := client.events(view.ID)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, event := range events {
				rows = append(rows, []string{
					fmt.Sprintf("%d", event.Seq),
					event.Action,
					event.Details,
					event.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable([]string{"Seq", "Action", "Details", "At"}, rows))
			return nil
		},
	}
}
