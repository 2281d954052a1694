package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 1 {
				return fmt.Errorf("lines must be positive")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			page, err := client.logs(-1, lines)
			if err != nil {
				return err
			}
			for _, line := range page.Lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if !follow {
				return nil
			}

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
				page, err = client.logs(page.NextOffset, lines)
				if err != nil {
					return err
				}
				for _, line := range page.Lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show initially")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new lines")
	return cmd
}
