package main

import (
	"encoding/base64"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
)

func newSimulateCommand(ctx *commandContext) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Submit synthetic appointments for demo and load testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be positive")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			faker := gofakeit.New(0)
			for i := 0; i < count; i++ {
				patientRef := fmt.Sprintf("sim-%s", faker.UUID())
				audio := []byte(faker.Paragraph(3, 5, 12, " "))
				view, err := client.submit(patientRef, base64.StdEncoding.EncodeToString(audio))
				if err != nil {
					return fmt.Errorf("submit synthetic appointment %d: %w", i+1, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submitted %s\n", view.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d synthetic appointments submitted\n", count)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of synthetic appointments")
	return cmd
}
