package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var patientRef string

	cmd := &cobra.Command{
		Use:   "submit <audio-file>",
		Short: "Submit a recorded appointment for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio file: %w", err)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			view, err := client.submit(patientRef, base64.StdEncoding.EncodeToString(audio))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s (%s)\n", view.ID, statusLabel(view.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&patientRef, "patient", "", "Opaque patient reference")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}
