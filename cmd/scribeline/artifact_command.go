package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newArtifactCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "artifact <appointment-id> <kind>",
		Short: "Fetch a decrypted artifact (audio, transcript, summary, extraction, form)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			plaintext, err := client.artifact(args[0], args[1])
			if err != nil {
				return err
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, plaintext, 0o600); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(plaintext), outputPath)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(plaintext)
			return err
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the artifact to a file instead of stdout")
	return cmd
}
