package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribeline/internal/config"
	"scribeline/internal/notifications"
	"scribeline/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check daemon prerequisites on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(ctx.flagValue(ctx.configFlag))
			if err != nil {
				return err
			}

			results := preflight.RunAll(cfg)
			if cfg.Notifications.NtfyTopic != "" {
				check := preflight.Result{Name: "Notifications", Passed: true, Optional: true, Detail: "test alert delivered"}
				if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
					check.Passed = false
					check.Detail = err.Error()
				}
				results = append(results, check)
			}

			rows := make([][]string, 0, len(results))
			for _, result := range results {
				state := "FAIL"
				switch {
				case result.Passed:
					state = "OK"
				case result.Optional:
					state = "SKIP"
				}
				rows = append(rows, []string{result.Name, state, result.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "State", "Detail"}, rows))

			if preflight.Failed(results) {
				return fmt.Errorf("preflight found problems; fix the failed checks above")
			}
			return nil
		},
	}
}
