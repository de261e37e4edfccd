package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stagecoach/internal/config"
	"stagecoach/internal/preflight"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
)

func newDoctorCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the host environment for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(func(cfg *config.Config, store *session.Store) error {
				out := cmd.OutOrStdout()
				healthy := true

				rows := [][]string{}
				for _, result := range preflight.RunAll(cmd.Context(), cfg) {
					mark := "ok"
					if !result.Passed {
						mark = "FAIL"
						healthy = false
					}
					rows = append(rows, []string{result.Name, mark, result.Detail})
				}
				for _, status := range preflight.CheckSystemDeps(cfg) {
					mark := "ok"
					if !status.Available {
						mark = "FAIL"
						if !status.Optional {
							healthy = false
						}
					}
					rows = append(rows, []string{status.Name, mark, status.Detail})
				}

				dbHealth, dbErr := store.CheckHealth(cmd.Context())
				switch {
				case dbErr != nil:
					healthy = false
					rows = append(rows, []string{"Session store", "FAIL", dbErr.Error()})
				case !dbHealth.DatabaseExists:
					rows = append(rows, []string{"Session store", "ok", "no sessions recorded yet"})
				default:
					rows = append(rows, []string{"Session store",
						"ok", fmt.Sprintf("%d sessions at %s", dbHealth.TotalSessions, dbHealth.DBPath)})
				}

				fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
				if !healthy {
					return services.Wrap(services.ErrValidation, "", "doctor",
						"one or more environment checks failed", nil)
				}
				fmt.Fprintln(out, "Environment looks good.")
				return nil
			})
		},
	}
}
