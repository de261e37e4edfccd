package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stagecoach/internal/config"
	"stagecoach/internal/session"
)

func newStatusCommand(cctx *commandContext) *cobra.Command {
	var stageFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List recorded sessions on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(func(cfg *config.Config, store *session.Store) error {
				var stages []session.Stage
				if trimmed := strings.TrimSpace(stageFilter); trimmed != "" {
					stage, ok := session.ParseStage(trimmed)
					if !ok {
						return fmt.Errorf("unknown stage %q", trimmed)
					}
					stages = append(stages, stage)
				}
				sessions, err := store.List(cmd.Context(), stages...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions recorded.")
					return nil
				}

				rows := make([][]string, 0, len(sessions))
				for _, sess := range sessions {
					attention := ""
					if sess.NeedsAttention {
						attention = "!"
					}
					rows = append(rows, []string{
						sess.ShortID(),
						firstNonEmpty(sess.Subject),
						firstNonEmpty(sess.TaskName),
						stageLabel(sess.Stage),
						formatAge(sess.UpdatedAt),
						attention,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Subject", "Task", "Stage", "Updated", ""},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))

				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d sessions: %d active, %d done, %d failed, %d aborted, %d partial\n",
					health.Total, health.Active, health.Done, health.Failed, health.Aborted, health.Partial)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stageFilter, "stage", "", "Only list sessions in the given stage")
	return cmd
}

func newShowCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the details of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sess, err := lookupSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				printSessionDetail(cmd, sess)
				return nil
			})
		},
	}
}

// lookupSession resolves a full or abbreviated session identifier.
func lookupSession(cmd *cobra.Command, store *session.Store, id string) (*session.Session, error) {
	id = strings.TrimSpace(id)
	sess, err := store.GetByID(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sessions, err := store.List(cmd.Context())
	if err != nil {
		return nil, err
	}
	var match *session.Session
	for _, candidate := range sessions {
		if strings.HasPrefix(candidate.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("session id %q is ambiguous", id)
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, fmt.Errorf("session %q not found", id)
	}
	return match, nil
}

func printSessionDetail(cmd *cobra.Command, sess *session.Session) {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"ID", sess.ID},
		{"Subject", firstNonEmpty(sess.Subject)},
		{"Rig", firstNonEmpty(sess.Rig)},
		{"Operators", firstNonEmpty(strings.Join(sess.Operators, ", "))},
		{"Task", firstNonEmpty(sess.TaskName)},
		{"Stage", stageLabel(sess.Stage)},
		{"Created", formatTimestamp(sess.CreatedAt)},
		{"Updated", formatTimestamp(sess.UpdatedAt)},
		{"Directory", firstNonEmpty(sess.SessionDir)},
	}
	if sess.DestinationDir != "" {
		rows = append(rows, []string{"Destination", sess.DestinationDir})
	}
	if sess.TaskExitCode != nil {
		rows = append(rows, []string{"Task exit code", strconv.FormatInt(*sess.TaskExitCode, 10)})
	}
	if sess.ErrorMessage != "" {
		rows = append(rows, []string{"Error", sess.ErrorMessage})
	}
	if sess.NeedsAttention {
		rows = append(rows, []string{"Attention", firstNonEmpty(sess.AttentionReason)})
	}
	if sess.Notes != "" {
		rows = append(rows, []string{"Notes", sess.Notes})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if sess.SessionDir != "" {
		fmt.Fprintf(out, "Manifest: %s\n", sess.ManifestPath())
		fmt.Fprintf(out, "Task log: %s\n", sess.TaskLogPath())
	}
}
