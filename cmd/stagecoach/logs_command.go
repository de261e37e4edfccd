package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stagecoach/internal/config"
	"stagecoach/internal/logs"
	"stagecoach/internal/session"
)

func newLogsCommand(cctx *commandContext) *cobra.Command {
	var limit int
	var follow bool
	var taskLog bool

	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Print a session's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sess, err := lookupSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				path := sess.SessionLogPath()
				if taskLog {
					path = sess.TaskLogPath()
				}

				offset := int64(-1)
				for {
					result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{
						Offset: offset,
						Limit:  limit,
						Follow: follow,
						Wait:   time.Second,
					})
					if err != nil {
						return err
					}
					for _, line := range result.Lines {
						fmt.Fprintln(cmd.OutOrStdout(), line)
					}
					if !follow {
						return nil
					}
					offset = result.Offset
					limit = 0
				}
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "lines", "n", 100, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they arrive")
	cmd.Flags().BoolVar(&taskLog, "task", false, "Print the captured task output instead of the session log")
	return cmd
}
