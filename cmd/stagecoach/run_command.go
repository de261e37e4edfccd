package main

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stagecoach/internal/config"
	"stagecoach/internal/launcher"
	"stagecoach/internal/logging"
	"stagecoach/internal/session"
)

func newRunCommand(cctx *commandContext) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one experiment session through the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(func(cfg *config.Config, store *session.Store) error {
				l, err := buildLauncher(cfg, store, quiet)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				result, runErr := l.Run(ctx)
				if result != nil {
					printRunSummary(cmd.OutOrStdout(), result)
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Only show warnings and errors on the console")
	return cmd
}

func newResumeCommand(cctx *commandContext) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Finish the data transfer of a partial session",
		Long: "Resume re-runs the transfer stage from the persisted ledger. " +
			"Files confirmed earlier are skipped; changed files are copied again. " +
			"Without an argument the most recent partial session is resumed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withStore(func(cfg *config.Config, store *session.Store) error {
				l, err := buildLauncher(cfg, store, quiet)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				var id string
				if len(args) > 0 {
					id = args[0]
				}
				result, resumeErr := l.Resume(ctx, id)
				if result != nil {
					printRunSummary(cmd.OutOrStdout(), result)
				}
				return resumeErr
			})
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Only show warnings and errors on the console")
	return cmd
}

func buildLauncher(cfg *config.Config, store *session.Store, quiet bool) (*launcher.Launcher, error) {
	logger, err := runLogger(cfg, quiet)
	if err != nil {
		return nil, err
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{
			Dir:     cfg.Paths.LogDir,
			Pattern: "*.log",
			Exclude: []string{logging.PrimaryLogPath(cfg)},
		})
	return launcher.New(cfg, store, logger)
}

// runLogger builds the pipeline logger. The quiet flag trims the console to
// warnings while the session file tee keeps full detail.
func runLogger(cfg *config.Config, quiet bool) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if quiet {
		logger = logging.WithLevelOverride(logger, slog.LevelWarn)
	}
	return logger, nil
}

func printRunSummary(out io.Writer, result *launcher.Result) {
	sess := result.Session
	fmt.Fprintf(out, "Session %s settled %s\n", sess.ShortID(), stageLabel(result.FinalStage))
	if sess.Subject != "" {
		fmt.Fprintf(out, "  Subject:   %s (%s)\n", sess.Subject, sess.TaskName)
	}
	if sess.SessionDir != "" {
		fmt.Fprintf(out, "  Directory: %s\n", sess.SessionDir)
	}
	if state := result.GitState; state != nil {
		fmt.Fprintf(out, "  Code:      %s on %s (dirty: %s)\n",
			state.ShortCommit(), state.Branch, yesNo(state.Dirty))
	}
	if record := result.Record; record != nil {
		fmt.Fprintf(out, "  Metadata:  %d files, %d bytes\n", record.FileCount, record.TotalBytes)
	}
	if led := result.Ledger; led != nil {
		summary := led.Summarize()
		fmt.Fprintf(out, "  Transfer:  %d/%d files confirmed to %s\n",
			summary.Confirmed, summary.Total, led.DestinationRoot)
	}
	if result.Err != nil {
		fmt.Fprintf(out, "  Error:     %v\n", result.Err)
	}
}
