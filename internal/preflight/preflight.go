package preflight

import (
	"context"

	"stagecoach/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding stage or backend is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.Git.RepoDir != "" {
		results = append(results, CheckDirectoryAccess("Task repository", cfg.Git.RepoDir))
	}

	results = append(results, CheckTaskCommand(cfg.Task.Command))

	if cfg.Stages.TransferData {
		results = append(results, CheckDirectoryAccess("Transfer destination", cfg.Transfer.Destination))
		switch cfg.Transfer.Backend {
		case "http":
			results = append(results, CheckNotifyEndpoint(ctx, "Watchdog endpoint", cfg.Transfer.HTTP.URL))
		case "watchfile":
			results = append(results, CheckDirectoryAccess("Watchfile flag directory", cfg.Transfer.Watchfile.FlagDir))
		}
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
