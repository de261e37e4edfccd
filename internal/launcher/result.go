package launcher

import (
	"stagecoach/internal/gitstate"
	"stagecoach/internal/ledger"
	"stagecoach/internal/metadata"
	"stagecoach/internal/resources"
	"stagecoach/internal/services/taskexec"
	"stagecoach/internal/session"
)

// Result is the settled outcome of a run. FinalStage is always terminal;
// Err carries the failure marker the CLI maps to an exit code.
type Result struct {
	Session    *session.Session
	FinalStage session.Stage
	GitState   *gitstate.State
	Snapshots  []*resources.Snapshot
	TaskResult *taskexec.Result
	Record     *metadata.Record
	Ledger     *ledger.Ledger
	Err        error
}
