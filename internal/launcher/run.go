package launcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagecoach/internal/gitstate"
	"stagecoach/internal/logging"
	"stagecoach/internal/manifest"
	"stagecoach/internal/notifications"
	"stagecoach/internal/resources"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
	"stagecoach/internal/stage"
)

type stageEntry struct {
	name      session.Stage
	handler   stage.Handler
	gate      stage.Gate
	enabled   bool
	skipCause string
}

// Run executes one full session: intake, the stage pipeline, settlement.
// The returned error is also recorded on Result.Err so callers can map it
// to an exit code without re-deriving the classification.
func (l *Launcher) Run(ctx context.Context) (*Result, error) {
	if err := l.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "launcher",
			"create working directories", err)
	}
	release, err := l.acquireRunLock()
	if err != nil {
		return nil, err
	}
	defer release()

	if reclaimed, err := l.store.ReclaimStaleSessions(ctx, time.Now().Add(-l.heartbeatTimeout)); err != nil {
		l.logger.Warn("stale session reclamation failed", logging.Error(err))
	} else if reclaimed > 0 {
		l.logger.Info("reclaimed stale sessions", logging.Int64("count", reclaimed))
	}

	sess := &session.Session{ID: uuid.NewString(), Stage: session.StageInit}
	result := &Result{Session: sess, FinalStage: session.StageFailed}

	// Intake resolves session identity, so the store row and manifest can
	// exist only after it completes.
	if err := runHandler(ctx, l.intake, sess); err != nil {
		result.Err = err
		result.FinalStage = terminalFor(err)
		l.logger.Error("intake failed", logging.Error(err))
		return result, err
	}
	stored, err := l.store.Create(ctx, sess)
	if err != nil {
		err = services.Wrap(services.ErrConfiguration, string(session.StageInit), "store",
			"persist session", err)
		result.Err = err
		return result, err
	}
	sess = stored
	result.Session = sess

	// Engine events also land in the session's own log so `logs` has a
	// per-run record after the fact.
	if handler, err := logging.NewSessionFileHandler(sess.SessionLogPath(), l.cfg.Logging.Level); err != nil {
		l.logger.Warn("session log unavailable", logging.Error(err))
	} else {
		l.logger = logging.WithSessionID(logging.TeeLogger(l.logger, handler), sess.ID)
	}

	writer := manifest.NewWriter(sess.ManifestPath(), sess.ID)
	if err := writer.Transition("", session.StageInit, "session created"); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}
	l.notify(ctx, notifications.EventSessionStarted, notifications.Payload{
		"subject": sess.Subject,
		"task":    sess.TaskName,
		"rig":     sess.Rig,
	})
	l.logger.Info("session started",
		logging.String("session_id", sess.ID),
		logging.String("subject", sess.Subject),
		logging.String("task", sess.TaskName),
		logging.String("session_dir", sess.SessionDir))

	entries := []stageEntry{
		{
			name:    session.StageValidateEnv,
			handler: l.validate,
			enabled: true,
		},
		{
			name:    session.StageRunTask,
			handler: l.task,
			gate:    l.resourceGate(writer, result, session.StageRunTask),
			enabled: true,
		},
		{
			name:      session.StageMapMetadata,
			handler:   l.mapper,
			enabled:   l.cfg.Stages.MapMetadata,
			skipCause: "metadata mapping disabled",
		},
		{
			name:      session.StageTransferData,
			handler:   l.transfer,
			gate:      l.resourceGate(writer, result, session.StageTransferData),
			enabled:   l.transferEnabled(),
			skipCause: "data transfer disabled",
		},
	}

	for _, entry := range entries {
		if !entry.enabled {
			l.logger.Warn("stage skipped", logging.String("stage", string(entry.name)),
				logging.String("cause", entry.skipCause))
			if err := writer.Note(entry.name, entry.skipCause, nil); err != nil {
				l.logger.Warn("manifest append failed", logging.Error(err))
			}
			continue
		}
		// The gate runs before the transition: a stage only counts as
		// entered once its gate passes, so a breach settles at the
		// prior stage.
		if entry.gate != nil {
			if err := entry.gate(ctx, sess); err != nil {
				return l.settle(ctx, sess, writer, result, err)
			}
		}
		if err := l.advance(ctx, sess, writer, entry.name); err != nil {
			return l.settle(ctx, sess, writer, result, err)
		}

		stageErr := l.executeWithHeartbeat(ctx, sess, entry.handler)
		l.collect(entry.name, writer, result)
		if stageErr != nil {
			return l.settle(ctx, sess, writer, result, stageErr)
		}
		if err := l.store.Update(ctx, sess); err != nil {
			return l.settle(ctx, sess, writer, result,
				services.Wrap(services.ErrConfiguration, string(entry.name), "store",
					"persist stage result", err))
		}
	}

	from := sess.Stage
	sess.SetDone()
	if err := writer.Transition(from, session.StageDone, "pipeline complete"); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}
	if err := l.store.Update(ctx, sess); err != nil {
		l.logger.Warn("final store update failed", logging.Error(err))
	}
	result.FinalStage = session.StageDone
	l.notifyCompleted(ctx, sess, result)
	l.logger.Info("session complete",
		logging.String("session_id", sess.ID),
		logging.String("subject", sess.Subject))
	return result, nil
}

// advance appends the transition and persists the new stage before the
// stage runs, so the manifest and store never trail the live pipeline.
func (l *Launcher) advance(ctx context.Context, sess *session.Session, writer *manifest.Writer, next session.Stage) error {
	if err := writer.Transition(sess.Stage, next, "advance"); err != nil {
		return services.Wrap(services.ErrConfiguration, string(next), "manifest",
			"append transition", err)
	}
	sess.Stage = next
	if err := l.store.Update(ctx, sess); err != nil {
		return services.Wrap(services.ErrConfiguration, string(next), "store",
			"persist transition", err)
	}
	l.logger.Info("stage started", logging.String("stage", string(next)))
	return nil
}

// executeWithHeartbeat stamps the store row while the handler works so
// concurrent status reads and post-crash reclamation see a live run.
// Cleanup always runs, including after an abort.
func (l *Launcher) executeWithHeartbeat(ctx context.Context, sess *session.Session, handler stage.Handler) error {
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.heartbeatLoop(hbCtx, sess.ID)
	}()

	err := handler.Prepare(ctx, sess)
	if err == nil {
		err = handler.Execute(ctx, sess)
	}
	cleanupCtx := context.WithoutCancel(ctx)
	if cleanupErr := handler.Cleanup(cleanupCtx, sess); cleanupErr != nil && err == nil {
		err = cleanupErr
	}

	cancel()
	wg.Wait()
	return err
}

// collect moves per-stage artifacts onto the result and wires the task
// outcome into the mapping stage.
func (l *Launcher) collect(name session.Stage, writer *manifest.Writer, result *Result) {
	switch name {
	case session.StageValidateEnv:
		if state := l.validate.State(); state != nil {
			result.GitState = state
			if err := writer.GitState(gitStateFields(state)); err != nil {
				l.logger.Warn("manifest append failed", logging.Error(err))
			}
		}
	case session.StageRunTask:
		started, finished := l.task.Window()
		if res := l.task.Result(); res != nil {
			result.TaskResult = res
			l.mapper.SetTaskOutcome(res.ExitCode, started, finished)
		}
		if breach := l.task.Breach(); breach != nil {
			result.Snapshots = append(result.Snapshots, breach)
			if err := writer.Snapshot(session.StageRunTask, breach.Fields()); err != nil {
				l.logger.Warn("manifest append failed", logging.Error(err))
			}
		}
	case session.StageMapMetadata:
		result.Record = l.mapper.Record()
	case session.StageTransferData:
		result.Ledger = l.transfer.Ledger()
	}
}

// resourceGate checks host thresholds before entering target and records the
// snapshot regardless of outcome. A breach settles the run as an abort with
// validation classification, before target is ever recorded as entered.
func (l *Launcher) resourceGate(writer *manifest.Writer, result *Result, target session.Stage) stage.Gate {
	return func(ctx context.Context, sess *session.Session) error {
		snapshot, err := l.monitor.Check(ctx)
		if err != nil {
			return err
		}
		result.Snapshots = append(result.Snapshots, snapshot)
		if err := writer.Snapshot(target, snapshot.Fields()); err != nil {
			l.logger.Warn("manifest append failed", logging.Error(err))
		}
		if !snapshot.Passed {
			return services.Wrap(services.ErrValidation, string(target), "resources",
				strings.Join(snapshot.Breaches, "; "), resources.ErrBreach)
		}
		return nil
	}
}

// settle routes a stage failure to its terminal stage, records it in the
// manifest and store, and notifies the operator.
func (l *Launcher) settle(ctx context.Context, sess *session.Session, writer *manifest.Writer, result *Result, stageErr error) (*Result, error) {
	at := sess.Stage
	message := stageErr.Error()
	if err := writer.Failure(at, message, ""); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}

	terminal := terminalFor(stageErr)
	switch terminal {
	case session.StageAborted:
		sess.SetAborted(message)
		l.notify(ctx, notifications.EventSessionAborted, notifications.Payload{
			"subject": sess.Subject,
			"stage":   string(at),
		})
	case session.StagePartial:
		sess.SetPartial(message)
		payload := notifications.Payload{"subject": sess.Subject}
		if l.transfer != nil {
			if summary := l.transfer.Summary(); summary != nil {
				payload["confirmed"] = strconv.Itoa(summary.Jobs.Confirmed)
				payload["total"] = strconv.Itoa(summary.Jobs.Total)
			}
		}
		l.notify(ctx, notifications.EventSessionPartial, payload)
	default:
		sess.SetFailed(message)
		l.notify(ctx, notifications.EventSessionFailed, notifications.Payload{
			"stage": string(at),
			"error": message,
		})
	}

	if err := writer.Transition(at, terminal, message); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}
	if err := l.store.Update(ctx, sess); err != nil {
		l.logger.Warn("terminal store update failed", logging.Error(err))
	}

	result.FinalStage = terminal
	result.Err = stageErr
	l.logger.Error("session settled",
		logging.String("stage", string(at)),
		logging.String("terminal", string(terminal)),
		logging.Error(stageErr))
	return result, stageErr
}

// terminalFor maps a stage error to its terminal stage. A resource breach is
// an abort even though it carries the validation marker for exit-code
// purposes; operator cancellation may surface as a bare context error from
// handlers that do not wrap it.
func terminalFor(err error) session.Stage {
	switch {
	case errors.Is(err, resources.ErrBreach):
		return session.StageAborted
	case errors.Is(err, services.ErrAborted),
		errors.Is(err, context.Canceled):
		return session.StageAborted
	case errors.Is(err, services.ErrTransfer):
		return session.StagePartial
	default:
		return session.StageFailed
	}
}

func (l *Launcher) acquireRunLock() (func(), error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "launcher",
			"acquire run lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "launcher",
			"another run is already active on this host", nil)
	}
	return func() {
		if err := l.lock.Unlock(); err != nil {
			l.logger.Warn("release run lock failed", logging.Error(err))
		}
	}, nil
}

func (l *Launcher) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := l.notifier.Publish(ctx, event, payload); err != nil {
		l.logger.Warn("notification failed",
			logging.String("event", string(event)), logging.Error(err))
	}
}

func (l *Launcher) notifyCompleted(ctx context.Context, sess *session.Session, result *Result) {
	payload := notifications.Payload{"subject": sess.Subject}
	if record := result.Record; record != nil {
		payload["files"] = strconv.Itoa(record.FileCount)
		payload["size"] = formatBytes(record.TotalBytes)
	}
	if res := result.TaskResult; res != nil {
		payload["duration"] = res.Duration.Round(time.Second).String()
	}
	l.notify(ctx, notifications.EventSessionCompleted, payload)
}

func runHandler(ctx context.Context, handler stage.Handler, sess *session.Session) error {
	if err := handler.Prepare(ctx, sess); err != nil {
		return err
	}
	if err := handler.Execute(ctx, sess); err != nil {
		return err
	}
	return handler.Cleanup(ctx, sess)
}

func gitStateFields(state *gitstate.State) map[string]any {
	fields := map[string]any{
		"commit": state.Commit,
		"branch": state.Branch,
		"dirty":  state.Dirty,
	}
	if state.Describe != "" {
		fields["describe"] = state.Describe
	}
	if state.Constraint != "" {
		fields["constraint"] = state.Constraint
		fields["constraint_met"] = state.ConstraintMet
	}
	if len(state.Violations) > 0 {
		fields["violations"] = strings.Join(state.Violations, "; ")
	}
	return fields
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	value := float64(bytes)
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	idx := -1
	for value >= unit && idx < len(suffixes)-1 {
		value /= unit
		idx++
	}
	return fmt.Sprintf("%.1f %s", value, suffixes[idx])
}
