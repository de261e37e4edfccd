package launcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stagecoach/internal/logging"
	"stagecoach/internal/manifest"
	"stagecoach/internal/notifications"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
)

// Resume re-runs the transfer stage of a partial session from its persisted
// ledger. Confirmed copies with unchanged fingerprints are skipped; the run
// settles done when everything confirms, or partial again when it does not.
// An empty id resumes the most recent partial session.
func (l *Launcher) Resume(ctx context.Context, id string) (*Result, error) {
	if l.transfer == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(session.StageTransferData),
			"launcher", "data transfer is not configured", nil)
	}
	if err := l.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "launcher",
			"create working directories", err)
	}
	release, err := l.acquireRunLock()
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := l.resumeTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &Result{Session: sess, FinalStage: sess.Stage}

	if handler, err := logging.NewSessionFileHandler(sess.SessionLogPath(), l.cfg.Logging.Level); err != nil {
		l.logger.Warn("session log unavailable", logging.Error(err))
	} else {
		l.logger = logging.WithSessionID(logging.TeeLogger(l.logger, handler), sess.ID)
	}

	writer := manifest.NewWriter(sess.ManifestPath(), sess.ID)
	if err := writer.Note(session.StageTransferData, "transfer resumed", nil); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}
	l.logger.Info("resuming transfer",
		logging.String("session_id", sess.ID),
		logging.String("subject", sess.Subject))

	// The gate runs before the store row leaves partial so a breach never
	// records the transfer as re-entered.
	gate := l.resourceGate(writer, result, session.StageTransferData)
	if err := gate(ctx, sess); err != nil {
		return l.settleResume(ctx, sess, writer, result, err)
	}

	sess.Stage = session.StageTransferData
	sess.NeedsAttention = false
	sess.AttentionReason = ""
	if err := l.store.Update(ctx, sess); err != nil {
		return result, services.Wrap(services.ErrConfiguration,
			string(session.StageTransferData), "store", "persist resume", err)
	}

	stageErr := l.executeWithHeartbeat(ctx, sess, l.transfer)
	result.Ledger = l.transfer.Ledger()
	if stageErr != nil {
		return l.settleResume(ctx, sess, writer, result, stageErr)
	}

	sess.SetDone()
	if err := writer.Note(session.StageTransferData, "transfer complete after resume", nil); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}
	if err := l.store.Update(ctx, sess); err != nil {
		l.logger.Warn("final store update failed", logging.Error(err))
	}
	result.FinalStage = session.StageDone
	payload := notifications.Payload{"subject": sess.Subject}
	if summary := l.transfer.Summary(); summary != nil {
		payload["files"] = strconv.Itoa(summary.Jobs.Confirmed)
		payload["size"] = formatBytes(summary.Jobs.ConfirmedBytes)
		payload["duration"] = summary.Duration.Round(time.Second).String()
	}
	l.notify(ctx, notifications.EventSessionCompleted, payload)
	return result, nil
}

// settleResume mirrors settle but records notes instead of transitions: the
// manifest already carries a terminal transition from the original run.
func (l *Launcher) settleResume(ctx context.Context, sess *session.Session, writer *manifest.Writer, result *Result, stageErr error) (*Result, error) {
	message := stageErr.Error()
	terminal := terminalFor(stageErr)
	switch terminal {
	case session.StageAborted:
		sess.SetAborted(message)
		l.notify(ctx, notifications.EventSessionAborted, notifications.Payload{
			"subject": sess.Subject,
			"stage":   string(session.StageTransferData),
		})
	case session.StagePartial:
		sess.SetPartial(message)
		payload := notifications.Payload{"subject": sess.Subject}
		if summary := l.transfer.Summary(); summary != nil {
			payload["confirmed"] = strconv.Itoa(summary.Jobs.Confirmed)
			payload["total"] = strconv.Itoa(summary.Jobs.Total)
		}
		l.notify(ctx, notifications.EventSessionPartial, payload)
	default:
		sess.SetFailed(message)
		l.notify(ctx, notifications.EventSessionFailed, notifications.Payload{
			"stage": string(session.StageTransferData),
			"error": message,
		})
	}
	if err := writer.Note(session.StageTransferData,
		fmt.Sprintf("resume settled %s: %s", terminal, message), nil); err != nil {
		l.logger.Warn("manifest append failed", logging.Error(err))
	}
	if err := l.store.Update(ctx, sess); err != nil {
		l.logger.Warn("terminal store update failed", logging.Error(err))
	}
	result.FinalStage = terminal
	result.Err = stageErr
	return result, stageErr
}

func (l *Launcher) resumeTarget(ctx context.Context, id string) (*session.Session, error) {
	if strings.TrimSpace(id) == "" {
		sess, err := l.store.LatestByStages(ctx, session.StagePartial)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "", "store",
				"look up latest partial session", err)
		}
		if sess == nil {
			return nil, services.Wrap(services.ErrNotFound, "", "launcher",
				"no partial session to resume", nil)
		}
		return sess, nil
	}
	sess, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "store",
			"look up session", err)
	}
	if sess == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "launcher",
			fmt.Sprintf("session %s not found", id), nil)
	}
	if sess.Stage != session.StagePartial {
		return nil, services.Wrap(services.ErrValidation, "", "launcher",
			fmt.Sprintf("session %s is %s, only partial sessions resume", sess.ShortID(), sess.Stage), nil)
	}
	return sess, nil
}
