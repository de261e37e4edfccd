package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/fileutil"
	"stagecoach/internal/gitstate"
	"stagecoach/internal/ledger"
	"stagecoach/internal/logging"
	"stagecoach/internal/picker"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
	"stagecoach/internal/stage"
)

// Handler implements the MAP_METADATA stage: it scans the task's output
// files, maps them with the run context into a schema Record, and writes the
// record into the session directory.
type Handler struct {
	stage.Base
	cfg    *config.Config
	mapper *Mapper
	pick   picker.Picker
	logger *slog.Logger

	taskStart  time.Time
	taskFinish time.Time
	taskExit   int

	record *Record
}

// NewHandler constructs the MAP_METADATA stage handler.
func NewHandler(cfg *config.Config, pick picker.Picker, logger *slog.Logger, opts ...Option) (*Handler, error) {
	mapper, err := NewMapper(cfg.Metadata, opts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		Base:   stage.Base{Name: string(session.StageMapMetadata)},
		cfg:    cfg,
		mapper: mapper,
		pick:   pick,
		logger: logging.NewComponentLogger(logger, "metadata"),
	}, nil
}

// SetTaskOutcome hands the supervised task's observable result to the
// mapping stage.
func (h *Handler) SetTaskOutcome(exitCode int, started, finished time.Time) {
	h.taskExit = exitCode
	h.taskStart = started
	h.taskFinish = finished
}

// Record returns the accepted record after Execute succeeds.
func (h *Handler) Record() *Record {
	return h.record
}

// Prepare verifies the task left a data directory to map.
func (h *Handler) Prepare(ctx context.Context, sess *session.Session) error {
	if _, err := os.Stat(sess.DataDir()); err != nil {
		return services.Wrap(services.ErrMapping, h.Name, "metadata",
			"session data directory is missing", err)
	}
	return nil
}

// Execute maps the run into a Record and persists it. When the mapping
// policy is "prompt", a rejected record may be remediated on disk and the
// mapping retried on operator confirmation; the default policy fails.
func (h *Handler) Execute(ctx context.Context, sess *session.Session) error {
	runCtx := RunContext{
		SessionID: sess.ID,
		Subject:   sess.Subject,
		Rig:       sess.Rig,
		Operators: sess.Operators,
		Notes:     sess.Notes,
		TaskName:  sess.TaskName,
		Git:       decodeGitState(sess.GitStateJSON),
	}

	for {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrAborted, h.Name, "metadata", "mapping interrupted", err)
		}
		files, err := ledger.ScanTree(sess.DataDir(), sess.DataDir(), "data",
			ledger.Mode(h.cfg.Transfer.Fingerprint))
		if err != nil {
			return services.Wrap(services.ErrMapping, h.Name, "metadata", "scan task output", err)
		}

		record, mapErr := h.mapper.Map(TaskOutput{
			ExitCode:   h.taskExit,
			StartedAt:  h.taskStart,
			FinishedAt: h.taskFinish,
			Files:      files,
		}, runCtx)
		if mapErr == nil {
			h.record = record
			return h.persist(sess, record)
		}
		if !errors.Is(mapErr, services.ErrMapping) || h.cfg.Metadata.OnError != "prompt" {
			return mapErr
		}

		retry, confirmErr := h.pick.Confirm(ctx, picker.KeyMappingRetry,
			fmt.Sprintf("Metadata mapping failed (%v). Remediate and retry?", mapErr))
		if confirmErr != nil || !retry {
			return mapErr
		}
		h.logger.Warn("retrying metadata mapping after remediation",
			logging.Error(mapErr))
	}
}

// HealthCheck reports whether a schema is resolvable for the configured name.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if _, err := schemaFor(h.cfg.Metadata.Schema); err != nil {
		return stage.Unhealthy(h.Name, err.Error())
	}
	return stage.Healthy(h.Name)
}

func (h *Handler) persist(sess *session.Session, record *Record) error {
	encoded, err := record.Encode()
	if err != nil {
		return services.Wrap(services.ErrMapping, h.Name, "metadata", "encode record", err)
	}
	if err := fileutil.WriteFileAtomic(sess.MetadataPath(), encoded, 0o644); err != nil {
		return services.Wrap(services.ErrMapping, h.Name, "metadata", "write record", err)
	}
	if compact, err := json.Marshal(record); err == nil {
		sess.MetadataJSON = string(compact)
	}
	h.logger.Info("metadata record written",
		logging.String("schema", record.Schema),
		logging.Int("files", record.FileCount),
		logging.String("path", sess.MetadataPath()))
	return nil
}

func decodeGitState(raw string) *gitstate.State {
	if raw == "" {
		return nil
	}
	var state gitstate.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil
	}
	return &state
}
