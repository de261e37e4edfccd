package egress

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"stagecoach/internal/config"
	"stagecoach/internal/ledger"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
	"stagecoach/internal/services/watchdog"
	"stagecoach/internal/session"
	"stagecoach/internal/stage"
)

// Handler implements the TRANSFER_DATA stage. Prepare reconciles the
// persisted ledger with a fresh scan of the session's artifacts; Execute
// drains the unconfirmed jobs through the transfer runner.
type Handler struct {
	stage.Base
	cfg    *config.Config
	runner *Runner
	logger *slog.Logger

	store   *ledger.Store
	plan    *ledger.Ledger
	summary *Summary
}

// NewHandler constructs the TRANSFER_DATA stage handler. Runner options
// (such as WithCopyFunc) pass through to the underlying transfer runner.
func NewHandler(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Handler, error) {
	backend, err := watchdog.New(cfg.Transfer, logger)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		Base:   stage.Base{Name: string(session.StageTransferData)},
		cfg:    cfg,
		runner: New(cfg.Transfer, backend, logger, opts...),
		logger: logging.NewComponentLogger(logger, "egress"),
	}, nil
}

// Ledger returns the reconciled plan built by Prepare. Job states reflect
// the last persisted rewrite, not live progress.
func (h *Handler) Ledger() *ledger.Ledger {
	return h.plan
}

// Summary returns the outcome of the last Execute, nil before it runs.
func (h *Handler) Summary() *Summary {
	return h.summary
}

// Prepare scans the session's data tree (plus the metadata record and,
// when configured, the log directory), merges the result with any ledger a
// previous attempt left behind, and persists the reconciled plan. Jobs
// confirmed earlier whose fingerprints still match stay confirmed.
func (h *Handler) Prepare(ctx context.Context, sess *session.Session) error {
	if sess.DestinationDir == "" {
		return services.Wrap(services.ErrConfiguration, h.Name, "egress",
			"session has no transfer destination", nil)
	}
	mode := ledger.Mode(h.cfg.Transfer.Fingerprint)

	specs, err := ledger.ScanTree(sess.DataDir(),
		filepath.Join(sess.DestinationDir, "data"), "data", mode)
	if err != nil {
		return services.Wrap(services.ErrTransfer, h.Name, "egress", "scan data tree", err)
	}
	if _, statErr := os.Stat(sess.MetadataPath()); statErr == nil {
		name := filepath.Base(sess.MetadataPath())
		spec, specErr := ledger.SpecForFile(sess.MetadataPath(),
			filepath.Join(sess.DestinationDir, name), name, mode)
		if specErr != nil {
			return services.Wrap(services.ErrTransfer, h.Name, "egress",
				"fingerprint metadata record", specErr)
		}
		specs = append(specs, spec)
	}
	if h.cfg.Transfer.IncludeLogs {
		logSpecs, scanErr := ledger.ScanTree(sess.LogsDir(),
			filepath.Join(sess.DestinationDir, "logs"), "logs", mode)
		if scanErr != nil {
			return services.Wrap(services.ErrTransfer, h.Name, "egress", "scan log tree", scanErr)
		}
		specs = append(specs, logSpecs...)
	}

	h.store = ledger.NewStore(sess.LedgerPath())
	previous, err := h.store.Load()
	if err != nil {
		return services.Wrap(services.ErrTransfer, h.Name, "egress", "load previous ledger", err)
	}
	plan := ledger.Merge(previous, sess.ID, sess.DestinationDir, mode, specs)
	plan.Subject = sess.Subject
	if err := h.store.Save(plan); err != nil {
		return services.Wrap(services.ErrTransfer, h.Name, "egress", "persist ledger", err)
	}
	h.plan = plan

	counts := plan.Summarize()
	h.logger.Info("transfer plan reconciled",
		logging.Int("jobs", counts.Total),
		logging.Int("already_confirmed", counts.Confirmed),
		logging.String("destination", sess.DestinationDir))
	return nil
}

// Execute drains the plan through the worker pool and records the outcome
// on the session. The error already carries the transfer or abort marker.
func (h *Handler) Execute(ctx context.Context, sess *session.Session) error {
	summary, err := h.runner.Run(ctx, h.store)
	if summary != nil {
		h.summary = summary
		if compact, marshalErr := json.Marshal(summary.Jobs); marshalErr == nil {
			sess.TransferJSON = string(compact)
		}
	}
	if plan, loadErr := h.store.Load(); loadErr == nil && plan != nil {
		h.plan = plan
	}
	return err
}

// HealthCheck verifies the destination root exists and is a directory.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	info, err := os.Stat(h.cfg.Transfer.Destination)
	if err != nil {
		return stage.Unhealthy(h.Name, err.Error())
	}
	if !info.IsDir() {
		return stage.Unhealthy(h.Name, "destination is not a directory")
	}
	return stage.Healthy(h.Name)
}
