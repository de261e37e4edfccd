package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stagecoach/internal/config"
	"stagecoach/internal/gitstate"
	"stagecoach/internal/logging"
	"stagecoach/internal/picker"
	"stagecoach/internal/preflight"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
	"stagecoach/internal/stage"
)

// Option configures the handler.
type Option func(*Handler)

// WithInspector injects a custom repository inspector (primarily for tests).
func WithInspector(inspector *gitstate.Inspector) Option {
	return func(h *Handler) {
		if inspector != nil {
			h.inspector = inspector
		}
	}
}

// Handler gates the pipeline on the execution environment: preflight checks
// in Prepare, repository provenance in Execute.
type Handler struct {
	stage.Base
	cfg       *config.Config
	pick      picker.Picker
	inspector *gitstate.Inspector
	logger    *slog.Logger

	state *gitstate.State
}

// NewHandler constructs the VALIDATE_ENV stage handler.
func NewHandler(cfg *config.Config, pick picker.Picker, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Handler{
		Base:   stage.Base{Name: string(session.StageValidateEnv)},
		cfg:    cfg,
		pick:   pick,
		logger: logging.NewComponentLogger(logger, "validation"),
	}
	if cfg.Git.RepoDir != "" {
		h.inspector = gitstate.NewInspector(cfg.Git.RepoDir)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the repository provenance captured by Execute, when any.
func (h *Handler) State() *gitstate.State {
	return h.state
}

// Prepare runs the preflight checks and fails on the first broken
// environment precondition.
func (h *Handler) Prepare(ctx context.Context, sess *session.Session) error {
	results := preflight.RunAll(ctx, h.cfg)
	failed := preflight.Failed(results)
	if len(failed) == 0 {
		h.logger.Debug("preflight checks passed", logging.Int("checks", len(results)))
		return nil
	}
	details := make([]string, 0, len(failed))
	for _, result := range failed {
		details = append(details, fmt.Sprintf("%s: %s", result.Name, result.Detail))
	}
	return services.Wrap(services.ErrValidation, h.Name, "preflight",
		strings.Join(details, "; "), nil)
}

// Execute captures the repository state under the configured policy and
// attaches it to the session. A strict-policy dirty tree may be remediated by
// a hard reset when the configuration allows prompting and the operator
// confirms; validation then re-runs once.
func (h *Handler) Execute(ctx context.Context, sess *session.Session) error {
	if h.inspector == nil {
		h.logger.Warn("no task repository configured, skipping git validation",
			logging.Alert("provenance incomplete"))
		return nil
	}

	policy, err := gitstate.ParsePolicy(h.cfg.Git.Policy)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, h.Name, "git", err.Error(), nil)
	}

	state, err := h.inspector.Validate(ctx, policy, h.cfg.Git.VersionConstraint)
	if err != nil && errors.Is(err, gitstate.ErrDirtyTree) && h.cfg.Git.AllowResetPrompt {
		reset, confirmErr := h.pick.Confirm(ctx, picker.KeyGitReset,
			fmt.Sprintf("Repository %s has uncommitted changes. Discard them and continue?", h.cfg.Git.RepoDir))
		if confirmErr == nil && reset {
			h.logger.Warn("resetting task repository",
				logging.String("repo", h.cfg.Git.RepoDir),
				logging.Alert("uncommitted changes discarded"))
			if resetErr := h.inspector.Reset(ctx); resetErr != nil {
				return resetErr
			}
			state, err = h.inspector.Validate(ctx, policy, h.cfg.Git.VersionConstraint)
		}
	}
	if state != nil {
		h.state = state
		if encoded, marshalErr := json.Marshal(state); marshalErr == nil {
			sess.GitStateJSON = string(encoded)
		}
		if len(state.Violations) > 0 {
			h.logger.Warn("repository violations recorded",
				logging.String("violations", strings.Join(state.Violations, "; ")),
				logging.Bool("dirty", state.Dirty))
		}
	}
	if err != nil {
		return err
	}

	h.logger.Info("repository validated",
		logging.String("commit", h.state.ShortCommit()),
		logging.String("branch", h.state.Branch),
		logging.Bool("dirty", h.state.Dirty))
	return nil
}

// HealthCheck reports whether the validation stage can run at all.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if _, err := gitstate.ParsePolicy(h.cfg.Git.Policy); err != nil {
		return stage.Unhealthy(h.Name, err.Error())
	}
	return stage.Healthy(h.Name)
}
