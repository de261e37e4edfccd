package taskrun

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/logging"
	"stagecoach/internal/resources"
	"stagecoach/internal/services"
	"stagecoach/internal/services/taskexec"
	"stagecoach/internal/session"
	"stagecoach/internal/stage"
)

// Option configures the handler.
type Option func(*Handler)

// WithRunner injects a custom task runner (primarily for tests).
func WithRunner(runner *taskexec.Runner) Option {
	return func(h *Handler) {
		if runner != nil {
			h.runner = runner
		}
	}
}

// Handler supervises the experimental task for one session.
type Handler struct {
	stage.Base
	cfg     *config.Config
	runner  *taskexec.Runner
	monitor *resources.Monitor
	logger  *slog.Logger

	mu       sync.Mutex
	breach   *resources.Snapshot
	result   *taskexec.Result
	started  time.Time
	finished time.Time
}

// NewHandler constructs the RUN_TASK stage handler. A nil monitor disables
// background resource sampling.
func NewHandler(cfg *config.Config, monitor *resources.Monitor, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Handler{
		Base:    stage.Base{Name: string(session.StageRunTask)},
		cfg:     cfg,
		runner:  taskexec.New(cfg.Task, logger),
		monitor: monitor,
		logger:  logging.NewComponentLogger(logger, "taskrun"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Result returns the supervised process outcome, when the task ran.
func (h *Handler) Result() *taskexec.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Window returns the task's wall-clock start and finish times.
func (h *Handler) Window() (time.Time, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started, h.finished
}

// Breach returns the snapshot that aborted the run, when one did.
func (h *Handler) Breach() *resources.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.breach
}

// Prepare confirms the task binary resolves before anything launches.
func (h *Handler) Prepare(ctx context.Context, sess *session.Session) error {
	command := strings.TrimSpace(h.cfg.Task.Command)
	if command == "" {
		return services.Wrap(services.ErrConfiguration, h.Name, "task",
			"task.command is not configured", nil)
	}
	if _, err := exec.LookPath(command); err != nil {
		return services.Wrap(services.ErrValidation, h.Name, "task",
			"task command does not resolve to an executable", err)
	}
	return nil
}

// Execute runs the task under supervision. A resource breach observed by the
// background watcher cancels the process and settles the stage as a
// validation-class abort; operator cancellation propagates as ErrAborted.
func (h *Handler) Execute(ctx context.Context, sess *session.Session) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if h.monitor != nil {
		h.monitor.Watch(runCtx, &wg, func(snapshot *resources.Snapshot) {
			h.mu.Lock()
			h.breach = snapshot
			h.mu.Unlock()
			cancel()
		})
	}

	started := time.Now().UTC()
	result, runErr := h.runner.Run(runCtx, sess)
	cancel()
	wg.Wait()
	finished := time.Now().UTC()

	h.mu.Lock()
	h.result = result
	h.started = started
	h.finished = finished
	breach := h.breach
	h.mu.Unlock()

	if result != nil {
		code := int64(result.ExitCode)
		sess.TaskExitCode = &code
	}

	if runErr != nil {
		if breach != nil {
			return services.Wrap(services.ErrValidation, h.Name, "resources",
				strings.Join(breach.Breaches, "; "), resources.ErrBreach)
		}
		return runErr
	}
	return nil
}

// Cleanup preserves partial task output for diagnostics; nothing under the
// session directory is removed on abort.
func (h *Handler) Cleanup(ctx context.Context, sess *session.Session) error {
	h.logger.Info("partial task output preserved",
		logging.String("data_dir", sess.DataDir()),
		logging.String("task_log", sess.TaskLogPath()))
	return nil
}

// HealthCheck reports whether the task binary is runnable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	command := strings.TrimSpace(h.cfg.Task.Command)
	if command == "" {
		return stage.Unhealthy(h.Name, "task.command is not configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return stage.Unhealthy(h.Name, err.Error())
	}
	return stage.Healthy(h.Name)
}
