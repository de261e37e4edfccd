package launcher

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"stagecoach/internal/config"
	"stagecoach/internal/egress"
	"stagecoach/internal/gitstate"
	"stagecoach/internal/intake"
	"stagecoach/internal/logging"
	"stagecoach/internal/metadata"
	"stagecoach/internal/notifications"
	"stagecoach/internal/picker"
	"stagecoach/internal/resources"
	"stagecoach/internal/services/taskexec"
	"stagecoach/internal/session"
	"stagecoach/internal/taskrun"
	"stagecoach/internal/validation"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultHeartbeatTimeout  = 2 * time.Minute
)

// Option customizes launcher construction, primarily for tests.
type Option func(*Launcher)

// WithPicker overrides the operator decision capability.
func WithPicker(pick picker.Picker) Option {
	return func(l *Launcher) { l.pick = pick }
}

// WithNotifier overrides the push notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(l *Launcher) { l.notifier = notifier }
}

// WithMonitor overrides the resource monitor used for gating and sampling.
func WithMonitor(monitor *resources.Monitor) Option {
	return func(l *Launcher) { l.monitor = monitor }
}

// WithGitInspector overrides the repository inspector used by validation.
func WithGitInspector(inspector *gitstate.Inspector) Option {
	return func(l *Launcher) { l.inspector = inspector }
}

// WithTaskRunner overrides the supervised task runner.
func WithTaskRunner(runner *taskexec.Runner) Option {
	return func(l *Launcher) { l.taskRunner = runner }
}

// WithCopyFunc overrides the transfer copier.
func WithCopyFunc(fn egress.CopyFunc) Option {
	return func(l *Launcher) { l.copyFn = fn }
}

// Launcher owns one run of the pipeline. It is not safe for concurrent use;
// the run lock additionally keeps concurrent processes off the same host.
type Launcher struct {
	cfg      *config.Config
	store    *session.Store
	logger   *slog.Logger
	base     *slog.Logger
	pick     picker.Picker
	notifier notifications.Service
	monitor  *resources.Monitor
	lock     *flock.Flock

	inspector  *gitstate.Inspector
	taskRunner *taskexec.Runner
	copyFn     egress.CopyFunc

	intake   *intake.Handler
	validate *validation.Handler
	task     *taskrun.Handler
	mapper   *metadata.Handler
	transfer *egress.Handler

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// New wires the stage handlers onto their shared capabilities. The transfer
// handler is built only when the stage is enabled and a destination is
// configured, because backend construction validates its own settings.
func New(cfg *config.Config, store *session.Store, logger *slog.Logger, opts ...Option) (*Launcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Launcher{
		cfg:               cfg,
		store:             store,
		logger:            logging.NewComponentLogger(logger, "launcher"),
		base:              logger,
		lock:              flock.New(cfg.RunLockPath()),
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
	}
	if cfg.Session.HeartbeatInterval > 0 {
		l.heartbeatInterval = time.Duration(cfg.Session.HeartbeatInterval) * time.Second
	}
	if cfg.Session.HeartbeatTimeout > 0 {
		l.heartbeatTimeout = time.Duration(cfg.Session.HeartbeatTimeout) * time.Second
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.pick == nil {
		pick, err := picker.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		l.pick = pick
	}
	if l.notifier == nil {
		l.notifier = notifications.NewService(cfg)
	}
	if l.monitor == nil {
		l.monitor = resources.NewMonitor(cfg, logger)
	}

	l.intake = intake.NewHandler(cfg, l.pick, logger)

	var validationOpts []validation.Option
	if l.inspector != nil {
		validationOpts = append(validationOpts, validation.WithInspector(l.inspector))
	}
	l.validate = validation.NewHandler(cfg, l.pick, logger, validationOpts...)

	var taskOpts []taskrun.Option
	if l.taskRunner != nil {
		taskOpts = append(taskOpts, taskrun.WithRunner(l.taskRunner))
	}
	l.task = taskrun.NewHandler(cfg, l.monitor, logger, taskOpts...)

	mapper, err := metadata.NewHandler(cfg, l.pick, logger)
	if err != nil {
		return nil, err
	}
	l.mapper = mapper

	if l.transferEnabled() {
		var egressOpts []egress.Option
		if l.copyFn != nil {
			egressOpts = append(egressOpts, egress.WithCopyFunc(l.copyFn))
		}
		transfer, err := egress.NewHandler(cfg, logger, egressOpts...)
		if err != nil {
			return nil, err
		}
		l.transfer = transfer
	}
	return l, nil
}

func (l *Launcher) transferEnabled() bool {
	return l.cfg.Stages.TransferData && strings.TrimSpace(l.cfg.Transfer.Destination) != ""
}
