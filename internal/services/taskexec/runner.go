package taskexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
)

const stderrTailLines = 5

// Command describes one supervised process invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

// Executor abstracts process execution for testability. onLine receives
// every output line tagged with its stream ("stdout" or "stderr") and may
// be called from multiple goroutines.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(stream, line string)) (int, error)
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Result captures one supervised task run.
type Result struct {
	ExitCode int
	Duration time.Duration
	LogPath  string
	TimedOut bool
}

// Runner supervises the configured experimental task process.
type Runner struct {
	cfg    config.Task
	exec   Executor
	logger *slog.Logger
}

// New constructs a task runner.
func New(cfg config.Task, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	runner := &Runner{
		cfg:    cfg,
		exec:   commandExecutor{},
		logger: logging.NewComponentLogger(logger, "task"),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Run launches the task for the session, streaming combined stdout/stderr
// into the session's task log. The process inherits the host environment
// plus STAGECOACH_SESSION_ID, STAGECOACH_SESSION_DIR, and STAGECOACH_SUBJECT;
// {session_dir}, {subject}, and {session_id} placeholders in configured args
// are expanded before launch.
func (r *Runner) Run(ctx context.Context, sess *session.Session) (*Result, error) {
	binary := strings.TrimSpace(r.cfg.Command)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "task",
			"task.command is not configured", nil)
	}

	logPath := sess.TaskLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTask, "", "task", "create log directory", err)
	}
	if err := os.MkdirAll(sess.DataDir(), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTask, "", "task", "create data directory", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, services.Wrap(services.ErrTask, "", "task", "open task log", err)
	}
	defer logFile.Close()

	workDir := r.cfg.WorkDir
	if workDir == "" {
		workDir = sess.SessionDir
	}
	cmd := Command{
		Binary: binary,
		Args:   substituteArgs(r.cfg.Args, sess),
		Dir:    workDir,
		Env:    sessionEnv(sess),
	}

	timeout := time.Duration(r.cfg.TimeoutSeconds) * time.Second
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.logger.Info("task starting",
		logging.String("command", binary),
		logging.String("workdir", workDir),
		logging.String("log_path", logPath))

	var mu sync.Mutex
	var stderrTail []string
	started := time.Now()
	code, runErr := r.exec.Run(runCtx, cmd, func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(logFile, line)
		if stream == "stderr" {
			stderrTail = append(stderrTail, line)
			if len(stderrTail) > stderrTailLines {
				stderrTail = stderrTail[1:]
			}
		}
	})

	result := &Result{
		ExitCode: code,
		Duration: time.Since(started),
		LogPath:  logPath,
	}

	switch {
	case runErr == nil:
		r.logger.Info("task completed",
			logging.Int("exit_code", code),
			logging.Duration("duration", result.Duration))
		return result, nil
	case ctx.Err() != nil:
		return result, services.Wrap(services.ErrAborted, "", "task",
			"task interrupted", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		return result, services.Wrap(services.ErrTask, "", "task",
			fmt.Sprintf("%s timed out after %s", binary, timeout), services.ErrTimeout)
	case code >= 0:
		detail := fmt.Sprintf("%s exited with status %d", binary, code)
		if len(stderrTail) > 0 {
			detail = fmt.Sprintf("%s: %s", detail, stderrTail[len(stderrTail)-1])
		}
		return result, services.Wrap(services.ErrTask, "", "task", detail, nil)
	default:
		return result, services.Wrap(services.ErrTask, "", "task",
			fmt.Sprintf("launch %s", binary), runErr)
	}
}

func substituteArgs(args []string, sess *session.Session) []string {
	if len(args) == 0 {
		return nil
	}
	replacer := strings.NewReplacer(
		"{session_dir}", sess.SessionDir,
		"{subject}", sess.Subject,
		"{session_id}", sess.ID,
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

func sessionEnv(sess *session.Session) []string {
	return []string{
		"STAGECOACH_SESSION_ID=" + sess.ID,
		"STAGECOACH_SESSION_DIR=" + sess.SessionDir,
		"STAGECOACH_SUBJECT=" + sess.Subject,
	}
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, cmd Command, onLine func(stream, line string)) (int, error) {
	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := c.Start(); err != nil {
		return -1, fmt.Errorf("start task: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, stream string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(stream, scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout, "stdout")
	go scan(stderr, "stderr")
	wg.Wait()

	waitErr := c.Wait()
	if scanErr != nil {
		return -1, fmt.Errorf("scan task output: %w", scanErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), waitErr
		}
		return -1, waitErr
	}
	return 0, nil
}
