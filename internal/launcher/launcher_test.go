package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"stagecoach/internal/config"
	"stagecoach/internal/ledger"
	"stagecoach/internal/manifest"
	"stagecoach/internal/resources"
	"stagecoach/internal/services"
	"stagecoach/internal/services/taskexec"
	"stagecoach/internal/session"
	"stagecoach/internal/testsupport"
)

// writerExecutor simulates a task that produces one data file under the
// session directory it receives through the environment.
type writerExecutor struct {
	exitCode int
	err      error
}

func (w *writerExecutor) Run(ctx context.Context, cmd taskexec.Command, onLine func(stream, line string)) (int, error) {
	onLine("stdout", "trial 1 ok")
	for _, kv := range cmd.Env {
		if dir, ok := strings.CutPrefix(kv, "STAGECOACH_SESSION_DIR="); ok {
			if err := os.WriteFile(filepath.Join(dir, "data", "trials.csv"),
				[]byte("trial,outcome\n1,hit\n"), 0o644); err != nil {
				return -1, err
			}
		}
	}
	return w.exitCode, w.err
}

// steadyProbe reports a host with ample headroom so pipeline tests never
// depend on the real machine's free space.
type steadyProbe struct{}

func (steadyProbe) DiskFree(string) (uint64, uint64, error) { return 1 << 40, 1 << 40, nil }
func (steadyProbe) MemoryAvailable() (uint64, error)        { return 64 << 30, nil }
func (steadyProbe) LoadAverage() (float64, error)           { return 0.1, nil }

type lowMemoryProbe struct{}

func (lowMemoryProbe) DiskFree(string) (uint64, uint64, error) { return 1 << 40, 1 << 40, nil }
func (lowMemoryProbe) MemoryAvailable() (uint64, error)        { return 1 << 20, nil }
func (lowMemoryProbe) LoadAverage() (float64, error)           { return 0.1, nil }

func launchConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Session.Subject = "m042"
	cfg.Session.Operators = []string{"Ada"}
	cfg.Session.HeartbeatInterval = 1
	return cfg
}

func newLauncher(t *testing.T, cfg *config.Config, opts ...Option) (*Launcher, *session.Store) {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	store, err := session.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	runner := taskexec.New(cfg.Task, nil, taskexec.WithExecutor(&writerExecutor{}))
	opts = append([]Option{
		WithTaskRunner(runner),
		WithMonitor(resources.NewMonitorWithProbe(cfg, nil, steadyProbe{})),
	}, opts...)
	l, err := New(cfg, store, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, store
}

func TestRunCompletesPipeline(t *testing.T) {
	cfg := launchConfig(t)
	l, store := newLauncher(t, cfg)

	result, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalStage != session.StageDone {
		t.Fatalf("final stage = %s, want done", result.FinalStage)
	}
	if services.ExitCode(result.Err) != services.ExitOK {
		t.Fatalf("exit code = %d, want 0", services.ExitCode(result.Err))
	}

	sess := result.Session
	stored, err := store.GetByID(context.Background(), sess.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored session lookup: %v", err)
	}
	if stored.Stage != session.StageDone {
		t.Fatalf("stored stage = %s, want done", stored.Stage)
	}

	events, err := manifest.Read(sess.ManifestPath())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := manifest.ValidateHistory(events); err != nil {
		t.Fatalf("manifest history: %v", err)
	}

	if result.Record == nil || result.Record.FileCount != 1 {
		t.Fatalf("unexpected metadata record: %+v", result.Record)
	}
	if result.Ledger == nil || !result.Ledger.Complete() {
		t.Fatalf("expected a complete ledger, got %+v", result.Ledger)
	}
	mirrored := filepath.Join(sess.DestinationDir, "data", "trials.csv")
	if _, err := os.Stat(mirrored); err != nil {
		t.Fatalf("data not mirrored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sess.DestinationDir, "metadata.json")); err != nil {
		t.Fatalf("metadata record not mirrored: %v", err)
	}
}

func TestRunTaskFailureSettlesFailed(t *testing.T) {
	cfg := launchConfig(t)
	runner := taskexec.New(cfg.Task, nil, taskexec.WithExecutor(
		&writerExecutor{exitCode: 3, err: errors.New("exit status 3")}))
	l, store := newLauncher(t, cfg, WithTaskRunner(runner))

	result, err := l.Run(context.Background())
	if !errors.Is(err, services.ErrTask) {
		t.Fatalf("expected task error, got %v", err)
	}
	if result.FinalStage != session.StageFailed {
		t.Fatalf("final stage = %s, want failed", result.FinalStage)
	}
	if services.ExitCode(err) != services.ExitTask {
		t.Fatalf("exit code = %d, want 2", services.ExitCode(err))
	}

	stored, getErr := store.GetByID(context.Background(), result.Session.ID)
	if getErr != nil || stored == nil {
		t.Fatalf("stored session lookup: %v", getErr)
	}
	if stored.Stage != session.StageFailed || stored.ErrorMessage == "" {
		t.Fatalf("stored session not failed: %+v", stored)
	}
	if stored.TaskExitCode == nil || *stored.TaskExitCode != 3 {
		t.Fatalf("task exit code not recorded: %v", stored.TaskExitCode)
	}

	events, readErr := manifest.Read(result.Session.ManifestPath())
	if readErr != nil {
		t.Fatalf("read manifest: %v", readErr)
	}
	var sawFailure bool
	for _, event := range events {
		if event.Type == manifest.EventFailure && event.Stage == string(session.StageRunTask) {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected a failure event for run_task")
	}
}

func TestRunResourceBreachAborts(t *testing.T) {
	cfg := launchConfig(t)
	cfg.Resources.Enforce = true
	cfg.Resources.MinAvailableMemoryGiB = 4
	monitor := resources.NewMonitorWithProbe(cfg, nil, lowMemoryProbe{})
	l, _ := newLauncher(t, cfg, WithMonitor(monitor))

	result, err := l.Run(context.Background())
	if !errors.Is(err, resources.ErrBreach) {
		t.Fatalf("expected breach error, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("breach must classify as validation, got %v", err)
	}
	if result.FinalStage != session.StageAborted {
		t.Fatalf("final stage = %s, want aborted", result.FinalStage)
	}
	if services.ExitCode(err) != services.ExitValidation {
		t.Fatalf("exit code = %d, want 1", services.ExitCode(err))
	}
	if len(result.Snapshots) == 0 {
		t.Fatal("expected the gate snapshot on the result")
	}

	// The breach fires before the transition, so the gated stage must
	// never appear as entered in the manifest.
	events, err := manifest.Read(result.Session.ManifestPath())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	for _, event := range events {
		if event.Type == manifest.EventTransition && event.To == string(session.StageRunTask) {
			t.Fatalf("gated stage recorded as entered: %+v", event)
		}
	}
}

func TestRunSkipsDisabledStages(t *testing.T) {
	cfg := launchConfig(t)
	cfg.Stages.MapMetadata = false
	cfg.Stages.TransferData = false
	l, _ := newLauncher(t, cfg)

	result, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalStage != session.StageDone {
		t.Fatalf("final stage = %s, want done", result.FinalStage)
	}
	if result.Record != nil || result.Ledger != nil {
		t.Fatalf("skipped stages produced artifacts: %+v", result)
	}

	events, err := manifest.Read(result.Session.ManifestPath())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	skips := 0
	for _, event := range events {
		if event.Type == manifest.EventNote && strings.Contains(event.Cause, "disabled") {
			skips++
		}
	}
	if skips != 2 {
		t.Fatalf("expected 2 skip notes, got %d", skips)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	cfg := launchConfig(t)
	l, _ := newLauncher(t, cfg)

	other := flock.New(cfg.RunLockPath())
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}
	defer other.Unlock()

	if _, runErr := l.Run(context.Background()); !errors.Is(runErr, services.ErrValidation) {
		t.Fatalf("expected validation error for concurrent run, got %v", runErr)
	}
}

func TestResumeFinishesPartialTransfer(t *testing.T) {
	cfg := launchConfig(t)
	failing, store := newLauncher(t, cfg, WithCopyFunc(
		func(ctx context.Context, job *ledger.Job, mode ledger.Mode) error {
			return os.ErrPermission
		}))

	result, err := failing.Run(context.Background())
	if !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if result.FinalStage != session.StagePartial {
		t.Fatalf("final stage = %s, want partial", result.FinalStage)
	}
	if services.ExitCode(err) != services.ExitPartial {
		t.Fatalf("exit code = %d, want 3", services.ExitCode(err))
	}

	runner := taskexec.New(cfg.Task, nil, taskexec.WithExecutor(&writerExecutor{}))
	working, err := New(cfg, store, nil, WithTaskRunner(runner),
		WithMonitor(resources.NewMonitorWithProbe(cfg, nil, steadyProbe{})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resumed, err := working.Resume(context.Background(), result.Session.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.FinalStage != session.StageDone {
		t.Fatalf("resumed final stage = %s, want done", resumed.FinalStage)
	}
	if resumed.Ledger == nil || !resumed.Ledger.Complete() {
		t.Fatalf("expected a complete ledger after resume, got %+v", resumed.Ledger)
	}

	stored, err := store.GetByID(context.Background(), result.Session.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored session lookup: %v", err)
	}
	if stored.Stage != session.StageDone || stored.NeedsAttention {
		t.Fatalf("stored session not settled: %+v", stored)
	}
	mirrored := filepath.Join(result.Session.DestinationDir, "data", "trials.csv")
	if _, err := os.Stat(mirrored); err != nil {
		t.Fatalf("data not mirrored after resume: %v", err)
	}
}

func TestResumeRejectsNonPartialSession(t *testing.T) {
	cfg := launchConfig(t)
	l, store := newLauncher(t, cfg)

	result, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	fresh, err := New(cfg, store, nil,
		WithMonitor(resources.NewMonitorWithProbe(cfg, nil, steadyProbe{})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, resumeErr := fresh.Resume(context.Background(), result.Session.ID); !errors.Is(resumeErr, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", resumeErr)
	}
}
