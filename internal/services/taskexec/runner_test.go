package taskexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
)

type fakeExecutor struct {
	mu       sync.Mutex
	got      Command
	stdout   []string
	stderr   []string
	exitCode int
	err      error
	blockCtx bool
}

func (f *fakeExecutor) Run(ctx context.Context, cmd Command, onLine func(stream, line string)) (int, error) {
	f.mu.Lock()
	f.got = cmd
	f.mu.Unlock()
	for _, line := range f.stdout {
		onLine("stdout", line)
	}
	for _, line := range f.stderr {
		onLine("stderr", line)
	}
	if f.blockCtx {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return f.exitCode, f.err
}

func (f *fakeExecutor) command() Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "m042", "8f14e45f")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return &session.Session{
		ID:         "8f14e45f-ceea-4670-8f7f-1d8a9e6f0a01",
		Subject:    "m042",
		SessionDir: dir,
	}
}

func TestRunWritesTaskLog(t *testing.T) {
	sess := testSession(t)
	exec := &fakeExecutor{
		stdout: []string{"trial 1 ok", "trial 2 ok"},
		stderr: []string{"calibration drift 0.2%"},
	}
	runner := New(config.Task{Command: "run-task"}, nil, WithExecutor(exec))

	result, err := runner.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d", result.ExitCode)
	}
	if result.LogPath != sess.TaskLogPath() {
		t.Fatalf("LogPath = %q, want %q", result.LogPath, sess.TaskLogPath())
	}

	data, err := os.ReadFile(result.LogPath)
	if err != nil {
		t.Fatalf("read task log: %v", err)
	}
	for _, want := range []string{"trial 1 ok", "trial 2 ok", "calibration drift 0.2%"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("task log missing %q:\n%s", want, data)
		}
	}
	if _, err := os.Stat(sess.DataDir()); err != nil {
		t.Fatalf("data directory should exist after run: %v", err)
	}
}

func TestRunSubstitutesPlaceholdersAndEnv(t *testing.T) {
	sess := testSession(t)
	exec := &fakeExecutor{}
	cfg := config.Task{
		Command: "run-task",
		Args:    []string{"--out", "{session_dir}/data", "--subject", "{subject}", "--run", "{session_id}"},
	}
	runner := New(cfg, nil, WithExecutor(exec))

	if _, err := runner.Run(context.Background(), sess); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := exec.command()
	wantArgs := []string{
		"--out", sess.SessionDir + "/data",
		"--subject", "m042",
		"--run", sess.ID,
	}
	if len(got.Args) != len(wantArgs) {
		t.Fatalf("args = %v, want %v", got.Args, wantArgs)
	}
	for i := range wantArgs {
		if got.Args[i] != wantArgs[i] {
			t.Fatalf("args[%d] = %q, want %q", i, got.Args[i], wantArgs[i])
		}
	}
	if got.Dir != sess.SessionDir {
		t.Fatalf("workdir = %q, want session dir", got.Dir)
	}
	wantEnv := map[string]bool{
		"STAGECOACH_SESSION_ID=" + sess.ID:          false,
		"STAGECOACH_SESSION_DIR=" + sess.SessionDir: false,
		"STAGECOACH_SUBJECT=m042":                    false,
	}
	for _, entry := range got.Env {
		if _, ok := wantEnv[entry]; ok {
			wantEnv[entry] = true
		}
	}
	for entry, seen := range wantEnv {
		if !seen {
			t.Fatalf("env missing %q (got %v)", entry, got.Env)
		}
	}
}

func TestRunUsesConfiguredWorkDir(t *testing.T) {
	sess := testSession(t)
	workDir := t.TempDir()
	exec := &fakeExecutor{}
	runner := New(config.Task{Command: "run-task", WorkDir: workDir}, nil, WithExecutor(exec))

	if _, err := runner.Run(context.Background(), sess); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := exec.command().Dir; got != workDir {
		t.Fatalf("workdir = %q, want %q", got, workDir)
	}
}

func TestRunMapsNonZeroExit(t *testing.T) {
	sess := testSession(t)
	exec := &fakeExecutor{
		stderr:   []string{"loading parameters", "assertion failed: reward port stuck"},
		exitCode: 3,
		err:      fmt.Errorf("exit status 3"),
	}
	runner := New(config.Task{Command: "run-task"}, nil, WithExecutor(exec))

	result, err := runner.Run(context.Background(), sess)
	if !errors.Is(err, services.ErrTask) {
		t.Fatalf("expected task failure marker, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(err.Error(), "exited with status 3") {
		t.Fatalf("error should name the exit status: %v", err)
	}
	if !strings.Contains(err.Error(), "assertion failed: reward port stuck") {
		t.Fatalf("error should carry the last stderr line: %v", err)
	}
}

func TestRunTimeoutMapsToTaskAndTimeout(t *testing.T) {
	sess := testSession(t)
	exec := &fakeExecutor{blockCtx: true}
	runner := New(config.Task{Command: "run-task", TimeoutSeconds: 1}, nil, WithExecutor(exec))

	result, err := runner.Run(context.Background(), sess)
	if !errors.Is(err, services.ErrTask) {
		t.Fatalf("expected task marker, got %v", err)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if !result.TimedOut {
		t.Fatal("Result.TimedOut should be set")
	}
}

func TestRunParentCancelMapsToAborted(t *testing.T) {
	sess := testSession(t)
	exec := &fakeExecutor{blockCtx: true}
	runner := New(config.Task{Command: "run-task"}, nil, WithExecutor(exec))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := runner.Run(ctx, sess)
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected abort marker, got %v", err)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	runner := New(config.Task{}, nil, WithExecutor(&fakeExecutor{}))
	_, err := runner.Run(context.Background(), testSession(t))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	sess := testSession(t)
	exec := &fakeExecutor{exitCode: -1, err: fmt.Errorf("no such file or directory")}
	runner := New(config.Task{Command: "missing-task"}, nil, WithExecutor(exec))

	_, err := runner.Run(context.Background(), sess)
	if !errors.Is(err, services.ErrTask) {
		t.Fatalf("expected task marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "launch missing-task") {
		t.Fatalf("error should name the launch failure: %v", err)
	}
}

func TestCommandExecutorCapturesStreamsAndExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var mu sync.Mutex
	var lines []string
	code, err := commandExecutor{}.Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "echo out-line; echo err-line 1>&2; exit 4"},
	}, func(stream, line string) {
		mu.Lock()
		lines = append(lines, stream+":"+line)
		mu.Unlock()
	})
	if err == nil {
		t.Fatal("expected error for exit status 4")
	}
	if code != 4 {
		t.Fatalf("exit code = %d, want 4", code)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "stdout:out-line") || !strings.Contains(joined, "stderr:err-line") {
		t.Fatalf("missing captured lines:\n%s", joined)
	}
}
