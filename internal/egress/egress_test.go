package egress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"stagecoach/internal/config"
	"stagecoach/internal/ledger"
	"stagecoach/internal/services"
	"stagecoach/internal/services/watchdog"
)

const egressSessionID = "8f14e45f-ceea-4670-8f7f-1d8a9e6f0a01"

type fakeBackend struct {
	mu      sync.Mutex
	notices []watchdog.Notice
	errs    []error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Notify(ctx context.Context, notice watchdog.Notice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, notice)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return err
	}
	return nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notices)
}

func fastTransferConfig() config.Transfer {
	return config.Transfer{
		Workers:     2,
		MaxAttempts: 4,
		RetryBaseMS: 1,
		RetryCapMS:  2,
		RetryJitter: 0,
		Fingerprint: "checksum",
	}
}

// seedTransfer creates source files, plans a fresh ledger over them, and
// persists it the way the transfer stage would before handing off.
func seedTransfer(t *testing.T, names ...string) (*ledger.Store, string, string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	for _, name := range names {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("payload for "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		t.Fatal(err)
	}
	files, err := ledger.ScanTree(src, dst, "data", ledger.ModeChecksum)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	led := ledger.Merge(nil, egressSessionID, dst, ledger.ModeChecksum, files)
	led.Subject = "m042"
	store := ledger.NewStore(filepath.Join(root, "transfer-ledger.json"))
	if err := store.Save(led); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return store, src, dst
}

func reload(t *testing.T, store *ledger.Store) *ledger.Ledger {
	t.Helper()
	led, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if led == nil {
		t.Fatal("ledger missing")
	}
	return led
}

func findJob(t *testing.T, led *ledger.Ledger, suffix string) *ledger.Job {
	t.Helper()
	for _, job := range led.Jobs {
		if strings.HasSuffix(job.Source, suffix) {
			return job
		}
	}
	t.Fatalf("no job with suffix %q", suffix)
	return nil
}

func TestRunCopiesAllFilesAndNotifies(t *testing.T) {
	store, _, dst := seedTransfer(t, "a.bin", "sub/b.bin", "c.csv")
	backend := &fakeBackend{}
	runner := New(fastTransferConfig(), backend, nil)

	summary, err := runner.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Jobs.Confirmed != 3 || summary.Jobs.Failed != 0 {
		t.Fatalf("summary = %+v", summary.Jobs)
	}
	if !summary.Notified {
		t.Fatal("summary should record the notification")
	}

	for _, name := range []string{"a.bin", "sub/b.bin", "c.csv"} {
		data, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Fatalf("destination missing %s: %v", name, err)
		}
		if string(data) != "payload for "+name {
			t.Fatalf("content mismatch for %s: %q", name, data)
		}
	}

	led := reload(t, store)
	if !led.Complete() {
		t.Fatalf("persisted ledger should be complete: %+v", led.Summarize())
	}

	if backend.calls() != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls())
	}
	notice := backend.notices[0]
	if notice.SessionID != egressSessionID || notice.Subject != "m042" {
		t.Fatalf("notice identity = %s/%s", notice.SessionID, notice.Subject)
	}
	if notice.FileCount != 3 || len(notice.Files) != 3 {
		t.Fatalf("notice files = %+v", notice.Files)
	}
	paths := map[string]bool{}
	for _, f := range notice.Files {
		paths[f.Path] = true
	}
	for _, want := range []string{"a.bin", "sub/b.bin", "c.csv"} {
		if !paths[want] {
			t.Fatalf("notice missing destination-relative path %s: %+v", want, notice.Files)
		}
	}
	if notice.TotalBytes != summary.Jobs.ConfirmedBytes {
		t.Fatalf("notice bytes = %d, summary bytes = %d", notice.TotalBytes, summary.Jobs.ConfirmedBytes)
	}
}

func TestRunRetriesTransientFailuresUntilSuccess(t *testing.T) {
	store, _, _ := seedTransfer(t, "steady.bin", "flaky.bin")
	backend := &fakeBackend{}

	var mu sync.Mutex
	failuresLeft := 3
	copyFn := func(ctx context.Context, job *ledger.Job, mode ledger.Mode) error {
		if strings.HasSuffix(job.Source, "flaky.bin") {
			mu.Lock()
			retry := failuresLeft > 0
			if retry {
				failuresLeft--
			}
			mu.Unlock()
			if retry {
				return fmt.Errorf("read source: %w", os.NewSyscallError("read", unix.EAGAIN))
			}
		}
		return copyAndVerify(ctx, job, mode)
	}

	runner := New(fastTransferConfig(), backend, nil, WithCopyFunc(copyFn))
	summary, err := runner.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Jobs.Confirmed != 2 {
		t.Fatalf("summary = %+v", summary.Jobs)
	}

	led := reload(t, store)
	flaky := findJob(t, led, "flaky.bin")
	if flaky.State != ledger.StateConfirmed {
		t.Fatalf("flaky job state = %s", flaky.State)
	}
	if flaky.Attempts != 4 {
		t.Fatalf("flaky attempts = %d, want 4", flaky.Attempts)
	}
	if flaky.RetryCount() != 3 {
		t.Fatalf("flaky retry count = %d, want 3", flaky.RetryCount())
	}
	steady := findJob(t, led, "steady.bin")
	if steady.Attempts != 1 {
		t.Fatalf("steady attempts = %d, want 1", steady.Attempts)
	}
}

func TestRunPermanentFailureSkipsRetry(t *testing.T) {
	store, _, _ := seedTransfer(t, "good.bin", "locked.bin")
	backend := &fakeBackend{}

	copyFn := func(ctx context.Context, job *ledger.Job, mode ledger.Mode) error {
		if strings.HasSuffix(job.Source, "locked.bin") {
			return &os.PathError{Op: "open", Path: job.Destination, Err: os.ErrPermission}
		}
		return copyAndVerify(ctx, job, mode)
	}

	runner := New(fastTransferConfig(), backend, nil, WithCopyFunc(copyFn))
	summary, err := runner.Run(context.Background(), store)
	if !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer marker, got %v", err)
	}
	if services.ExitCode(err) != services.ExitPartial {
		t.Fatalf("exit code = %d, want %d", services.ExitCode(err), services.ExitPartial)
	}
	if summary.Jobs.Confirmed != 1 || summary.Jobs.Failed != 1 {
		t.Fatalf("summary = %+v", summary.Jobs)
	}

	led := reload(t, store)
	locked := findJob(t, led, "locked.bin")
	if locked.State != ledger.StateFailed || locked.Attempts != 1 {
		t.Fatalf("locked job = %+v", locked)
	}
	if locked.LastError == "" {
		t.Fatal("failed job should record its error")
	}
	if backend.calls() != 0 {
		t.Fatal("no notification should go out for a partial transfer")
	}
}

func TestRunResumeReattemptsOnlyUnconfirmed(t *testing.T) {
	store, src, dst := seedTransfer(t, "one.bin", "two.bin", "three.bin", "four.bin", "five.bin")
	backend := &fakeBackend{}

	failSet := map[string]bool{"three.bin": true, "four.bin": true, "five.bin": true}
	firstPass := func(ctx context.Context, job *ledger.Job, mode ledger.Mode) error {
		if failSet[filepath.Base(job.Source)] {
			return &os.PathError{Op: "open", Path: job.Destination, Err: os.ErrPermission}
		}
		return copyAndVerify(ctx, job, mode)
	}
	runner := New(fastTransferConfig(), backend, nil, WithCopyFunc(firstPass))
	if _, err := runner.Run(context.Background(), store); !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("first pass should be partial, got %v", err)
	}

	previous := reload(t, store)
	if previous.Summarize().Confirmed != 2 {
		t.Fatalf("first pass confirmed = %d, want 2", previous.Summarize().Confirmed)
	}

	files, err := ledger.ScanTree(src, dst, "data", ledger.ModeChecksum)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	merged := ledger.Merge(previous, egressSessionID, dst, ledger.ModeChecksum, files)
	if err := store.Save(merged); err != nil {
		t.Fatalf("save merged: %v", err)
	}

	var mu sync.Mutex
	attempted := map[string]int{}
	secondPass := func(ctx context.Context, job *ledger.Job, mode ledger.Mode) error {
		mu.Lock()
		attempted[filepath.Base(job.Source)]++
		mu.Unlock()
		return copyAndVerify(ctx, job, mode)
	}
	runner = New(fastTransferConfig(), backend, nil, WithCopyFunc(secondPass))
	summary, err := runner.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if summary.Jobs.Confirmed != 5 {
		t.Fatalf("resume summary = %+v", summary.Jobs)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempted) != 3 {
		t.Fatalf("resume should copy only unconfirmed jobs, copied %v", attempted)
	}
	for _, name := range []string{"one.bin", "two.bin"} {
		if attempted[name] != 0 {
			t.Fatalf("confirmed job %s should not be re-copied", name)
		}
	}

	final := reload(t, store)
	for _, job := range final.Jobs {
		current, err := ledger.Fingerprint(job.Source, ledger.ModeChecksum)
		if err != nil {
			t.Fatalf("fingerprint %s: %v", job.Source, err)
		}
		if job.Fingerprint != current {
			t.Fatalf("job %s fingerprint drifted", job.Source)
		}
	}
}

func TestRunAbortedContextLeavesJobsPending(t *testing.T) {
	store, _, _ := seedTransfer(t, "a.bin", "b.bin")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := New(fastTransferConfig(), &fakeBackend{}, nil)
	_, err := runner.Run(ctx, store)
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected abort marker, got %v", err)
	}

	led := reload(t, store)
	summary := led.Summarize()
	if summary.Pending != 2 {
		t.Fatalf("jobs should stay pending for resume, got %+v", summary)
	}
}

func TestRunNotificationPermanentFailureIsPartial(t *testing.T) {
	store, _, dst := seedTransfer(t, "a.bin")
	backend := &fakeBackend{errs: []error{errors.New("endpoint rejected notice (HTTP 403)")}}

	runner := New(fastTransferConfig(), backend, nil)
	summary, err := runner.Run(context.Background(), store)
	if !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer marker, got %v", err)
	}
	if summary.Jobs.Confirmed != 1 {
		t.Fatalf("copies should stay confirmed, got %+v", summary.Jobs)
	}
	if backend.calls() != 1 {
		t.Fatalf("permanent notification failure should not retry, calls = %d", backend.calls())
	}
	if _, statErr := os.Stat(filepath.Join(dst, "a.bin")); statErr != nil {
		t.Fatalf("confirmed copy should survive notification failure: %v", statErr)
	}
}

func TestRunNotificationTransientFailureRetries(t *testing.T) {
	store, _, _ := seedTransfer(t, "a.bin")
	backend := &fakeBackend{errs: []error{
		services.Wrap(services.ErrTransient, "", "watchdog", "post notice", nil),
		services.Wrap(services.ErrTransient, "", "watchdog", "post notice", nil),
	}}

	runner := New(fastTransferConfig(), backend, nil)
	summary, err := runner.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Notified {
		t.Fatal("notification should eventually succeed")
	}
	if backend.calls() != 3 {
		t.Fatalf("backend calls = %d, want 3", backend.calls())
	}
}

func TestRunMissingLedger(t *testing.T) {
	store := ledger.NewStore(filepath.Join(t.TempDir(), "transfer-ledger.json"))
	runner := New(fastTransferConfig(), &fakeBackend{}, nil)
	_, err := runner.Run(context.Background(), store)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found marker, got %v", err)
	}
}
