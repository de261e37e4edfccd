package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"stagecoach/internal/gitstate"
	"stagecoach/internal/picker"
	"stagecoach/internal/services"
	"stagecoach/internal/session"
	"stagecoach/internal/testsupport"
)

type stubGit struct {
	responses map[string]string
	calls     []string
}

func (s *stubGit) Run(_ context.Context, _ string, args []string) ([]byte, error) {
	key := strings.Join(args, " ")
	s.calls = append(s.calls, key)
	if out, ok := s.responses[key]; ok {
		return []byte(out), nil
	}
	return nil, fmt.Errorf("unexpected git invocation %q", key)
}

func cleanRepo() *stubGit {
	return &stubGit{responses: map[string]string{
		"rev-parse --is-inside-work-tree": "true\n",
		"rev-parse HEAD":                  "8c6a1f2e9b0d4c7a5e3f1d2c8b6a4e9f0d1c2b3a\n",
		"rev-parse --abbrev-ref HEAD":     "main\n",
		"status --porcelain":              "",
		"describe --tags":                 "v1.4.0\n",
	}}
}

func newTestSession() *session.Session {
	return &session.Session{ID: uuid.NewString(), Stage: session.StageValidateEnv}
}

func TestExecuteAttachesGitState(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithGitRepo("/repo/task"))
	stub := cleanRepo()
	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil,
		WithInspector(gitstate.NewInspectorWithExecutor("/repo/task", stub)))

	sess := newTestSession()
	if err := handler.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if handler.State() == nil || handler.State().Branch != "main" {
		t.Fatalf("expected captured state, got %+v", handler.State())
	}
	if !strings.Contains(sess.GitStateJSON, "\"branch\":\"main\"") {
		t.Fatalf("session git state not recorded: %q", sess.GitStateJSON)
	}
}

func TestExecuteStrictDirtyFailsWithoutRemediation(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithGitRepo("/repo/task"))
	stub := cleanRepo()
	stub.responses["status --porcelain"] = " M protocol/run.py\n"
	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil,
		WithInspector(gitstate.NewInspectorWithExecutor("/repo/task", stub)))

	err := handler.Execute(context.Background(), newTestSession())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	// Provenance is still recorded for the failed run.
	if handler.State() == nil || !handler.State().Dirty {
		t.Fatalf("expected dirty state captured, got %+v", handler.State())
	}
}

func TestExecuteDirtyTreeResetRemediation(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithGitRepo("/repo/task"))
	cfg.Git.AllowResetPrompt = true

	resetSeen := false
	repo := &remediationGit{inner: cleanRepo(), onReset: func() { resetSeen = true }}
	pick := picker.NewHeadless(map[string]string{picker.KeyGitReset: "yes"}, nil)
	handler := NewHandler(cfg, pick, nil,
		WithInspector(gitstate.NewInspectorWithExecutor("/repo/task", repo)))

	sess := newTestSession()
	if err := handler.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute after remediation: %v", err)
	}
	if !resetSeen {
		t.Fatal("expected reset --hard to run")
	}
	if handler.State() == nil || handler.State().Dirty {
		t.Fatalf("expected clean state after reset, got %+v", handler.State())
	}
}

// remediationGit reports a dirty tree until reset runs, then a clean one.
type remediationGit struct {
	inner   *stubGit
	reset   bool
	onReset func()
}

func (r *remediationGit) Run(ctx context.Context, dir string, args []string) ([]byte, error) {
	key := strings.Join(args, " ")
	switch key {
	case "reset --hard", "clean -fd":
		r.reset = true
		if r.onReset != nil {
			r.onReset()
		}
		return nil, nil
	case "status --porcelain":
		if r.reset {
			return []byte(""), nil
		}
		return []byte(" M protocol/run.py\n"), nil
	}
	return r.inner.Run(ctx, dir, args)
}

func TestExecuteSkipsWithoutRepository(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Git.RepoDir = ""
	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil)

	sess := newTestSession()
	if err := handler.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if handler.State() != nil {
		t.Fatalf("expected no state without a repository, got %+v", handler.State())
	}
}

func TestPrepareReportsFailedPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Task.Command = "definitely-not-on-path-xyz"
	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil)

	err := handler.Prepare(context.Background(), newTestSession())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Task command") {
		t.Fatalf("expected failing check named, got %v", err)
	}
}

func TestHealthCheckRejectsBadPolicy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Git.Policy = "lenient"
	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil)
	health := handler.HealthCheck(context.Background())
	if health.Ready {
		t.Fatalf("expected unhealthy for unknown policy: %+v", health)
	}
}
