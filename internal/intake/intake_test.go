package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"stagecoach/internal/picker"
	"stagecoach/internal/session"
	"stagecoach/internal/testsupport"
)

func newTestSession() *session.Session {
	return &session.Session{ID: uuid.NewString(), Stage: session.StageInit}
}

func TestPrepareResolvesIdentityFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Session.Subject = "mouse-042"
	cfg.Session.Operators = []string{"Ada", "", " Grace "}
	cfg.Session.Notes = "baseline day 3"
	cfg.Task.Name = "foraging"

	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil)
	sess := newTestSession()
	if err := handler.Prepare(context.Background(), sess); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if sess.Subject != "mouse-042" {
		t.Fatalf("unexpected subject %q", sess.Subject)
	}
	if len(sess.Operators) != 2 || sess.Operators[0] != "Ada" || sess.Operators[1] != "Grace" {
		t.Fatalf("unexpected operators %v", sess.Operators)
	}
	if sess.TaskName != "foraging" {
		t.Fatalf("unexpected task name %q", sess.TaskName)
	}
	if sess.SessionDir == "" || sess.DestinationDir == "" {
		t.Fatalf("expected session paths, got %q / %q", sess.SessionDir, sess.DestinationDir)
	}
}

func TestPrepareResolvesIdentityFromPickerDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPickerDefaults(map[string]string{
		picker.KeySubject:   "mouse-7",
		picker.KeyOperators: "Ada, Grace",
	}))
	cfg.Session.Rig = "rig-a"

	handler := NewHandler(cfg, picker.NewHeadless(cfg.Picker.Defaults, nil), nil)
	sess := newTestSession()
	if err := handler.Prepare(context.Background(), sess); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if sess.Subject != "mouse-7" {
		t.Fatalf("unexpected subject %q", sess.Subject)
	}
	if len(sess.Operators) != 2 {
		t.Fatalf("unexpected operators %v", sess.Operators)
	}
	// No notes default configured: notes are optional and stay empty.
	if sess.Notes != "" {
		t.Fatalf("expected empty notes, got %q", sess.Notes)
	}
}

func TestPrepareFailsFastWithoutSubjectDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil)
	err := handler.Prepare(context.Background(), newTestSession())
	if !errors.Is(err, picker.ErrNoDefault) {
		t.Fatalf("expected ErrNoDefault, got %v", err)
	}
}

func TestExecuteCreatesLayoutAndStagesParams(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Session.Subject = "mouse-042"
	cfg.Session.Operators = []string{"Ada"}

	tasksDir := cfg.TasksDir()
	if err := os.MkdirAll(tasksDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tasksDir, "mouse-042.json"), []byte(`{"trials":100}`), 0o644); err != nil {
		t.Fatal(err)
	}

	defaults := map[string]string{picker.KeySubjectParams: "yes"}
	handler := NewHandler(cfg, picker.NewHeadless(defaults, nil), nil)
	sess := newTestSession()
	if err := handler.Prepare(context.Background(), sess); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, dir := range []string{sess.DataDir(), sess.LogsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	data, err := os.ReadFile(sess.TaskParamsPath())
	if err != nil {
		t.Fatalf("read staged params: %v", err)
	}
	if string(data) != `{"trials":100}` {
		t.Fatalf("unexpected params content %q", data)
	}
}

func TestResolveTaskParamsSkipsWhenNoDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Session.Subject = "mouse-042"
	cfg.Session.Operators = []string{"Ada"}

	tasksDir := cfg.TasksDir()
	if err := os.MkdirAll(tasksDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tasksDir, "other-task.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	handler := NewHandler(cfg, picker.NewHeadless(nil, nil), nil)
	sess := newTestSession()
	if err := handler.Prepare(context.Background(), sess); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(context.Background(), sess); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(sess.TaskParamsPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no staged params, got stat err %v", err)
	}
}

func TestSplitOperators(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"Ada", []string{"Ada"}},
		{"Ada, Grace", []string{"Ada", "Grace"}},
		{"Ada Grace  Lin", []string{"Ada", "Grace", "Lin"}},
		{" , ", nil},
	}
	for _, tc := range cases {
		got := SplitOperators(tc.raw)
		if len(got) != len(tc.want) {
			t.Fatalf("SplitOperators(%q) = %v, want %v", tc.raw, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("SplitOperators(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		}
	}
}

func TestValidateSubject(t *testing.T) {
	if err := ValidateSubject("mouse-1"); err != nil {
		t.Fatalf("valid subject rejected: %v", err)
	}
	if err := ValidateSubject(""); err == nil {
		t.Fatal("empty subject accepted")
	}
	if err := ValidateSubject("a/b"); err == nil {
		t.Fatal("subject with separator accepted")
	}
}
