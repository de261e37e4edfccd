package session

import (
	"path/filepath"
	"testing"
)

func TestDirForSanitizesSubject(t *testing.T) {
	got := DirFor("/data", "M042 #3", "abc-123")
	want := filepath.Join("/data", "m042_3", "abc-123")
	if got != want {
		t.Fatalf("DirFor = %q, want %q", got, want)
	}
	if DirFor("", "m042", "abc") != "" {
		t.Fatal("expected empty result for empty root")
	}
}

func TestSessionDirLayout(t *testing.T) {
	sess := Session{SessionDir: "/data/m042/abc-123"}
	if sess.DataDir() != "/data/m042/abc-123/data" {
		t.Fatalf("unexpected data dir: %q", sess.DataDir())
	}
	if sess.ManifestPath() != "/data/m042/abc-123/manifest.jsonl" {
		t.Fatalf("unexpected manifest path: %q", sess.ManifestPath())
	}
	if sess.LedgerPath() != "/data/m042/abc-123/transfer-ledger.json" {
		t.Fatalf("unexpected ledger path: %q", sess.LedgerPath())
	}
	if sess.TaskLogPath() != "/data/m042/abc-123/logs/task.log" {
		t.Fatalf("unexpected task log path: %q", sess.TaskLogPath())
	}

	empty := Session{}
	if empty.DataDir() != "" || empty.ManifestPath() != "" {
		t.Fatal("expected empty paths when session dir unset")
	}
}
