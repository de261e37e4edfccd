package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"stagecoach/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "sessions")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Session.Rig = "rig-test"
	cfgVal.Task.Command = "/usr/bin/true"
	cfgVal.Transfer.Destination = filepath.Join(base, "destination")
	cfgVal.Picker.Mode = "headless"
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTaskCommand overrides the supervised task command on the test config.
func WithTaskCommand(command string, args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Task.Command = command
		b.cfg.Task.Args = args
	}
}

// WithGitRepo points the git capture at the provided repository directory.
func WithGitRepo(dir string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Git.RepoDir = dir
	}
}

// WithPickerDefaults seeds headless picker answers on the test config.
func WithPickerDefaults(defaults map[string]string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Picker.Defaults == nil {
			b.cfg.Picker.Defaults = map[string]string{}
		}
		for key, value := range defaults {
			b.cfg.Picker.Defaults[key] = value
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, git is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"git"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
