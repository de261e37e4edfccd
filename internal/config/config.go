package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration shared by every run.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
	LibraryDir string `toml:"library_dir"`
}

// Session contains defaults for session identity and run supervision.
type Session struct {
	Rig               string   `toml:"rig"`
	Operators         []string `toml:"operators"`
	Subject           string   `toml:"subject"`
	Notes             string   `toml:"notes"`
	HeartbeatInterval int      `toml:"heartbeat_interval"`
	HeartbeatTimeout  int      `toml:"heartbeat_timeout"`
}

// Git contains configuration for task repository validation.
type Git struct {
	RepoDir           string `toml:"repo_dir"`
	Policy            string `toml:"policy"`
	VersionConstraint string `toml:"version_constraint"`
	AllowResetPrompt  bool   `toml:"allow_reset_prompt"`
}

// Resources contains thresholds for environment gating and background sampling.
type Resources struct {
	Enforce               bool    `toml:"enforce"`
	MinWorkingFreeGiB     int     `toml:"min_working_free_gib"`
	MinDestinationFreeGiB int     `toml:"min_destination_free_gib"`
	MinAvailableMemoryGiB int     `toml:"min_available_memory_gib"`
	MaxLoadAverage        float64 `toml:"max_load_average"`
	SampleIntervalSeconds int     `toml:"sample_interval_seconds"`
}

// Task contains configuration for the supervised experimental task process.
type Task struct {
	Name           string   `toml:"name"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	WorkDir        string   `toml:"work_dir"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Metadata contains configuration for the mapping stage.
type Metadata struct {
	Schema      string            `toml:"schema"`
	OnError     string            `toml:"on_error"`
	ExtraFields map[string]string `toml:"extra_fields"`
}

// TransferHTTP configures the HTTP transfer notification backend.
type TransferHTTP struct {
	URL              string `toml:"url"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	CredentialSource string `toml:"credential_source"`
	CredentialValue  string `toml:"credential_value"`
}

// TransferWatchfile configures the watch-directory transfer notification backend.
type TransferWatchfile struct {
	FlagDir      string `toml:"flag_dir"`
	Project      string `toml:"project"`
	ScheduleHour int    `toml:"schedule_hour"`
}

// Transfer contains configuration for the data egress stage.
type Transfer struct {
	Destination string            `toml:"destination"`
	Workers     int               `toml:"workers"`
	MaxAttempts int               `toml:"max_attempts"`
	RetryBaseMS int               `toml:"retry_base_ms"`
	RetryCapMS  int               `toml:"retry_cap_ms"`
	RetryJitter float64           `toml:"retry_jitter"`
	Fingerprint string            `toml:"fingerprint"`
	IncludeLogs bool              `toml:"include_logs"`
	Backend     string            `toml:"backend"`
	HTTP        TransferHTTP      `toml:"http"`
	Watchfile   TransferWatchfile `toml:"watchfile"`
}

// Picker contains configuration for operator decision prompts.
type Picker struct {
	Mode     string            `toml:"mode"`
	Defaults map[string]string `toml:"defaults"`
}

// Stages toggles optional pipeline stages.
type Stages struct {
	MapMetadata  bool `toml:"map_metadata"`
	TransferData bool `toml:"transfer_data"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	SessionStart   bool   `toml:"session_start"`
	SessionDone    bool   `toml:"session_done"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for stagecoach.
//
// Configuration sections by subsystem:
//   - Paths: data, log, state, and library directories
//   - Session: identity defaults plus heartbeat supervision intervals
//   - Git: task repository validation policy and version constraint
//   - Resources: disk/memory/load thresholds and sampling cadence
//   - Task: supervised experimental task command and timeout
//   - Metadata: schema selection and mapping failure policy
//   - Transfer: egress destination, retry tuning, and backend selection
//   - Picker: operator prompt mode and headless decision defaults
//   - Stages: optional stage toggles
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Session       Session       `toml:"session"`
	Git           Git           `toml:"git"`
	Resources     Resources     `toml:"resources"`
	Task          Task          `toml:"task"`
	Metadata      Metadata      `toml:"metadata"`
	Transfer      Transfer      `toml:"transfer"`
	Picker        Picker        `toml:"picker"`
	Stages        Stages        `toml:"stages"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stagecoach/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/stagecoach/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stagecoach.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for run operation.
// The transfer destination is created on a best-effort basis so local stages
// can run when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Transfer.Destination) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = os.MkdirAll(c.Transfer.Destination, 0o755)
	}
	return nil
}

// GitBinary returns the git executable name used for repository inspection.
func (c *Config) GitBinary() string {
	return "git"
}

// SessionsDBPath returns the location of the host-local session store.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.Paths.StateDir, "sessions.db")
}

// RunLockPath returns the lock file guarding against concurrent runs.
func (c *Config) RunLockPath() string {
	return filepath.Join(c.Paths.StateDir, "stagecoach.lock")
}

// RigsDir returns the library directory holding per-host rig configuration files.
func (c *Config) RigsDir() string {
	return filepath.Join(c.Paths.LibraryDir, "rigs")
}

// TasksDir returns the library directory holding task parameter files.
func (c *Config) TasksDir() string {
	return filepath.Join(c.Paths.LibraryDir, "tasks")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
