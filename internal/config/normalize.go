package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSession()
	if err := c.normalizeGit(); err != nil {
		return err
	}
	if err := c.normalizeTask(); err != nil {
		return err
	}
	c.normalizeMetadata()
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	c.normalizePicker()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSession() {
	c.Session.Rig = strings.TrimSpace(c.Session.Rig)
	c.Session.Subject = strings.TrimSpace(c.Session.Subject)
	operators := make([]string, 0, len(c.Session.Operators))
	for _, op := range c.Session.Operators {
		if trimmed := strings.TrimSpace(op); trimmed != "" {
			operators = append(operators, trimmed)
		}
	}
	c.Session.Operators = operators
}

func (c *Config) normalizeGit() error {
	var err error
	if c.Git.RepoDir, err = expandPath(c.Git.RepoDir); err != nil {
		return fmt.Errorf("git.repo_dir: %w", err)
	}
	c.Git.Policy = strings.ToLower(strings.TrimSpace(c.Git.Policy))
	if c.Git.Policy == "" {
		c.Git.Policy = defaultGitPolicy
	}
	c.Git.VersionConstraint = strings.TrimSpace(c.Git.VersionConstraint)
	return nil
}

func (c *Config) normalizeTask() error {
	var err error
	c.Task.Name = strings.TrimSpace(c.Task.Name)
	c.Task.Command = strings.TrimSpace(c.Task.Command)
	if strings.HasPrefix(c.Task.Command, "~") || strings.ContainsRune(c.Task.Command, os.PathSeparator) {
		if c.Task.Command, err = expandPath(c.Task.Command); err != nil {
			return fmt.Errorf("task.command: %w", err)
		}
	}
	if c.Task.WorkDir, err = expandPath(c.Task.WorkDir); err != nil {
		return fmt.Errorf("task.workdir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMetadata() {
	c.Metadata.Schema = strings.ToLower(strings.TrimSpace(c.Metadata.Schema))
	if c.Metadata.Schema == "" {
		c.Metadata.Schema = defaultMetadataSchema
	}
	c.Metadata.OnError = strings.ToLower(strings.TrimSpace(c.Metadata.OnError))
	if c.Metadata.OnError == "" {
		c.Metadata.OnError = defaultMetadataOnError
	}
}

func (c *Config) normalizeTransfer() error {
	var err error
	if c.Transfer.Destination, err = expandPath(c.Transfer.Destination); err != nil {
		return fmt.Errorf("transfer.destination: %w", err)
	}
	c.Transfer.Fingerprint = strings.ToLower(strings.TrimSpace(c.Transfer.Fingerprint))
	if c.Transfer.Fingerprint == "" {
		c.Transfer.Fingerprint = defaultTransferFingerprint
	}
	c.Transfer.Backend = strings.ToLower(strings.TrimSpace(c.Transfer.Backend))
	if c.Transfer.Backend == "" {
		c.Transfer.Backend = defaultTransferBackend
	}
	if c.Transfer.Workers <= 0 {
		c.Transfer.Workers = defaultTransferWorkers
	}
	if c.Transfer.MaxAttempts <= 0 {
		c.Transfer.MaxAttempts = defaultTransferMaxAttempts
	}
	if c.Transfer.RetryBaseMS <= 0 {
		c.Transfer.RetryBaseMS = defaultTransferRetryBaseMS
	}
	if c.Transfer.RetryCapMS <= 0 {
		c.Transfer.RetryCapMS = defaultTransferRetryCapMS
	}
	c.Transfer.HTTP.URL = strings.TrimSpace(c.Transfer.HTTP.URL)
	c.Transfer.HTTP.CredentialSource = strings.ToLower(strings.TrimSpace(c.Transfer.HTTP.CredentialSource))
	if c.Transfer.HTTP.CredentialSource == "" {
		c.Transfer.HTTP.CredentialSource = "none"
	}
	if c.Transfer.HTTP.CredentialSource == "file" {
		if c.Transfer.HTTP.CredentialValue, err = expandPath(c.Transfer.HTTP.CredentialValue); err != nil {
			return fmt.Errorf("transfer.http.credential_value: %w", err)
		}
	}
	if c.Transfer.HTTP.TimeoutSeconds <= 0 {
		c.Transfer.HTTP.TimeoutSeconds = defaultTransferHTTPTimeout
	}
	if c.Transfer.Watchfile.FlagDir, err = expandPath(c.Transfer.Watchfile.FlagDir); err != nil {
		return fmt.Errorf("transfer.watchfile.flag_dir: %w", err)
	}
	c.Transfer.Watchfile.Project = strings.TrimSpace(c.Transfer.Watchfile.Project)
	return nil
}

func (c *Config) normalizePicker() {
	c.Picker.Mode = strings.ToLower(strings.TrimSpace(c.Picker.Mode))
	if c.Picker.Mode == "" {
		c.Picker.Mode = defaultPickerMode
	}
	if c.Picker.Defaults == nil {
		c.Picker.Defaults = map[string]string{}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("STAGECOACH_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
