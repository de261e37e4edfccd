package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateGit(); err != nil {
		return err
	}
	if err := c.validateResources(); err != nil {
		return err
	}
	if err := c.validateTask(); err != nil {
		return err
	}
	if err := c.validateMetadata(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validatePicker(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.HeartbeatInterval <= 0 {
		return errors.New("session.heartbeat_interval must be positive")
	}
	if c.Session.HeartbeatTimeout <= 0 {
		return errors.New("session.heartbeat_timeout must be positive")
	}
	if c.Session.HeartbeatTimeout <= c.Session.HeartbeatInterval {
		return errors.New("session.heartbeat_timeout must be greater than session.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateGit() error {
	switch c.Git.Policy {
	case "strict", "force", "version-only":
	default:
		return fmt.Errorf("git.policy must be one of strict, force, version-only (got %q)", c.Git.Policy)
	}
	if c.Git.Policy == "version-only" && c.Git.VersionConstraint == "" {
		return errors.New("git.version_constraint must be set when git.policy is version-only")
	}
	return nil
}

func (c *Config) validateResources() error {
	if c.Resources.MinWorkingFreeGiB < 0 {
		return errors.New("resources.min_working_free_gib must be >= 0")
	}
	if c.Resources.MinDestinationFreeGiB < 0 {
		return errors.New("resources.min_destination_free_gib must be >= 0")
	}
	if c.Resources.MinAvailableMemoryGiB < 0 {
		return errors.New("resources.min_available_memory_gib must be >= 0")
	}
	if c.Resources.MaxLoadAverage < 0 {
		return errors.New("resources.max_load_average must be >= 0")
	}
	if c.Resources.SampleIntervalSeconds <= 0 {
		return errors.New("resources.sample_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateTask() error {
	if c.Task.Command == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/stagecoach/config.toml"
		}
		return fmt.Errorf("task.command is required. Edit %s (create with 'stagecoach config init')", defaultPath)
	}
	if c.Task.TimeoutSeconds < 0 {
		return errors.New("task.timeout_seconds must be >= 0 (0 disables the timeout)")
	}
	return nil
}

func (c *Config) validateMetadata() error {
	switch c.Metadata.OnError {
	case "fail", "prompt":
	default:
		return fmt.Errorf("metadata.on_error must be fail or prompt (got %q)", c.Metadata.OnError)
	}
	if strings.TrimSpace(c.Metadata.Schema) == "" {
		return errors.New("metadata.schema must be set")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.Stages.TransferData && strings.TrimSpace(c.Transfer.Destination) == "" {
		return errors.New("transfer.destination must be set when stages.transfer_data is true")
	}
	if c.Transfer.Workers < 1 {
		return errors.New("transfer.workers must be >= 1")
	}
	if c.Transfer.MaxAttempts < 1 {
		return errors.New("transfer.max_attempts must be >= 1")
	}
	if c.Transfer.RetryBaseMS <= 0 {
		return errors.New("transfer.retry_base_ms must be positive")
	}
	if c.Transfer.RetryCapMS < c.Transfer.RetryBaseMS {
		return errors.New("transfer.retry_cap_ms must be >= transfer.retry_base_ms")
	}
	if c.Transfer.RetryJitter < 0 || c.Transfer.RetryJitter > 1 {
		return errors.New("transfer.retry_jitter must be between 0 and 1")
	}
	switch c.Transfer.Fingerprint {
	case "checksum", "stat":
	default:
		return fmt.Errorf("transfer.fingerprint must be checksum or stat (got %q)", c.Transfer.Fingerprint)
	}
	switch c.Transfer.Backend {
	case "none":
	case "http":
		if c.Transfer.HTTP.URL == "" {
			return errors.New("transfer.http.url must be set when transfer.backend is http")
		}
		if c.Transfer.HTTP.TimeoutSeconds <= 0 {
			return errors.New("transfer.http.timeout_seconds must be positive")
		}
		switch c.Transfer.HTTP.CredentialSource {
		case "none":
		case "static", "env", "file":
			if strings.TrimSpace(c.Transfer.HTTP.CredentialValue) == "" {
				return fmt.Errorf("transfer.http.credential_value must be set when credential_source is %s", c.Transfer.HTTP.CredentialSource)
			}
		default:
			return fmt.Errorf("transfer.http.credential_source must be one of none, static, env, file (got %q)", c.Transfer.HTTP.CredentialSource)
		}
	case "watchfile":
		if strings.TrimSpace(c.Transfer.Watchfile.FlagDir) == "" {
			return errors.New("transfer.watchfile.flag_dir must be set when transfer.backend is watchfile")
		}
		if c.Transfer.Watchfile.ScheduleHour < 0 || c.Transfer.Watchfile.ScheduleHour > 23 {
			return errors.New("transfer.watchfile.schedule_hour must be between 0 and 23")
		}
	default:
		return fmt.Errorf("transfer.backend must be one of none, http, watchfile (got %q)", c.Transfer.Backend)
	}
	return nil
}

func (c *Config) validatePicker() error {
	switch c.Picker.Mode {
	case "auto", "interactive", "headless":
		return nil
	default:
		return fmt.Errorf("picker.mode must be one of auto, interactive, headless (got %q)", c.Picker.Mode)
	}
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}
