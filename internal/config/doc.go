// Package config loads, normalizes, and validates stagecoach configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks such as STAGECOACH_NTFY_TOPIC.
// The Config type centralizes every knob the CLI needs, so session
// directories, git policy, resource thresholds, and transfer settings are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
