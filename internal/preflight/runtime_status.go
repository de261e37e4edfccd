package preflight

import (
	"context"
	"fmt"
	"strings"

	"stagecoach/internal/config"
)

// CheckNotificationsFromConfig evaluates ntfy push notification status.
// Notifications are optional, so a disabled setup passes with a note.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("ntfy topic %q", topic)}
}

// CheckBackendFromConfig evaluates the transfer notification backend from
// config and, for the HTTP backend, connectivity.
func CheckBackendFromConfig(cfg *config.Config) Result {
	const name = "Transfer backend"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Stages.TransferData {
		return Result{Name: name, Passed: true, Detail: "Transfer stage disabled"}
	}
	switch cfg.Transfer.Backend {
	case "", "none":
		return Result{Name: name, Passed: true, Detail: "No notification backend"}
	case "http":
		if strings.TrimSpace(cfg.Transfer.HTTP.URL) == "" {
			return Result{Name: name, Detail: "Missing url"}
		}
		check := CheckNotifyEndpoint(context.Background(), name, cfg.Transfer.HTTP.URL)
		if check.Passed {
			return Result{Name: name, Passed: true, Detail: check.Detail}
		}
		return Result{Name: name, Detail: check.Detail}
	case "watchfile":
		check := CheckDirectoryAccess(name, cfg.Transfer.Watchfile.FlagDir)
		if check.Passed {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("watchfile flag dir %s", cfg.Transfer.Watchfile.FlagDir)}
		}
		return Result{Name: name, Detail: check.Detail}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("Unknown backend %q", cfg.Transfer.Backend)}
	}
}
