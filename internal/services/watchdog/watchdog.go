package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
)

// NoticeFile is one confirmed file in a transfer notice. Paths are relative
// to the destination root.
type NoticeFile struct {
	Path        string `json:"path" yaml:"path"`
	SizeBytes   int64  `json:"size_bytes" yaml:"size_bytes"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

// Notice describes a settled transfer for the downstream service.
type Notice struct {
	SessionID   string       `json:"session_id" yaml:"session_id"`
	Subject     string       `json:"subject" yaml:"subject"`
	Destination string       `json:"destination" yaml:"destination"`
	FileCount   int          `json:"file_count" yaml:"file_count"`
	TotalBytes  int64        `json:"total_bytes" yaml:"total_bytes"`
	CompletedAt time.Time    `json:"completed_at" yaml:"completed_at"`
	Files       []NoticeFile `json:"files" yaml:"files"`
}

// Backend delivers one notice after a session's copies settle. Transient
// delivery failures are tagged services.ErrTransient so the caller's retry
// classification applies; everything else is permanent.
type Backend interface {
	Name() string
	Notify(ctx context.Context, notice Notice) error
}

// New selects the backend from transfer configuration.
func New(cfg config.Transfer, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return Disabled{}, nil
	case "http":
		return NewHTTPBackend(cfg.HTTP, logger)
	case "watchfile":
		return NewWatchfileBackend(cfg.Watchfile, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
			fmt.Sprintf("unknown transfer backend %q", cfg.Backend), nil)
	}
}

// Disabled is the no-op backend used when no downstream service exists.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Notify(ctx context.Context, notice Notice) error {
	return ctx.Err()
}

var _ Backend = Disabled{}

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return logging.NewComponentLogger(logger, "watchdog")
}
