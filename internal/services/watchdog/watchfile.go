package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stagecoach/internal/config"
	"stagecoach/internal/fileutil"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
)

// watchfileManifest is the document dropped into the watched flag directory.
// The downstream scheduler matches on the manifest_<session>.yml name.
type watchfileManifest struct {
	Project      string       `yaml:"project,omitempty"`
	SessionID    string       `yaml:"session_id"`
	Subject      string       `yaml:"subject"`
	Destination  string       `yaml:"destination"`
	ScheduleHour int          `yaml:"schedule_hour"`
	FileCount    int          `yaml:"file_count"`
	TotalBytes   int64        `yaml:"total_bytes"`
	CompletedAt  time.Time    `yaml:"completed_at"`
	Files        []NoticeFile `yaml:"files"`
}

// WatchfileBackend writes a YAML manifest into a directory watched by the
// downstream scheduler. The write is atomic so the watcher never sees a
// half-written manifest.
type WatchfileBackend struct {
	flagDir      string
	project      string
	scheduleHour int
	logger       *slog.Logger
}

// NewWatchfileBackend builds the watch-directory backend from configuration.
func NewWatchfileBackend(cfg config.TransferWatchfile, logger *slog.Logger) (*WatchfileBackend, error) {
	flagDir := strings.TrimSpace(cfg.FlagDir)
	if flagDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
			"transfer.watchfile.flag_dir is required for the watchfile backend", nil)
	}
	hour := cfg.ScheduleHour
	if hour < 0 || hour > 23 {
		return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
			fmt.Sprintf("schedule_hour %d out of range 0-23", hour), nil)
	}
	return &WatchfileBackend{
		flagDir:      flagDir,
		project:      strings.TrimSpace(cfg.Project),
		scheduleHour: hour,
		logger:       componentLogger(logger),
	}, nil
}

func (b *WatchfileBackend) Name() string { return "watchfile" }

// Notify drops manifest_<session>.yml into the flag directory.
func (b *WatchfileBackend) Notify(ctx context.Context, notice Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := watchfileManifest{
		Project:      b.project,
		SessionID:    notice.SessionID,
		Subject:      notice.Subject,
		Destination:  notice.Destination,
		ScheduleHour: b.scheduleHour,
		FileCount:    notice.FileCount,
		TotalBytes:   notice.TotalBytes,
		CompletedAt:  notice.CompletedAt,
		Files:        notice.Files,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "", "watchdog", "encode manifest", err)
	}

	path := filepath.Join(b.flagDir, ManifestName(notice.SessionID))
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return services.Wrap(services.ErrConfiguration, "", "watchdog",
				fmt.Sprintf("flag directory %s is not writable", b.flagDir), err)
		}
		return services.Wrap(services.ErrTransient, "", "watchdog", "write manifest", err)
	}

	b.logger.Info("watchfile manifest dropped",
		logging.String("path", path),
		logging.String("session_id", notice.SessionID),
		logging.Int("file_count", notice.FileCount))
	return nil
}

// ManifestName returns the flag file name the downstream watcher matches.
func ManifestName(sessionID string) string {
	return fmt.Sprintf("manifest_%s.yml", sessionID)
}

var _ Backend = (*WatchfileBackend)(nil)
