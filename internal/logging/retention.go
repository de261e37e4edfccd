package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget specifies a directory and filename pattern to prune.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes files matching the provided targets that are older
// than retentionDays. A retentionDays value of 0 disables pruning. Unreadable
// directories and entries are skipped rather than failing the run.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		excluded := excludeSet(target.Exclude)
		for _, entry := range entries {
			path, prune := pruneCandidate(dir, entry, target.Pattern, excluded, cutoff)
			if !prune {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_dir ownership"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			if logger != nil {
				logger.Info("log pruned",
					String("path", path),
					String(FieldEventType, "log_pruned"),
				)
			}
		}
	}
}

func excludeSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if abs, err := filepath.Abs(trimmed); err == nil {
			set[abs] = struct{}{}
		}
	}
	return set
}

func pruneCandidate(dir string, entry os.DirEntry, pattern string, excluded map[string]struct{}, cutoff time.Time) (string, bool) {
	if entry.IsDir() {
		return "", false
	}
	if pat := strings.TrimSpace(pattern); pat != "" {
		matched, err := filepath.Match(pat, entry.Name())
		if err != nil || !matched {
			return "", false
		}
	}
	path := filepath.Join(dir, entry.Name())
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if _, skip := excluded[path]; skip {
		return "", false
	}
	info, err := entry.Info()
	if err != nil {
		return "", false
	}
	return path, info.ModTime().Before(cutoff)
}
