package session

import (
	"path/filepath"

	"stagecoach/internal/textutil"
)

// DirFor returns the working directory for a run rooted at dataRoot:
// <dataRoot>/<subject>/<session-id>. The subject segment is sanitized
// for safe filesystem use.
func DirFor(dataRoot, subject, id string) string {
	if dataRoot == "" {
		return ""
	}
	return filepath.Join(dataRoot, textutil.SanitizeToken(subject), id)
}

// DestinationFor returns the transfer destination directory mirroring the
// session layout under the destination root.
func DestinationFor(destRoot, subject, id string) string {
	if destRoot == "" {
		return ""
	}
	return filepath.Join(destRoot, textutil.SanitizeToken(subject), id)
}

// DataDir returns the directory the supervised task writes its output into.
func (s Session) DataDir() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "data")
}

// LogsDir returns the per-session log directory.
func (s Session) LogsDir() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "logs")
}

// SessionLogPath returns the structured log file for this run.
func (s Session) SessionLogPath() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "logs", "session.log")
}

// TaskLogPath returns the captured stdout/stderr of the supervised task.
func (s Session) TaskLogPath() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "logs", "task.log")
}

// ManifestPath returns the append-only stage manifest for this run.
func (s Session) ManifestPath() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "manifest.jsonl")
}

// LedgerPath returns the transfer ledger used to resume interrupted copies.
func (s Session) LedgerPath() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "transfer-ledger.json")
}

// MetadataPath returns the mapped metadata record written before transfer.
func (s Session) MetadataPath() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "metadata.json")
}

// TaskParamsPath returns the task parameter file selected during intake.
// The file is absent when no parameters were chosen for the run.
func (s Session) TaskParamsPath() string {
	if s.SessionDir == "" {
		return ""
	}
	return filepath.Join(s.SessionDir, "task_parameters.json")
}
