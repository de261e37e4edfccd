package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Mode selects how file identity is computed.
type Mode string

const (
	// ModeChecksum fingerprints file contents with SHA-256.
	ModeChecksum Mode = "checksum"
	// ModeStat fingerprints size and modification time only. Cheaper, but
	// blind to in-place edits that preserve both.
	ModeStat Mode = "stat"
)

// State tracks a transfer job through its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Job is one file the transfer stage must place at the destination.
type Job struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Size        int64      `json:"size"`
	Fingerprint string     `json:"fingerprint"`
	State       State      `json:"state"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Ledger is the persisted transfer plan for one session. The ordered job
// list survives interruptions so a resumed run re-attempts only what was
// never confirmed.
type Ledger struct {
	SessionID       string    `json:"session_id"`
	Subject         string    `json:"subject,omitempty"`
	DestinationRoot string    `json:"destination_root"`
	FingerprintMode Mode      `json:"fingerprint_mode"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Jobs            []*Job    `json:"jobs"`
}

// Summary aggregates job counts for reporting.
type Summary struct {
	Total          int
	Pending        int
	Confirmed      int
	Failed         int
	TotalBytes     int64
	ConfirmedBytes int64
}

// FileSpec describes one source file discovered for transfer.
type FileSpec struct {
	RelPath     string
	Source      string
	Destination string
	Size        int64
	Fingerprint string
}

// Fingerprint computes the identity of the file at filePath using mode.
// Checksum fingerprints look like "sha256:<hex>"; stat fingerprints look
// like "stat:<size>:<mtime-unixnano>".
func Fingerprint(filePath string, mode Mode) (string, error) {
	switch mode {
	case ModeStat:
		info, err := os.Stat(filePath)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", filePath, err)
		}
		return fmt.Sprintf("stat:%d:%d", info.Size(), info.ModTime().UnixNano()), nil
	case ModeChecksum, "":
		file, err := os.Open(filePath)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", filePath, err)
		}
		defer file.Close()
		hasher := sha256.New()
		if _, err := io.Copy(hasher, file); err != nil {
			return "", fmt.Errorf("hash %s: %w", filePath, err)
		}
		return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
	default:
		return "", fmt.Errorf("unknown fingerprint mode %q", mode)
	}
}

// ScanTree walks srcRoot and produces one FileSpec per regular file.
// RelPath is prefixed with relPrefix so specs from multiple roots keep
// unique identifiers; Destination mirrors the tree under dstRoot.
// A missing srcRoot yields an empty slice.
func ScanTree(srcRoot, dstRoot, relPrefix string, mode Mode) ([]FileSpec, error) {
	var specs []FileSpec
	err := filepath.WalkDir(srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == srcRoot && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fingerprint, err := Fingerprint(p, mode)
		if err != nil {
			return err
		}
		specs = append(specs, FileSpec{
			RelPath:     path.Join(relPrefix, filepath.ToSlash(rel)),
			Source:      p,
			Destination: filepath.Join(dstRoot, rel),
			Size:        info.Size(),
			Fingerprint: fingerprint,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", srcRoot, err)
	}
	return specs, nil
}

// SpecForFile builds a FileSpec for a single file outside a scanned tree.
func SpecForFile(source, destination, relPath string, mode Mode) (FileSpec, error) {
	info, err := os.Stat(source)
	if err != nil {
		return FileSpec{}, fmt.Errorf("stat %s: %w", source, err)
	}
	fingerprint, err := Fingerprint(source, mode)
	if err != nil {
		return FileSpec{}, err
	}
	return FileSpec{
		RelPath:     relPath,
		Source:      source,
		Destination: destination,
		Size:        info.Size(),
		Fingerprint: fingerprint,
	}, nil
}

// Merge reconciles a previous ledger with freshly scanned files. Jobs keep
// their confirmed state only when the fingerprint is unchanged; changed
// files are re-queued, vanished files are dropped, and new files are
// appended in scan order. A nil previous ledger yields a fresh plan.
func Merge(previous *Ledger, sessionID, destRoot string, mode Mode, files []FileSpec) *Ledger {
	now := time.Now().UTC()
	merged := &Ledger{
		SessionID:       sessionID,
		DestinationRoot: destRoot,
		FingerprintMode: mode,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if previous != nil && !previous.CreatedAt.IsZero() {
		merged.CreatedAt = previous.CreatedAt
	}
	if previous != nil {
		merged.Subject = previous.Subject
	}

	existing := map[string]*Job{}
	if previous != nil {
		for _, job := range previous.Jobs {
			existing[job.ID] = job
		}
	}

	for _, file := range files {
		prev, ok := existing[file.RelPath]
		if ok && prev.State == StateConfirmed && prev.Fingerprint == file.Fingerprint {
			keep := *prev
			keep.Source = file.Source
			keep.Destination = file.Destination
			merged.Jobs = append(merged.Jobs, &keep)
			continue
		}
		job := &Job{
			ID:          file.RelPath,
			Source:      file.Source,
			Destination: file.Destination,
			Size:        file.Size,
			Fingerprint: file.Fingerprint,
			State:       StatePending,
			UpdatedAt:   now,
		}
		merged.Jobs = append(merged.Jobs, job)
	}
	return merged
}

// MarkInFlight records the start of a copy attempt.
func (j *Job) MarkInFlight() {
	j.State = StateInFlight
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
}

// MarkConfirmed records a verified copy.
func (j *Job) MarkConfirmed() {
	now := time.Now().UTC()
	j.State = StateConfirmed
	j.LastError = ""
	j.UpdatedAt = now
	j.ConfirmedAt = &now
}

// MarkFailed records a copy failure.
func (j *Job) MarkFailed(message string) {
	j.State = StateFailed
	j.LastError = message
	j.UpdatedAt = time.Now().UTC()
}

// RetryCount returns how many retries the job has consumed (attempts minus
// the first try).
func (j *Job) RetryCount() int {
	if j.Attempts <= 0 {
		return 0
	}
	return j.Attempts - 1
}

// Unconfirmed returns the jobs a resumed run must still attempt.
func (l *Ledger) Unconfirmed() []*Job {
	var jobs []*Job
	for _, job := range l.Jobs {
		if job.State != StateConfirmed {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Complete reports whether every job is confirmed.
func (l *Ledger) Complete() bool {
	for _, job := range l.Jobs {
		if job.State != StateConfirmed {
			return false
		}
	}
	return true
}

// Job returns the job with the given id, or nil.
func (l *Ledger) Job(id string) *Job {
	for _, job := range l.Jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// Summarize aggregates job counts and byte totals.
func (l *Ledger) Summarize() Summary {
	summary := Summary{}
	for _, job := range l.Jobs {
		summary.Total++
		summary.TotalBytes += job.Size
		switch job.State {
		case StateConfirmed:
			summary.Confirmed++
			summary.ConfirmedBytes += job.Size
		case StateFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary
}
