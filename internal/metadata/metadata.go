package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stagecoach/internal/gitstate"
	"stagecoach/internal/ledger"
)

// TaskInfo summarizes the supervised task process inside a Record.
type TaskInfo struct {
	Name            string    `json:"name"`
	ExitCode        int       `json:"exit_code"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// FileEntry is one data file in the mapped record.
type FileEntry struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
	Fingerprint string `json:"fingerprint"`
}

// Record is the normalized session metadata produced by the mapper and
// shipped alongside the data files. MappedAt is the only field that varies
// between mappings of identical inputs.
type Record struct {
	Schema        string            `json:"schema"`
	SchemaVersion string            `json:"schema_version"`
	SessionID     string            `json:"session_id"`
	Subject       string            `json:"subject"`
	Rig           string            `json:"rig,omitempty"`
	Operators     []string          `json:"operators"`
	Notes         string            `json:"notes,omitempty"`
	Task          TaskInfo          `json:"task"`
	Git           *gitstate.State   `json:"git,omitempty"`
	Files         []FileEntry       `json:"files"`
	FileCount     int               `json:"file_count"`
	TotalBytes    int64             `json:"total_bytes"`
	Extra         map[string]string `json:"extra,omitempty"`
	MappedAt      time.Time         `json:"mapped_at"`
}

// Encode renders the record as indented JSON for the session directory.
func (r *Record) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata record: %w", err)
	}
	return append(data, '\n'), nil
}

// RunContext carries the session identity and provenance inputs to Map.
type RunContext struct {
	SessionID string
	Subject   string
	Rig       string
	Operators []string
	Notes     string
	TaskName  string
	Git       *gitstate.State
}

// TaskOutput carries the observable result of the supervised task: its exit
// status, timing, and the data files it left in the session directory.
type TaskOutput struct {
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []ledger.FileSpec
}

// FieldError names one missing or malformed record field.
type FieldError struct {
	Field  string
	Reason string
}

// MappingError reports every field that blocked a mapping.
type MappingError struct {
	Schema string
	Fields []FieldError
}

func (e *MappingError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("map to schema %s: %s", e.Schema, strings.Join(parts, "; "))
}

// FieldNames returns the offending field names in validation order.
func (e *MappingError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}
