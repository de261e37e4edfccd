package session

import (
	"strings"
	"time"
)

// Stage represents the lifecycle of a run.
type Stage string

const (
	StageInit         Stage = "init"
	StageValidateEnv  Stage = "validate_env"
	StageRunTask      Stage = "run_task"
	StageMapMetadata  Stage = "map_metadata"
	StageTransferData Stage = "transfer_data"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
	StageAborted      Stage = "aborted"
	StagePartial      Stage = "partial"
)

// OperatorAbortReason is the message recorded when the operator interrupts a run.
const OperatorAbortReason = "Abort requested by operator"

// ReclaimReason is the attention reason set when a stale session is reclaimed.
const ReclaimReason = "Reclaimed after missed heartbeats"

var pipelineStages = []Stage{
	StageInit,
	StageValidateEnv,
	StageRunTask,
	StageMapMetadata,
	StageTransferData,
}

var allStages = []Stage{
	StageInit,
	StageValidateEnv,
	StageRunTask,
	StageMapMetadata,
	StageTransferData,
	StageDone,
	StageFailed,
	StageAborted,
	StagePartial,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

var terminalStages = map[Stage]struct{}{
	StageDone:    {},
	StageFailed:  {},
	StageAborted: {},
	StagePartial: {},
}

// DatabaseHealth captures diagnostic information about the session database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalSessions    int
	Error            string
}

// HealthSummary describes aggregated session counts per key lifecycle states.
type HealthSummary struct {
	Total   int
	Active  int
	Done    int
	Failed  int
	Aborted int
	Partial int
}

// Session represents one experiment run persisted in SQLite.
type Session struct {
	ID              string
	Subject         string
	Rig             string
	Operators       []string
	Notes           string
	TaskName        string
	Stage           Stage
	SessionDir      string
	DestinationDir  string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	LastHeartbeat   *time.Time
	TaskExitCode    *int64
	GitStateJSON    string
	MetadataJSON    string
	TransferJSON    string
	NeedsAttention  bool
	AttentionReason string
}

// PipelineStages returns the ordered list of executable stages.
func PipelineStages() []Stage {
	cp := make([]Stage, len(pipelineStages))
	copy(cp, pipelineStages)
	return cp
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	_, ok := terminalStages[s]
	return ok
}

// Running reports whether the session is still progressing through stages.
func (s Session) Running() bool {
	return !s.Stage.Terminal()
}

// ShortID returns the leading segment of the session identifier for display.
func (s Session) ShortID() string {
	id := strings.TrimSpace(s.ID)
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// SetFailed marks the session as failed with the given error message.
// Clears the heartbeat so the run is not reclaimed a second time.
func (s *Session) SetFailed(message string) {
	s.Stage = StageFailed
	s.ErrorMessage = message
	s.LastHeartbeat = nil
}

// SetAborted marks the session as aborted with the given reason.
func (s *Session) SetAborted(reason string) {
	s.Stage = StageAborted
	s.ErrorMessage = reason
	s.LastHeartbeat = nil
}

// SetPartial marks the session as partially transferred and flags it for
// attention so a later resume can finish the remaining files.
func (s *Session) SetPartial(reason string) {
	s.Stage = StagePartial
	s.NeedsAttention = true
	s.AttentionReason = reason
	s.LastHeartbeat = nil
}

// SetDone marks the session as completed successfully.
func (s *Session) SetDone() {
	s.Stage = StageDone
	s.ErrorMessage = ""
	s.LastHeartbeat = nil
}
