package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"stagecoach/internal/session"
)

// EventType enumerates manifest event kinds.
type EventType string

const (
	EventTransition EventType = "transition"
	EventFailure    EventType = "failure"
	EventSnapshot   EventType = "resource_snapshot"
	EventGitState   EventType = "git_state"
	EventNote       EventType = "note"
)

// Event is one line in the session manifest.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Cause     string         `json:"cause,omitempty"`
	Entity    string         `json:"entity,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Writer appends events to a session manifest file. Appends are serialized
// with a file lock so concurrent writers never interleave partial lines.
type Writer struct {
	path      string
	sessionID string
	lock      *flock.Flock
}

// NewWriter creates a writer for the manifest at path. Events appended
// without a session id are stamped with sessionID.
func NewWriter(path, sessionID string) *Writer {
	return &Writer{
		path:      path,
		sessionID: sessionID,
		lock:      flock.New(path + ".lock"),
	}
}

// Path returns the manifest file location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one event as a JSON line, filling the timestamp and session
// id when unset. The line is synced to disk before Append returns so the
// manifest survives a crash in the following stage.
func (w *Writer) Append(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = w.sessionID
	}
	if event.Type == "" {
		return errors.New("manifest event requires a type")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal manifest event: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("lock manifest: %w", err)
	}
	defer func() {
		_ = w.lock.Unlock()
	}()

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("append manifest event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	return file.Close()
}

// Transition records a stage change. Transitions are appended before the
// next stage begins so the manifest always reflects at least the current stage.
func (w *Writer) Transition(from, to session.Stage, cause string) error {
	return w.Append(Event{
		Type:  EventTransition,
		From:  string(from),
		To:    string(to),
		Cause: cause,
	})
}

// Failure records a stage failure with its cause and the entity involved.
func (w *Writer) Failure(stage session.Stage, cause, entity string) error {
	return w.Append(Event{
		Type:   EventFailure,
		Stage:  string(stage),
		Cause:  cause,
		Entity: entity,
	})
}

// Snapshot records a resource snapshot observed during a stage.
func (w *Writer) Snapshot(stage session.Stage, fields map[string]any) error {
	return w.Append(Event{
		Type:   EventSnapshot,
		Stage:  string(stage),
		Fields: fields,
	})
}

// GitState records the repository state captured during validation.
func (w *Writer) GitState(fields map[string]any) error {
	return w.Append(Event{
		Type:   EventGitState,
		Stage:  string(session.StageValidateEnv),
		Fields: fields,
	})
}

// Note records a freeform progress event.
func (w *Writer) Note(stage session.Stage, cause string, fields map[string]any) error {
	return w.Append(Event{
		Type:   EventNote,
		Stage:  string(stage),
		Cause:  cause,
		Fields: fields,
	})
}

// Read parses every event in the manifest at path.
func Read(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("parse manifest line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return events, nil
}

var stageOrder = map[session.Stage]int{
	session.StageInit:         0,
	session.StageValidateEnv:  1,
	session.StageRunTask:      2,
	session.StageMapMetadata:  3,
	session.StageTransferData: 4,
	session.StageDone:         5,
}

// ValidateHistory checks the transition events against the stage contract:
// stages advance through the canonical order (skips allowed), any stage may
// jump to a terminal stage, and nothing follows a terminal transition.
func ValidateHistory(events []Event) error {
	terminated := false
	lastIndex := -1
	for i, event := range events {
		if event.Type != EventTransition {
			continue
		}
		if terminated {
			return fmt.Errorf("event %d: transition after terminal stage", i)
		}
		to := session.Stage(event.To)
		if to.Terminal() && to != session.StageDone {
			terminated = true
			continue
		}
		index, ok := stageOrder[to]
		if !ok {
			return fmt.Errorf("event %d: unknown stage %q", i, event.To)
		}
		if index <= lastIndex {
			return fmt.Errorf("event %d: stage %q does not advance the pipeline", i, event.To)
		}
		lastIndex = index
		if to == session.StageDone {
			terminated = true
		}
	}
	return nil
}
