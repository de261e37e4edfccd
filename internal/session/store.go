package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stagecoach/internal/config"
)

// Store manages session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the session database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.SessionsDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new session row and returns the stored representation.
func (s *Store) Create(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return nil, errors.New("session id is required")
	}
	if strings.TrimSpace(sess.Subject) == "" {
		return nil, errors.New("subject is required")
	}

	stage := sess.Stage
	if stage == "" {
		stage = StageInit
	}
	operators, err := marshalOperators(sess.Operators)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
            id, subject, rig, operators_json, notes, task_name, stage,
            session_dir, destination_dir, error_message, created_at, updated_at,
            completed_at, last_heartbeat, task_exit_code, git_state_json,
            metadata_json, transfer_json, needs_attention, attention_reason
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Subject,
		nullableString(sess.Rig),
		nullableString(operators),
		nullableString(sess.Notes),
		nullableString(sess.TaskName),
		stage,
		nullableString(sess.SessionDir),
		nullableString(sess.DestinationDir),
		nullableString(sess.ErrorMessage),
		timestamp,
		timestamp,
		nil,
		nil,
		nullableInt64(sess.TaskExitCode),
		nullableString(sess.GitStateJSON),
		nullableString(sess.MetadataJSON),
		nullableString(sess.TransferJSON),
		boolToInt(sess.NeedsAttention),
		nullableString(sess.AttentionReason),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return s.GetByID(ctx, sess.ID)
}

// GetByID fetches a session by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Update persists changes to an existing session.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}
	operators, err := marshalOperators(sess.Operators)
	if err != nil {
		return err
	}
	sess.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET subject = ?, rig = ?, operators_json = ?, notes = ?, task_name = ?,
             stage = ?, session_dir = ?, destination_dir = ?, error_message = ?,
             updated_at = ?, completed_at = ?, last_heartbeat = ?, task_exit_code = ?,
             git_state_json = ?, metadata_json = ?, transfer_json = ?,
             needs_attention = ?, attention_reason = ?
         WHERE id = ?`,
		sess.Subject,
		nullableString(sess.Rig),
		nullableString(operators),
		nullableString(sess.Notes),
		nullableString(sess.TaskName),
		sess.Stage,
		nullableString(sess.SessionDir),
		nullableString(sess.DestinationDir),
		nullableString(sess.ErrorMessage),
		sess.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(sess.CompletedAt),
		nullableTime(sess.LastHeartbeat),
		nullableInt64(sess.TaskExitCode),
		nullableString(sess.GitStateJSON),
		nullableString(sess.MetadataJSON),
		nullableString(sess.TransferJSON),
		boolToInt(sess.NeedsAttention),
		nullableString(sess.AttentionReason),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// List returns sessions filtered by stage set (or all sessions when no stage is provided).
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Session, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + sessionColumns + ` FROM sessions`
	orderClause := ` ORDER BY created_at`

	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := stageArgs(stages)
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// LatestByStages returns the most recently created session matching any of
// the provided stages, or the most recent session overall when none are given.
func (s *Store) LatestByStages(ctx context.Context, stages ...Stage) (*Session, error) {
	baseQuery := `SELECT ` + sessionColumns + ` FROM sessions`
	orderClause := ` ORDER BY created_at DESC LIMIT 1`

	var row *sql.Row
	if len(stages) == 0 {
		row = s.db.QueryRowContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := stageArgs(stages)
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		row = s.db.QueryRowContext(ctx, query, args...)
	}

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for a running session.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleSessions fails running sessions whose heartbeats expired before
// the cutoff. Reclaimed sessions are flagged for attention so operators can
// inspect what the crashed run left behind.
func (s *Store) ReclaimStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	placeholders := makePlaceholders(len(pipelineStages))
	args := make([]any, 0, len(pipelineStages)+5)
	args = append(args,
		StageFailed,
		"session heartbeat expired",
		ReclaimReason,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	args = append(args, stageArgs(pipelineStages)...)
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
        SET stage = ?, error_message = ?, needs_attention = 1, attention_reason = ?,
            last_heartbeat = NULL, completed_at = ?, updated_at = ?
        WHERE stage IN (`+placeholders+`) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// PruneTerminal removes finished sessions last touched before the cutoff.
func (s *Store) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []Stage{StageDone, StageFailed, StageAborted, StagePartial}
	placeholders := makePlaceholders(len(terminal))
	args := stageArgs(terminal)
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM sessions WHERE stage IN (`+placeholders+`) AND updated_at < ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a session by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Stats returns a count of sessions grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM sessions GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// Health aggregates session state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for stage, count := range stats {
		health.Total += count
		switch stage {
		case StageDone:
			health.Done += count
		case StageFailed:
			health.Failed += count
		case StageAborted:
			health.Aborted += count
		case StagePartial:
			health.Partial += count
		default:
			health.Active += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the session database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		DBPath:        s.path,
		SchemaVersion: "current",
	}

	if s.path == "" {
		return health, errors.New("session database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat session database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("session database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("session database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping session database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'sessions'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		colsRows, err := s.db.QueryContext(connCtx, "PRAGMA table_info(sessions)")
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("table info: %w", err)
		}
		defer colsRows.Close()

		var columns []string
		for colsRows.Next() {
			var (
				cid     int
				name    string
				typeStr string
				notNull int
				dflt    any
				pk      int
			)
			if err := colsRows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
				health.Error = err.Error()
				return health, fmt.Errorf("scan table info: %w", err)
			}
			columns = append(columns, name)
		}
		if err := colsRows.Err(); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("iterate table info: %w", err)
		}
		health.ColumnsPresent = append(health.ColumnsPresent, columns...)

		expected := []string{"id", "subject", "rig", "operators_json", "notes", "task_name", "stage", "session_dir", "destination_dir", "error_message", "created_at", "updated_at", "completed_at", "last_heartbeat", "task_exit_code", "git_state_json", "metadata_json", "transfer_json", "needs_attention", "attention_reason"}
		missingMap := make(map[string]struct{}, len(expected))
		for _, col := range expected {
			missingMap[col] = struct{}{}
		}
		for _, col := range columns {
			delete(missingMap, col)
		}
		for col := range missingMap {
			health.MissingColumns = append(health.MissingColumns, col)
		}

		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM sessions")
		if err := row.Scan(&health.TotalSessions); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count sessions: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

const sessionColumns = "id, subject, rig, operators_json, notes, task_name, stage, session_dir, destination_dir, error_message, created_at, updated_at, completed_at, last_heartbeat, task_exit_code, git_state_json, metadata_json, transfer_json, needs_attention, attention_reason"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id               string
		subject          string
		rig              sql.NullString
		operatorsRaw     sql.NullString
		notes            sql.NullString
		taskName         sql.NullString
		stageStr         string
		sessionDir       sql.NullString
		destinationDir   sql.NullString
		errorMessage     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		completedRaw     sql.NullString
		lastHeartbeatRaw sql.NullString
		taskExitCode     sql.NullInt64
		gitState         sql.NullString
		metadata         sql.NullString
		transfer         sql.NullString
		needsAttention   sql.NullInt64
		attentionReason  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&subject,
		&rig,
		&operatorsRaw,
		&notes,
		&taskName,
		&stageStr,
		&sessionDir,
		&destinationDir,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&lastHeartbeatRaw,
		&taskExitCode,
		&gitState,
		&metadata,
		&transfer,
		&needsAttention,
		&attentionReason,
	); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:              id,
		Subject:         subject,
		Rig:             rig.String,
		Operators:       unmarshalOperators(operatorsRaw.String),
		Notes:           notes.String,
		TaskName:        taskName.String,
		Stage:           Stage(stageStr),
		SessionDir:      sessionDir.String,
		DestinationDir:  destinationDir.String,
		ErrorMessage:    errorMessage.String,
		GitStateJSON:    gitState.String,
		MetadataJSON:    metadata.String,
		TransferJSON:    transfer.String,
		AttentionReason: attentionReason.String,
	}
	if needsAttention.Valid {
		sess.NeedsAttention = needsAttention.Int64 != 0
	}
	if taskExitCode.Valid {
		code := taskExitCode.Int64
		sess.TaskExitCode = &code
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		sess.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		sess.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			sess.CompletedAt = &completed
		}
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			sess.LastHeartbeat = &heartbeat
		}
	}
	return sess, nil
}

func marshalOperators(operators []string) (string, error) {
	if len(operators) == 0 {
		return "", nil
	}
	data, err := json.Marshal(operators)
	if err != nil {
		return "", fmt.Errorf("marshal operators: %w", err)
	}
	return string(data), nil
}

func unmarshalOperators(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var operators []string
	if err := json.Unmarshal([]byte(raw), &operators); err != nil {
		return nil
	}
	return operators
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func stageArgs(stages []Stage) []any {
	args := make([]any, len(stages))
	for i, stage := range stages {
		args[i] = stage
	}
	return args
}
