package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/courier/pkg/models"
)

const sessionColumns = `id, origin_id, title, description, status, strategy, reason,
	metadata, analysis, tasks, active_agents, summary, created_at, updated_at`

// terminalStatuses is the SQL list literal of terminal session statuses.
const terminalStatuses = `('completed', 'failed', 'cancelled')`

// Save inserts or replaces a full session snapshot. A zero UpdatedAt is
// stored as the current time.
func (db *DB) Save(s *models.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("save session: id is required")
	}

	metadata, err := marshalJSON(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	analysis, err := marshalJSON(s.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	tasks, err := marshalJSON(s.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	agents, err := marshalJSON(s.ActiveAgents)
	if err != nil {
		return fmt.Errorf("marshal active agents: %w", err)
	}
	summary, err := marshalJSON(s.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = db.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			origin_id = excluded.origin_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			strategy = excluded.strategy,
			reason = excluded.reason,
			metadata = excluded.metadata,
			analysis = excluded.analysis,
			tasks = excluded.tasks,
			active_agents = excluded.active_agents,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, s.ID, s.OriginID, s.Title, s.Description, string(s.Status), string(s.Strategy), s.Reason,
		metadata, analysis, tasks, agents, summary, formatTime(created), formatTime(updated))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load retrieves a session by ID.
func (db *DB) Load(id string) (*models.Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return s, nil
}

// LoadByOrigin retrieves the newest non-terminal session for an origin, or
// the newest terminal one when none is active.
func (db *DB) LoadByOrigin(originID string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE origin_id = ?
		ORDER BY CASE WHEN status IN `+terminalStatuses+` THEN 1 ELSE 0 END, created_at DESC
		LIMIT 1
	`, originID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load session for origin %s: %w", originID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session for origin %s: %w", originID, err)
	}
	return s, nil
}

// List returns all sessions, newest first.
func (db *DB) List() ([]*models.Session, error) {
	return db.list(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`)
}

// ListActive returns non-terminal sessions, newest first.
func (db *DB) ListActive() ([]*models.Session, error) {
	return db.list(`SELECT ` + sessionColumns + ` FROM sessions
		WHERE status NOT IN ` + terminalStatuses + ` ORDER BY created_at DESC`)
}

func (db *DB) list(query string, args ...any) ([]*models.Session, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStatus changes the status of a stored session.
func (db *DB) UpdateStatus(id string, status models.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update session status: invalid status %q", status)
	}
	result, err := db.Exec(`
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// CleanupOlderThan deletes terminal sessions not updated within days.
// Returns the number of sessions deleted.
func (db *DB) CleanupOlderThan(days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("cleanup sessions: days must be positive, got %d", days)
	}
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	result, err := db.Exec(`
		DELETE FROM sessions WHERE status IN `+terminalStatuses+` AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		s                    models.Session
		status, strategy     string
		metadata, analysis   sql.NullString
		tasks, agents        sql.NullString
		summary              sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.OriginID, &s.Title, &s.Description, &status, &strategy, &s.Reason,
		&metadata, &analysis, &tasks, &agents, &summary, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.Strategy = models.Strategy(strategy)

	if err := unmarshalJSON(metadata, &s.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(analysis, &s.Analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	if err := unmarshalJSON(tasks, &s.Tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	if err := unmarshalJSON(agents, &s.ActiveAgents); err != nil {
		return nil, fmt.Errorf("unmarshal active agents: %w", err)
	}
	if err := unmarshalJSON(summary, &s.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}

	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &s, nil
}

// marshalJSON stores nil values as SQL NULL.
func marshalJSON(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
