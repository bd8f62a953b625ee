package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bpd1069/claude-mem/internal/models"
)

// ErrMemorySessionIDConflict is returned when a session's memory_session_id
// is already set to a different value. The id is assigned at most once.
var ErrMemorySessionIDConflict = errors.New("memory_session_id already set to a different value")

// CreateSession creates a session row for a content_session_id, or returns
// the existing one. Idempotent: re-posting session-init for the same host
// session is a lookup, not a duplicate.
func CreateSession(db *sql.DB, contentSessionID, project, userPrompt string) (*models.Session, error) {
	if contentSessionID == "" {
		return nil, errors.New("content_session_id is required")
	}

	err := RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO sessions (content_session_id, project, user_prompt)
			VALUES (?, ?, ?)
			ON CONFLICT(content_session_id) DO NOTHING
		`, contentSessionID, project, userPrompt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return GetSessionByContentID(db, contentSessionID)
}

// GetSessionByContentID looks up a session by the host's session identifier.
func GetSessionByContentID(db *sql.DB, contentSessionID string) (*models.Session, error) {
	row := db.QueryRowContext(context.Background(), `
		SELECT id, content_session_id, memory_session_id, project, status, user_prompt, started_at
		FROM sessions WHERE content_session_id = ?
	`, contentSessionID)
	return scanSessionRow(row)
}

// GetSessionByID looks up a session by database id.
func GetSessionByID(db *sql.DB, id int64) (*models.Session, error) {
	row := db.QueryRowContext(context.Background(), `
		SELECT id, content_session_id, memory_session_id, project, status, user_prompt, started_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSessionRow(row)
}

// UpdateMemorySessionID assigns the extractor's session identifier.
// The value is set at most once: a second call with the same value is a
// no-op, a different value returns ErrMemorySessionIDConflict.
func UpdateMemorySessionID(db *sql.DB, sessionID int64, memorySessionID string) error {
	if memorySessionID == "" {
		return errors.New("memory_session_id is required")
	}

	return Transact(db, func(tx *sql.Tx) error {
		var existing sql.NullString
		err := tx.QueryRowContext(context.Background(),
			`SELECT memory_session_id FROM sessions WHERE id = ?`, sessionID).Scan(&existing)
		if err != nil {
			return fmt.Errorf("failed to look up session %d: %w", sessionID, err)
		}

		if existing.Valid && existing.String != "" {
			if existing.String == memorySessionID {
				return nil
			}
			return fmt.Errorf("session %d: %w", sessionID, ErrMemorySessionIDConflict)
		}

		_, err = tx.ExecContext(context.Background(),
			`UPDATE sessions SET memory_session_id = ? WHERE id = ?`, memorySessionID, sessionID)
		if err != nil {
			return fmt.Errorf("failed to set memory_session_id: %w", err)
		}
		return nil
	})
}

// MarkSessionCompleted transitions a session to completed.
func MarkSessionCompleted(db *sql.DB, sessionID int64) error {
	return setSessionStatus(db, sessionID, models.SessionStatusCompleted)
}

// MarkSessionFailed transitions a session to failed.
func MarkSessionFailed(db *sql.DB, sessionID int64) error {
	return setSessionStatus(db, sessionID, models.SessionStatusFailed)
}

func setSessionStatus(db *sql.DB, sessionID int64, status models.SessionStatus) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(),
			`UPDATE sessions SET status = ? WHERE id = ?`, string(status), sessionID)
		if err != nil {
			return fmt.Errorf("failed to mark session %s: %w", status, err)
		}
		return nil
	})
}

// ListProjects returns the distinct project names with session counts,
// most recently started first.
func ListProjects(db *sql.DB) ([]models.ProjectStats, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT project, COUNT(*) AS sessions, MAX(started_at) AS last_started
		FROM sessions
		WHERE project != ''
		GROUP BY project
		ORDER BY last_started DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.ProjectStats
	for rows.Next() {
		var p models.ProjectStats
		var lastStarted sql.NullString
		if err := rows.Scan(&p.Project, &p.Sessions, &lastStarted); err != nil {
			return nil, err
		}
		// MAX() strips the column's datetime affinity, so parse by hand.
		if lastStarted.Valid {
			if ts, err := time.Parse("2006-01-02 15:04:05", lastStarted.String); err == nil {
				p.LastStarted = ts
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSessionRow(row rowScanner) (*models.Session, error) {
	var s models.Session
	var memID sql.NullString
	if err := row.Scan(&s.ID, &s.ContentSessionID, &memID, &s.Project, &s.Status, &s.UserPrompt, &s.StartedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", err)
		}
		return nil, err
	}
	s.MemorySessionID = scanNullString(memID)
	return &s, nil
}
