package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bpd1069/claude-mem/internal/models"
)

// StoreSummary inserts the end-of-session roll-up. At most one summary
// exists per memory_session_id; a second store for the same session
// resolves to the existing row with Imported=false.
func StoreSummary(db *sql.DB, s *models.Summary) (models.StoreResult, error) {
	if s.MemorySessionID == "" {
		return models.StoreResult{}, errors.New("summary requires memory_session_id")
	}

	var result models.StoreResult
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			INSERT INTO session_summaries (
				content_session_id, memory_session_id, project,
				request, investigated, learned, completed, next_steps, notes,
				created_at_epoch
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(memory_session_id) DO NOTHING
		`,
			s.ContentSessionID, s.MemorySessionID, s.Project,
			s.Request, s.Investigated, s.Learned, s.Completed, s.NextSteps, s.Notes,
			s.CreatedAtEpoch,
		)
		if err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 1 {
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			result = models.StoreResult{ID: id, Imported: true}
			s.ID = id
			return nil
		}

		var existingID int64
		err = tx.QueryRowContext(context.Background(),
			`SELECT id FROM session_summaries WHERE memory_session_id = ?`,
			s.MemorySessionID).Scan(&existingID)
		if err != nil {
			return fmt.Errorf("failed to resolve duplicate summary: %w", err)
		}
		result = models.StoreResult{ID: existingID, Imported: false}
		s.ID = existingID
		return nil
	})
	return result, err
}

// GetSummaryByMemorySessionID returns the summary for a session, or nil
// when none has been written yet.
func GetSummaryByMemorySessionID(db *sql.DB, memorySessionID string) (*models.Summary, error) {
	row := db.QueryRowContext(context.Background(), `
		SELECT id, content_session_id, memory_session_id, project,
		       request, investigated, learned, completed, next_steps, notes,
		       created_at_epoch
		FROM session_summaries WHERE memory_session_id = ?
	`, memorySessionID)

	var s models.Summary
	err := row.Scan(
		&s.ID, &s.ContentSessionID, &s.MemorySessionID, &s.Project,
		&s.Request, &s.Investigated, &s.Learned, &s.Completed, &s.NextSteps, &s.Notes,
		&s.CreatedAtEpoch,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSummaries returns summaries for backfill scans, oldest first.
func ListSummaries(db *sql.DB) ([]*models.Summary, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT id, content_session_id, memory_session_id, project,
		       request, investigated, learned, completed, next_steps, notes,
		       created_at_epoch
		FROM session_summaries ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Summary
	for rows.Next() {
		var s models.Summary
		if err := rows.Scan(
			&s.ID, &s.ContentSessionID, &s.MemorySessionID, &s.Project,
			&s.Request, &s.Investigated, &s.Learned, &s.Completed, &s.NextSteps, &s.Notes,
			&s.CreatedAtEpoch,
		); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
