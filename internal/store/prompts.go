package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bpd1069/claude-mem/internal/models"
)

// StoreUserPrompt records one turn's user input for searchability.
// Idempotent on (content_session_id, prompt_number).
func StoreUserPrompt(db *sql.DB, p *models.UserPrompt) (models.StoreResult, error) {
	var result models.StoreResult
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at_epoch)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(content_session_id, prompt_number) DO NOTHING
		`, p.ContentSessionID, p.PromptNumber, p.PromptText, p.CreatedAtEpoch)
		if err != nil {
			return fmt.Errorf("failed to insert user prompt: %w", err)
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
			p.ID = id
			return nil
		}

		var existingID int64
		err = tx.QueryRowContext(context.Background(),
			`SELECT id FROM user_prompts WHERE content_session_id = ? AND prompt_number = ?`,
			p.ContentSessionID, p.PromptNumber).Scan(&existingID)
		if err != nil {
			return fmt.Errorf("failed to resolve duplicate user prompt: %w", err)
		}
		result = models.StoreResult{ID: existingID, Imported: false}
		p.ID = existingID
		return nil
	})
	return result, err
}

// NextPromptNumber returns 1 + the highest recorded prompt number for a
// session.
func NextPromptNumber(db *sql.DB, contentSessionID string) (int, error) {
	var max sql.NullInt64
	err := db.QueryRowContext(context.Background(),
		`SELECT MAX(prompt_number) FROM user_prompts WHERE content_session_id = ?`,
		contentSessionID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve prompt number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// ListUserPrompts returns prompts for backfill scans, oldest first.
func ListUserPrompts(db *sql.DB) ([]*models.UserPrompt, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT id, content_session_id, prompt_number, prompt_text, created_at_epoch
		FROM user_prompts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user prompts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectUserPrompts(rows)
}

func collectUserPrompts(rows *sql.Rows) ([]*models.UserPrompt, error) {
	var out []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &p.CreatedAtEpoch); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
