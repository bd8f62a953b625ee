package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bpd1069/claude-mem/internal/models"
)

// EnqueueObservationMessage appends a tool-call capture to the session's
// pending queue.
func EnqueueObservationMessage(db *sql.DB, sessionID int64, toolName string, toolInput, toolResponse json.RawMessage, promptNumber int, cwd string) (int64, error) {
	return enqueuePending(db, &models.PendingMessage{
		SessionID:    sessionID,
		Type:         models.PendingObservation,
		ToolName:     toolName,
		ToolInput:    toolInput,
		ToolResponse: toolResponse,
		PromptNumber: promptNumber,
		CWD:          cwd,
	})
}

// EnqueueSummaryMessage appends a summarize request to the session's
// pending queue.
func EnqueueSummaryMessage(db *sql.DB, sessionID int64, lastAssistantMessage string, promptNumber int) (int64, error) {
	return enqueuePending(db, &models.PendingMessage{
		SessionID:            sessionID,
		Type:                 models.PendingSummarize,
		LastAssistantMessage: lastAssistantMessage,
		PromptNumber:         promptNumber,
	})
}

func enqueuePending(db *sql.DB, m *models.PendingMessage) (int64, error) {
	if m.SessionID == 0 {
		return 0, errors.New("pending message requires session_id")
	}

	var id int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), `
			INSERT INTO pending_messages (
				session_id, type, tool_name, tool_input, tool_response,
				prompt_number, cwd, last_assistant_message
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.SessionID, string(m.Type), m.ToolName,
			string(m.ToolInput), string(m.ToolResponse),
			m.PromptNumber, m.CWD, m.LastAssistantMessage,
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue pending message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ClaimNextPending atomically claims the oldest unprocessed, un-claimed
// message for a session by setting its in_flight marker. Returns nil when
// the queue is drained. The claim survives only within a running worker;
// ResetStuckMessages clears markers orphaned by a crash.
func ClaimNextPending(db *sql.DB, sessionID int64) (*models.PendingMessage, error) {
	var msg *models.PendingMessage
	err := Transact(db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(context.Background(), `
			SELECT id, session_id, type, tool_name, tool_input, tool_response,
			       prompt_number, cwd, last_assistant_message, enqueued_at, processed_at
			FROM pending_messages
			WHERE session_id = ? AND processed_at IS NULL AND in_flight = 0
			ORDER BY enqueued_at, id
			LIMIT 1
		`, sessionID)

		m, err := scanPendingRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			msg = nil
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(context.Background(),
			`UPDATE pending_messages SET in_flight = 1 WHERE id = ?`, m.ID)
		if err != nil {
			return fmt.Errorf("failed to claim pending message %d: %w", m.ID, err)
		}
		msg = m
		return nil
	})
	return msg, err
}

// MarkProcessed transitions a message processed_at NULL -> now. Called only
// after the observation has been committed and synced, so a crash before
// this point leaves the row claimable after restart.
func MarkProcessed(db *sql.DB, messageID int64) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			UPDATE pending_messages
			SET processed_at = CURRENT_TIMESTAMP, in_flight = 0
			WHERE id = ? AND processed_at IS NULL
		`, messageID)
		if err != nil {
			return fmt.Errorf("failed to mark message %d processed: %w", messageID, err)
		}
		return nil
	})
}

// ReleasePending clears a claim without processing, returning the message
// to the queue (used when a generator aborts between claim and commit).
func ReleasePending(db *sql.DB, messageID int64) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(),
			`UPDATE pending_messages SET in_flight = 0 WHERE id = ? AND processed_at IS NULL`, messageID)
		return err
	})
}

// ResetStuckMessages clears in_flight markers left by a crashed worker.
// Run once on worker start, before any generator spawns. Returns the
// number of resurrected rows.
func ResetStuckMessages(db *sql.DB) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(),
			`UPDATE pending_messages SET in_flight = 0 WHERE in_flight = 1 AND processed_at IS NULL`)
		if err != nil {
			return fmt.Errorf("failed to reset stuck messages: %w", err)
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// CleanupProcessed deletes processed rows older than the retention window.
// The pending table is a queue, not history; observations carry the record.
func CleanupProcessed(db *sql.DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	var count int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), fmt.Sprintf(`
			DELETE FROM pending_messages
			WHERE processed_at IS NOT NULL
			  AND processed_at < datetime('now', '-%d days')
		`, retentionDays))
		if err != nil {
			return fmt.Errorf("failed to clean up processed messages: %w", err)
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// CountPending returns the number of unprocessed messages for a session
// (0 session id counts across all sessions).
func CountPending(db *sql.DB, sessionID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM pending_messages WHERE processed_at IS NULL`
	args := []any{}
	if sessionID != 0 {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	var n int64
	err := db.QueryRowContext(context.Background(), query, args...).Scan(&n)
	return n, err
}

func scanPendingRow(row rowScanner) (*models.PendingMessage, error) {
	var m models.PendingMessage
	var msgType, toolInput, toolResponse string
	var processedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.SessionID, &msgType, &m.ToolName, &toolInput, &toolResponse,
		&m.PromptNumber, &m.CWD, &m.LastAssistantMessage, &m.EnqueuedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = models.PendingMessageType(msgType)
	if toolInput != "" {
		m.ToolInput = json.RawMessage(toolInput)
	}
	if toolResponse != "" {
		m.ToolResponse = json.RawMessage(toolResponse)
	}
	m.ProcessedAt = scanNullTime(processedAt)
	return &m, nil
}
