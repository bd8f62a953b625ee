package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bpd1069/claude-mem/internal/models"
)

// SearchByText is the non-vector search path used by the UI and as a
// degraded fallback when no vector backend is configured. It matches a
// case-insensitive substring against title, subtitle, narrative and facts.
func SearchByText(db *sql.DB, query, project string, limit int) ([]*models.Observation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(query) + "%"
	sqlQuery := `SELECT ` + observationColumns + ` FROM observations
		WHERE (title LIKE ? ESCAPE '\'
		    OR subtitle LIKE ? ESCAPE '\'
		    OR narrative LIKE ? ESCAPE '\'
		    OR facts LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern, pattern, pattern}

	if project != "" {
		sqlQuery += ` AND project = ?`
		args = append(args, project)
	}
	sqlQuery += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(context.Background(), sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows)
}

// GetStoreStats returns row counts for the status surfaces.
func GetStoreStats(db *sql.DB) (*models.StoreStats, error) {
	stats := &models.StoreStats{}
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM sessions`, &stats.Sessions},
		{`SELECT COUNT(*) FROM observations`, &stats.Observations},
		{`SELECT COUNT(*) FROM session_summaries`, &stats.Summaries},
		{`SELECT COUNT(*) FROM user_prompts`, &stats.UserPrompts},
		{`SELECT COUNT(*) FROM pending_messages WHERE processed_at IS NULL`, &stats.PendingQueued},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(context.Background(), c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}
	return stats, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
