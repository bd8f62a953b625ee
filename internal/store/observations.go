package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bpd1069/claude-mem/internal/models"
)

// Title length cap enforced on insert; longer titles are truncated rather
// than rejected so a verbose extractor never loses an observation.
const MaxObservationTitleLength = 80

const observationColumns = `id, content_session_id, memory_session_id, project, type, title,
	subtitle, narrative, facts, concepts, files_read, files_modified,
	prompt_number, created_at_epoch`

// StoreObservations inserts a batch of observations, enforcing the
// (memory_session_id, title, created_at_epoch) dedup rule. A duplicate
// tuple resolves to the existing row with Imported=false. Results are
// positional with the input batch.
func StoreObservations(db *sql.DB, batch []*models.Observation) ([]models.StoreResult, error) {
	results := make([]models.StoreResult, 0, len(batch))

	for _, obs := range batch {
		res, err := storeObservation(db, obs)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ImportObservation is the migration-pipeline entry point: identical to
// StoreObservations for a single row, but documented to accept externally
// assigned timestamps unchanged.
func ImportObservation(db *sql.DB, obs *models.Observation) (models.StoreResult, error) {
	return storeObservation(db, obs)
}

func storeObservation(db *sql.DB, obs *models.Observation) (models.StoreResult, error) {
	if obs.MemorySessionID == "" {
		return models.StoreResult{}, errors.New("observation requires memory_session_id")
	}
	if obs.Title == "" {
		obs.Title = "Untitled"
	}
	if len(obs.Title) > MaxObservationTitleLength {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := MaxObservationTitleLength
		for cut > 0 && !utf8.RuneStart(obs.Title[cut]) {
			cut--
		}
		obs.Title = obs.Title[:cut]
	}
	if !obs.Type.Valid() {
		obs.Type = models.ObservationDiscovery
	}

	var result models.StoreResult
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			INSERT INTO observations (
				content_session_id, memory_session_id, project, type, title,
				subtitle, narrative, facts, concepts, files_read, files_modified,
				prompt_number, created_at_epoch
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(memory_session_id, title, created_at_epoch) DO NOTHING
		`,
			obs.ContentSessionID, obs.MemorySessionID, obs.Project, string(obs.Type), obs.Title,
			obs.Subtitle, obs.Narrative,
			marshalStringList(obs.Facts), marshalStringList(obs.Concepts),
			marshalStringList(obs.FilesRead), marshalStringList(obs.FilesModified),
			obs.PromptNumber, obs.CreatedAtEpoch,
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
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
			obs.ID = id
			return nil
		}

		// Dedup collision: resolve to the existing row's id.
		var existingID int64
		err = tx.QueryRowContext(context.Background(), `
			SELECT id FROM observations
			WHERE memory_session_id = ? AND title = ? AND created_at_epoch = ?
		`, obs.MemorySessionID, obs.Title, obs.CreatedAtEpoch).Scan(&existingID)
		if err != nil {
			return fmt.Errorf("failed to resolve duplicate observation: %w", err)
		}
		result = models.StoreResult{ID: existingID, Imported: false}
		obs.ID = existingID
		return nil
	})
	return result, err
}

// GetObservationsByIDs returns observations by id, preserving input order.
// Missing ids are silently skipped.
func GetObservationsByIDs(db *sql.DB, ids []int64) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(context.Background(),
		`SELECT `+observationColumns+` FROM observations WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*models.Observation, len(ids))
	for rows.Next() {
		obs, err := scanObservationRow(rows)
		if err != nil {
			return nil, err
		}
		byID[obs.ID] = obs
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Observation, 0, len(ids))
	for _, id := range ids {
		if obs, ok := byID[id]; ok {
			out = append(out, obs)
		}
	}
	return out, nil
}

// GetTimeline returns the observations within ±radius ids of the anchor,
// ordered by id. The anchor itself is included when present.
func GetTimeline(db *sql.DB, anchorID int64, radius int64) ([]*models.Observation, error) {
	if radius < 0 {
		radius = 0
	}
	rows, err := db.QueryContext(context.Background(),
		`SELECT `+observationColumns+` FROM observations
		 WHERE id BETWEEN ? AND ? ORDER BY id`,
		anchorID-radius, anchorID+radius)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows)
}

// ListObservations returns the most recent observations, optionally scoped
// to a project, newest first. A negative limit returns everything (SQLite
// treats LIMIT -1 as unbounded).
func ListObservations(db *sql.DB, project string, limit int) ([]*models.Observation, error) {
	if limit == 0 {
		limit = 50
	}
	if limit < 0 {
		limit = -1
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	args := []any{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows)
}

func collectObservations(rows *sql.Rows) ([]*models.Observation, error) {
	var out []*models.Observation
	for rows.Next() {
		obs, err := scanObservationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func scanObservationRow(row rowScanner) (*models.Observation, error) {
	var obs models.Observation
	var facts, concepts, filesRead, filesModified string
	err := row.Scan(
		&obs.ID, &obs.ContentSessionID, &obs.MemorySessionID, &obs.Project,
		&obs.Type, &obs.Title, &obs.Subtitle, &obs.Narrative,
		&facts, &concepts, &filesRead, &filesModified,
		&obs.PromptNumber, &obs.CreatedAtEpoch,
	)
	if err != nil {
		return nil, err
	}
	obs.Facts = unmarshalStringList(facts)
	obs.Concepts = unmarshalStringList(concepts)
	obs.FilesRead = unmarshalStringList(filesRead)
	obs.FilesModified = unmarshalStringList(filesModified)
	return &obs, nil
}
