package adapter

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/vector"
)

// DefaultBatchSize is how many records one transaction-sized chunk covers.
const DefaultBatchSize = 100

// BatchOptions tunes a migration run.
type BatchOptions struct {
	// BatchSize groups progress reporting; 0 means DefaultBatchSize.
	BatchSize int

	// ContinueOnError skips bad records instead of aborting the run.
	ContinueOnError bool

	// DryRun adapts and validates without writing anything.
	DryRun bool

	// OnProgress fires after each batch with (processed, total).
	OnProgress func(processed, total int)
}

// RecordOutcome reports one record's disposition for the run log.
type RecordOutcome struct {
	Index    int    `json:"index"`
	ID       int64  `json:"id,omitempty"`
	Imported bool   `json:"imported"`
	Error    string `json:"error,omitempty"`
}

// BatchResult summarizes a migration run.
type BatchResult struct {
	Total      int             `json:"total"`
	Imported   int             `json:"imported"`
	Duplicates int             `json:"duplicates"`
	Errors     int             `json:"errors"`
	Records    []RecordOutcome `json:"records,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// MigrateBatch adapts and imports records through the idempotent store
// path, syncing imported rows into the vector backend. Duplicate rows
// (dedup key already present) count separately from errors; re-running a
// migration is safe and converges on zero imports.
func MigrateBatch(ctx context.Context, db *sql.DB, backend vector.Backend, m *Mapping, records []map[string]any, opts BatchOptions) (*BatchResult, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	result := &BatchResult{Total: len(records)}
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome := RecordOutcome{Index: i}
		err := migrateOne(ctx, db, backend, m, record, opts.DryRun, &outcome)
		if err != nil {
			outcome.Error = err.Error()
			result.Errors++
			result.Records = append(result.Records, outcome)
			if !opts.ContinueOnError {
				result.DurationMS = time.Since(start).Milliseconds()
				return result, fmt.Errorf("record %d: %w", i, err)
			}
			slog.Warn("skipping bad record", "index", i, "error", err)
			continue
		}
		if outcome.Imported {
			result.Imported++
		} else {
			result.Duplicates++
		}
		result.Records = append(result.Records, outcome)

		if opts.OnProgress != nil && ((i+1)%batchSize == 0 || i+1 == len(records)) {
			opts.OnProgress(i+1, len(records))
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func migrateOne(ctx context.Context, db *sql.DB, backend vector.Backend, m *Mapping, record map[string]any, dryRun bool, outcome *RecordOutcome) error {
	adapted, err := m.Adapt(record)
	if err != nil {
		return err
	}
	if dryRun {
		outcome.Imported = true
		return nil
	}

	res, err := store.ImportObservation(db, adapted.Observation)
	if err != nil {
		return err
	}
	outcome.ID = res.ID
	outcome.Imported = res.Imported
	if !res.Imported {
		return nil
	}

	adapted.Observation.ID = res.ID
	var syncErr error
	if pre, ok := backend.(vector.PrecomputedSyncer); ok && adapted.Embedding != nil {
		syncErr = pre.SyncObservationPrecomputed(ctx, adapted.Observation, adapted.Embedding)
	} else {
		syncErr = backend.SyncObservation(ctx, adapted.Observation)
	}
	if syncErr != nil {
		// The row is stored; indexing catches up on the next backfill.
		slog.Warn("vector sync deferred for imported record", "id", res.ID, "error", syncErr)
	}
	return nil
}

// ReadRecords loads source records from a JSON array file or a JSONL
// stream, decided by content rather than extension.
func ReadRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied import path
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	reader := bufio.NewReader(f)
	first, err := firstNonSpace(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	if first == '[' {
		var records []map[string]any
		if err := json.NewDecoder(reader).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to parse JSON array: %w", err)
		}
		return records, nil
	}

	var records []map[string]any
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	return records, nil
}

// firstNonSpace peeks past leading whitespace without consuming content.
func firstNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("records file is empty")
			}
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := r.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}
