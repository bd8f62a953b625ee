package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/vector"
)

// recordingBackend captures which sync path each imported row took.
type recordingBackend struct {
	vector.Disabled
	embedded [][]float32
	synced   int
}

func (b *recordingBackend) SyncObservation(_ context.Context, _ *models.Observation) error {
	b.synced++
	return nil
}

func (b *recordingBackend) SyncObservationPrecomputed(_ context.Context, _ *models.Observation, vec []float32) error {
	b.embedded = append(b.embedded, vec)
	return nil
}

func migrationRecords() []map[string]any {
	return []map[string]any{
		{"meta": map[string]any{"title": "first", "project": "p"}, "session": "mem-1", "ts": float64(1700000000000)},
		{"meta": map[string]any{"title": "second", "project": "p"}, "session": "mem-1", "ts": float64(1700000001000)},
	}
}

func TestMigrateBatchConverges(t *testing.T) {
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	backend := vector.Disabled{}
	ctx := context.Background()

	result, err := MigrateBatch(ctx, db, backend, testMapping(), migrationRecords(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Imported)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.Errors)

	// A re-run of the same export imports nothing.
	result, err = MigrateBatch(ctx, db, backend, testMapping(), migrationRecords(), BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Equal(t, 2, result.Duplicates)
}

func TestMigrateBatchPrecomputedEmbedding(t *testing.T) {
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	m := testMapping()
	m.Fields["embedding"] = FieldSpec{Path: "vec", Transform: "array"}

	// Only the first record carries a source vector; the second falls back
	// to the embedding path.
	records := migrationRecords()
	records[0]["vec"] = []any{0.25, 0.5}

	backend := &recordingBackend{}
	result, err := MigrateBatch(context.Background(), db, backend, m, records, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)

	require.Len(t, backend.embedded, 1)
	assert.Equal(t, []float32{0.25, 0.5}, backend.embedded[0])
	assert.Equal(t, 1, backend.synced)
}

func TestMigrateBatchContinueOnError(t *testing.T) {
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	records := migrationRecords()
	records = append(records, map[string]any{"body": "record without a title"})

	result, err := MigrateBatch(context.Background(), db, vector.Disabled{}, testMapping(), records, BatchOptions{
		ContinueOnError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Errors)

	// Without the flag the same bad record aborts the run.
	_, err = MigrateBatch(context.Background(), db, vector.Disabled{}, testMapping(), records, BatchOptions{})
	require.Error(t, err)
}

func TestMigrateBatchDryRun(t *testing.T) {
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	result, err := MigrateBatch(context.Background(), db, vector.Disabled{}, testMapping(), migrationRecords(), BatchOptions{
		DryRun: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)

	// Nothing hit the database.
	obs, err := store.ListObservations(db, "", 10)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestReadRecordsJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`  [{"a":1},{"a":2}]`), 0o600))

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[1]["a"])
}

func TestReadRecordsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	content := "{\"a\":1}\n\n{\"a\":2}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, err = ReadRecords(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
