package vector

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
)

// wordEmbedder maps texts onto a tiny fixed vocabulary so similarity is
// deterministic: texts sharing words land close together.
type wordEmbedder struct{}

var vocabulary = []string{"cache", "pool", "leak", "config", "parser", "yaml"}

func (wordEmbedder) Name() string    { return "word" }
func (wordEmbedder) Dimensions() int { return len(vocabulary) }

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(vocabulary))
	for i, w := range vocabulary {
		if strings.Contains(strings.ToLower(text), w) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func setupSQLiteVec(t *testing.T) *SQLiteVec {
	t.Helper()
	v, err := NewSQLiteVec(filepath.Join(t.TempDir(), "vectors.db"), wordEmbedder{}, DecayGolden)
	require.NoError(t, err)
	require.NoError(t, v.Initialize(context.Background()))
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestSQLiteVecQueryRanksBySimilarity(t *testing.T) {
	v := setupSQLiteVec(t)
	ctx := context.Background()

	require.NoError(t, v.SyncObservation(ctx, &models.Observation{
		ID:        1,
		Project:   "svc",
		Narrative: "the connection pool leak",
	}))
	require.NoError(t, v.SyncObservation(ctx, &models.Observation{
		ID:        2,
		Project:   "svc",
		Narrative: "yaml config parser",
	}))

	results, err := v.Query(ctx, "pool leak", 10, models.QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].SQLiteID)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestSQLiteVecQueryDedupesByOwner(t *testing.T) {
	v := setupSQLiteVec(t)
	ctx := context.Background()

	// One observation fans out into several documents; a query returns the
	// owning row once.
	require.NoError(t, v.SyncObservation(ctx, &models.Observation{
		ID:        1,
		Narrative: "cache pool tuning",
		Facts:     []string{"the cache is an LRU", "the pool caps at 10"},
	}))

	results, err := v.Query(ctx, "cache pool", 10, models.QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].SQLiteID)
}

func TestSQLiteVecQueryFilters(t *testing.T) {
	v := setupSQLiteVec(t)
	ctx := context.Background()

	require.NoError(t, v.SyncObservation(ctx, &models.Observation{
		ID: 1, Project: "alpha", Narrative: "cache", CreatedAtEpoch: 100,
	}))
	require.NoError(t, v.SyncObservation(ctx, &models.Observation{
		ID: 2, Project: "beta", Narrative: "cache", CreatedAtEpoch: 200,
	}))

	results, err := v.Query(ctx, "cache", 10, models.QueryFilters{Project: "beta"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].SQLiteID)

	results, err = v.Query(ctx, "cache", 10, models.QueryFilters{MaxEpoch: 150})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].SQLiteID)
}

func TestSQLiteVecUpsertIdempotent(t *testing.T) {
	v := setupSQLiteVec(t)
	ctx := context.Background()

	obs := &models.Observation{ID: 1, Narrative: "cache"}
	require.NoError(t, v.SyncObservation(ctx, obs))
	require.NoError(t, v.SyncObservation(ctx, obs))

	stats, err := v.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, "sqlite-vec", stats.Backend)
}

func TestSQLiteVecSyncObservationPrecomputed(t *testing.T) {
	v := setupSQLiteVec(t)
	ctx := context.Background()

	// The source vector says "cache" even though the text never would;
	// a re-embed of the text gives the zero vector, so a "cache" hit
	// proves the precomputed vector was stored as-is.
	vec := make([]float32, len(vocabulary))
	vec[0] = 1
	require.NoError(t, v.SyncObservationPrecomputed(ctx, &models.Observation{
		ID:        5,
		Narrative: "imported from another tool",
		Facts:     []string{"migrated fact"},
	}, vec))

	stats, err := v.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Documents)

	results, err := v.Query(ctx, "cache", 10, models.QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(5), results[0].SQLiteID)
}

func TestSQLiteVecFederatedQuery(t *testing.T) {
	remotePath := filepath.Join(t.TempDir(), "remote.db")
	remote, err := NewSQLiteVec(remotePath, wordEmbedder{}, DecayGolden)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, remote.Initialize(ctx))
	require.NoError(t, remote.SyncObservation(ctx, &models.Observation{ID: 7, Narrative: "cache"}))
	require.NoError(t, remote.Close())

	v := setupSQLiteVec(t)
	require.NoError(t, v.SyncObservation(ctx, &models.Observation{ID: 1, Narrative: "cache"}))
	require.NoError(t, v.AttachRemote(remotePath))

	results, err := v.QueryFederated(ctx, "cache", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The local hit carries full weight and ranks first; the remote's
	// identical document is decayed behind it.
	assert.Equal(t, int64(1), results[0].SQLiteID)
	assert.Contains(t, string(results[0].Metadata), "local")
	assert.Equal(t, int64(7), results[1].SQLiteID)
	assert.Contains(t, string(results[1].Metadata), "remote.db")
}

func TestSQLiteVecAttachRemoteCap(t *testing.T) {
	v := setupSQLiteVec(t)

	dir := t.TempDir()
	for i := 0; i < MaxRemotes; i++ {
		path := filepath.Join(dir, string(rune('a'+i))+".db")
		r, err := NewSQLiteVec(path, wordEmbedder{}, DecayGolden)
		require.NoError(t, err)
		require.NoError(t, r.Initialize(context.Background()))
		require.NoError(t, r.Close())
		require.NoError(t, v.AttachRemote(path))
	}

	err := v.AttachRemote(filepath.Join(dir, "overflow.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most")
}
