package vector

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
)

// recordingBackend notes which rows the backfill re-synced.
type recordingBackend struct {
	Disabled
	failObs int64 // SyncObservation errors for this id
	obs     []int64
	sums    []int64
	prompts []int64
}

func (r *recordingBackend) SyncObservation(_ context.Context, o *models.Observation) error {
	if o.ID == r.failObs {
		return errors.New("index write failed")
	}
	r.obs = append(r.obs, o.ID)
	return nil
}

func (r *recordingBackend) SyncSummary(_ context.Context, s *models.Summary) error {
	r.sums = append(r.sums, s.ID)
	return nil
}

func (r *recordingBackend) SyncUserPrompt(_ context.Context, p *models.UserPrompt) error {
	r.prompts = append(r.prompts, p.ID)
	return nil
}

func seedBackfillStore(t *testing.T) (db *sql.DB, obs1, obs2 *models.Observation, sum *models.Summary, prompt *models.UserPrompt) {
	t.Helper()
	d, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	obs1 = &models.Observation{
		MemorySessionID: "mem-1", Project: "p", Type: models.ObservationDiscovery,
		Title: "pool", Narrative: "the connection pool leak", Facts: []string{"cap at 10", "no eviction"},
		CreatedAtEpoch: 100,
	}
	obs2 = &models.Observation{
		MemorySessionID: "mem-1", Project: "p", Type: models.ObservationDiscovery,
		Title: "parser", Narrative: "yaml config parser", CreatedAtEpoch: 200,
	}
	_, err = store.StoreObservations(d, []*models.Observation{obs1, obs2})
	require.NoError(t, err)

	sum = &models.Summary{
		MemorySessionID: "mem-1", Project: "p",
		Request: "fix the leak", Learned: "the cache never evicted",
		CreatedAtEpoch: 300,
	}
	_, err = store.StoreSummary(d, sum)
	require.NoError(t, err)

	prompt = &models.UserPrompt{
		ContentSessionID: "c1", PromptNumber: 1, PromptText: "why is memory growing",
		CreatedAtEpoch: 400,
	}
	_, err = store.StoreUserPrompt(d, prompt)
	require.NoError(t, err)

	return d, obs1, obs2, sum, prompt
}

func TestBackfillSyncsOnlyMissingRows(t *testing.T) {
	db, obs1, obs2, sum, prompt := seedBackfillStore(t)

	existing := make(map[string]struct{})
	for _, id := range ExpectedObservationIDs(obs1) {
		existing[id] = struct{}{}
	}

	b := &recordingBackend{}
	require.NoError(t, backfillMissing(context.Background(), db, b, existing))

	assert.Equal(t, []int64{obs2.ID}, b.obs)
	assert.Equal(t, []int64{sum.ID}, b.sums)
	assert.Equal(t, []int64{prompt.ID}, b.prompts)
}

func TestBackfillResyncsPartiallyIndexedRow(t *testing.T) {
	db, obs1, obs2, _, _ := seedBackfillStore(t)

	// obs1's narrative made it in but one fact did not; the whole row is
	// re-synced (upsert makes the overshoot harmless).
	ids := ExpectedObservationIDs(obs1)
	require.Greater(t, len(ids), 1)
	existing := map[string]struct{}{ids[0]: {}}

	b := &recordingBackend{}
	require.NoError(t, backfillMissing(context.Background(), db, b, existing))
	assert.ElementsMatch(t, []int64{obs1.ID, obs2.ID}, b.obs)
}

func TestBackfillSkipsFailingRow(t *testing.T) {
	db, obs1, obs2, sum, prompt := seedBackfillStore(t)

	b := &recordingBackend{failObs: obs1.ID}
	require.NoError(t, backfillMissing(context.Background(), db, b, map[string]struct{}{}))

	// The bad row is skipped, everything else still lands.
	assert.Equal(t, []int64{obs2.ID}, b.obs)
	assert.Equal(t, []int64{sum.ID}, b.sums)
	assert.Equal(t, []int64{prompt.ID}, b.prompts)
}

func TestEnsureBackfilledConverges(t *testing.T) {
	db, obs1, obs2, sum, prompt := seedBackfillStore(t)
	v := setupSQLiteVec(t)
	ctx := context.Background()

	// One row was indexed during normal operation; the rest arrived while
	// the backend was down.
	require.NoError(t, v.SyncObservation(ctx, obs1))

	require.NoError(t, v.EnsureBackfilled(ctx, db))

	want := len(ExpectedObservationIDs(obs1)) + len(ExpectedObservationIDs(obs2)) +
		len(GranulateSummary(sum)) + len(GranulateUserPrompt(prompt))
	stats, err := v.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(want), stats.Documents)

	// A second pass changes nothing.
	require.NoError(t, v.EnsureBackfilled(ctx, db))
	stats, err = v.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(want), stats.Documents)
}
