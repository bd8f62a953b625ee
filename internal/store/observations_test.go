package store

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
)

func testObservation(title string, epoch int64) *models.Observation {
	return &models.Observation{
		ContentSessionID: "content-1",
		MemorySessionID:  "mem-1",
		Project:          "myproject",
		Type:             models.ObservationDiscovery,
		Title:            title,
		Narrative:        "found something",
		Facts:            []string{"fact one", "fact two"},
		CreatedAtEpoch:   epoch,
	}
}

func TestImportObservationDedup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	epoch := time.Now().Unix()

	first, err := ImportObservation(db, testObservation("Found the bug", epoch))
	require.NoError(t, err)
	assert.True(t, first.Imported)
	assert.NotZero(t, first.ID)

	// Same (memory_session_id, title, created_at_epoch) is a duplicate.
	second, err := ImportObservation(db, testObservation("Found the bug", epoch))
	require.NoError(t, err)
	assert.False(t, second.Imported)
	assert.Equal(t, first.ID, second.ID)

	// Different epoch is a new row.
	third, err := ImportObservation(db, testObservation("Found the bug", epoch+1))
	require.NoError(t, err)
	assert.True(t, third.Imported)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStoreObservationsBatchOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	epoch := time.Now().Unix()
	batch := []*models.Observation{
		testObservation("one", epoch),
		testObservation("two", epoch),
		testObservation("one", epoch), // duplicate of the first
	}

	results, err := StoreObservations(db, batch)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Imported)
	assert.True(t, results[1].Imported)
	assert.False(t, results[2].Imported)
	assert.Equal(t, results[0].ID, results[2].ID)
}

func TestStoreObservationTitleTruncation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	epoch := time.Now().Unix()

	// 77 ASCII bytes, then 日 (bytes 77-79) and 本 (bytes 80-82). The
	// 80-byte cap lands exactly on the start of 本, so 日 survives.
	res, err := ImportObservation(db, testObservation(strings.Repeat("x", 77)+"日本", epoch))
	require.NoError(t, err)
	got, err := GetObservationsByIDs(db, []int64{res.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("x", 77)+"日", got[0].Title)
	assert.True(t, utf8.ValidString(got[0].Title))
	assert.LessOrEqual(t, len(got[0].Title), MaxObservationTitleLength)

	// One more ASCII byte pushes the cap into the middle of 日; the whole
	// rune drops rather than leaving a broken sequence.
	res, err = ImportObservation(db, testObservation(strings.Repeat("x", 78)+"日本", epoch+1))
	require.NoError(t, err)
	got, err = GetObservationsByIDs(db, []int64{res.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("x", 78), got[0].Title)
	assert.True(t, utf8.ValidString(got[0].Title))
}

func TestGetObservationsByIDsPreservesOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	epoch := time.Now().Unix()
	a, err := ImportObservation(db, testObservation("a", epoch))
	require.NoError(t, err)
	b, err := ImportObservation(db, testObservation("b", epoch))
	require.NoError(t, err)
	c, err := ImportObservation(db, testObservation("c", epoch))
	require.NoError(t, err)

	got, err := GetObservationsByIDs(db, []int64{c.ID, a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Title)
	assert.Equal(t, "a", got[1].Title)
	assert.Equal(t, "b", got[2].Title)
	assert.Equal(t, []string{"fact one", "fact two"}, got[0].Facts)
}

func TestGetTimeline(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	epoch := time.Now().Unix()
	var anchor int64
	for i := 0; i < 9; i++ {
		res, err := ImportObservation(db, testObservation(string(rune('a'+i)), epoch+int64(i)))
		require.NoError(t, err)
		if i == 4 {
			anchor = res.ID
		}
	}

	got, err := GetTimeline(db, anchor, 2)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, anchor-2, got[0].ID)
	assert.Equal(t, anchor+2, got[4].ID)
}

func TestSearchByText(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	epoch := time.Now().Unix()
	obs := testObservation("Fixed connection pooling", epoch)
	obs.Narrative = "the pool leaked connections under load"
	_, err := ImportObservation(db, obs)
	require.NoError(t, err)
	_, err = ImportObservation(db, testObservation("Unrelated", epoch))
	require.NoError(t, err)

	got, err := SearchByText(db, "pool", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Fixed connection pooling", got[0].Title)

	// LIKE metacharacters in the query must not act as wildcards.
	got, err = SearchByText(db, "100%", "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
