package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
)

func TestStoreUserPromptIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	p := &models.UserPrompt{
		ContentSessionID: "c1",
		PromptNumber:     1,
		PromptText:       "why is memory growing",
		CreatedAtEpoch:   100,
	}
	res, err := StoreUserPrompt(db, p)
	require.NoError(t, err)
	assert.True(t, res.Imported)

	// A redelivered hook replays the same (session, number) pair.
	replay := &models.UserPrompt{
		ContentSessionID: "c1",
		PromptNumber:     1,
		PromptText:       "different text, same slot",
	}
	res, err = StoreUserPrompt(db, replay)
	require.NoError(t, err)
	assert.False(t, res.Imported)
	assert.Equal(t, p.ID, res.ID)

	prompts, err := ListUserPrompts(db)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "why is memory growing", prompts[0].PromptText)
}

func TestNextPromptNumber(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	n, err := NextPromptNumber(db, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i := 1; i <= 3; i++ {
		_, err := StoreUserPrompt(db, &models.UserPrompt{
			ContentSessionID: "c1", PromptNumber: i, PromptText: "t",
		})
		require.NoError(t, err)
	}

	n, err = NextPromptNumber(db, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Numbering is per session.
	n, err = NextPromptNumber(db, "c2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
