package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
)

func TestPendingQueueOrderAndClaim(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	sess, err := CreateSession(db, "content-1", "p", "")
	require.NoError(t, err)

	input := json.RawMessage(`{"path":"a.go"}`)
	resp := json.RawMessage(`{"ok":true}`)
	first, err := EnqueueObservationMessage(db, sess.ID, "Read", input, resp, 1, "/repo")
	require.NoError(t, err)
	_, err = EnqueueObservationMessage(db, sess.ID, "Edit", input, resp, 1, "/repo")
	require.NoError(t, err)

	// Claims come back oldest first.
	msg, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, first, msg.ID)
	assert.Equal(t, "Read", msg.ToolName)
	assert.Equal(t, models.PendingObservation, msg.Type)

	// An in-flight message is not claimable again.
	next, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, first, next.ID)
	assert.Equal(t, "Edit", next.ToolName)

	// Queue drained.
	none, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMarkProcessedAndRelease(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	sess, err := CreateSession(db, "content-1", "p", "")
	require.NoError(t, err)

	id, err := EnqueueSummaryMessage(db, sess.ID, "final message", 3)
	require.NoError(t, err)

	msg, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, models.PendingSummarize, msg.Type)
	assert.Equal(t, "final message", msg.LastAssistantMessage)

	// Release puts it back in the queue.
	require.NoError(t, ReleasePending(db, msg.ID))
	again, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, id, again.ID)

	require.NoError(t, MarkProcessed(db, id))
	done, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, done)

	count, err := CountPending(db, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResetStuckMessages(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	sess, err := CreateSession(db, "content-1", "p", "")
	require.NoError(t, err)

	_, err = EnqueueSummaryMessage(db, sess.ID, "", 1)
	require.NoError(t, err)

	// Claim and "crash" without marking processed.
	msg, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)

	reset, err := ResetStuckMessages(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	// The resurrected message is claimable again.
	again, err := ClaimNextPending(db, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, msg.ID, again.ID)
}
