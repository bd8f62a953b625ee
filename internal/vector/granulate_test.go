package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
)

func TestGranulateObservation(t *testing.T) {
	obs := &models.Observation{
		ID:              42,
		MemorySessionID: "mem-1",
		Project:         "p",
		Narrative:       "the narrative",
		Facts:           []string{"first fact", "second fact"},
		CreatedAtEpoch:  1700000000,
	}

	docs := GranulateObservation(obs)
	require.Len(t, docs, 3)

	assert.Equal(t, "obs_42_narrative", docs[0].ID)
	assert.Equal(t, "obs_42_fact_0", docs[1].ID)
	assert.Equal(t, "obs_42_fact_1", docs[2].ID)

	for _, d := range docs {
		assert.Equal(t, int64(42), d.SQLiteID)
		assert.Equal(t, models.DocTypeObservation, d.DocType)
		assert.Equal(t, "mem-1", d.MemorySessionID)
		assert.Equal(t, "p", d.Project)
		assert.Equal(t, int64(1700000000), d.CreatedAtEpoch)
	}
	assert.Equal(t, "the narrative", docs[0].Content)
	assert.Equal(t, "first fact", docs[1].Content)
}

func TestGranulateObservationEmptyNarrative(t *testing.T) {
	obs := &models.Observation{ID: 7, Facts: []string{"only fact"}}

	docs := GranulateObservation(obs)
	require.Len(t, docs, 1)
	assert.Equal(t, "obs_7_fact_0", docs[0].ID)
}

func TestGranulateSummary(t *testing.T) {
	s := &models.Summary{
		ID:        9,
		Request:   "do the thing",
		Learned:   "the thing was hard",
		NextSteps: "do the next thing",
	}

	docs := GranulateSummary(s)
	require.Len(t, docs, 3)
	assert.Equal(t, "summary_9_request", docs[0].ID)
	assert.Equal(t, "summary_9_learned", docs[1].ID)
	assert.Equal(t, "summary_9_next_steps", docs[2].ID)
	for _, d := range docs {
		assert.Equal(t, models.DocTypeSummary, d.DocType)
	}
}

func TestGranulateUserPrompt(t *testing.T) {
	docs := GranulateUserPrompt(&models.UserPrompt{ID: 3, PromptText: "fix the tests"})
	require.Len(t, docs, 1)
	assert.Equal(t, "prompt_3_text", docs[0].ID)
	assert.Equal(t, models.DocTypeUserPrompt, docs[0].DocType)

	assert.Empty(t, GranulateUserPrompt(&models.UserPrompt{ID: 4}))
}
