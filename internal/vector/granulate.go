package vector

import (
	"fmt"

	"github.com/bpd1069/claude-mem/internal/models"
)

// Granulation splits each relational row into one document per meaningful
// text fragment so a query can hit a single fact without the surrounding
// narrative diluting the embedding. Document ids are deterministic
// functions of the owning row id and field name, which makes every sync
// an upsert and lets the backfill diff expected ids against stored ones.

// GranulateObservation returns one document for the narrative (when
// non-empty) plus one per fact, ids obs_<id>_narrative and obs_<id>_fact_<i>.
func GranulateObservation(obs *models.Observation) []models.VectorDocument {
	docs := make([]models.VectorDocument, 0, 1+len(obs.Facts))
	add := func(field, content string) {
		if content == "" {
			return
		}
		docs = append(docs, models.VectorDocument{
			ID:              fmt.Sprintf("obs_%d_%s", obs.ID, field),
			SQLiteID:        obs.ID,
			DocType:         models.DocTypeObservation,
			Content:         content,
			MemorySessionID: obs.MemorySessionID,
			Project:         obs.Project,
			CreatedAtEpoch:  obs.CreatedAtEpoch,
		})
	}
	add("narrative", obs.Narrative)
	for i, fact := range obs.Facts {
		add(fmt.Sprintf("fact_%d", i), fact)
	}
	return docs
}

// summaryFields pairs each summary field name with an accessor, in stable
// order so document sets diff cleanly.
var summaryFields = []struct {
	name string
	get  func(*models.Summary) string
}{
	{"request", func(s *models.Summary) string { return s.Request }},
	{"investigated", func(s *models.Summary) string { return s.Investigated }},
	{"learned", func(s *models.Summary) string { return s.Learned }},
	{"completed", func(s *models.Summary) string { return s.Completed }},
	{"next_steps", func(s *models.Summary) string { return s.NextSteps }},
	{"notes", func(s *models.Summary) string { return s.Notes }},
}

// GranulateSummary returns one document per non-empty summary field,
// ids summary_<id>_<field>.
func GranulateSummary(s *models.Summary) []models.VectorDocument {
	docs := make([]models.VectorDocument, 0, len(summaryFields))
	for _, f := range summaryFields {
		content := f.get(s)
		if content == "" {
			continue
		}
		docs = append(docs, models.VectorDocument{
			ID:              fmt.Sprintf("summary_%d_%s", s.ID, f.name),
			SQLiteID:        s.ID,
			DocType:         models.DocTypeSummary,
			Content:         content,
			MemorySessionID: s.MemorySessionID,
			Project:         s.Project,
			CreatedAtEpoch:  s.CreatedAtEpoch,
		})
	}
	return docs
}

// GranulateUserPrompt returns the single prompt-text document,
// id prompt_<id>_text, or nil for an empty prompt.
func GranulateUserPrompt(p *models.UserPrompt) []models.VectorDocument {
	if p.PromptText == "" {
		return nil
	}
	return []models.VectorDocument{{
		ID:             fmt.Sprintf("prompt_%d_text", p.ID),
		SQLiteID:       p.ID,
		DocType:        models.DocTypeUserPrompt,
		Content:        p.PromptText,
		CreatedAtEpoch: p.CreatedAtEpoch,
	}}
}

// ExpectedObservationIDs lists the document ids an observation row should
// have in the index. Used by the backfill diff.
func ExpectedObservationIDs(obs *models.Observation) []string {
	docs := GranulateObservation(obs)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
