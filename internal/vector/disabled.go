package vector

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bpd1069/claude-mem/internal/models"
)

// ErrDisabled is returned by Disabled.Query; callers degrade to relational
// text search.
var ErrDisabled = errors.New("vector search is disabled")

// Disabled is the no-op backend selected by vector_backend "none" or when
// the configured backend fails to start. Capture keeps working; only
// semantic retrieval is lost.
type Disabled struct{}

func (Disabled) Name() string                        { return "none" }
func (Disabled) Initialize(context.Context) error    { return nil }
func (Disabled) Close() error                        { return nil }
func (Disabled) EnsureBackfilled(context.Context, *sql.DB) error { return nil }

func (Disabled) SyncObservation(context.Context, *models.Observation) error { return nil }
func (Disabled) SyncSummary(context.Context, *models.Summary) error         { return nil }
func (Disabled) SyncUserPrompt(context.Context, *models.UserPrompt) error   { return nil }

func (Disabled) Query(context.Context, string, int, models.QueryFilters) ([]models.SearchResult, error) {
	return nil, ErrDisabled
}

func (Disabled) Stats(context.Context) (*models.BackendStats, error) {
	return &models.BackendStats{Backend: "none"}, nil
}

var _ Backend = Disabled{}
