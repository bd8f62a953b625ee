// Package vector indexes observation, summary, and user-prompt fragments
// for semantic retrieval. The Backend interface is satisfied by the
// embedded SQLite store (sqlite-vec), the chroma collection-service
// subprocess, and a disabled stub.
package vector

import (
	"context"
	"database/sql"

	"github.com/bpd1069/claude-mem/internal/models"
)

// Backend is the contract every variant satisfies. Mutating calls are
// driven from a single goroutine per session; Query is safe for
// concurrent use.
type Backend interface {
	// Name identifies the backend in stats ("sqlite-vec", "chroma", "none").
	Name() string

	// Initialize creates schema/collections as needed. Must tolerate an
	// uninitialized backing store and repeated calls.
	Initialize(ctx context.Context) error

	// SyncObservation splits an observation into documents per the
	// granulation rule and upserts them by composed id.
	SyncObservation(ctx context.Context, obs *models.Observation) error

	// SyncSummary upserts one document per non-empty summary field.
	SyncSummary(ctx context.Context, s *models.Summary) error

	// SyncUserPrompt upserts the prompt-text document.
	SyncUserPrompt(ctx context.Context, p *models.UserPrompt) error

	// Query returns results ordered by ascending distance, deduplicated
	// by sqlite_id (best-scoring document per owning row wins).
	Query(ctx context.Context, queryText string, limit int, filters models.QueryFilters) ([]models.SearchResult, error)

	// EnsureBackfilled scans the relational store for rows whose expected
	// document ids are absent and syncs them. Idempotent; safe to
	// interrupt and resume.
	EnsureBackfilled(ctx context.Context, db *sql.DB) error

	// Stats reports backend name, document count, and dimensionality.
	Stats(ctx context.Context) (*models.BackendStats, error)

	// Close releases the backing store or subprocess.
	Close() error
}

// DocumentDeleter is an optional capability, discovered by type assertion.
type DocumentDeleter interface {
	DeleteDocuments(ctx context.Context, ids []string) error
}

// PrecomputedSyncer is an optional capability: index an observation with a
// vector the source system already computed, instead of calling the
// embedder. Migration pipelines use it so imported records keep their
// original embeddings.
type PrecomputedSyncer interface {
	SyncObservationPrecomputed(ctx context.Context, obs *models.Observation, vec []float32) error
}

// RemoteAttacher is an optional capability: attach a read-only remote
// snapshot for federated queries.
type RemoteAttacher interface {
	AttachRemote(path string) error
}

// FederatedQuerier is an optional capability: query the local store plus
// attached remotes with weighted score combination.
type FederatedQuerier interface {
	QueryFederated(ctx context.Context, queryText string, limit int, sources []string) ([]models.SearchResult, error)
}

// dedupeBySQLiteID keeps the best-scoring (lowest distance) result per
// owning row, preserving ascending-distance order. Input must be sorted.
func dedupeBySQLiteID(results []models.SearchResult, limit int) []models.SearchResult {
	seen := make(map[int64]bool, len(results))
	out := make([]models.SearchResult, 0, limit)
	for _, r := range results {
		if seen[r.SQLiteID] {
			continue
		}
		seen[r.SQLiteID] = true
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
