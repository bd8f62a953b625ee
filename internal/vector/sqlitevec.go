package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/bpd1069/claude-mem/internal/embedding"
	"github.com/bpd1069/claude-mem/internal/models"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLiteVec stores embeddings in a dedicated vectors.db next to the main
// store. Queries run a brute-force cosine scan over the blob column.
// Document counts here are in the tens of thousands, where a full scan is
// milliseconds.
type SQLiteVec struct {
	db            *sql.DB
	path          string
	embedder      embedding.Embedder
	decaySchedule string

	mu      sync.Mutex
	remotes []attachedRemote
}

type attachedRemote struct {
	path string
	db   *sql.DB
}

// NewSQLiteVec opens (or creates) the vector database at path.
func NewSQLiteVec(path string, embedder embedding.Embedder, decaySchedule string) (*SQLiteVec, error) {
	db, err := openVectorDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}
	return &SQLiteVec{
		db:            db,
		path:          path,
		embedder:      embedder,
		decaySchedule: decaySchedule,
	}, nil
}

func openVectorDB(path string, readOnly bool) (*sql.DB, error) {
	dsn := "file:" + url.PathEscape(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Name implements Backend.
func (v *SQLiteVec) Name() string { return "sqlite-vec" }

// Initialize implements Backend. Creates the documents table.
func (v *SQLiteVec) Initialize(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS vector_documents (
	id                TEXT PRIMARY KEY,
	sqlite_id         INTEGER NOT NULL,
	doc_type          TEXT NOT NULL,
	content           TEXT NOT NULL,
	memory_session_id TEXT NOT NULL DEFAULT '',
	project           TEXT NOT NULL DEFAULT '',
	created_at_epoch  INTEGER NOT NULL,
	dimensions        INTEGER NOT NULL,
	embedding         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vector_documents_scope
	ON vector_documents(project, doc_type);
CREATE INDEX IF NOT EXISTS idx_vector_documents_owner
	ON vector_documents(doc_type, sqlite_id);`
	if _, err := v.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create vector schema: %w", err)
	}
	return nil
}

// SyncObservation implements Backend.
func (v *SQLiteVec) SyncObservation(ctx context.Context, obs *models.Observation) error {
	return v.syncDocuments(ctx, GranulateObservation(obs))
}

// SyncSummary implements Backend.
func (v *SQLiteVec) SyncSummary(ctx context.Context, s *models.Summary) error {
	return v.syncDocuments(ctx, GranulateSummary(s))
}

// SyncUserPrompt implements Backend.
func (v *SQLiteVec) SyncUserPrompt(ctx context.Context, p *models.UserPrompt) error {
	return v.syncDocuments(ctx, GranulateUserPrompt(p))
}

func (v *SQLiteVec) syncDocuments(ctx context.Context, docs []models.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	embeddings, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %d documents: %w", len(docs), err)
	}
	for i := range docs {
		docs[i].Embedding = embeddings[i]
		if err := v.upsertDocument(ctx, &docs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *SQLiteVec) upsertDocument(ctx context.Context, doc *models.VectorDocument) error {
	blob := embedding.EncodeBlob(doc.Embedding)
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO vector_documents
			(id, sqlite_id, doc_type, content, memory_session_id, project, created_at_epoch, dimensions, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			dimensions = excluded.dimensions,
			embedding = excluded.embedding`,
		doc.ID, doc.SQLiteID, string(doc.DocType), doc.Content,
		doc.MemorySessionID, doc.Project, doc.CreatedAtEpoch,
		len(doc.Embedding), blob)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// SyncObservationPrecomputed implements PrecomputedSyncer. The source
// computed one vector per record, so every granulated fragment shares it.
// The fragment ids match the regular sync path, so a later backfill sees
// the rows as present and never re-embeds them.
func (v *SQLiteVec) SyncObservationPrecomputed(ctx context.Context, obs *models.Observation, vec []float32) error {
	if len(vec) == 0 {
		return v.SyncObservation(ctx, obs)
	}
	docs := GranulateObservation(obs)
	for i := range docs {
		docs[i].Embedding = vec
		if err := v.upsertDocument(ctx, &docs[i]); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocuments implements DocumentDeleter.
func (v *SQLiteVec) DeleteDocuments(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := v.db.ExecContext(ctx, "DELETE FROM vector_documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	return nil
}

// Query implements Backend.
func (v *SQLiteVec) Query(ctx context.Context, queryText string, limit int, filters models.QueryFilters) ([]models.SearchResult, error) {
	qvec, err := v.embedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}
	results, err := scanDatabase(ctx, v.db, qvec, filters, 1.0, "")
	if err != nil {
		return nil, err
	}
	sortByDistance(results)
	return dedupeBySQLiteID(results, limit), nil
}

// QueryFederated implements FederatedQuerier. Local results carry full
// weight; each attached remote's similarity is scaled by its decay weight
// before merging. A remote that times out or errors is logged and skipped.
func (v *SQLiteVec) QueryFederated(ctx context.Context, queryText string, limit int, sources []string) ([]models.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, FederatedTimeout)
	defer cancel()

	qvec, err := v.embedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}

	results, err := scanDatabase(ctx, v.db, qvec, models.QueryFilters{}, 1.0, "local")
	if err != nil {
		return nil, err
	}

	remotes := v.selectRemotes(sources)
	weights, err := DecayWeights(v.decaySchedule, len(remotes))
	if err != nil {
		return nil, err
	}
	for i, r := range remotes {
		rctx, rcancel := context.WithTimeout(ctx, PerRemoteTimeout)
		remoteResults, rerr := scanDatabase(rctx, r.db, qvec, models.QueryFilters{}, weights[i], r.path)
		rcancel()
		if rerr != nil {
			slog.Warn("federated remote skipped", "remote", r.path, "error", rerr)
			continue
		}
		results = append(results, remoteResults...)
	}

	sortByDistance(results)
	return dedupeFederated(results, limit), nil
}

// AttachRemote implements RemoteAttacher. The remote database is opened
// read-only; attaching beyond MaxRemotes fails.
func (v *SQLiteVec) AttachRemote(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.remotes) >= MaxRemotes {
		return fmt.Errorf("cannot attach %s: at most %d remotes supported", path, MaxRemotes)
	}
	for _, r := range v.remotes {
		if r.path == path {
			return nil
		}
	}
	db, err := openVectorDB(path, true)
	if err != nil {
		return fmt.Errorf("failed to attach remote %s: %w", path, err)
	}
	v.remotes = append(v.remotes, attachedRemote{path: path, db: db})
	return nil
}

// selectRemotes returns the attached remotes matching sources, or all of
// them when sources is empty. Order follows attachment order, which
// determines decay position.
func (v *SQLiteVec) selectRemotes(sources []string) []attachedRemote {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(sources) == 0 {
		out := make([]attachedRemote, len(v.remotes))
		copy(out, v.remotes)
		return out
	}
	wanted := make(map[string]bool, len(sources))
	for _, s := range sources {
		wanted[s] = true
	}
	var out []attachedRemote
	for _, r := range v.remotes {
		if wanted[r.path] {
			out = append(out, r)
		}
	}
	return out
}

func (v *SQLiteVec) embedQuery(ctx context.Context, queryText string) ([]float32, error) {
	qvec, err := v.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return qvec, nil
}

// scanDatabase runs the brute-force cosine pass over one database,
// scaling similarity by weight. Filters push down to SQL; the distance
// math happens in Go on the decoded blobs.
func scanDatabase(ctx context.Context, db *sql.DB, qvec []float32, filters models.QueryFilters, weight float64, source string) ([]models.SearchResult, error) {
	query := `SELECT id, sqlite_id, doc_type, content, dimensions, embedding
		FROM vector_documents WHERE 1=1`
	var args []any
	if filters.Project != "" {
		query += " AND project = ?"
		args = append(args, filters.Project)
	}
	if filters.DocType != "" {
		query += " AND doc_type = ?"
		args = append(args, string(filters.DocType))
	}
	if filters.MemorySessionID != "" {
		query += " AND memory_session_id = ?"
		args = append(args, filters.MemorySessionID)
	}
	if filters.MinEpoch != 0 {
		query += " AND created_at_epoch >= ?"
		args = append(args, filters.MinEpoch)
	}
	if filters.MaxEpoch != 0 {
		query += " AND created_at_epoch <= ?"
		args = append(args, filters.MaxEpoch)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vector documents: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only iteration

	var results []models.SearchResult
	for rows.Next() {
		var (
			r       models.SearchResult
			docType string
			dims    int
			blob    []byte
		)
		if err := rows.Scan(&r.DocID, &r.SQLiteID, &docType, &r.Content, &dims, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		vec, err := embedding.DecodeBlob(blob)
		if err != nil || len(vec) != len(qvec) {
			// Dimension mismatch means the embedding model changed; the
			// document will be rewritten on the next backfill.
			continue
		}
		sim := embedding.CosineSimilarity(qvec, vec)
		r.DocType = models.DocType(docType)
		r.Distance = 1 - weight*sim
		if source != "" {
			r.Metadata, _ = json.Marshal(map[string]string{"source": source}) //nolint:errcheck // static map
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	return results, nil
}

func sortByDistance(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
}

// dedupeFederated keeps the best hit per (source, owning row). Row ids are
// only unique within one database, so the source participates in the key.
func dedupeFederated(results []models.SearchResult, limit int) []models.SearchResult {
	type key struct {
		source string
		id     int64
	}
	seen := make(map[key]bool, len(results))
	out := make([]models.SearchResult, 0, limit)
	for _, r := range results {
		k := key{source: string(r.Metadata), id: r.SQLiteID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// existingDocIDs lists every stored document id, for the backfill diff.
func (v *SQLiteVec) existingDocIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := v.db.QueryContext(ctx, "SELECT id FROM vector_documents")
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only iteration

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// EnsureBackfilled implements Backend.
func (v *SQLiteVec) EnsureBackfilled(ctx context.Context, db *sql.DB) error {
	existing, err := v.existingDocIDs(ctx)
	if err != nil {
		return err
	}
	return backfillMissing(ctx, db, v, existing)
}

// Stats implements Backend.
func (v *SQLiteVec) Stats(ctx context.Context) (*models.BackendStats, error) {
	var count int64
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_documents").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	return &models.BackendStats{
		Backend:    v.Name(),
		Documents:  count,
		Dimensions: v.embedder.Dimensions(),
	}, nil
}

// Close implements Backend.
func (v *SQLiteVec) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.remotes {
		if err := r.db.Close(); err != nil {
			slog.Warn("failed to close remote", "remote", r.path, "error", err)
		}
	}
	v.remotes = nil
	return v.db.Close()
}

var _ interface {
	Backend
	DocumentDeleter
	PrecomputedSyncer
	RemoteAttacher
	FederatedQuerier
} = (*SQLiteVec)(nil)
