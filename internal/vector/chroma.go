package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bpd1069/claude-mem/internal/models"
)

// DefaultCollection is the chroma collection holding all memory documents.
const DefaultCollection = "claude_memories"

// Chroma talks to a chroma collection-service subprocess over JSON-RPC on
// its standard streams. The subprocess owns the embedding model, so this
// backend sends raw text and never touches an embedder.
type Chroma struct {
	cli        *client.Client
	collection string
}

// NewChroma spawns the collection service and initializes the protocol
// handshake. The service is not supported on Windows; the caller falls
// back to the Disabled backend.
func NewChroma(ctx context.Context, command string, args []string) (*Chroma, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("chroma backend is not supported on windows")
	}
	if command == "" {
		return nil, fmt.Errorf("chroma_command is not configured")
	}

	cli, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn collection service: %w", err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start collection service: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "claude-mem",
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to initialize collection service: %w", err)
	}

	return &Chroma{cli: cli, collection: DefaultCollection}, nil
}

// Name implements Backend.
func (c *Chroma) Name() string { return "chroma" }

// Initialize implements Backend. Collection creation is idempotent on the
// service side; an already-exists error is success.
func (c *Chroma) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, "chroma_create_collection", map[string]any{
		"collection_name": c.collection,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

// call invokes one tool and returns the concatenated text content.
func (c *Chroma) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := c.cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("collection service %s failed: %w", tool, err)
	}
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if resp.IsError {
		return "", fmt.Errorf("collection service %s error: %s", tool, text)
	}
	return text, nil
}

func (c *Chroma) addDocuments(ctx context.Context, docs []models.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	metadatas := make([]map[string]any, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		texts[i] = d.Content
		metadatas[i] = map[string]any{
			"sqlite_id":         d.SQLiteID,
			"doc_type":          string(d.DocType),
			"memory_session_id": d.MemorySessionID,
			"project":           d.Project,
			"created_at_epoch":  d.CreatedAtEpoch,
		}
	}
	_, err := c.call(ctx, "chroma_add_documents", map[string]any{
		"collection_name": c.collection,
		"ids":             ids,
		"documents":       texts,
		"metadatas":       metadatas,
	})
	return err
}

// SyncObservation implements Backend.
func (c *Chroma) SyncObservation(ctx context.Context, obs *models.Observation) error {
	return c.addDocuments(ctx, GranulateObservation(obs))
}

// SyncSummary implements Backend.
func (c *Chroma) SyncSummary(ctx context.Context, s *models.Summary) error {
	return c.addDocuments(ctx, GranulateSummary(s))
}

// SyncUserPrompt implements Backend.
func (c *Chroma) SyncUserPrompt(ctx context.Context, p *models.UserPrompt) error {
	return c.addDocuments(ctx, GranulateUserPrompt(p))
}

// DeleteDocuments implements DocumentDeleter.
func (c *Chroma) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.call(ctx, "chroma_delete_documents", map[string]any{
		"collection_name": c.collection,
		"ids":             ids,
	})
	return err
}

// chromaQueryResult is the service's nested result shape: one inner list
// per query text, and we always send exactly one.
type chromaQueryResult struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query implements Backend.
func (c *Chroma) Query(ctx context.Context, queryText string, limit int, filters models.QueryFilters) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	args := map[string]any{
		"collection_name": c.collection,
		"query_texts":     []string{queryText},
		// Over-fetch so owner dedup still fills the limit.
		"n_results": limit * 3,
	}
	if where := buildWhere(filters); where != nil {
		args["where"] = where
	}

	text, err := c.call(ctx, "chroma_query_documents", args)
	if err != nil {
		return nil, err
	}
	var parsed chromaQueryResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse query result: %w", err)
	}
	if len(parsed.IDs) == 0 {
		return nil, nil
	}

	results := make([]models.SearchResult, 0, len(parsed.IDs[0]))
	for i, id := range parsed.IDs[0] {
		r := models.SearchResult{DocID: id}
		if i < len(parsed.Distances[0]) {
			r.Distance = parsed.Distances[0][i]
		}
		if len(parsed.Documents) > 0 && i < len(parsed.Documents[0]) {
			r.Content = parsed.Documents[0][i]
		}
		if len(parsed.Metadatas) > 0 && i < len(parsed.Metadatas[0]) {
			meta := parsed.Metadatas[0][i]
			if v, ok := meta["sqlite_id"].(float64); ok {
				r.SQLiteID = int64(v)
			}
			if v, ok := meta["doc_type"].(string); ok {
				r.DocType = models.DocType(v)
			}
		}
		results = append(results, r)
	}
	sortByDistance(results)
	return dedupeBySQLiteID(results, limit), nil
}

// buildWhere maps conjunctive filters onto the service's where syntax.
func buildWhere(f models.QueryFilters) map[string]any {
	var clauses []map[string]any
	if f.Project != "" {
		clauses = append(clauses, map[string]any{"project": f.Project})
	}
	if f.DocType != "" {
		clauses = append(clauses, map[string]any{"doc_type": string(f.DocType)})
	}
	if f.MemorySessionID != "" {
		clauses = append(clauses, map[string]any{"memory_session_id": f.MemorySessionID})
	}
	if f.MinEpoch != 0 {
		clauses = append(clauses, map[string]any{"created_at_epoch": map[string]any{"$gte": f.MinEpoch}})
	}
	if f.MaxEpoch != 0 {
		clauses = append(clauses, map[string]any{"created_at_epoch": map[string]any{"$lte": f.MaxEpoch}})
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return map[string]any{"$and": clauses}
	}
}

// EnsureBackfilled implements Backend.
func (c *Chroma) EnsureBackfilled(ctx context.Context, db *sql.DB) error {
	text, err := c.call(ctx, "chroma_get_documents", map[string]any{
		"collection_name": c.collection,
		"include":         []string{},
	})
	if err != nil {
		return err
	}
	var parsed struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return fmt.Errorf("failed to parse document listing: %w", err)
	}
	existing := make(map[string]struct{}, len(parsed.IDs))
	for _, id := range parsed.IDs {
		existing[id] = struct{}{}
	}
	return backfillMissing(ctx, db, c, existing)
}

// Stats implements Backend.
func (c *Chroma) Stats(ctx context.Context) (*models.BackendStats, error) {
	text, err := c.call(ctx, "chroma_get_collection_count", map[string]any{
		"collection_name": c.collection,
	})
	if err != nil {
		return nil, err
	}
	var count int64
	if _, err := fmt.Sscanf(strings.TrimSpace(text), "%d", &count); err != nil {
		slog.Debug("unparseable collection count", "raw", text)
	}
	return &models.BackendStats{
		Backend:    c.Name(),
		Collection: c.collection,
		Documents:  count,
	}, nil
}

// Close implements Backend. Closing the client tears down the subprocess.
func (c *Chroma) Close() error {
	return c.cli.Close()
}

var _ interface {
	Backend
	DocumentDeleter
} = (*Chroma)(nil)
