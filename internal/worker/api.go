package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/vector"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 10
	logTailBytes       = 64 * 1024
)

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	limit := queryInt(r, "limit", defaultListLimit)

	obs, err := store.ListObservations(s.db, project, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, obs)
}

func (s *Server) handleGetObservations(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ids")
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad observation id %q", part))
			return
		}
		ids = append(ids, id)
	}

	obs, err := store.GetObservationsByIDs(s.db, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, obs)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	anchor, err := strconv.ParseInt(r.URL.Query().Get("anchor"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("anchor is required"))
		return
	}
	radius := int64(queryInt(r, "radius", 5))

	obs, err := store.GetTimeline(s.db, anchor, radius)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, obs)
}

// handleSearch runs a semantic query, degrading to relational text search
// when the vector backend is disabled.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}
	limit := queryInt(r, "limit", defaultSearchLimit)
	filters := models.QueryFilters{
		Project:         r.URL.Query().Get("project"),
		DocType:         models.DocType(r.URL.Query().Get("doc_type")),
		MemorySessionID: r.URL.Query().Get("memory_session_id"),
		MinEpoch:        int64(queryInt(r, "min_epoch", 0)),
		MaxEpoch:        int64(queryInt(r, "max_epoch", 0)),
	}

	results, err := s.backend.Query(r.Context(), q, limit, filters)
	if errors.Is(err, vector.ErrDisabled) {
		obs, terr := store.SearchByText(s.db, q, filters.Project, limit)
		if terr != nil {
			writeError(w, http.StatusInternalServerError, terr)
			return
		}
		writeData(w, map[string]any{"mode": "text", "observations": obs})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Hydrate observation hits so the caller gets full rows, not fragments.
	var obsIDs []int64
	for _, res := range results {
		if res.DocType == models.DocTypeObservation {
			obsIDs = append(obsIDs, res.SQLiteID)
		}
	}
	var hydrated []*models.Observation
	if len(obsIDs) > 0 {
		if hydrated, err = store.GetObservationsByIDs(s.db, obsIDs); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeData(w, map[string]any{"mode": "vector", "results": results, "observations": hydrated})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := store.ListProjects(s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, projects)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	storeStats, err := store.GetStoreStats(s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	backendStats, err := s.backend.Stats(r.Context())
	if err != nil {
		backendStats = &models.BackendStats{Backend: s.backend.Name()}
	}
	current, latest, err := store.SchemaVersion(s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	children := 0
	if pids, err := s.sup.SnapshotChildPids(); err == nil {
		children = len(pids)
	}
	writeData(w, map[string]any{
		"store":           storeStats,
		"vector":          backendStats,
		"schema_version":  current,
		"schema_latest":   latest,
		"child_processes": children,
	})
}

// handleLogs tails the worker log file.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	dir, err := app.LogsDir()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	path := filepath.Join(dir, "worker.log")
	f, err := os.Open(path) //nolint:gosec // G304: fixed path under state dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeData(w, map[string]any{"lines": []string{}})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close() //nolint:errcheck // read-only

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	offset := info.Size() - logTailBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:] // first line is likely cut mid-way
	}
	writeData(w, map[string]any{"lines": lines})
}

// Settings handlers read the file fresh rather than the process cache:
// the running worker keeps its boot-time snapshot (hence
// restart_required), but the editor surface must see what is on disk.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	settings, err := app.ReadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	settings.ProviderAPIKey = redact(settings.ProviderAPIKey)
	settings.EmbeddingAPIKey = redact(settings.EmbeddingAPIKey)
	writeData(w, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var incoming app.Settings
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid settings body: %w", err))
		return
	}
	// A redaction placeholder round-tripped from GET must not clobber
	// the stored key.
	if current, err := app.ReadSettings(); err == nil {
		if incoming.ProviderAPIKey == redactedPlaceholder {
			incoming.ProviderAPIKey = current.ProviderAPIKey
		}
		if incoming.EmbeddingAPIKey == redactedPlaceholder {
			incoming.EmbeddingAPIKey = current.EmbeddingAPIKey
		}
	}
	if err := incoming.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := app.SaveSettings(incoming); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Most settings need a worker restart to apply; say so.
	writeData(w, map[string]any{"saved": true, "restart_required": true})
}

const redactedPlaceholder = "********"

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}
