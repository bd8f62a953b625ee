// Package worker is the long-running localhost HTTP service: it receives
// hook events, serves the read APIs, and owns startup/shutdown of the
// queue, vector backend, and reaper.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/exporter"
	"github.com/bpd1069/claude-mem/internal/output"
	"github.com/bpd1069/claude-mem/internal/session"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/supervisor"
	"github.com/bpd1069/claude-mem/internal/vector"
)

// pendingRetentionDays is how long processed queue rows are kept before
// startup cleanup removes them.
const pendingRetentionDays = 7

// Server wires the HTTP surface to the manager, store, and backend.
type Server struct {
	db       *sql.DB
	backend  vector.Backend
	manager  *session.Manager
	sup      *supervisor.Supervisor
	reaper   *supervisor.Reaper
	settings app.Settings
	httpSrv  *http.Server
}

// NewServer builds the worker.
func NewServer(db *sql.DB, backend vector.Backend, manager *session.Manager, sup *supervisor.Supervisor, settings app.Settings) *Server {
	s := &Server{
		db:       db,
		backend:  backend,
		manager:  manager,
		sup:      sup,
		reaper:   supervisor.NewReaper(sup, 0),
		settings: settings,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", settings.WorkerPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Post("/hooks/{platform}/{event}", s.handleHook)

	r.Get("/observations", s.handleListObservations)
	r.Get("/observations/{ids}", s.handleGetObservations)
	r.Get("/timeline", s.handleTimeline)
	r.Get("/search", s.handleSearch)
	r.Get("/projects", s.handleProjects)
	r.Get("/stats", s.handleStats)
	r.Get("/logs", s.handleLogs)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)

	return r
}

// Start recovers queue state, reconciles the vector index, launches the
// reaper, and serves until the listener fails or Shutdown runs.
func (s *Server) Start(ctx context.Context) error {
	reset, err := store.ResetStuckMessages(s.db)
	if err != nil {
		return fmt.Errorf("failed to reset stuck messages: %w", err)
	}
	if reset > 0 {
		slog.Info("resurrected in-flight messages from previous run", "count", reset)
	}
	if removed, err := store.CleanupProcessed(s.db, pendingRetentionDays); err != nil {
		slog.Warn("queue cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Debug("cleaned up processed messages", "count", removed)
	}

	// Best effort: a down embedding endpoint must not keep the worker from
	// accepting hooks.
	if err := s.backend.EnsureBackfilled(ctx, s.db); err != nil {
		slog.Warn("vector backfill failed", "error", err)
	}

	s.reaper.Start()

	if s.settings.SyncEnabled && s.settings.SyncAutoPush {
		go s.autoPushLoop(ctx)
	}

	slog.Info("worker listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// autoPushLoop replicates snapshots after the configured idle window.
// Push failures are logged and retried on the next tick.
func (s *Server) autoPushLoop(ctx context.Context) {
	dir, err := app.ExportDir()
	if err != nil {
		slog.Warn("auto-push disabled", "error", err)
		return
	}
	g := exporter.NewGitSync(dir, s.settings)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.ShouldAutoPush(ctx, s.manager.LastActivity()) {
				continue
			}
			if err := g.Push(ctx, s.db, false); err != nil {
				slog.Warn("auto-push failed", "error", err)
			} else {
				slog.Info("pushed memory snapshot after idle window")
			}
		}
	}
}

// Shutdown drains generators, kills every child, and closes the backend.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	s.manager.Shutdown(10 * time.Second)
	s.reaper.Stop()
	s.sup.KillAll()
	if cerr := s.backend.Close(); cerr != nil {
		slog.Warn("failed to close vector backend", "error", cerr)
	}
	return err
}

// writeJSON emits a success envelope. Encoding failures are logged; the
// status line has already gone out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, output.Success(data))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, output.Error(err))
}
