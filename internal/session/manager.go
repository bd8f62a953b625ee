// Package session queues hook events per session and guarantees at most
// one active generator per session drains them.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
)

// Runner is one generator run over a session's pending queue; the
// production implementation is the agent.
type Runner interface {
	StartSession(ctx context.Context) error
}

// RunnerFactory builds a fresh Runner per generator run.
type RunnerFactory func(session *models.Session) Runner

// generator is one in-flight run's handle.
type generator struct {
	token *AbortToken
	done  chan struct{}
}

// Manager owns the generator slot per session. Enqueueing is cheap and
// never blocks on the LLM; the pending table absorbs bursts and the slot
// map ensures a burst spawns exactly one drain.
type Manager struct {
	db      *sql.DB
	factory RunnerFactory

	// cleanup runs after each generator finishes, in the generator's
	// goroutine. The worker wires the supervisor's kill here.
	cleanup func(sessionID int64)

	mu           sync.Mutex
	generators   map[int64]*generator
	spawnCounts  map[int64]int
	lastActivity time.Time
}

// NewManager builds a manager. cleanup may be nil.
func NewManager(db *sql.DB, factory RunnerFactory, cleanup func(sessionID int64)) *Manager {
	return &Manager{
		db:          db,
		factory:     factory,
		cleanup:     cleanup,
		generators:  make(map[int64]*generator),
		spawnCounts: make(map[int64]int),
	}
}

// LookupOrCreateSession resolves the session row for a hook event.
// Creation is idempotent under concurrent hooks for the same session.
func (m *Manager) LookupOrCreateSession(contentSessionID, project, userPrompt string) (*models.Session, error) {
	return store.CreateSession(m.db, contentSessionID, project, userPrompt)
}

// EnqueueObservation queues one tool event and ensures a generator is
// draining the session.
func (m *Manager) EnqueueObservation(session *models.Session, toolName string, toolInput, toolResponse json.RawMessage, promptNumber int, cwd string) error {
	if _, err := store.EnqueueObservationMessage(m.db, session.ID, toolName, toolInput, toolResponse, promptNumber, cwd); err != nil {
		return err
	}
	m.touch()
	m.EnsureGenerator(session)
	return nil
}

// EnqueueSummarize queues the stop event.
func (m *Manager) EnqueueSummarize(session *models.Session, lastAssistantMessage string, promptNumber int) error {
	if _, err := store.EnqueueSummaryMessage(m.db, session.ID, lastAssistantMessage, promptNumber); err != nil {
		return err
	}
	m.touch()
	m.EnsureGenerator(session)
	return nil
}

// EnsureGenerator starts a generator for the session unless one is
// already running. This is the dedup guard: the slot check and insert
// happen under one lock, so N concurrent enqueues spawn exactly one run.
func (m *Manager) EnsureGenerator(session *models.Session) {
	m.mu.Lock()
	if _, running := m.generators[session.ID]; running {
		m.mu.Unlock()
		return
	}
	g := &generator{
		token: NewAbortToken(context.Background()),
		done:  make(chan struct{}),
	}
	m.generators[session.ID] = g
	m.spawnCounts[session.ID]++
	m.mu.Unlock()

	go m.run(session, g)
}

func (m *Manager) run(session *models.Session, g *generator) {
	var runErr error
	defer func() {
		m.mu.Lock()
		delete(m.generators, session.ID)
		m.mu.Unlock()
		if m.cleanup != nil {
			m.cleanup(session.ID)
		}
		close(g.done)

		// An enqueue between the runner deciding the queue was empty and
		// the slot delete above sees the stale slot and does not spawn.
		// Re-check pending rows after a clean exit and respawn for any
		// stragglers. Failed or aborted runs do not respawn here; the
		// rows stay queued for the next enqueue or sweep.
		if runErr != nil || g.token.IsAborted() {
			return
		}
		if n, err := store.CountPending(m.db, session.ID); err == nil && n > 0 {
			m.EnsureGenerator(session)
		}
	}()

	runner := m.factory(session)
	if runErr = runner.StartSession(g.token.Context()); runErr != nil {
		if g.token.IsAborted() {
			slog.Info("generator aborted", "session", session.ContentSessionID)
			return
		}
		slog.Error("generator failed", "session", session.ContentSessionID, "error", runErr)
	}
}

// SpawnCount reports how many generators have ever been started for the
// session.
func (m *Manager) SpawnCount(sessionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawnCounts[sessionID]
}

// Running reports whether the session currently has a generator in flight.
func (m *Manager) Running(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.generators[sessionID]
	return ok
}

// Abort cancels the session's in-flight generator, if any, and waits for
// it to unwind.
func (m *Manager) Abort(sessionID int64) {
	m.mu.Lock()
	g := m.generators[sessionID]
	m.mu.Unlock()
	if g == nil {
		return
	}
	g.token.Abort()
	<-g.done
}

// Shutdown aborts every generator and waits up to timeout for them to
// unwind.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	running := make([]*generator, 0, len(m.generators))
	for _, g := range m.generators {
		g.token.Abort()
		running = append(running, g)
	}
	m.mu.Unlock()

	deadline := time.After(timeout)
	for _, g := range running {
		select {
		case <-g.done:
		case <-deadline:
			return
		}
	}
}

// Wait blocks until the session's generator finishes. No-op when none is
// running.
func (m *Manager) Wait(sessionID int64) {
	m.mu.Lock()
	g := m.generators[sessionID]
	m.mu.Unlock()
	if g != nil {
		<-g.done
	}
}

func (m *Manager) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// LastActivity reports when a hook last enqueued work; the idle-push
// policy keys off it.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}
