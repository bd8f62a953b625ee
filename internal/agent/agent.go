// Package agent drives the extractor LLM for one capture session: it
// replays queued tool events as conversation turns, parses the structured
// replies, and fans results into the relational store and vector backend.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bpd1069/claude-mem/internal/llm"
	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/vector"
)

// State of the session agent.
type State string

// Agent states. Aborted and Failed are terminal and reachable from any
// non-terminal state.
const (
	StateInitializing State = "initializing"
	StateRunningInit  State = "running_init"
	StateDraining     State = "draining"
	StateSummarizing  State = "summarizing"
	StateDone         State = "done"
	StateAborted      State = "aborted"
	StateFailed       State = "failed"
)

// rawReplyLogLimit caps how much of an unparseable reply goes to the log.
const rawReplyLogLimit = 500

// Config parameterizes one agent run.
type Config struct {
	Primary  llm.Provider
	Fallback llm.Provider // optional; engaged on transient connectivity errors

	MaxContextMessages int
	MaxContextTokens   int
}

// Agent is the per-session extraction state machine. One instance serves
// one generator run and is not reused.
type Agent struct {
	db      *sql.DB
	backend vector.Backend
	cfg     Config
	session *models.Session

	state             State
	provider          llm.Provider
	usedFallback      bool
	history           []llm.Message
	memorySessionID   string
	providerSessionID string
}

// New builds an agent for one session row.
func New(db *sql.DB, backend vector.Backend, cfg Config, session *models.Session) *Agent {
	return &Agent{
		db:       db,
		backend:  backend,
		cfg:      cfg,
		session:  session,
		state:    StateInitializing,
		provider: cfg.Primary,
	}
}

// State returns the current state, for tests and the status surface.
func (a *Agent) State() State { return a.state }

// MemorySessionID returns the extractor-side session identifier, set
// during init.
func (a *Agent) MemorySessionID() string { return a.memorySessionID }

// StartSession runs the agent to completion: init turn, drain the pending
// queue in enqueue order, summarize on the stop event. Cancelling ctx
// aborts the in-flight LLM call and stops the drain at the next message
// boundary.
func (a *Agent) StartSession(ctx context.Context) error {
	if err := a.init(ctx); err != nil {
		return err
	}

	a.state = StateDraining
	for {
		if err := ctx.Err(); err != nil {
			a.state = StateAborted
			return err
		}

		msg, err := store.ClaimNextPending(a.db, a.session.ID)
		if err != nil {
			return a.fail(fmt.Errorf("failed to claim pending message: %w", err))
		}
		if msg == nil {
			a.state = StateDone
			return nil
		}

		if err := a.handle(ctx, msg); err != nil {
			if relErr := store.ReleasePending(a.db, msg.ID); relErr != nil {
				slog.Warn("failed to release pending message", "id", msg.ID, "error", relErr)
			}
			if errors.Is(err, context.Canceled) {
				a.state = StateAborted
				return err
			}
			return a.fail(err)
		}
		if err := store.MarkProcessed(a.db, msg.ID); err != nil {
			return a.fail(fmt.Errorf("failed to mark message processed: %w", err))
		}

		if msg.Type == models.PendingSummarize {
			if err := store.MarkSessionCompleted(a.db, a.session.ID); err != nil {
				return a.fail(fmt.Errorf("failed to complete session: %w", err))
			}
			a.state = StateDone
			return nil
		}
	}
}

// init posts the policy turn and pins memory_session_id. The id must be
// durable before the first observation row references it.
func (a *Agent) init(ctx context.Context) error {
	a.state = StateRunningInit

	if a.session.MemorySessionID != "" {
		// Resuming a session a previous generator already initialized.
		a.memorySessionID = a.session.MemorySessionID
		a.providerSessionID = a.session.MemorySessionID
		a.history = []llm.Message{
			{Role: llm.RoleSystem, Content: BuildSystemPrompt(a.session.Project, a.session.ContentSessionID, a.session.UserPrompt)},
		}
		return nil
	}

	a.history = []llm.Message{
		{Role: llm.RoleSystem, Content: BuildSystemPrompt(a.session.Project, a.session.ContentSessionID, a.session.UserPrompt)},
		{Role: llm.RoleUser, Content: "The session has started. Acknowledge with OK and wait for tool calls."},
	}
	resp, err := a.chat(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.state = StateAborted
			return err
		}
		return a.fail(err)
	}
	a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

	if resp.SessionID != "" {
		a.memorySessionID = resp.SessionID
		a.providerSessionID = resp.SessionID
	} else {
		// Providers without server-side sessions get a synthetic id; it only
		// has to be unique, the provider name prefix is for the logs.
		a.memorySessionID = fmt.Sprintf("%s-%s", a.provider.Name(), uuid.NewString())
	}
	if err := store.UpdateMemorySessionID(a.db, a.session.ID, a.memorySessionID); err != nil {
		return a.fail(fmt.Errorf("failed to persist memory session id: %w", err))
	}
	a.session.MemorySessionID = a.memorySessionID
	return nil
}

func (a *Agent) handle(ctx context.Context, msg *models.PendingMessage) error {
	switch msg.Type {
	case models.PendingSummarize:
		return a.handleSummarize(ctx, msg)
	default:
		return a.handleObservation(ctx, msg)
	}
}

func (a *Agent) handleObservation(ctx context.Context, msg *models.PendingMessage) error {
	prompt := BuildObservationPrompt(msg.ToolName, msg.ToolInput, msg.ToolResponse, msg.CWD)
	a.history = append(a.history, llm.Message{Role: llm.RoleUser, Content: prompt})

	resp, err := a.chat(ctx)
	if err != nil {
		return err
	}
	a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

	parsed := ParseReply(resp.Content)
	if len(parsed.Observations) == 0 {
		return nil
	}

	now := time.Now().Unix()
	for _, obs := range parsed.Observations {
		obs.ContentSessionID = a.session.ContentSessionID
		obs.MemorySessionID = a.memorySessionID
		obs.Project = a.session.Project
		obs.PromptNumber = msg.PromptNumber
		obs.CreatedAtEpoch = now
	}

	results, err := store.StoreObservations(a.db, parsed.Observations)
	if err != nil {
		return fmt.Errorf("failed to store observations: %w", err)
	}
	for i, res := range results {
		parsed.Observations[i].ID = res.ID
		if !res.Imported {
			continue
		}
		if err := a.backend.SyncObservation(ctx, parsed.Observations[i]); err != nil {
			// Best effort; the backfill reconciles on next startup.
			slog.Warn("vector sync failed for observation", "id", res.ID, "error", err)
		}
	}
	return nil
}

func (a *Agent) handleSummarize(ctx context.Context, msg *models.PendingMessage) error {
	a.state = StateSummarizing

	// At most one summary per memory session; a duplicate summarize event
	// (hook replays, worker restart) skips the LLM turn entirely.
	existing, err := store.GetSummaryByMemorySessionID(a.db, a.memorySessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Debug("summary already recorded", "memory_session", a.memorySessionID)
		return nil
	}

	prompt := BuildSummaryPrompt(a.session.UserPrompt, msg.LastAssistantMessage)
	a.history = append(a.history, llm.Message{Role: llm.RoleUser, Content: prompt})

	resp, err := a.chat(ctx)
	if err != nil {
		return err
	}
	a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

	parsed := ParseReply(resp.Content)
	if parsed.Summary == nil {
		slog.Warn("summarize turn yielded no summary block",
			"session", a.session.ContentSessionID,
			"raw", TruncatePayload(resp.Content, rawReplyLogLimit))
		return nil
	}

	s := parsed.Summary
	s.ContentSessionID = a.session.ContentSessionID
	s.MemorySessionID = a.memorySessionID
	s.Project = a.session.Project
	s.CreatedAtEpoch = time.Now().Unix()

	res, err := store.StoreSummary(a.db, s)
	if err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}
	s.ID = res.ID
	if res.Imported {
		if err := a.backend.SyncSummary(ctx, s); err != nil {
			slog.Warn("vector sync failed for summary", "id", res.ID, "error", err)
		}
	}
	return nil
}

// chat posts the (truncated) conversation, falling over to the fallback
// provider once on a transient connectivity error. The fallback gets the
// full flattened history since it shares no provider-side session state.
func (a *Agent) chat(ctx context.Context) (*llm.Response, error) {
	a.history = TruncateHistory(a.history, a.cfg.MaxContextMessages, a.cfg.MaxContextTokens)

	resp, err := a.provider.Chat(ctx, a.providerSessionID, a.history)
	if err == nil {
		if resp.SessionID != "" {
			a.providerSessionID = resp.SessionID
		}
		return resp, nil
	}

	if llm.IsTransient(err) && a.cfg.Fallback != nil && !a.usedFallback {
		slog.Warn("primary provider unreachable, switching to fallback",
			"primary", a.provider.Name(), "fallback", a.cfg.Fallback.Name(), "error", err)
		a.provider = a.cfg.Fallback
		a.usedFallback = true
		a.providerSessionID = ""
		resp, err = a.provider.Chat(ctx, "", a.history)
		if err == nil {
			if resp.SessionID != "" {
				a.providerSessionID = resp.SessionID
			}
			return resp, nil
		}
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) && statusErr.IsClientError() {
		slog.Error("provider rejected request, not retrying",
			"provider", a.provider.Name(), "status", statusErr.Code)
	}
	return nil, fmt.Errorf("provider %s: %w", a.provider.Name(), err)
}

// fail marks the session failed and enters the terminal state. Pending
// rows stay unprocessed for retry after the underlying cause clears.
func (a *Agent) fail(cause error) error {
	a.state = StateFailed
	if err := store.MarkSessionFailed(a.db, a.session.ID); err != nil {
		slog.Error("failed to mark session failed", "session", a.session.ID, "error", err)
	}
	return cause
}
