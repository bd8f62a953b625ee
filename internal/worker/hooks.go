package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
)

// hookPayload is the normalized hook body. Platforms differ in envelope;
// the hook CLI flattens them to this shape before posting.
type hookPayload struct {
	SessionID            string          `json:"session_id"`
	CWD                  string          `json:"cwd,omitempty"`
	Project              string          `json:"project,omitempty"`
	Prompt               string          `json:"prompt,omitempty"`
	PromptNumber         int             `json:"prompt_number,omitempty"`
	ToolName             string          `json:"tool_name,omitempty"`
	ToolInput            json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse         json.RawMessage `json:"tool_response,omitempty"`
	LastAssistantMessage string          `json:"last_assistant_message,omitempty"`
}

func (p *hookPayload) project() string {
	if p.Project != "" {
		return p.Project
	}
	if p.CWD != "" {
		return filepath.Base(p.CWD)
	}
	return "unknown"
}

// handleHook dispatches one hook event. Hooks always get a 200: a capture
// failure must never break the host session, so errors ride inside the
// envelope and the log.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	event := chi.URLParam(r, "event")

	var payload hookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("undecodable hook payload", "platform", platform, "event", event, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "invalid payload"})
		return
	}
	if payload.SessionID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "session_id is required"})
		return
	}

	result, err := s.dispatchHook(event, &payload)
	if err != nil {
		slog.Error("hook processing failed", "platform", platform, "event", event,
			"session", payload.SessionID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

func (s *Server) dispatchHook(event string, p *hookPayload) (any, error) {
	switch event {
	case "session-init":
		return s.hookSessionInit(p)
	case "context":
		return s.hookContext(p)
	case "observation", "file-edit":
		return s.hookObservation(p)
	case "summarize":
		return s.hookSummarize(p)
	default:
		slog.Debug("ignoring unknown hook event", "event", event)
		return map[string]any{"ignored": true}, nil
	}
}

func (s *Server) hookSessionInit(p *hookPayload) (any, error) {
	sess, err := s.manager.LookupOrCreateSession(p.SessionID, p.project(), p.Prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_db_id": sess.ID}, nil
}

// hookContext records a user prompt turn and returns recent project
// memories for the host to inject.
func (s *Server) hookContext(p *hookPayload) (any, error) {
	sess, err := s.manager.LookupOrCreateSession(p.SessionID, p.project(), p.Prompt)
	if err != nil {
		return nil, err
	}

	number := p.PromptNumber
	if number <= 0 {
		if number, err = store.NextPromptNumber(s.db, p.SessionID); err != nil {
			return nil, err
		}
	}
	prompt := &models.UserPrompt{
		ContentSessionID: p.SessionID,
		PromptNumber:     number,
		PromptText:       p.Prompt,
		CreatedAtEpoch:   time.Now().Unix(),
	}
	if p.Prompt != "" {
		res, err := store.StoreUserPrompt(s.db, prompt)
		if err != nil {
			return nil, err
		}
		if res.Imported {
			if err := s.backend.SyncUserPrompt(context.Background(), prompt); err != nil {
				slog.Warn("vector sync failed for user prompt", "id", res.ID, "error", err)
			}
		}
	}

	recent, err := store.ListObservations(s.db, sess.Project, 10)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"prompt_number": number,
		"recent":        recent,
	}, nil
}

func (s *Server) hookObservation(p *hookPayload) (any, error) {
	sess, err := s.manager.LookupOrCreateSession(p.SessionID, p.project(), "")
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return map[string]any{"dropped": "session is " + string(sess.Status)}, nil
	}
	if err := s.manager.EnqueueObservation(sess, p.ToolName, p.ToolInput, p.ToolResponse, p.PromptNumber, p.CWD); err != nil {
		return nil, err
	}
	return map[string]any{"queued": true}, nil
}

func (s *Server) hookSummarize(p *hookPayload) (any, error) {
	sess, err := s.manager.LookupOrCreateSession(p.SessionID, p.project(), "")
	if err != nil {
		return nil, err
	}
	if err := s.manager.EnqueueSummarize(sess, p.LastAssistantMessage, p.PromptNumber); err != nil {
		return nil, err
	}
	backlog, err := store.CountPending(s.db, sess.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"queued": true, "backlog": backlog}, nil
}
