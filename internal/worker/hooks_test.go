package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/session"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/supervisor"
	"github.com/bpd1069/claude-mem/internal/vector"
)

// idleRunner drains nothing; hook tests only exercise the HTTP surface.
type idleRunner struct{}

func (idleRunner) StartSession(context.Context) error { return nil }

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	manager := session.NewManager(db, func(*models.Session) session.Runner {
		return idleRunner{}
	}, nil)
	return NewServer(db, vector.Disabled{}, manager, supervisor.New(), app.Settings{})
}

func postHook(t *testing.T, s *Server, event string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/hooks/claude/"+event, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec.Code, decoded
}

func TestHookAlwaysRespondsOK(t *testing.T) {
	s := setupTestServer(t)

	// Garbage payload, missing session id, unknown event: all 200.
	req := httptest.NewRequest(http.MethodPost, "/hooks/claude/observation", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	code, resp := postHook(t, s, "observation", map[string]any{})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp["success"])

	code, resp = postHook(t, s, "mystery-event", map[string]any{"session_id": "c1"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["success"])
}

func TestHookSessionInit(t *testing.T) {
	s := setupTestServer(t)

	code, resp := postHook(t, s, "session-init", map[string]any{
		"session_id": "c1",
		"cwd":        "/home/dev/myproject",
		"prompt":     "fix the flaky test",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, resp["success"])

	sess, err := store.GetSessionByContentID(s.db, "c1")
	require.NoError(t, err)
	assert.Equal(t, "myproject", sess.Project)
	assert.Equal(t, "fix the flaky test", sess.UserPrompt)
}

func TestHookObservationQueues(t *testing.T) {
	s := setupTestServer(t)

	code, resp := postHook(t, s, "observation", map[string]any{
		"session_id":    "c1",
		"project":       "p",
		"tool_name":     "Read",
		"tool_input":    map[string]any{"path": "a.go"},
		"tool_response": map[string]any{"ok": true},
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, resp["success"])

	sess, err := store.GetSessionByContentID(s.db, "c1")
	require.NoError(t, err)
	s.manager.Wait(sess.ID)
}

func TestHookObservationDroppedOnTerminalSession(t *testing.T) {
	s := setupTestServer(t)

	sess, err := store.CreateSession(s.db, "c1", "p", "")
	require.NoError(t, err)
	require.NoError(t, store.MarkSessionCompleted(s.db, sess.ID))

	code, resp := postHook(t, s, "observation", map[string]any{
		"session_id": "c1",
		"tool_name":  "Read",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, resp["success"])

	data, ok := resp["data"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data["dropped"], "completed")
}

func TestHookContextReturnsPromptNumber(t *testing.T) {
	s := setupTestServer(t)

	code, resp := postHook(t, s, "context", map[string]any{
		"session_id": "c1",
		"project":    "p",
		"prompt":     "what changed since yesterday",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, resp["success"])

	data, ok := resp["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["prompt_number"])

	// The next prompt in the same session numbers sequentially.
	_, resp = postHook(t, s, "context", map[string]any{
		"session_id": "c1",
		"project":    "p",
		"prompt":     "and the day before",
	})
	data = resp["data"].(map[string]any)
	assert.Equal(t, float64(2), data["prompt_number"])
}
