package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const disableExternalLLMEnv = "CLAUDE_MEM_DISABLE_EXTERNAL_LLM"

// The hook-less settings override prevents the spawned extractor from
// re-triggering our own hooks and observing itself.
const claudeHooklessSettingsJSON = `{"hooks":{}}`

// SpawnFunc starts a prepared command. The supervisor wires its own
// implementation here so every child PID is registered before the call
// returns; the default is cmd.Start.
type SpawnFunc func(cmd *exec.Cmd) error

// ClaudeCLI drives the claude CLI's session API. The CLI keeps its own
// conversation state keyed by session id, so after the first turn only the
// newest user message is sent, with --resume threading the session.
// No API key required — the CLI handles its own auth.
type ClaudeCLI struct {
	command string
	spawn   SpawnFunc
}

// cliResult is the claude CLI's --output-format json envelope.
type cliResult struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
}

// NewClaudeCLI returns the claude CLI provider.
// Returns an error if the binary is not found in PATH or external LLM
// execution is disabled for tests.
func NewClaudeCLI(spawn SpawnFunc) (*ClaudeCLI, error) {
	if strings.TrimSpace(os.Getenv(disableExternalLLMEnv)) != "" {
		return nil, fmt.Errorf("external LLM CLI execution disabled by %s", disableExternalLLMEnv)
	}
	if _, err := exec.LookPath("claude"); err != nil {
		return nil, fmt.Errorf("cli tool %q not found in PATH: %w", "claude", err)
	}
	if spawn == nil {
		spawn = func(cmd *exec.Cmd) error { return cmd.Start() }
	}
	return &ClaudeCLI{command: "claude", spawn: spawn}, nil
}

// Name implements Provider.
func (p *ClaudeCLI) Name() string { return "claude" }

// Chat implements Provider. With an empty sessionID the full history is
// flattened into the first prompt and the CLI's new session id is returned;
// with a sessionID only the final user message is posted via --resume.
func (p *ClaudeCLI) Chat(ctx context.Context, sessionID string, messages []Message) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("empty conversation")
	}

	args := []string{"-p", "--output-format", "json", "--settings", claudeHooklessSettingsJSON}

	var prompt string
	if sessionID == "" {
		system, rest := splitSystem(messages)
		if system != "" {
			args = append(args, "--append-system-prompt", system)
		}
		prompt = flattenHistory(rest)
	} else {
		args = append(args, "--resume", sessionID)
		prompt = messages[len(messages)-1].Content
	}
	if err := validatePrompt(prompt); err != nil {
		return nil, fmt.Errorf("invalid prompt: %w", err)
	}
	args = append(args, prompt)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context expired before exec: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command, args...) //nolint:gosec // G204: fixed binary name, args built above
	cmd.Env = os.Environ()

	var stdout bytes.Buffer
	stderrW := &limitedWriter{maxBytes: 4096}
	cmd.Stdout = &stdout
	cmd.Stderr = stderrW

	if err := p.spawn(cmd); err != nil {
		return nil, fmt.Errorf("cli %s failed to start: %w", p.command, err)
	}
	if err := cmd.Wait(); err != nil {
		stderrMsg := stderrW.buf.String()
		if stderrW.buf.Len() >= stderrW.maxBytes {
			stderrMsg += " (truncated)"
		}
		return nil, fmt.Errorf("cli %s failed: %w (stderr: %s)", p.command, err, stderrMsg)
	}

	var result cliResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		// Older CLI builds emit bare text for -p without json support.
		return &Response{Content: strings.TrimSpace(stdout.String())}, nil
	}
	if result.IsError {
		return nil, fmt.Errorf("cli %s reported error: %s", p.command, result.Result)
	}
	return &Response{Content: strings.TrimSpace(result.Result), SessionID: result.SessionID}, nil
}

// splitSystem separates the system message (index 0 by convention) from
// the rest of the history.
func splitSystem(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

// flattenHistory renders prior turns as a transcript for the CLI's first
// prompt. Subsequent turns rely on the CLI's own session state.
func flattenHistory(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// validatePrompt checks for unsafe characters in prompts.
// While Go's exec avoids shell injection (no shell involved),
// this is defense-in-depth: external CLIs may be shell scripts.
func validatePrompt(s string) error {
	if len(s) == 0 {
		return errors.New("empty prompt")
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("prompt contains null byte")
	}
	return nil
}

// limitedWriter caps writes at maxBytes, silently discarding overflow.
// This prevents OOM from buggy CLIs emitting unbounded stderr.
type limitedWriter struct {
	buf      bytes.Buffer
	maxBytes int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	remaining := w.maxBytes - w.buf.Len()
	if remaining <= 0 {
		return originalLen, nil // discard but report success
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.buf.Write(p)
	return originalLen, nil // always report original len to avoid short write errors
}
