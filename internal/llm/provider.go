// Package llm abstracts the extractor model behind a small chat interface.
// Two families of provider exist: OpenAI-compatible HTTP endpoints
// (lmstudio, openrouter, gemini via its compatibility layer) and the
// claude CLI, which carries its own session state.
package llm

import "context"

// Role of a conversation message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the extractor conversation. The system message at
// index 0 carries the extraction policy and is preserved across truncation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is one assistant reply. SessionID is non-empty only for
// providers that maintain their own session state (the claude CLI); the
// agent records it as memory_session_id on first contact.
type Response struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// Provider drives one extractor model.
type Provider interface {
	// Name is the provider key from settings (claude, lmstudio, ...).
	Name() string

	// Chat posts the full conversation and returns the assistant reply.
	// sessionID threads provider-side session state; providers without
	// sessions ignore it.
	Chat(ctx context.Context, sessionID string, messages []Message) (*Response, error)
}

// EstimateTokens approximates the token count of a message list as
// ceil(chars / 4). Deliberately crude: it only gates history truncation,
// where an overestimate costs a dropped old message and an underestimate
// costs a provider-side truncation.
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return (chars + 3) / 4
}
