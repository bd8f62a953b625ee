package agent

import "github.com/bpd1069/claude-mem/internal/llm"

// TruncateHistory drops oldest non-system turns until the conversation
// fits both caps. The system message at index 0 carries the extraction
// policy and survives every truncation; without it the extractor drifts
// into free-form replies the parser cannot use.
func TruncateHistory(messages []llm.Message, maxMessages, maxTokens int) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	var system *llm.Message
	rest := messages
	if messages[0].Role == llm.RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	budget := maxMessages
	if system != nil {
		budget--
	}
	if budget < 0 {
		budget = 0
	}
	if maxMessages > 0 && len(rest) > budget {
		rest = rest[len(rest)-budget:]
	}

	if maxTokens > 0 {
		systemTokens := 0
		if system != nil {
			systemTokens = llm.EstimateTokens([]llm.Message{*system})
		}
		for len(rest) > 1 && systemTokens+llm.EstimateTokens(rest) > maxTokens {
			rest = rest[1:]
		}
	}

	if system == nil {
		return rest
	}
	out := make([]llm.Message, 0, len(rest)+1)
	out = append(out, *system)
	return append(out, rest...)
}
