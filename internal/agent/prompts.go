package agent

import (
	"fmt"
	"strings"
)

// MaxToolPayloadChars caps tool inputs and outputs embedded in a prompt.
// Oversized payloads are cut with a marker; the surrounding XML structure
// stays intact so the extractor still sees where parameters end and the
// outcome begins.
const MaxToolPayloadChars = 4000

// systemPromptTemplate is the extraction policy. The extractor replies in
// XML because the host models emit it far more reliably than JSON when
// the payload itself contains code and quotes.
const systemPromptTemplate = `You are a memory extraction agent observing a coding session.

Project: %s
Session: %s

The user opened this session with:
%s

You will receive tool calls made during the session, one at a time. For
each, decide whether it reveals something worth remembering: a discovery
about the codebase, a bug fixed, a feature added, a refactor, a decision
made, or a notable change. Trivial reads and mechanical edits are not
worth remembering; respond with an empty reply for those.

When something is worth remembering, respond with one or more observation
blocks:

<observation>
  <type>discovery|bugfix|feature|refactor|decision|change</type>
  <title>Short imperative title</title>
  <subtitle>One-line elaboration</subtitle>
  <narrative>What happened and why it matters, a few sentences.</narrative>
  <facts>
    <fact>One atomic, standalone fact</fact>
  </facts>
  <concepts>
    <concept>topic-keyword</concept>
  </concepts>
  <files_read>
    <file>path/seen.go</file>
  </files_read>
  <files_modified>
    <file>path/changed.go</file>
  </files_modified>
</observation>

Facts must each stand alone without the narrative. Omit any element you
have nothing for. Never add text outside the observation blocks.`

// summaryPromptTemplate asks for the end-of-session roll-up.
const summaryPromptTemplate = `The session is ending. Summarize it as a single summary block:

<summary>
  <request>What the user originally asked for</request>
  <investigated>What was looked into</investigated>
  <learned>What was learned about the codebase</learned>
  <completed>What was finished</completed>
  <next_steps>What remains to do</next_steps>
  <notes>Anything else worth carrying forward</notes>
</summary>

The user's opening request:
%s

The assistant's final message:
%s

Omit elements you have nothing for. Never add text outside the summary block.`

// BuildSystemPrompt renders the policy message for a session.
func BuildSystemPrompt(project, contentSessionID, userPrompt string) string {
	if userPrompt == "" {
		userPrompt = "(not recorded)"
	}
	return fmt.Sprintf(systemPromptTemplate, project, contentSessionID, userPrompt)
}

// BuildObservationPrompt renders one tool call for the extractor.
func BuildObservationPrompt(toolName string, toolInput, toolResponse []byte, cwd string) string {
	var b strings.Builder
	b.WriteString("<observed_from_primary_session>\n")
	b.WriteString("<tool_name>")
	b.WriteString(toolName)
	b.WriteString("</tool_name>\n")
	if cwd != "" {
		b.WriteString("<cwd>")
		b.WriteString(cwd)
		b.WriteString("</cwd>\n")
	}
	b.WriteString("<parameters>\n")
	b.WriteString(TruncatePayload(string(toolInput), MaxToolPayloadChars))
	b.WriteString("\n</parameters>\n")
	b.WriteString("<outcome>\n")
	b.WriteString(TruncatePayload(string(toolResponse), MaxToolPayloadChars))
	b.WriteString("\n</outcome>\n")
	b.WriteString("</observed_from_primary_session>")
	return b.String()
}

// BuildSummaryPrompt renders the summarize turn.
func BuildSummaryPrompt(userPrompt, lastAssistantMessage string) string {
	if userPrompt == "" {
		userPrompt = "(not recorded)"
	}
	if lastAssistantMessage == "" {
		lastAssistantMessage = "(not recorded)"
	}
	return fmt.Sprintf(summaryPromptTemplate, userPrompt, lastAssistantMessage)
}

// TruncatePayload cuts s at maxChars on a UTF-8 boundary and appends a
// marker recording how much was dropped.
func TruncatePayload(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	cut := maxChars
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	dropped := len(s) - cut
	return s[:cut] + fmt.Sprintf(" [TRUNCATED %d chars]", dropped)
}

// utf8Start reports whether b begins a UTF-8 sequence (not a continuation
// byte).
func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
