package agent

import (
	"strings"

	"github.com/bpd1069/claude-mem/internal/models"
)

// The extractor's replies are "XML-shaped" rather than XML: models wrap
// blocks in prose, drop closing tags, and embed unescaped code. A strict
// decoder rejects half of real-world output, so this parser scans for
// known tags with plain string matching and ignores everything else.

// ParsedReply holds whatever one assistant turn yielded.
type ParsedReply struct {
	Observations []*models.Observation
	Summary      *models.Summary
}

// ParseReply extracts observation and summary blocks from raw assistant
// output. A reply with neither is valid and yields an empty result.
func ParseReply(raw string) *ParsedReply {
	out := &ParsedReply{}
	for _, block := range extractBlocks(raw, "observation") {
		out.Observations = append(out.Observations, parseObservation(block))
	}
	if blocks := extractBlocks(raw, "summary"); len(blocks) > 0 {
		out.Summary = parseSummary(blocks[0])
	}
	return out
}

func parseObservation(block string) *models.Observation {
	obs := &models.Observation{
		Type:     models.ObservationType(strings.TrimSpace(extractTag(block, "type"))),
		Title:    strings.TrimSpace(extractTag(block, "title")),
		Subtitle: strings.TrimSpace(extractTag(block, "subtitle")),
	}
	if !obs.Type.Valid() {
		obs.Type = models.ObservationDiscovery
	}
	if obs.Title == "" {
		obs.Title = "Untitled"
	}
	obs.Narrative = strings.TrimSpace(extractTag(block, "narrative"))
	obs.Facts = extractList(extractTag(block, "facts"), "fact")
	obs.Concepts = extractList(extractTag(block, "concepts"), "concept")
	obs.FilesRead = extractList(extractTag(block, "files_read"), "file")
	obs.FilesModified = extractList(extractTag(block, "files_modified"), "file")
	return obs
}

func parseSummary(block string) *models.Summary {
	return &models.Summary{
		Request:      strings.TrimSpace(extractTag(block, "request")),
		Investigated: strings.TrimSpace(extractTag(block, "investigated")),
		Learned:      strings.TrimSpace(extractTag(block, "learned")),
		Completed:    strings.TrimSpace(extractTag(block, "completed")),
		NextSteps:    strings.TrimSpace(extractTag(block, "next_steps")),
		Notes:        strings.TrimSpace(extractTag(block, "notes")),
	}
}

// extractBlocks returns the inner content of every <tag>...</tag> pair.
// An opening tag with no close runs to end of input, which salvages
// replies cut off by a provider token limit.
func extractBlocks(s, tag string) []string {
	open, close := "<"+tag+">", "</"+tag+">"
	var blocks []string
	for {
		start := strings.Index(s, open)
		if start < 0 {
			return blocks
		}
		s = s[start+len(open):]
		end := strings.Index(s, close)
		if end < 0 {
			blocks = append(blocks, s)
			return blocks
		}
		blocks = append(blocks, s[:end])
		s = s[end+len(close):]
	}
}

// extractTag returns the first <tag>...</tag> inner content, unescaped.
func extractTag(s, tag string) string {
	blocks := extractBlocks(s, tag)
	if len(blocks) == 0 {
		return ""
	}
	return unescape(blocks[0])
}

// extractList pulls every <item>...</item> out of a container's content,
// dropping empties.
func extractList(container, item string) []string {
	var out []string
	for _, b := range extractBlocks(container, item) {
		if v := strings.TrimSpace(unescape(b)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityReplacer.Replace(s)
}
