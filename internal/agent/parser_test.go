package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/models"
)

func TestParseReplyFull(t *testing.T) {
	raw := `Here is what I observed:
<observation>
  <type>bugfix</type>
  <title>Fixed pool leak</title>
  <subtitle>Connections were never returned</subtitle>
  <narrative>The pool leaked under load.</narrative>
  <facts>
    <fact>Idle connections were not reaped</fact>
    <fact>The leak only shows above 100 rps</fact>
  </facts>
  <concepts>
    <concept>connection-pooling</concept>
  </concepts>
  <files_read>
    <file>internal/db/pool.go</file>
  </files_read>
  <files_modified>
    <file>internal/db/pool.go</file>
  </files_modified>
</observation>
Some trailing prose the model added.`

	reply := ParseReply(raw)
	require.Len(t, reply.Observations, 1)
	assert.Nil(t, reply.Summary)

	obs := reply.Observations[0]
	assert.Equal(t, models.ObservationBugfix, obs.Type)
	assert.Equal(t, "Fixed pool leak", obs.Title)
	assert.Equal(t, "Connections were never returned", obs.Subtitle)
	assert.Equal(t, "The pool leaked under load.", obs.Narrative)
	assert.Equal(t, []string{"Idle connections were not reaped", "The leak only shows above 100 rps"}, obs.Facts)
	assert.Equal(t, []string{"connection-pooling"}, obs.Concepts)
	assert.Equal(t, []string{"internal/db/pool.go"}, obs.FilesRead)
	assert.Equal(t, []string{"internal/db/pool.go"}, obs.FilesModified)
}

func TestParseReplyDefaults(t *testing.T) {
	reply := ParseReply(`<observation><type>nonsense</type></observation>`)
	require.Len(t, reply.Observations, 1)

	obs := reply.Observations[0]
	assert.Equal(t, models.ObservationDiscovery, obs.Type)
	assert.Equal(t, "Untitled", obs.Title)
	assert.Empty(t, obs.Facts)
}

func TestParseReplyEmpty(t *testing.T) {
	reply := ParseReply("Nothing worth remembering here.")
	assert.Empty(t, reply.Observations)
	assert.Nil(t, reply.Summary)
}

func TestParseReplyUnclosedBlock(t *testing.T) {
	// Replies cut off at a token limit lose their closing tags; the open
	// block still parses.
	raw := `<observation>
  <type>discovery</type>
  <title>Found the config loader</title>
  <narrative>Settings come from a YAML file`

	reply := ParseReply(raw)
	require.Len(t, reply.Observations, 1)
	assert.Equal(t, "Found the config loader", reply.Observations[0].Title)
	assert.Equal(t, "Settings come from a YAML file", reply.Observations[0].Narrative)
}

func TestParseReplyMultipleObservations(t *testing.T) {
	raw := `<observation><title>first</title></observation>
<observation><title>second</title></observation>`

	reply := ParseReply(raw)
	require.Len(t, reply.Observations, 2)
	assert.Equal(t, "first", reply.Observations[0].Title)
	assert.Equal(t, "second", reply.Observations[1].Title)
}

func TestParseReplySummary(t *testing.T) {
	raw := `<summary>
  <request>Fix the flaky test</request>
  <learned>The test raced on a shared temp dir</learned>
  <next_steps>Audit the other suites</next_steps>
</summary>`

	reply := ParseReply(raw)
	require.NotNil(t, reply.Summary)
	assert.Equal(t, "Fix the flaky test", reply.Summary.Request)
	assert.Equal(t, "The test raced on a shared temp dir", reply.Summary.Learned)
	assert.Equal(t, "Audit the other suites", reply.Summary.NextSteps)
	assert.Empty(t, reply.Summary.Notes)
}

func TestParseReplyUnescapesEntities(t *testing.T) {
	raw := `<observation>
  <title>Handle &lt;nil&gt; &amp; empty maps</title>
  <facts><fact>Compare with &quot;reflect.DeepEqual&quot;</fact></facts>
</observation>`

	reply := ParseReply(raw)
	require.Len(t, reply.Observations, 1)
	assert.Equal(t, "Handle <nil> & empty maps", reply.Observations[0].Title)
	assert.Equal(t, []string{`Compare with "reflect.DeepEqual"`}, reply.Observations[0].Facts)
}
