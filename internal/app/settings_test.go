package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSettingsDefaults(t *testing.T) {
	t.Setenv(EnvPluginRoot, t.TempDir())

	s, err := readSettingsFile()
	require.NoError(t, err)

	assert.Equal(t, DefaultProvider, s.Provider)
	assert.Equal(t, DefaultVectorBackend, s.VectorBackend)
	assert.Equal(t, DefaultEmbeddingDimension, s.EmbeddingDimension)
	assert.Equal(t, DefaultWorkerPort, s.WorkerPort)
	assert.Equal(t, DefaultFederationDecay, s.FederationDecay)
	assert.Equal(t, DefaultSyncIdlePushSec, s.SyncIdlePushSec)
	assert.False(t, s.SyncAutoPush)
}

func TestReadSettingsMalformed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPluginRoot, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{not json"), 0o600))

	_, err := readSettingsFile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	t.Setenv(EnvPluginRoot, t.TempDir())

	require.NoError(t, SaveSettings(Settings{
		Provider:      "lmstudio",
		Model:         "qwen3-8b",
		VectorBackend: "none",
		WorkerPort:    4242,
	}))

	s, err := readSettingsFile()
	require.NoError(t, err)
	assert.Equal(t, "lmstudio", s.Provider)
	assert.Equal(t, "qwen3-8b", s.Model)
	assert.Equal(t, "none", s.VectorBackend)
	assert.Equal(t, 4242, s.WorkerPort)
	// Omitted fields still pick up defaults on read.
	assert.Equal(t, DefaultMaxContextMessages, s.MaxContextMessages)
}

func TestSaveSettingsRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPluginRoot, dir)

	require.Error(t, SaveSettings(Settings{Provider: "skynet"}))
	assert.NoFileExists(t, filepath.Join(dir, "settings.json"))
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr string
	}{
		{"zero value", Settings{}, ""},
		{"known provider", Settings{Provider: "openrouter"}, ""},
		{"unknown provider", Settings{Provider: "skynet"}, "unrecognized provider"},
		{"unknown fallback", Settings{FallbackProvider: "skynet"}, "unrecognized fallback"},
		{"unknown backend", Settings{VectorBackend: "pinecone"}, "unrecognized vector backend"},
		{"too many remotes", Settings{FederationMaxRemotes: 4}, "exceeds limit"},
		{"unknown decay", Settings{FederationDecay: "quadratic"}, "unrecognized federation_decay"},
		{"known decay", Settings{FederationDecay: "linear"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestStateDirPrecedence(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvPluginRoot, root)

	dir, err := StateDir()
	require.NoError(t, err)
	assert.Equal(t, root, dir)
}

func TestDBPathOverrides(t *testing.T) {
	t.Setenv(EnvPluginRoot, t.TempDir())

	envPath := filepath.Join(t.TempDir(), "env", "custom.db")
	t.Setenv(EnvDBPath, envPath)

	got, err := DBPath()
	require.NoError(t, err)
	assert.Equal(t, envPath, got)
	assert.DirExists(t, filepath.Dir(envPath))

	// The CLI flag override outranks the environment.
	flagPath := filepath.Join(t.TempDir(), "flag", "flag.db")
	SetDBPathOverride(flagPath)
	defer SetDBPathOverride("")

	got, err = DBPath()
	require.NoError(t, err)
	assert.Equal(t, flagPath, got)
}
