package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Settings is the single user settings file at <state dir>/settings.json.
// Field names match snake_case JSON keys. Zero values fall back to the
// defaults applied by applyDefaults.
type Settings struct {
	// Provider selection: claude, lmstudio, openrouter, gemini.
	Provider         string `json:"provider,omitempty"`
	FallbackProvider string `json:"fallback_provider,omitempty"`

	// OpenAI-compatible endpoint configuration, shared by lmstudio and
	// openrouter (base URL differs).
	ProviderBaseURL string `json:"provider_base_url,omitempty"`
	ProviderAPIKey  string `json:"provider_api_key,omitempty"`
	Model           string `json:"model,omitempty"`

	// Vector backend selection: chroma, sqlite-vec, none.
	VectorBackend      string `json:"vector_backend,omitempty"`
	EmbeddingProvider  string `json:"embedding_provider,omitempty"`
	EmbeddingBaseURL   string `json:"embedding_base_url,omitempty"`
	EmbeddingAPIKey    string `json:"embedding_api_key,omitempty"`
	EmbeddingModel     string `json:"embedding_model,omitempty"`
	EmbeddingDimension int    `json:"embedding_dimensions,omitempty"`

	// Collection-service (chroma) subprocess launch configuration.
	ChromaCommand string   `json:"chroma_command,omitempty"`
	ChromaArgs    []string `json:"chroma_args,omitempty"`

	// Federation options.
	FederationMaxRemotes   int      `json:"federation_max_remotes,omitempty"`
	FederationTimeoutSec   int      `json:"federation_timeout_seconds,omitempty"`
	FederationBudgetSec    int      `json:"federation_budget_seconds,omitempty"`
	FederationDecay        string   `json:"federation_decay,omitempty"`
	FederationAllowedPaths []string `json:"federation_allowed_paths,omitempty"`
	FederationReadOnly     *bool    `json:"federation_read_only,omitempty"`

	// Replication (git export) options.
	SyncEnabled     bool   `json:"sync_enabled,omitempty"`
	SyncRemoteName  string `json:"sync_remote_name,omitempty"`
	SyncRemoteURL   string `json:"sync_remote_url,omitempty"`
	SyncAutoPush    bool   `json:"sync_auto_push,omitempty"`
	SyncIdlePushSec int    `json:"sync_idle_push_seconds,omitempty"`

	// Context-truncation caps for the extractor conversation.
	MaxContextMessages int `json:"max_context_messages,omitempty"`
	MaxContextTokens   int `json:"max_context_tokens,omitempty"`

	// Worker HTTP port (localhost only).
	WorkerPort int `json:"worker_port,omitempty"`
}

// Default values applied when settings.json omits a field.
const (
	DefaultProvider           = "claude"
	DefaultVectorBackend      = "sqlite-vec"
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingDimension = 768
	DefaultWorkerPort         = 37777
	DefaultMaxContextMessages = 40
	DefaultMaxContextTokens   = 60000
	DefaultFederationRemotes  = 3
	DefaultFederationTimeout  = 5
	DefaultFederationBudget   = 15
	DefaultFederationDecay    = "golden"
	DefaultSyncRemoteName     = "origin"
	DefaultSyncIdlePushSec    = 300
)

// recognizedProviders guards PUT /settings and CLI validation.
var recognizedProviders = map[string]bool{
	"claude": true, "lmstudio": true, "openrouter": true, "gemini": true,
}

// recognizedBackends guards vector backend selection.
var recognizedBackends = map[string]bool{
	"chroma": true, "sqlite-vec": true, "none": true,
}

//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (--db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads settings.json once. A missing file yields defaults,
// not an error; a malformed file is an error so a typo never silently
// reverts the worker to defaults.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings, settingsErr = readSettingsFile()
	})
	return settings, settingsErr
}

// ReadSettings reads settings.json fresh, bypassing the process cache.
// The settings API edits the file while the running worker keeps its
// boot-time snapshot, so the editor surface must see the file.
func ReadSettings() (Settings, error) {
	return readSettingsFile()
}

func readSettingsFile() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	b, err := os.ReadFile(path) //nolint:gosec // G304: path derived from trusted state dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.applyDefaults()
			return s, nil
		}
		return Settings{}, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	s.applyDefaults()
	return s, nil
}

// SaveSettings validates and writes settings.json atomically (tmp + rename).
func SaveSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if _, err := EnsureStateDir(); err != nil {
		return err
	}

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate rejects unrecognized provider/backend names and out-of-range
// federation configuration.
func (s *Settings) Validate() error {
	if s.Provider != "" && !recognizedProviders[s.Provider] {
		return fmt.Errorf("unrecognized provider %q (supported: claude, lmstudio, openrouter, gemini)", s.Provider)
	}
	if s.FallbackProvider != "" && !recognizedProviders[s.FallbackProvider] {
		return fmt.Errorf("unrecognized fallback provider %q", s.FallbackProvider)
	}
	if s.VectorBackend != "" && !recognizedBackends[s.VectorBackend] {
		return fmt.Errorf("unrecognized vector backend %q (supported: chroma, sqlite-vec, none)", s.VectorBackend)
	}
	if s.FederationMaxRemotes > DefaultFederationRemotes {
		return fmt.Errorf("federation_max_remotes %d exceeds limit of %d", s.FederationMaxRemotes, DefaultFederationRemotes)
	}
	switch s.FederationDecay {
	case "", "golden", "exponential", "linear":
	default:
		return fmt.Errorf("unrecognized federation_decay %q (supported: golden, exponential, linear)", s.FederationDecay)
	}
	return nil
}

func (s *Settings) applyDefaults() {
	if s.Provider == "" {
		s.Provider = DefaultProvider
	}
	if s.VectorBackend == "" {
		s.VectorBackend = DefaultVectorBackend
	}
	if s.EmbeddingModel == "" {
		s.EmbeddingModel = DefaultEmbeddingModel
	}
	if s.EmbeddingDimension <= 0 {
		s.EmbeddingDimension = DefaultEmbeddingDimension
	}
	if s.WorkerPort <= 0 {
		s.WorkerPort = DefaultWorkerPort
	}
	if s.MaxContextMessages <= 0 {
		s.MaxContextMessages = DefaultMaxContextMessages
	}
	if s.MaxContextTokens <= 0 {
		s.MaxContextTokens = DefaultMaxContextTokens
	}
	if s.FederationMaxRemotes <= 0 {
		s.FederationMaxRemotes = DefaultFederationRemotes
	}
	if s.FederationTimeoutSec <= 0 {
		s.FederationTimeoutSec = DefaultFederationTimeout
	}
	if s.FederationBudgetSec <= 0 {
		s.FederationBudgetSec = DefaultFederationBudget
	}
	if s.FederationDecay == "" {
		s.FederationDecay = DefaultFederationDecay
	}
	if s.SyncRemoteName == "" {
		s.SyncRemoteName = DefaultSyncRemoteName
	}
	if s.SyncIdlePushSec <= 0 {
		s.SyncIdlePushSec = DefaultSyncIdlePushSec
	}
}
