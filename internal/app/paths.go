package app

import (
	"os"
	"path/filepath"
)

// Environment variables recognized for state-dir resolution.
const (
	// EnvPluginRoot overrides the state directory entirely. It is set by the
	// host when claude-mem runs as an installed plugin.
	EnvPluginRoot = "CLAUDE_PLUGIN_ROOT"

	// EnvDBPath overrides only the relational database location.
	EnvDBPath = "CLAUDE_MEM_DB_PATH"
)

// StateDir resolves the per-machine state directory.
// Order of precedence (first existing location wins):
// 1) $CLAUDE_PLUGIN_ROOT
// 2) ~/.memory-service (standalone install)
// 3) ~/.claude/marketplace/claude-mem (marketplace install)
// When none exists yet, the standalone directory is returned so first run
// creates it.
func StateDir() (string, error) {
	if root := os.Getenv(EnvPluginRoot); root != "" {
		return root, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	standalone := filepath.Join(home, ".memory-service")
	marketplace := filepath.Join(home, ".claude", "marketplace", "claude-mem")

	for _, dir := range []string{standalone, marketplace} {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return dir, nil
		}
	}
	return standalone, nil
}

// EnsureStateDir creates the state directory tree (logs/, export/) if absent
// and returns the root.
func EnsureStateDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	for _, sub := range []string{"", "logs", "export"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// DBPath resolves the relational database path.
// Order of precedence:
// 1) CLI override (--db-path)
// 2) CLAUDE_MEM_DB_PATH
// 3) <state dir>/claude-mem.db
// The parent directory is created if missing.
func DBPath() (string, error) {
	if override := getDBPathOverride(); override != "" {
		return ensureParentDir(override)
	}
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		return ensureParentDir(envPath)
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return ensureParentDir(filepath.Join(dir, "claude-mem.db"))
}

// VectorDBPath returns the embedded vector store path (<state dir>/vectors.db).
func VectorDBPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return ensureParentDir(filepath.Join(dir, "vectors.db"))
}

// ExportDir returns the VCS-managed replication workspace (<state dir>/export).
func ExportDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "export"), nil
}

// LogsDir returns <state dir>/logs.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// SettingsPath returns <state dir>/settings.json.
func SettingsPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

// EnsureDBDir creates the parent directory of a database path if missing
// and returns the path unchanged.
func EnsureDBDir(dbPath string) (string, error) {
	return ensureParentDir(dbPath)
}

func ensureParentDir(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", err
	}
	return path, nil
}
