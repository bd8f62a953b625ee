package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/output"
	"github.com/bpd1069/claude-mem/internal/store"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service health: paths, schema, row counts, worker",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			settings, err := app.LoadSettings()
			if err != nil {
				return err
			}
			stateDir, err := app.StateDir()
			if err != nil {
				return err
			}
			dbPath, err := app.DBPath()
			if err != nil {
				return err
			}

			db, err := store.InitDB()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // process exit

			current, latest, err := store.SchemaVersion(db)
			if err != nil {
				return err
			}
			stats, err := store.GetStoreStats(db)
			if err != nil {
				return err
			}

			return output.PrintSuccess(map[string]any{
				"state_dir":      stateDir,
				"db_path":        dbPath,
				"schema_version": current,
				"schema_latest":  latest,
				"store":          stats,
				"provider":       settings.Provider,
				"vector_backend": settings.VectorBackend,
				"worker":         workerState(settings.WorkerPort),
			})
		},
	}
}

// workerState probes the worker's localhost port.
func workerState(port int) string {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/stats", port))
	if err != nil {
		return "not running"
	}
	defer resp.Body.Close() //nolint:errcheck // read-only
	if resp.StatusCode == http.StatusOK {
		return "running"
	}
	return fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)
}
