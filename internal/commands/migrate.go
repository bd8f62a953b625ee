package commands

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/adapter"
	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/output"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/vector"
)

// NewMigrateCmd creates the migrate command: import foreign memory
// exports through the schema adapter.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import foreign memory records via a schema mapping",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	cmd.Flags().String("source", "", "Records file (JSON array or JSONL)")
	cmd.Flags().String("mapping", "", "YAML mapping file")
	cmd.Flags().StringToString("field", nil, "Inline field mapping, e.g. --field title=metadata.title")
	cmd.Flags().String("timestamp-format", "", "Timestamp transform: epoch_ms, epoch_s, or iso8601")
	cmd.Flags().String("facts-format", "", "Facts transform: array, json, or csv")
	cmd.Flags().String("embedding-format", "", "Embedding transform: array, json_array, base64, or binary")
	cmd.Flags().String("project", "", "Project to assign to imported records")
	cmd.Flags().String("memory-session-id", "", "Memory session id to assign to imported records")
	cmd.Flags().Int("batch-size", adapter.DefaultBatchSize, "Progress reporting batch size")
	cmd.Flags().Bool("continue-on-error", true, "Skip bad records instead of aborting")
	cmd.Flags().Bool("dry-run", false, "Adapt and validate without writing")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	source, _ := cmd.Flags().GetString("source")
	mappingPath, _ := cmd.Flags().GetString("mapping")
	fields, _ := cmd.Flags().GetStringToString("field")
	tsFormat, _ := cmd.Flags().GetString("timestamp-format")
	factsFormat, _ := cmd.Flags().GetString("facts-format")
	embFormat, _ := cmd.Flags().GetString("embedding-format")
	project, _ := cmd.Flags().GetString("project")
	memorySessionID, _ := cmd.Flags().GetString("memory-session-id")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	continueOnError, _ := cmd.Flags().GetBool("continue-on-error")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	mapping, err := resolveMapping(mappingPath, fields, tsFormat, factsFormat, embFormat)
	if err != nil {
		return err
	}
	records, err := adapter.ReadRecords(source)
	if err != nil {
		return err
	}
	if project != "" || memorySessionID != "" {
		applyOverrides(records, mapping, project, memorySessionID)
	}

	db, err := store.InitDB()
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // process exit

	var backend vector.Backend = vector.Disabled{}
	if !dryRun {
		settings, serr := app.LoadSettings()
		if serr != nil {
			return serr
		}
		backend = vector.FromSettings(cmd.Context(), settings)
		defer backend.Close() //nolint:errcheck // process exit
	}

	result, err := adapter.MigrateBatch(cmd.Context(), db, backend, mapping, records, adapter.BatchOptions{
		BatchSize:       batchSize,
		ContinueOnError: continueOnError,
		DryRun:          dryRun,
		OnProgress: func(done, total int) {
			slog.Info("migrating", "done", done, "total", total)
		},
	})
	if err != nil {
		return err
	}
	// Drop the per-record log from stdout; totals are what ops wants.
	result.Records = nil
	return output.PrintSuccess(result)
}

// resolveMapping loads a YAML mapping or assembles one from --field flags.
func resolveMapping(mappingPath string, fields map[string]string, tsFormat, factsFormat, embFormat string) (*adapter.Mapping, error) {
	if mappingPath != "" {
		return adapter.LoadMapping(mappingPath)
	}
	if len(fields) == 0 {
		return nil, errors.New("either --mapping or at least one --field is required")
	}

	m := &adapter.Mapping{Name: "inline", Fields: make(map[string]adapter.FieldSpec, len(fields))}
	for target, path := range fields {
		spec := adapter.FieldSpec{Path: path}
		switch target {
		case "created_at_epoch":
			spec.Transform = tsFormat
		case "facts", "concepts", "files_read", "files_modified":
			spec.Transform = factsFormat
		case "embedding":
			spec.Transform = embFormat
		}
		m.Fields[target] = spec
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// applyOverrides injects constant project / session values into every
// record under reserved keys the mapping is pointed at.
func applyOverrides(records []map[string]any, m *adapter.Mapping, project, memorySessionID string) {
	if project != "" {
		m.Fields["project"] = adapter.FieldSpec{Path: "__target_project"}
	}
	if memorySessionID != "" {
		m.Fields["memory_session_id"] = adapter.FieldSpec{Path: "__target_memory_session_id"}
	}
	for _, r := range records {
		if project != "" {
			r["__target_project"] = project
		}
		if memorySessionID != "" {
			r["__target_memory_session_id"] = memorySessionID
		}
	}
}
