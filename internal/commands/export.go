package commands

import (
	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/exporter"
	"github.com/bpd1069/claude-mem/internal/output"
	"github.com/bpd1069/claude-mem/internal/store"
)

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the memory databases (sqlite, full, or json)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("output")
			project, _ := cmd.Flags().GetString("project")
			noVectors, _ := cmd.Flags().GetBool("no-vectors")

			db, err := store.InitDB()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // process exit

			opts := exporter.Options{
				Format:  format,
				Output:  out,
				Project: project,
				Vectors: !noVectors,
			}
			dest, err := exporter.Export(cmd.Context(), db, opts)
			if err != nil {
				return err
			}
			return output.PrintSuccess(map[string]any{"format": format, "output": dest})
		},
	}
	cmd.Flags().String("format", exporter.FormatSQLite, "Export format: sqlite, full, or json")
	cmd.Flags().String("output", "", "Output file (sqlite/json) or directory (full)")
	cmd.Flags().String("project", "", "Restrict a json export to one project")
	cmd.Flags().Bool("no-vectors", false, "Skip the vector store in a full export")
	return cmd
}
