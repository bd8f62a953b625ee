// Package commands wires the CLI surface: the long-running worker, the
// hook entrypoint, and the ops commands (export, git-sync, migrate,
// mcp, status).
package commands

import (
	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/logging"
	"github.com/bpd1069/claude-mem/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	logging.Setup()

	root := &cobra.Command{
		Use:           "claude-mem",
		Short:         "Local memory capture and retrieval for AI coding sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.EnsureStateDir(); err != nil {
				return err
			}
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}
			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override database path")
	root.Flags().BoolP("version", "v", false, "version for claude-mem")

	root.AddCommand(NewWorkerCmd())
	root.AddCommand(NewHookCmd())
	root.AddCommand(NewExportCmd())
	root.AddCommand(NewGitSyncCmd())
	root.AddCommand(NewMigrateCmd())
	root.AddCommand(NewMCPCmd(version))
	root.AddCommand(NewStatusCmd())

	err := root.Execute()
	if err != nil {
		_ = output.PrintError(err)
	}
	return err
}
