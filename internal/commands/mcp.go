package commands

import (
	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/mcp"
)

// NewMCPCmd creates the mcp command: serve the memory tools over stdio
// for an AI host.
func NewMCPCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP memory tools on standard streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := app.LoadSettings()
			if err != nil {
				return err
			}
			return mcp.NewServer(settings.WorkerPort, version).Serve()
		},
	}
}
