package commands

import (
	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/exporter"
	"github.com/bpd1069/claude-mem/internal/output"
	"github.com/bpd1069/claude-mem/internal/store"
)

// NewGitSyncCmd creates the git-sync command group.
func NewGitSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git-sync",
		Short: "Replicate memory snapshots through a git workspace",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newGitSyncStatusCmd())
	cmd.AddCommand(newGitSyncInitCmd())
	cmd.AddCommand(newGitSyncPushCmd())
	cmd.AddCommand(newGitSyncPullCmd())
	return cmd
}

func newGitSync(remoteOverride string) (*exporter.GitSync, error) {
	settings, err := app.LoadSettings()
	if err != nil {
		return nil, err
	}
	if remoteOverride != "" {
		settings.SyncRemoteURL = remoteOverride
	}
	dir, err := app.ExportDir()
	if err != nil {
		return nil, err
	}
	return exporter.NewGitSync(dir, settings), nil
}

func newGitSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show replication workspace state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := newGitSync("")
			if err != nil {
				return err
			}
			st, err := g.Status(cmd.Context())
			if err != nil {
				return err
			}
			return output.PrintSuccess(st)
		},
	}
}

func newGitSyncInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the replication workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			remote, _ := cmd.Flags().GetString("remote")
			g, err := newGitSync(remote)
			if err != nil {
				return err
			}
			if err := g.EnsureInit(cmd.Context()); err != nil {
				return err
			}
			return output.PrintSuccess(map[string]any{"dir": g.Dir, "remote": g.RemoteURL})
		},
	}
	cmd.Flags().String("remote", "", "Remote URL to configure")
	return cmd
}

func newGitSyncPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Snapshot, commit, and push (auto-initializes if needed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			full, _ := cmd.Flags().GetBool("full")
			g, err := newGitSync("")
			if err != nil {
				return err
			}
			db, err := store.InitDB()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // process exit

			if err := g.Push(cmd.Context(), db, full); err != nil {
				return err
			}
			return output.PrintSuccess(map[string]any{"pushed": true, "full": full})
		},
	}
	cmd.Flags().Bool("full", false, "Also include the relational store")
	return cmd
}

func newGitSyncPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull the latest remote snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := newGitSync("")
			if err != nil {
				return err
			}
			if err := g.Pull(cmd.Context()); err != nil {
				return err
			}
			return output.PrintSuccess(map[string]any{"pulled": true})
		},
	}
}
