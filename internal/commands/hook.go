package commands

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bpd1069/claude-mem/internal/app"
)

const (
	// maxHookStdinBytes caps stdin reads. Hook payloads are small JSON
	// objects; 1 MB is generous headroom that prevents unbounded allocation.
	maxHookStdinBytes = 1 << 20

	hookPostTimeout = 10 * time.Second
)

// NewHookCmd creates the hook entrypoint the host editor invokes. Hooks
// read the platform payload from stdin, forward it to the worker, and
// always exit 0: a capture failure must never disrupt the host session.
func NewHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "hook <event>",
		Short:     "Forward a host hook event to the worker (always exits 0)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"session-init", "context", "observation", "file-edit", "summarize"},
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, _ := cmd.Flags().GetString("platform")
			if err := forwardHook(platform, args[0]); err != nil {
				// stderr only; the host treats a non-zero exit as its own failure
				slog.Error("hook forwarding failed", "event", args[0], "error", err)
			}
			return nil
		},
	}
	cmd.Flags().String("platform", "claude", "Host platform name")
	return cmd
}

func forwardHook(platform, event string) error {
	payload, err := io.ReadAll(io.LimitReader(os.Stdin, maxHookStdinBytes))
	if err != nil {
		return fmt.Errorf("failed to read hook payload: %w", err)
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	settings, err := app.LoadSettings()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/hooks/%s/%s", settings.WorkerPort, platform, event)

	client := &http.Client{Timeout: hookPostTimeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("worker unreachable (is `claude-mem worker` running?): %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	// The worker's envelope goes to stdout for platforms that inject it
	// back into the session (the context hook).
	if _, err := io.Copy(os.Stdout, io.LimitReader(resp.Body, maxHookStdinBytes)); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	return nil
}
