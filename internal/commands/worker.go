package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bpd1069/claude-mem/internal/agent"
	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/llm"
	"github.com/bpd1069/claude-mem/internal/logging"
	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/session"
	"github.com/bpd1069/claude-mem/internal/store"
	"github.com/bpd1069/claude-mem/internal/supervisor"
	"github.com/bpd1069/claude-mem/internal/vector"
	"github.com/bpd1069/claude-mem/internal/worker"
)

// NewWorkerCmd creates the worker command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the capture worker (localhost HTTP service)",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
	cmd.Flags().Int("port", 0, "Override worker port")
	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	settings, err := app.LoadSettings()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		settings.WorkerPort = port
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		slog.Info("flag override", "flag", f.Name, "value", f.Value.String())
	})

	if dir, lerr := app.LogsDir(); lerr == nil {
		logPath := filepath.Join(dir, "worker.log")
		f, ferr := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // G304: fixed path under state dir
		if ferr == nil {
			defer f.Close() //nolint:errcheck // process exit flushes
			logging.SetupWithFile(f)
		}
	}

	db, err := store.InitDB()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close() //nolint:errcheck // process exit

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := vector.FromSettings(ctx, settings)
	sup := supervisor.New()
	manager := session.NewManager(db, runnerFactory(db, backend, sup, settings), sup.KillSessionObservers)
	srv := worker.NewServer(db, backend, manager, sup, settings)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runnerFunc adapts a closure to session.Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) StartSession(ctx context.Context) error { return f(ctx) }

// runnerFactory builds one agent per generator run. Providers are built
// per session so the claude CLI's children land in that session's
// supervisor entry.
func runnerFactory(db *sql.DB, backend vector.Backend, sup *supervisor.Supervisor, settings app.Settings) session.RunnerFactory {
	return func(sess *models.Session) session.Runner {
		spawn := supervisor.SpawnFor(sup, sess.ID)

		primary, err := buildProvider(settings.Provider, settings, spawn)
		if err != nil {
			return runnerFunc(func(context.Context) error {
				return fmt.Errorf("provider %s unavailable: %w", settings.Provider, err)
			})
		}
		var fallback llm.Provider
		if settings.FallbackProvider != "" && settings.FallbackProvider != settings.Provider {
			if fallback, err = buildProvider(settings.FallbackProvider, settings, spawn); err != nil {
				slog.Warn("fallback provider unavailable", "provider", settings.FallbackProvider, "error", err)
				fallback = nil
			}
		}

		a := agent.New(db, backend, agent.Config{
			Primary:            primary,
			Fallback:           fallback,
			MaxContextMessages: settings.MaxContextMessages,
			MaxContextTokens:   settings.MaxContextTokens,
		}, sess)
		return runnerFunc(func(ctx context.Context) error {
			err := a.StartSession(ctx)
			slog.Debug("extractor run finished", "session", sess.ContentSessionID, "state", a.State())
			return err
		})
	}
}

func buildProvider(name string, settings app.Settings, spawn llm.SpawnFunc) (llm.Provider, error) {
	if name == "claude" {
		return llm.NewClaudeCLI(spawn)
	}
	return llm.NewOpenAICompatible(name, settings.ProviderBaseURL, settings.ProviderAPIKey, settings.Model)
}
