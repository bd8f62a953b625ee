package vector

import (
	"context"
	"log/slog"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/embedding"
)

// FromSettings builds the configured backend. Startup failures degrade to
// Disabled rather than failing the worker: capture must keep running even
// when the embedding endpoint or collection service is down.
func FromSettings(ctx context.Context, s app.Settings) Backend {
	backend, err := buildBackend(ctx, s)
	if err != nil {
		slog.Warn("vector backend unavailable, semantic search disabled",
			"backend", s.VectorBackend, "error", err)
		return Disabled{}
	}
	if err := backend.Initialize(ctx); err != nil {
		slog.Warn("vector backend failed to initialize, semantic search disabled",
			"backend", backend.Name(), "error", err)
		_ = backend.Close() //nolint:errcheck // best effort
		return Disabled{}
	}
	for _, remote := range s.FederationAllowedPaths {
		attacher, ok := backend.(RemoteAttacher)
		if !ok {
			break
		}
		if err := attacher.AttachRemote(remote); err != nil {
			slog.Warn("failed to attach federation remote", "remote", remote, "error", err)
		}
	}
	return backend
}

func buildBackend(ctx context.Context, s app.Settings) (Backend, error) {
	switch s.VectorBackend {
	case "none":
		return Disabled{}, nil
	case "chroma":
		return NewChroma(ctx, s.ChromaCommand, s.ChromaArgs)
	default: // sqlite-vec
		embedder, err := embedding.NewOpenAIEmbedder(
			s.EmbeddingBaseURL, s.EmbeddingAPIKey, s.EmbeddingModel, s.EmbeddingDimension)
		if err != nil {
			return nil, err
		}
		path, err := app.VectorDBPath()
		if err != nil {
			return nil, err
		}
		return NewSQLiteVec(path, embedder, s.FederationDecay)
	}
}
