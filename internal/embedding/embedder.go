// Package embedding generates and serializes the float vectors behind the
// embedded vector backend. The provider speaks any OpenAI-compatible
// /embeddings endpoint (OpenAI, LM Studio, OpenRouter).
package embedding

import "context"

// Embedder turns text into float vectors.
type Embedder interface {
	// Name identifies the provider for stats and logs.
	Name() string

	// Embed generates one vector for one input text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one vector per input text, positionally.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the configured output dimensionality, or 0 when
	// the model's default applies.
	Dimensions() int
}
