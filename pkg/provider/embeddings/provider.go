// Package embeddings defines the Provider interface for text embedding
// backends used by long-term memory search.
//
// Every vector returned by one Provider has the same length, reported by
// Dimensions. The memory index is created for a fixed dimension, so the
// configured provider and the index must agree.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text. The text is sent verbatim;
	// any model-specific prefix is the caller's concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one request. The i-th result belongs to
	// texts[i]. On error no partial results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length.
	Dimensions() int

	// ModelID returns the model identifier, e.g. "text-embedding-3-small".
	ModelID() string
}
