// Package embed provides text embedding generation for the retrieval
// and ingestion pipelines.
package embed

import "context"

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// input order. Preferred for bulk ingestion.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension. Must match the
	// vector store index dimension.
	Dimension() int
}
