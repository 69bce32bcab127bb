package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// Note: This is separate from VectorIndex which stores and searches vectors.
// EmbeddingService generates vectors; VectorIndex stores them.
//
// Implementations include:
//   - Local feature-hashing model (deterministic, no network)
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
//   - Ollama (nomic-embed-text, all-minilm)
//
// Every returned vector is L2-normalised and has Dimensions() elements.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	// This is determined by the model and must match VectorIndex configuration.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EmbeddingKey is the stable identity of a chunk span for caching.
type EmbeddingKey struct {
	Path  string
	Page  int
	Start int
	End   int
}

// EmbeddingCache stores vectors across reindexes so unchanged chunks are
// never embedded twice.
type EmbeddingCache interface {
	// Get returns the cached vector for the key if it was produced from
	// text with the given digest by the active model.
	Get(key EmbeddingKey, textDigest string) ([]float32, bool)

	// Put stores a vector for the key.
	Put(key EmbeddingKey, textDigest string, vector []float32) error

	// Len returns the number of cached vectors.
	Len() int
}
