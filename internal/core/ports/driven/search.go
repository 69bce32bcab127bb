package driven

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// KeywordIndex provides full-text search operations.
// Upsert and Remove are atomic per chunk id.
type KeywordIndex interface {
	// Upsert indexes a document's chunks, replacing any with the same ids.
	Upsert(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error

	// Remove deletes chunks from the index. Unknown ids are ignored.
	Remove(ctx context.Context, chunkIDs ...string) error

	// Search performs a keyword search and returns matching chunk IDs with scores.
	Search(ctx context.Context, query string, k int, opts KeywordSearchOptions) ([]domain.ScoredChunk, error)

	// Len returns the number of indexed chunks.
	Len() (int, error)

	// Reset removes every indexed chunk.
	Reset() error

	// Close releases resources.
	Close() error
}

// KeywordSearchOptions narrow a keyword search.
type KeywordSearchOptions struct {
	// Tags must all be present on a matching chunk.
	Tags []string

	// Filter restricts matches to a chunk id set.
	Filter ChunkFilter
}
