package driven

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// ChunkFilter restricts a search to a set of chunk ids. A nil filter allows all.
type ChunkFilter map[string]struct{}

// Allows reports whether the id passes the filter.
func (f ChunkFilter) Allows(id string) bool {
	if f == nil {
		return true
	}
	_, ok := f[id]
	return ok
}

// VectorIndex provides semantic similarity search operations.
// Upsert and Remove are atomic per chunk id.
type VectorIndex interface {
	// Upsert inserts or replaces the vector for the given chunk ID.
	Upsert(ctx context.Context, chunkID string, embedding []float32) error

	// Remove deletes vectors from the index. Unknown ids are ignored.
	Remove(ctx context.Context, chunkIDs ...string) error

	// Search returns up to k chunks ordered by descending cosine similarity.
	Search(ctx context.Context, query []float32, k int, filter ChunkFilter) ([]domain.ScoredChunk, error)

	// Len returns the number of vectors held.
	Len() int

	// Reset removes every vector.
	Reset() error

	// Flush persists the index snapshot.
	Flush() error

	// Close flushes and releases resources.
	Close() error
}
