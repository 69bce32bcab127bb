package driven

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// DocumentStore persists documents and chunks.
type DocumentStore interface {
	// SaveDocument stores a document and replaces its chunk set in one transaction.
	SaveDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetChunk retrieves a specific chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// GetChunks retrieves all chunks for a document ordered by ordinal.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// DocumentsByPath returns the documents imported from a file.
	DocumentsByPath(ctx context.Context, path string) ([]domain.Document, error)

	// FindByContentHash returns the document with the given hash.
	FindByContentHash(ctx context.Context, hash string) (*domain.Document, error)

	// DeleteByPath removes every document imported from a file and
	// returns the ids of the removed chunks.
	DeleteByPath(ctx context.Context, path string) ([]string, error)

	// FilterChunkIDs returns the ids of chunks whose documents match the filters.
	// Zero filters return a nil filter.
	FilterChunkIDs(ctx context.Context, filters domain.SearchFilters) (ChunkFilter, error)

	// Counts returns the number of documents and chunks stored.
	Counts(ctx context.Context) (documents, chunks int, err error)

	// Close releases resources.
	Close() error
}
