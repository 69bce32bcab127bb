package driven

import "github.com/custodia-labs/sercha-kb/internal/core/domain"

// Chunker splits a document's ordered sections into overlapping chunks.
type Chunker interface {
	// Chunk orders the sections, joins them into the document text and
	// returns that text together with chunks whose offsets point into it.
	// Chunk IDs and document references are left for the caller to assign.
	Chunk(sections []domain.Section) (*ChunkResult, error)
}

// ChunkResult is the output of a Chunker.
type ChunkResult struct {
	// Text is the normalised document text the offsets refer to.
	Text string

	// Chunks are ordered by ordinal.
	Chunks []domain.Chunk
}
