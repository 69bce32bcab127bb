// Package domain defines the core business entities for the knowledge store.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Source, DocumentMeta, Section: importer output
//   - Document: one logical record extracted from a file
//   - Chunk: a retrieval unit within a document
//   - ManifestEntry: per-file indexing bookkeeping
//   - SearchRequest, SearchResult, Citation: the query surface
//   - ReindexSummary: batch reindex outcome counts
//   - WatchActivity: watch session observability
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
