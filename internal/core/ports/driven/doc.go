// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Interfaces
//
//   - Importer / ImporterRegistry: format-specific extraction into sections
//   - Chunker: token-bounded windowing of sections
//   - EmbeddingService: text to L2-normalised vectors
//   - EmbeddingCache: durable vectors keyed by chunk identity
//   - VectorIndex: flat cosine similarity index
//   - KeywordIndex: inverted full-text index
//   - DocumentStore: document and chunk persistence
//   - ManifestStore: per-file bookkeeping and aggregate stats
//   - FileWatcher: filesystem change notifications
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, importer, or post-processor package
package driven
