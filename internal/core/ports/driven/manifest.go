package driven

import "github.com/custodia-labs/sercha-kb/internal/core/domain"

// ManifestStore is the durable map of file path to indexing bookkeeping.
// It is the single authority for skip, update and insert decisions.
type ManifestStore interface {
	// Get returns the entry for a path or domain.ErrNotFound.
	Get(path string) (*domain.ManifestEntry, error)

	// Put creates or replaces the entry for entry.Path.
	Put(entry domain.ManifestEntry) error

	// Delete removes the entry for a path.
	Delete(path string) error

	// List returns every entry ordered by path.
	List() []domain.ManifestEntry

	// DependentsOf returns the entries that skipped any document as a
	// duplicate of one owned by path.
	DependentsOf(path string) []domain.ManifestEntry

	// Stats returns aggregate corpus statistics.
	Stats() domain.ManifestStats

	// SetEmbeddingsCached records the embedding cache size for Stats.
	SetEmbeddingsCached(n int)

	// Snapshot persists the manifest atomically.
	Snapshot() error

	// Restore reloads the manifest from its last snapshot.
	Restore() error
}
