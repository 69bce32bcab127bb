package driving

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// Reindexer brings the indexes in line with the filesystem.
type Reindexer interface {
	// Reindex processes the given paths. Directories are walked.
	// Empty paths re-scan every configured root and purge removed files.
	// File-level failures are counted in the summary; provider failures
	// abort the batch and are returned alongside the partial summary.
	Reindex(ctx context.Context, paths []string, opts domain.ReindexOptions) (*domain.ReindexSummary, error)

	// Stats returns aggregate corpus statistics.
	Stats(ctx context.Context) (domain.ManifestStats, error)

	// Supports reports whether a path has an importer.
	Supports(path string) bool

	// Excluded reports whether a path lies under a configured exclusion.
	Excluded(path string) bool
}
