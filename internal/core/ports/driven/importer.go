package driven

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// Importer extracts normalised sections from one file format.
type Importer interface {
	// Name returns the format name used as the documents' content type.
	Name() string

	// Extensions returns the lower-case file extensions handled, with leading dot.
	Extensions() []string

	// Import parses the file bytes into zero or more logical documents.
	// ContentHash is left empty; the registry fills it.
	Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error)
}

// ImporterRegistry dispatches files to importers by extension.
type ImporterRegistry interface {
	// Register adds an importer, replacing any previous owner of its extensions.
	Register(importer Importer)

	// Supports reports whether a file's extension has an importer.
	Supports(path string) bool

	// Format returns the name of the importer for a path, or "" if none.
	Format(path string) string

	// Import parses already-read file bytes and hashes each result.
	// An unsupported extension returns no results and no error.
	// A parse failure returns an *domain.ImportError.
	Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error)

	// ImportFile reads the file from disk and imports it.
	ImportFile(ctx context.Context, path string) ([]domain.ImportResult, error)

	// Extensions returns every supported extension.
	Extensions() []string
}
