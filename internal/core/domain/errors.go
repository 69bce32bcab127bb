package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates a file extension no importer handles.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrClosed indicates use of a component after Close.
	ErrClosed = errors.New("closed")

	// ErrSessionNotFound indicates an unknown watch session id.
	ErrSessionNotFound = errors.New("watch session not found")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// ImportError reports a file that could not be parsed.
// It is recovered per file and counted in the batch summary.
type ImportError struct {
	Path   string
	Format string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("import %s (%s): %v", e.Path, e.Format, e.Err)
	}
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// SizeLimitError reports a file larger than the configured maximum.
type SizeLimitError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s: size %d exceeds limit %d", e.Path, e.Size, e.Limit)
}

// EmbeddingProviderError reports a failed embedding backend call.
// It is fatal for the reindex batch that triggered it.
type EmbeddingProviderError struct {
	Provider string
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }

// IndexCorruptionError reports persisted state that failed to load.
// It is fatal at startup.
type IndexCorruptionError struct {
	Index string
	Path  string
	Err   error
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("%s index at %s is corrupt: %v", e.Index, e.Path, e.Err)
}

func (e *IndexCorruptionError) Unwrap() error { return e.Err }

// ValidationError reports malformed request parameters.
// Fields maps the offending field name to the failed rule.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, rule string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: rule}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Unwrap lets callers match validation failures with ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
