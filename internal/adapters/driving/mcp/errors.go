// Package mcp provides an MCP (Model Context Protocol) server adapter for the
// knowledge store. It lets AI assistants search, reindex and watch local files.
package mcp

import (
	"errors"
	"fmt"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrMissingReindexer is returned when the reindexer is not provided.
var ErrMissingReindexer = errors.New("mcp: reindexer is required")

// toolError turns a service error into the message a tool call reports.
// Validation failures read as caller mistakes; the rest keep their chain.
func toolError(op string, err error) error {
	if domain.IsValidation(err) {
		return fmt.Errorf("invalid %s request: %w", op, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
