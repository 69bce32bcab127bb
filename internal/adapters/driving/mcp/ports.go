package mcp

import (
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search runs hybrid queries.
	Search driving.SearchService

	// Reindex updates the indexes and reports corpus stats.
	Reindex driving.Reindexer

	// Watch runs watch sessions. Optional; the watch tools are only
	// registered when it is set.
	Watch driving.WatchTracker
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	if p.Reindex == nil {
		return ErrMissingReindexer
	}
	return nil
}
