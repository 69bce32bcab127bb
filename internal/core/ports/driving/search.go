package driving

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// SearchService provides hybrid search to external actors.
type SearchService interface {
	// Search validates the request and returns blended, cited results.
	// Malformed requests return a *domain.ValidationError before any work begins.
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}
