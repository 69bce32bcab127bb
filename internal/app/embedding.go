package app

import (
	"fmt"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/local"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/resilient"
	"github.com/custodia-labs/sercha-kb/internal/config"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// NewEmbedder creates the configured embedding backend. Remote backends
// are wrapped with batching, rate limiting and retries.
func NewEmbedder(cfg config.EmbeddingSettings) (driven.EmbeddingService, error) {
	provider := domain.EmbeddingProvider(cfg.Provider)

	var inner driven.EmbeddingService
	switch provider {
	case domain.EmbeddingProviderLocal:
		inner = local.NewEmbeddingService(cfg.Dimensions)
	case domain.EmbeddingProviderOpenAI:
		svc, err := openai.NewEmbeddingService(openai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedding: %w", err)
		}
		inner = svc
	case domain.EmbeddingProviderOllama:
		inner = ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}

	if !provider.IsRemote() {
		return inner, nil
	}

	retry := resilient.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	return resilient.New(inner, provider.String(),
		resilient.WithBatchSize(cfg.BatchSize),
		resilient.WithRateLimit(cfg.RateLimit, cfg.Burst),
		resilient.WithRetry(retry),
	), nil
}
