// Package resilient wraps an embedding backend with batching, rate limiting
// and retries, and reports failures as domain.EmbeddingProviderError.
package resilient

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Service implements the interface.
var _ driven.EmbeddingService = (*Service)(nil)

// DefaultBatchSize is the number of texts sent per backend call.
const DefaultBatchSize = 64

// Service decorates an EmbeddingService.
type Service struct {
	inner     driven.EmbeddingService
	provider  string
	limiter   *rate.Limiter
	retry     RetryConfig
	batchSize int
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimit allows perSecond backend calls with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets the backoff policy.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithBatchSize sets how many texts go into one backend call.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New wraps inner. provider names the backend in errors.
func New(inner driven.EmbeddingService, provider string, opts ...Option) *Service {
	s := &Service{
		inner:     inner,
		provider:  provider,
		retry:     DefaultRetryConfig(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Embed embeds a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into backend-sized batches.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		vecs, err := s.call(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *Service) call(ctx context.Context, batch []string) ([][]float32, error) {
	attempt := 0
	vecs, err := retryWithBackoff(ctx, s.retry, func() ([][]float32, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		attempt++
		if attempt > 1 {
			logger.Debug("embedding: %s retry %d for %d text(s)", s.provider, attempt-1, len(batch))
		}
		vecs, err := s.inner.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch))
		}
		dims := s.inner.Dimensions()
		for i, v := range vecs {
			if len(v) != dims {
				return nil, fmt.Errorf("vector %d: %w: got %d, want %d", i, domain.ErrDimensionMismatch, len(v), dims)
			}
		}
		return vecs, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.EmbeddingProviderError{Provider: s.provider, Err: err}
	}
	return vecs, nil
}

// Dimensions returns the wrapped backend's vector size.
func (s *Service) Dimensions() int {
	return s.inner.Dimensions()
}

// ModelName returns the wrapped backend's model name.
func (s *Service) ModelName() string {
	return s.inner.ModelName()
}

// Ping checks the backend once.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.inner.Ping(ctx); err != nil {
		return &domain.EmbeddingProviderError{Provider: s.provider, Err: err}
	}
	return nil
}

// Close closes the backend.
func (s *Service) Close() error {
	return s.inner.Close()
}
