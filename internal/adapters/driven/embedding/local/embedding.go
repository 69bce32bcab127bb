// Package local provides an on-device embedding model.
//
// The model hashes lower-cased word unigrams and bigrams into a fixed number
// of signed buckets. It needs no network and no model files, and the same
// text always produces the same vector.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/blevesearch/segment"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 384

// bigramWeight scales bigram features relative to unigrams.
const bigramWeight = 0.5

// EmbeddingService is the feature-hashing model.
type EmbeddingService struct {
	dimensions int
}

// NewEmbeddingService creates a local model with the given vector size.
func NewEmbeddingService(dimensions int) *EmbeddingService {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &EmbeddingService{dimensions: dimensions}
}

// Embed returns the unit-length feature vector of text.
// Text without words maps to the zero vector.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, s.dimensions)
	words := words(text)
	for i, w := range words {
		s.add(vec, w, 1)
		if i > 0 {
			s.add(vec, words[i-1]+" "+w, bigramWeight)
		}
	}
	return embedding.Normalize(vec), nil
}

// EmbedBatch embeds each text in turn.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *EmbeddingService) add(vec []float32, feature string, weight float32) {
	sum := sha256.Sum256([]byte(feature))
	bucket := binary.BigEndian.Uint64(sum[:8]) % uint64(len(vec))
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName identifies the model and its size.
func (s *EmbeddingService) ModelName() string {
	return fmt.Sprintf("feature-hash-%d", s.dimensions)
}

// Ping always succeeds.
func (s *EmbeddingService) Ping(context.Context) error {
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	return nil
}

// words splits text into lower-cased word segments.
func words(text string) []string {
	var out []string
	seg := segment.NewWordSegmenterDirect([]byte(text))
	for seg.Segment() {
		if seg.Type() == segment.None {
			continue
		}
		out = append(out, strings.ToLower(string(seg.Bytes())))
	}
	return out
}
