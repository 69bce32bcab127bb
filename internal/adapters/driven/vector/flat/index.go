package flat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Index is a flat list of (chunk id, vector, norm).
type Index struct {
	mu        sync.RWMutex
	flushMu   sync.Mutex
	path      string
	dimension int
	slots     map[string]int
	ids       []string
	vectors   [][]float32
	norms     []float64
	version   uint64 // bumped on every change
	flushed   uint64 // version of the last snapshot
	closed    bool
}

// New creates an index, loading the snapshot at path when it exists.
// An empty path keeps the index in memory only.
//
// A snapshot that cannot be decoded, or whose dimension differs from
// dimension, is reported as *domain.IndexCorruptionError; the latter also
// matches domain.ErrDimensionMismatch.
func New(path string, dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, errors.New("flat: dimension must be positive")
	}
	idx := &Index{
		path:      path,
		dimension: dimension,
		slots:     make(map[string]int),
	}
	if path == "" {
		return idx, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flat: read snapshot: %w", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, &domain.IndexCorruptionError{Index: "vector", Path: path, Err: err}
	}
	if snap.dimension != dimension {
		return nil, &domain.IndexCorruptionError{
			Index: "vector",
			Path:  path,
			Err: fmt.Errorf("%w: snapshot has %d dimensions, provider has %d",
				domain.ErrDimensionMismatch, snap.dimension, dimension),
		}
	}
	for i, id := range snap.ids {
		idx.slots[id] = i
	}
	idx.ids = snap.ids
	idx.vectors = snap.vectors
	idx.norms = snap.norms
	logger.Debug("flat: loaded %d vectors from %s", len(idx.ids), path)
	return idx, nil
}

// Dimension returns the vector size the index accepts.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Upsert inserts or replaces the vector for a chunk.
func (idx *Index) Upsert(_ context.Context, chunkID string, embedding []float32) error {
	if len(embedding) != idx.dimension {
		return fmt.Errorf("flat: %w: got %d, want %d", domain.ErrDimensionMismatch, len(embedding), idx.dimension)
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	n := norm(vec)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return domain.ErrClosed
	}

	if slot, ok := idx.slots[chunkID]; ok {
		idx.vectors[slot] = vec
		idx.norms[slot] = n
	} else {
		idx.slots[chunkID] = len(idx.ids)
		idx.ids = append(idx.ids, chunkID)
		idx.vectors = append(idx.vectors, vec)
		idx.norms = append(idx.norms, n)
	}
	idx.version++
	return nil
}

// Remove deletes vectors by moving the last slot into each freed one.
func (idx *Index) Remove(_ context.Context, chunkIDs ...string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return domain.ErrClosed
	}

	for _, id := range chunkIDs {
		slot, ok := idx.slots[id]
		if !ok {
			continue
		}
		last := len(idx.ids) - 1
		if slot != last {
			moved := idx.ids[last]
			idx.ids[slot] = moved
			idx.vectors[slot] = idx.vectors[last]
			idx.norms[slot] = idx.norms[last]
			idx.slots[moved] = slot
		}
		idx.ids = idx.ids[:last]
		idx.vectors = idx.vectors[:last]
		idx.norms = idx.norms[:last]
		delete(idx.slots, id)
		idx.version++
	}
	return nil
}

// Search returns the k most similar chunks. Ties are ordered by chunk id.
func (idx *Index) Search(ctx context.Context, query []float32, k int, filter driven.ChunkFilter) ([]domain.ScoredChunk, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("flat: %w: query has %d, want %d", domain.ErrDimensionMismatch, len(query), idx.dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	qn := norm(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, domain.ErrClosed
	}

	results := make([]domain.ScoredChunk, 0, min(k, len(idx.ids)))
	for i, id := range idx.ids {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !filter.Allows(id) {
			continue
		}
		results = append(results, domain.ScoredChunk{
			ChunkID: id,
			Score:   cosine(query, qn, idx.vectors[i], idx.norms[i]),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of vectors held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Reset removes every vector.
func (idx *Index) Reset() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return domain.ErrClosed
	}
	idx.slots = make(map[string]int)
	idx.ids = nil
	idx.vectors = nil
	idx.norms = nil
	idx.version++
	return nil
}

// Flush writes the snapshot if anything changed since the last flush.
func (idx *Index) Flush() error {
	idx.flushMu.Lock()
	defer idx.flushMu.Unlock()

	idx.mu.RLock()
	if idx.path == "" || idx.version == idx.flushed {
		idx.mu.RUnlock()
		return nil
	}
	version := idx.version
	data := encodeSnapshot(idx.dimension, idx.ids, idx.vectors, idx.norms)
	idx.mu.RUnlock()

	if err := writeFileAtomic(idx.path, data); err != nil {
		return fmt.Errorf("flat: write snapshot: %w", err)
	}

	idx.mu.Lock()
	if version > idx.flushed {
		idx.flushed = version
	}
	idx.mu.Unlock()
	return nil
}

// Close flushes and releases the index.
func (idx *Index) Close() error {
	if err := idx.Flush(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.vectors = nil
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector is zero.
func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
