package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string][]domain.Chunk
	byChunk   map[string]string
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string][]domain.Chunk),
		byChunk:   make(map[string]string),
	}
}

// SaveDocument stores a document and replaces its chunk set.
func (s *DocumentStore) SaveDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range chunks {
		if chunks[i].DocumentID != doc.ID {
			return domain.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chunks[doc.ID] {
		delete(s.byChunk, c.ID)
	}
	stored := *doc
	stored.Tags = append([]string(nil), doc.Tags...)
	sort.Strings(stored.Tags)
	s.documents[doc.ID] = stored

	copied := append([]domain.Chunk(nil), chunks...)
	sort.Slice(copied, func(i, j int) bool { return copied[i].Ordinal < copied[j].Ordinal })
	s.chunks[doc.ID] = copied
	for _, c := range copied {
		s.byChunk[c.ID] = doc.ID
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// GetChunks retrieves all chunks for a document.
func (s *DocumentStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Chunk(nil), s.chunks[documentID]...), nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *DocumentStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docID, ok := s.byChunk[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, c := range s.chunks[docID] {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// DocumentsByPath returns the documents imported from a file.
func (s *DocumentStore) DocumentsByPath(_ context.Context, path string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []domain.Document
	for _, d := range s.documents {
		if d.Path == path {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Ordinal < docs[j].Ordinal })
	return docs, nil
}

// FindByContentHash returns the document with the given hash.
func (s *DocumentStore) FindByContentHash(_ context.Context, hash string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Document
	for _, d := range s.documents {
		if d.ContentHash != hash {
			continue
		}
		if found == nil || d.CreatedAt.Before(found.CreatedAt) {
			d := d
			found = &d
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

// DeleteByPath removes the documents imported from a file.
func (s *DocumentStore) DeleteByPath(_ context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, d := range s.documents {
		if d.Path != path {
			continue
		}
		for _, c := range s.chunks[id] {
			ids = append(ids, c.ID)
			delete(s.byChunk, c.ID)
		}
		delete(s.chunks, id)
		delete(s.documents, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FilterChunkIDs returns the ids of chunks whose documents match every filter.
func (s *DocumentStore) FilterChunkIDs(_ context.Context, f domain.SearchFilters) (driven.ChunkFilter, error) {
	if f.IsZero() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := make(driven.ChunkFilter)
	for id, d := range s.documents {
		if !matches(&d, f) {
			continue
		}
		for _, c := range s.chunks[id] {
			filter[c.ID] = struct{}{}
		}
	}
	return filter, nil
}

// Counts returns the number of documents and chunks stored.
func (s *DocumentStore) Counts(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), len(s.byChunk), nil
}

// Close is a no-op for the in-memory store.
func (s *DocumentStore) Close() error {
	return nil
}

func matches(d *domain.Document, f domain.SearchFilters) bool {
	if len(f.ContentTypes) > 0 {
		ok := false
		for _, t := range f.ContentTypes {
			if strings.EqualFold(strings.TrimSpace(t), d.ContentType) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Author != "" && !strings.EqualFold(strings.TrimSpace(f.Author), d.Author) {
		return false
	}
	if f.Slug != "" && strings.TrimSpace(f.Slug) != d.Slug {
		return false
	}
	for _, want := range f.Tags {
		want = strings.ToLower(strings.TrimSpace(want))
		if i := sort.SearchStrings(d.Tags, want); i >= len(d.Tags) || d.Tags[i] != want {
			return false
		}
	}
	recency := d.Recency()
	if f.UpdatedAfter != nil && recency.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && recency.After(*f.UpdatedBefore) {
		return false
	}
	return true
}
