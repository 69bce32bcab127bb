// Package bleveindex implements the keyword index on top of a bleve
// inverted index. One bleve document is stored per chunk, keyed by chunk id.
package bleveindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.KeywordIndex = (*Index)(nil)

// Field names in the bleve documents.
const (
	FieldText        = "text"
	FieldHeading     = "heading"
	FieldTitle       = "title"
	FieldPath        = "path"
	FieldContentType = "content_type"
	FieldTags        = "tags"
	FieldDocumentID  = "document_id"
)

// Field boosts applied at query time.
const (
	headingBoost = 2.0
	titleBoost   = 1.5
)

// MaxBatchSize is the maximum number of chunks written per bleve batch.
const MaxBatchSize = 100

// Index is a bleve-backed keyword index.
type Index struct {
	// mu guards the index handle, which Reset swaps.
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

// NewMapping creates the index mapping for chunk documents.
func NewMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	textField.IncludeTermVectors = false
	docMapping.AddFieldMappingsAt(FieldText, textField)

	headingField := bleve.NewTextFieldMapping()
	headingField.Analyzer = standard.Name
	headingField.Store = false
	docMapping.AddFieldMappingsAt(FieldHeading, headingField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = false
	docMapping.AddFieldMappingsAt(FieldTitle, titleField)

	for _, name := range []string{FieldPath, FieldContentType, FieldTags, FieldDocumentID} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = false
		f.IncludeInAll = false
		docMapping.AddFieldMappingsAt(name, f)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Open opens the index at path, creating it when it does not exist.
// An index that exists but cannot be opened is reported as
// *domain.IndexCorruptionError.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{index: idx, path: path}, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, &domain.IndexCorruptionError{Index: "keyword", Path: path, Err: err}
	}

	idx, err = bleve.New(path, NewMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve: create index: %w", err)
	}
	logger.Debug("bleve: created keyword index at %s", path)
	return &Index{index: idx, path: path}, nil
}

// NewMemory creates an in-memory index.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(NewMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve: create memory index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Upsert indexes a document's chunks, replacing any with the same ids.
func (i *Index) Upsert(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	batch := i.index.NewBatch()
	for n := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := &chunks[n]
		fields := map[string]any{
			FieldText:       c.Text,
			FieldHeading:    c.Heading,
			FieldPath:       c.DocumentPath,
			FieldDocumentID: c.DocumentID,
		}
		if doc != nil {
			fields[FieldTitle] = doc.Title
			fields[FieldContentType] = doc.ContentType
			if len(doc.Tags) > 0 {
				fields[FieldTags] = doc.Tags
			}
		}
		if err := batch.Index(c.ID, fields); err != nil {
			return fmt.Errorf("bleve: index chunk %s: %w", c.ID, err)
		}
		if batch.Size() >= MaxBatchSize {
			if err := i.index.Batch(batch); err != nil {
				return fmt.Errorf("bleve: write batch: %w", err)
			}
			batch = i.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := i.index.Batch(batch); err != nil {
			return fmt.Errorf("bleve: write batch: %w", err)
		}
	}
	return nil
}

// Remove deletes chunks from the index.
func (i *Index) Remove(_ context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	batch := i.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve: delete chunks: %w", err)
	}
	return nil
}

// Search matches the query against chunk text, headings and titles.
func (i *Index) Search(ctx context.Context, q string, k int, opts driven.KeywordSearchOptions) ([]domain.ScoredChunk, error) {
	q = strings.TrimSpace(q)
	if q == "" || k <= 0 {
		return nil, nil
	}
	if opts.Filter != nil && len(opts.Filter) == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(buildQuery(q, opts), k, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	i.mu.RLock()
	res, err := i.index.SearchInContext(ctx, req)
	i.mu.RUnlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("bleve: search: %w", err)
	}

	out := make([]domain.ScoredChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, domain.ScoredChunk{ChunkID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

func buildQuery(q string, opts driven.KeywordSearchOptions) query.Query {
	text := bleve.NewMatchQuery(q)
	text.SetField(FieldText)

	heading := bleve.NewMatchQuery(q)
	heading.SetField(FieldHeading)
	heading.SetBoost(headingBoost)

	title := bleve.NewMatchQuery(q)
	title.SetField(FieldTitle)
	title.SetBoost(titleBoost)

	search := bleve.NewDisjunctionQuery(text, heading, title)
	if len(opts.Tags) == 0 && opts.Filter == nil {
		return search
	}

	must := []query.Query{search}
	for _, tag := range opts.Tags {
		tq := bleve.NewTermQuery(strings.ToLower(strings.TrimSpace(tag)))
		tq.SetField(FieldTags)
		must = append(must, tq)
	}
	if opts.Filter != nil {
		ids := make([]string, 0, len(opts.Filter))
		for id := range opts.Filter {
			ids = append(ids, id)
		}
		must = append(must, bleve.NewDocIDQuery(ids))
	}
	return bleve.NewConjunctionQuery(must...)
}

// Len returns the number of indexed chunks.
func (i *Index) Len() (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n, err := i.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("bleve: count: %w", err)
	}
	return int(n), nil
}

// Reset drops every chunk by recreating the index. Calls in flight finish
// against the old index before it is closed.
func (i *Index) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.index.Close(); err != nil {
		return fmt.Errorf("bleve: close: %w", err)
	}
	if i.path == "" {
		idx, err := bleve.NewMemOnly(NewMapping())
		if err != nil {
			return fmt.Errorf("bleve: create memory index: %w", err)
		}
		i.index = idx
		return nil
	}
	if err := os.RemoveAll(i.path); err != nil {
		return fmt.Errorf("bleve: remove index: %w", err)
	}
	idx, err := bleve.New(i.path, NewMapping())
	if err != nil {
		return fmt.Errorf("bleve: create index: %w", err)
	}
	i.index = idx
	return nil
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
