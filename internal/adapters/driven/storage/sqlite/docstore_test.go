package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

func testDocument(id, path string) *domain.Document {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Document{
		ID:          id,
		Path:        path,
		Title:       "Title " + id,
		ContentType: "markdown",
		ContentHash: "hash-" + id,
		Text:        "alpha beta gamma",
		Source:      domain.Source{Kind: domain.SourceFile, Origin: path},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testChunks(doc *domain.Document, n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ID:           doc.ID + "-c" + string(rune('0'+i)),
			DocumentID:   doc.ID,
			DocumentPath: doc.Path,
			Ordinal:      i,
			Text:         "chunk",
			TokenCount:   1,
			OffsetStart:  i * 5,
			OffsetEnd:    i*5 + 5,
		}
	}
	return chunks
}

func TestDocumentStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	updated := time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC)
	confidence := 0.8
	doc := testDocument("d1", "/kb/a.md")
	doc.Author = "Ana"
	doc.Slug = "port-atlas"
	doc.RouteHint = "guides"
	doc.Tags = []string{"ports", "logistics"}
	doc.Meta = map[string]any{"region": "emea"}
	doc.Confidence = &confidence
	doc.Updated = &updated
	doc.Partial = true
	doc.Sections = []domain.Section{{Heading: "Intro", Text: "alpha", Order: 0, Page: 2}}

	require.NoError(t, ds.SaveDocument(ctx, doc, testChunks(doc, 2)))

	got, err := ds.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "/kb/a.md", got.Path)
	assert.Equal(t, "Ana", got.Author)
	assert.Equal(t, "port-atlas", got.Slug)
	assert.Equal(t, "guides", got.RouteHint)
	assert.Equal(t, []string{"logistics", "ports"}, got.Tags)
	assert.Equal(t, "emea", got.Meta["region"])
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.8, *got.Confidence, 1e-9)
	require.NotNil(t, got.Updated)
	assert.True(t, updated.Equal(*got.Updated))
	assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.Partial)
	assert.Equal(t, domain.SourceFile, got.Source.Kind)
	assert.Equal(t, doc.Sections, got.Sections)

	chunks, err := ds.GetChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, 5, chunks[1].OffsetStart)

	chunk, err := ds.GetChunk(ctx, chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "/kb/a.md", chunk.DocumentPath)
}

func TestDocumentStore_NotFound(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	_, err := ds.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ds.GetChunk(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ds.FindByContentHash(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_SaveReplacesChunks(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	doc := testDocument("d1", "/kb/a.md")
	doc.Tags = []string{"old"}
	require.NoError(t, ds.SaveDocument(ctx, doc, testChunks(doc, 3)))

	doc.Title = "Renamed"
	doc.Tags = []string{"new"}
	require.NoError(t, ds.SaveDocument(ctx, doc, testChunks(doc, 1)))

	got, err := ds.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	chunks, err := ds.GetChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	filter, err := ds.FilterChunkIDs(ctx, domain.SearchFilters{Tags: []string{"old"}})
	require.NoError(t, err)
	assert.Empty(t, filter)
}

func TestDocumentStore_SaveRejectsForeignChunk(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	doc := testDocument("d1", "/kb/a.md")
	chunks := testChunks(doc, 2)
	chunks[1].DocumentID = "other"

	err := ds.SaveDocument(ctx, doc, chunks)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ds.GetDocument(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed save must roll back")
}

func TestDocumentStore_DocumentsByPathAndDelete(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	first := testDocument("d1", "/kb/export.jsonl")
	second := testDocument("d2", "/kb/export.jsonl")
	second.Ordinal = 1
	other := testDocument("d3", "/kb/b.md")
	require.NoError(t, ds.SaveDocument(ctx, second, testChunks(second, 1)))
	require.NoError(t, ds.SaveDocument(ctx, first, testChunks(first, 2)))
	require.NoError(t, ds.SaveDocument(ctx, other, testChunks(other, 1)))

	docs, err := ds.DocumentsByPath(ctx, "/kb/export.jsonl")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "d2", docs[1].ID)

	ids, err := ds.DeleteByPath(ctx, "/kb/export.jsonl")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1-c0", "d1-c1", "d2-c0"}, ids)

	docCount, chunkCount, err := ds.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docCount)
	assert.Equal(t, 1, chunkCount)

	ids, err = ds.DeleteByPath(ctx, "/kb/missing.md")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDocumentStore_FindByContentHash(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	doc := testDocument("d1", "/kb/a.md")
	require.NoError(t, ds.SaveDocument(ctx, doc, nil))

	got, err := ds.FindByContentHash(ctx, "hash-d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
}

func TestDocumentStore_FilterChunkIDs(t *testing.T) {
	ctx := context.Background()
	ds := setupTestStore(t).DocumentStore()

	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	md := testDocument("md", "/kb/a.md")
	md.Author = "Ana"
	md.Tags = []string{"ports", "logistics"}
	md.Updated = &recent

	pdf := testDocument("pdf", "/kb/b.pdf")
	pdf.ContentType = "pdf"
	pdf.Slug = "annual-report"
	pdf.Tags = []string{"ports"}
	pdf.Updated = &old

	require.NoError(t, ds.SaveDocument(ctx, md, testChunks(md, 2)))
	require.NoError(t, ds.SaveDocument(ctx, pdf, testChunks(pdf, 1)))

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		filters domain.SearchFilters
		want    []string
	}{
		{"content type case-insensitive", domain.SearchFilters{ContentTypes: []string{"PDF"}}, []string{"pdf-c0"}},
		{"author case-insensitive", domain.SearchFilters{Author: "ana"}, []string{"md-c0", "md-c1"}},
		{"slug", domain.SearchFilters{Slug: "annual-report"}, []string{"pdf-c0"}},
		{"single tag", domain.SearchFilters{Tags: []string{"ports"}}, []string{"md-c0", "md-c1", "pdf-c0"}},
		{"all tags required", domain.SearchFilters{Tags: []string{"ports", "logistics"}}, []string{"md-c0", "md-c1"}},
		{"updated after", domain.SearchFilters{UpdatedAfter: &cutoff}, []string{"md-c0", "md-c1"}},
		{"updated before", domain.SearchFilters{UpdatedBefore: &cutoff}, []string{"pdf-c0"}},
		{"conjunction with no match", domain.SearchFilters{Author: "ana", Slug: "annual-report"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := ds.FilterChunkIDs(ctx, tt.filters)
			require.NoError(t, err)
			require.NotNil(t, filter)

			got := make([]string, 0, len(filter))
			for id := range filter {
				got = append(got, id)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	t.Run("zero filters", func(t *testing.T) {
		filter, err := ds.FilterChunkIDs(ctx, domain.SearchFilters{})
		require.NoError(t, err)
		assert.Nil(t, filter)
	})
}

func TestDocumentStore_ContextCancellation(t *testing.T) {
	ds := setupTestStore(t).DocumentStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := testDocument("d1", "/kb/a.md")
	assert.Error(t, ds.SaveDocument(ctx, doc, nil))
}
