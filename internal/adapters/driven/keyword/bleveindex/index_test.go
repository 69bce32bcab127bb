package bleveindex

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

func seed(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()

	ports := &domain.Document{ID: "d1", Title: "Port Atlas", ContentType: "markdown", Tags: []string{"logistics", "europe"}}
	require.NoError(t, idx.Upsert(ctx, ports, []domain.Chunk{
		{ID: "c1", DocumentID: "d1", DocumentPath: "/kb/ports.md", Heading: "Antwerp", Text: "Antwerp is the second largest port in Europe."},
		{ID: "c2", DocumentID: "d1", DocumentPath: "/kb/ports.md", Heading: "Rotterdam", Text: "Rotterdam handles more containers than any other port."},
	}))

	baking := &domain.Document{ID: "d2", Title: "Bread", ContentType: "text", Tags: []string{"food"}}
	require.NoError(t, idx.Upsert(ctx, baking, []domain.Chunk{
		{ID: "c3", DocumentID: "d2", DocumentPath: "/kb/bread.txt", Text: "Sourdough needs a long fermentation."},
	}))
}

func hitIDs(hits []domain.ScoredChunk) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ChunkID
	}
	return out
}

func TestIndex_Search(t *testing.T) {
	idx, err := NewMemory()
	require.NoError(t, err)
	defer idx.Close()
	seed(t, idx)
	ctx := context.Background()

	n, err := idx.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("matches text", func(t *testing.T) {
		hits, err := idx.Search(ctx, "fermentation", 10, driven.KeywordSearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"c3"}, hitIDs(hits))
		assert.Greater(t, hits[0].Score, 0.0)
	})

	t.Run("heading match ranks first", func(t *testing.T) {
		hits, err := idx.Search(ctx, "Antwerp port", 10, driven.KeywordSearchOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "c1", hits[0].ChunkID)
		assert.NotContains(t, hitIDs(hits), "c3")
	})

	t.Run("title match", func(t *testing.T) {
		hits, err := idx.Search(ctx, "atlas", 10, driven.KeywordSearchOptions{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c1", "c2"}, hitIDs(hits))
	})

	t.Run("tags must all match", func(t *testing.T) {
		hits, err := idx.Search(ctx, "port sourdough", 10, driven.KeywordSearchOptions{Tags: []string{"Food"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c3"}, hitIDs(hits))

		hits, err = idx.Search(ctx, "port", 10, driven.KeywordSearchOptions{Tags: []string{"logistics", "food"}})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("id filter", func(t *testing.T) {
		hits, err := idx.Search(ctx, "port", 10, driven.KeywordSearchOptions{Filter: driven.ChunkFilter{"c2": {}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, hitIDs(hits))

		hits, err = idx.Search(ctx, "port", 10, driven.KeywordSearchOptions{Filter: driven.ChunkFilter{}})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("k limits", func(t *testing.T) {
		hits, err := idx.Search(ctx, "port", 1, driven.KeywordSearchOptions{})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("blank query", func(t *testing.T) {
		hits, err := idx.Search(ctx, "   ", 10, driven.KeywordSearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestIndex_UpsertReplacesAndRemove(t *testing.T) {
	idx, err := NewMemory()
	require.NoError(t, err)
	defer idx.Close()
	seed(t, idx)
	ctx := context.Background()

	doc := &domain.Document{ID: "d2", Title: "Bread"}
	require.NoError(t, idx.Upsert(ctx, doc, []domain.Chunk{
		{ID: "c3", DocumentID: "d2", Text: "Rye bread is dense."},
	}))

	hits, err := idx.Search(ctx, "fermentation", 10, driven.KeywordSearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Remove(ctx, "c1", "unknown"))
	hits, err = idx.Search(ctx, "antwerp", 10, driven.KeywordSearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := idx.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIndex_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.bleve")

	idx, err := Open(path)
	require.NoError(t, err)
	seed(t, idx)
	require.NoError(t, idx.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	n, err := reopened.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, reopened.Reset())
	n, err = reopened.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, reopened.Close())
}

func TestOpen_CorruptIndex(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, path string)
	}{
		{"garbage metadata", func(t *testing.T, path string) {
			require.NoError(t, os.MkdirAll(path, 0o700))
			require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{not json"), 0o600))
		}},
		{"missing metadata", func(t *testing.T, path string) {
			require.NoError(t, os.MkdirAll(path, 0o700))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "keyword.bleve")
			tt.setup(t, path)

			idx, err := Open(path)
			require.Error(t, err)
			assert.Nil(t, idx)

			var corrupt *domain.IndexCorruptionError
			require.ErrorAs(t, err, &corrupt)
			assert.Equal(t, "keyword", corrupt.Index)
			assert.Equal(t, path, corrupt.Path)
		})
	}
}

func TestIndex_ResetDuringSearch(t *testing.T) {
	idx, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	seed(t, idx)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				_, err := idx.Search(ctx, "port", 10, driven.KeywordSearchOptions{})
				assert.NoError(t, err)
				_, err = idx.Len()
				assert.NoError(t, err)
			}
		}()
	}
	for n := 0; n < 10; n++ {
		require.NoError(t, idx.Reset())
		seed(t, idx)
	}
	wg.Wait()

	hits, err := idx.Search(ctx, "port", 10, driven.KeywordSearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}
