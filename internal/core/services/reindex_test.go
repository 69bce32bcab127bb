package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/local"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/keyword/bleveindex"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/manifest/jsonfile"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/flat"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers"
	"github.com/custodia-labs/sercha-kb/internal/importers/markdown"
	"github.com/custodia-labs/sercha-kb/internal/importers/plaintext"
	"github.com/custodia-labs/sercha-kb/internal/importers/structured"
	"github.com/custodia-labs/sercha-kb/internal/postprocessors/chunker"
)

const testDimensions = 64

// --- Mock implementations for reindex testing ---

// reindexEmbedder wraps the local model and counts calls.
type reindexEmbedder struct {
	inner driven.EmbeddingService

	mu    sync.Mutex
	calls int
	texts int
	err   error
}

func newReindexEmbedder() *reindexEmbedder {
	return &reindexEmbedder{inner: local.NewEmbeddingService(testDimensions)}
}

func (m *reindexEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *reindexEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.texts += len(texts)
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.EmbedBatch(ctx, texts)
}

func (m *reindexEmbedder) Dimensions() int              { return testDimensions }
func (m *reindexEmbedder) ModelName() string            { return "counting" }
func (m *reindexEmbedder) Ping(_ context.Context) error { return nil }
func (m *reindexEmbedder) Close() error                 { return nil }

func (m *reindexEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *reindexEmbedder) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type reindexFixture struct {
	root     string
	svc      *ReindexService
	docs     *memory.DocumentStore
	vectors  *flat.Index
	keywords *bleveindex.Index
	manifest *jsonfile.Store
	embedder *reindexEmbedder
}

func newReindexFixture(t *testing.T, cfg ReindexConfig) *reindexFixture {
	t.Helper()

	root := t.TempDir()
	vectors, err := flat.New("", testDimensions)
	require.NoError(t, err)
	keywords, err := bleveindex.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectors.Close()
		_ = keywords.Close()
	})

	f := &reindexFixture{
		root:     root,
		docs:     memory.NewDocumentStore(),
		vectors:  vectors,
		keywords: keywords,
		manifest: jsonfile.NewMemory(),
		embedder: newReindexEmbedder(),
	}
	cfg.Roots = []string{root}
	f.svc = NewReindexService(
		cfg,
		importers.NewRegistry(markdown.New(), plaintext.New(), structured.New()),
		chunker.New(chunker.WithChunkTokens(64), chunker.WithOverlap(8)),
		f.embedder,
		nil,
		f.docs,
		f.vectors,
		f.keywords,
		f.manifest,
	)
	return f
}

// write creates a file with an explicit mtime so change detection does not
// depend on filesystem timestamp resolution.
func (f *reindexFixture) write(t *testing.T, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func (f *reindexFixture) keywordHits(t *testing.T, query string) []domain.ScoredChunk {
	t.Helper()
	hits, err := f.keywords.Search(context.Background(), query, 10, driven.KeywordSearchOptions{})
	require.NoError(t, err)
	return hits
}

const (
	zebraDoc   = "# Zebra\n\nThe zebra grazes quietly near the river bank.\n"
	giraffeDoc = "# Giraffe\n\nThe giraffe eats leaves from tall acacia trees.\n"
	notesDoc   = "Meeting notes about the quarterly budget review.\n"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReindexService_InsertThenSkip(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	f.write(t, "zebra.md", zebraDoc, t0)
	f.write(t, "notes.txt", notesDoc, t0)

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Zero(t, summary.Errors)
	require.Len(t, summary.Results, 2)

	calls := f.embedder.callCount()
	assert.Positive(t, calls)

	docs, chunks, err := f.docs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	assert.Equal(t, chunks, f.vectors.Len())
	kwLen, err := f.keywords.Len()
	require.NoError(t, err)
	assert.Equal(t, chunks, kwLen)

	t.Run("second run skips everything", func(t *testing.T) {
		again, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, again.Skipped)
		assert.Zero(t, again.Indexed+again.Updated+again.Deleted)
		assert.Equal(t, calls, f.embedder.callCount())
	})
}

func TestReindexService_UpdateLeavesNoStaleChunks(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	path := f.write(t, "animal.md", zebraDoc, t0)

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, f.keywordHits(t, "zebra"))
	before, err := f.manifest.Get(path)
	require.NoError(t, err)

	f.write(t, "animal.md", giraffeDoc, t0.Add(time.Minute))
	summary, err := f.svc.Reindex(ctx, []string{path}, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	assert.Empty(t, f.keywordHits(t, "zebra"))
	assert.NotEmpty(t, f.keywordHits(t, "giraffe"))

	after, err := f.manifest.Get(path)
	require.NoError(t, err)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)
	assert.Equal(t, len(after.ChunkIDs), f.vectors.Len())
	for _, id := range before.ChunkIDs {
		_, err := f.docs.GetChunk(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestReindexService_TouchWithoutChange(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	path := f.write(t, "zebra.md", zebraDoc, t0)

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	calls := f.embedder.callCount()

	later := t0.Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, calls, f.embedder.callCount())

	entry, err := f.manifest.Get(path)
	require.NoError(t, err)
	assert.True(t, entry.MTime.Equal(later))
}

func TestReindexService_DeletePurgesEverything(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	path := f.write(t, "zebra.md", zebraDoc, t0)

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	summary, err := f.svc.Reindex(ctx, []string{path}, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)

	docs, chunks, err := f.docs.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, docs)
	assert.Zero(t, chunks)
	assert.Zero(t, f.vectors.Len())
	assert.Empty(t, f.keywordHits(t, "zebra"))
	_, err = f.manifest.Get(path)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReindexService_RemovedDirectory(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	f.write(t, "sub/zebra.md", zebraDoc, t0)
	f.write(t, "sub/notes.txt", notesDoc, t0)

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)

	sub := filepath.Join(f.root, "sub")
	require.NoError(t, os.RemoveAll(sub))
	summary, err := f.svc.Reindex(ctx, []string{sub}, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Deleted)
	assert.Empty(t, f.manifest.List())
}

func TestReindexService_Oversized(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{MaxFileSize: 16})
	ctx := context.Background()
	path := f.write(t, "zebra.md", zebraDoc, t0)

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Partial)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, domain.OutcomeSkippedPartial, summary.Results[0].Outcome)
	assert.Zero(t, f.embedder.callCount())

	entry, err := f.manifest.Get(path)
	require.NoError(t, err)
	assert.True(t, entry.Partial)
	assert.Equal(t, ReasonOversized, entry.Reason)
	assert.Equal(t, "markdown", entry.Type)
	assert.Empty(t, entry.ChunkIDs)

	t.Run("unchanged oversized file stays skipped-partial", func(t *testing.T) {
		again, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
		require.NoError(t, err)
		require.Len(t, again.Results, 1)
		assert.Equal(t, domain.OutcomeSkippedPartial, again.Results[0].Outcome)
	})
}

func TestReindexService_DuplicateAliasAndPromotion(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{Workers: 1})
	ctx := context.Background()
	original := f.write(t, "a.md", zebraDoc, t0)
	copyPath := f.write(t, "b.md", zebraDoc, t0)

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Skipped)

	alias, err := f.manifest.Get(copyPath)
	require.NoError(t, err)
	assert.Equal(t, original, alias.DuplicateOf)
	assert.Empty(t, alias.ChunkIDs)

	docs, _, err := f.docs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)

	t.Run("alias is promoted when the original is deleted", func(t *testing.T) {
		require.NoError(t, os.Remove(original))

		summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Deleted)
		assert.Equal(t, 1, summary.Indexed)

		promoted, err := f.manifest.Get(copyPath)
		require.NoError(t, err)
		assert.False(t, promoted.IsDuplicate())
		assert.NotEmpty(t, promoted.ChunkIDs)

		stored, err := f.docs.DocumentsByPath(ctx, copyPath)
		require.NoError(t, err)
		assert.Len(t, stored, 1)
		assert.NotEmpty(t, f.keywordHits(t, "zebra"))
	})
}

func TestReindexService_AliasPromotedWhenOriginalChanges(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{Workers: 1})
	ctx := context.Background()
	original := f.write(t, "a.md", zebraDoc, t0)
	copyPath := f.write(t, "b.md", zebraDoc, t0)

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)

	f.write(t, "a.md", giraffeDoc, t0.Add(time.Minute))
	_, err = f.svc.Reindex(ctx, []string{original}, domain.ReindexOptions{})
	require.NoError(t, err)

	promoted, err := f.manifest.Get(copyPath)
	require.NoError(t, err)
	assert.False(t, promoted.IsDuplicate())
	assert.NotEmpty(t, f.keywordHits(t, "zebra"))
	assert.NotEmpty(t, f.keywordHits(t, "giraffe"))
}

const (
	pilotsRecord  = `{"title":"Flight school","body":"The pilots practise landings at dawn."}`
	harbourRecord = `{"title":"Harbour","body":"Cranes unload the containers overnight."}`
	bakeryRecord  = `{"title":"Bakery","body":"Sourdough rises slowly in the cold."}`
)

func TestReindexService_PartialDuplicateRestored(t *testing.T) {
	tests := []struct {
		name    string
		release func(t *testing.T, f *reindexFixture, owner string) []string
	}{
		{"owner deleted", func(t *testing.T, f *reindexFixture, owner string) []string {
			require.NoError(t, os.Remove(owner))
			return nil
		}},
		{"owner changed", func(t *testing.T, f *reindexFixture, owner string) []string {
			f.write(t, "a_owner.jsonl", bakeryRecord+"\n", t0.Add(time.Minute))
			return []string{owner}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReindexFixture(t, ReindexConfig{Workers: 1})
			ctx := context.Background()
			owner := f.write(t, "a_owner.jsonl", pilotsRecord+"\n", t0)
			mixed := f.write(t, "b_mixed.jsonl", pilotsRecord+"\n"+harbourRecord+"\n", t0)

			_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
			require.NoError(t, err)

			entry, err := f.manifest.Get(mixed)
			require.NoError(t, err)
			assert.False(t, entry.IsDuplicate())
			assert.Equal(t, []string{owner}, entry.DeferredTo)
			stored, err := f.docs.DocumentsByPath(ctx, mixed)
			require.NoError(t, err)
			assert.Len(t, stored, 1)
			require.Len(t, f.keywordHits(t, "pilots"), 1)

			paths := tt.release(t, f, owner)
			_, err = f.svc.Reindex(ctx, paths, domain.ReindexOptions{})
			require.NoError(t, err)

			assert.Len(t, f.keywordHits(t, "pilots"), 1)
			assert.Len(t, f.keywordHits(t, "cranes"), 1)
			stored, err = f.docs.DocumentsByPath(ctx, mixed)
			require.NoError(t, err)
			assert.Len(t, stored, 2)

			restored, err := f.manifest.Get(mixed)
			require.NoError(t, err)
			assert.Empty(t, restored.DeferredTo)
		})
	}
}

func TestReindexService_ProviderErrorAbortsBatch(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	path := f.write(t, "zebra.md", zebraDoc, t0)
	f.embedder.fail(errors.New("connection refused"))

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.Error(t, err)

	var provider *domain.EmbeddingProviderError
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, "counting", provider.Provider)
	assert.Equal(t, 1, summary.Errors)

	_, err = f.manifest.Get(path)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.vectors.Len())
}

func TestReindexService_Force(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	f.write(t, "zebra.md", zebraDoc, t0)

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	calls := f.embedder.callCount()

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Greater(t, f.embedder.callCount(), calls)

	docs, _, err := f.docs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
}

func TestReindexService_Targets(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()

	t.Run("explicit unsupported file fails", func(t *testing.T) {
		path := f.write(t, "image.xyz", "binary", t0)
		summary, err := f.svc.Reindex(ctx, []string{path}, domain.ReindexOptions{})
		require.NoError(t, err)
		require.Len(t, summary.Results, 1)
		assert.Equal(t, domain.OutcomeFailed, summary.Results[0].Outcome)
		assert.Contains(t, summary.Results[0].Error, domain.ErrUnsupportedType.Error())
	})

	t.Run("walk ignores hidden and unsupported files", func(t *testing.T) {
		f.write(t, ".hidden/secret.md", zebraDoc, t0)
		f.write(t, ".draft.md", zebraDoc, t0)
		f.write(t, "notes.txt", notesDoc, t0)

		summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Indexed)
		assert.Zero(t, summary.Errors)
	})

	t.Run("missing unknown path is ignored", func(t *testing.T) {
		summary, err := f.svc.Reindex(ctx, []string{filepath.Join(f.root, "nope.md")}, domain.ReindexOptions{})
		require.NoError(t, err)
		assert.Empty(t, summary.Results)
	})

	t.Run("blank path is a validation error", func(t *testing.T) {
		_, err := f.svc.Reindex(ctx, []string{"  "}, domain.ReindexOptions{})
		assert.True(t, domain.IsValidation(err))
	})
}

func TestReindexService_Exclude(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	f.svc.cfg.Exclude = []string{filepath.Join(f.root, "data")}
	f.write(t, "data/manifest.md", zebraDoc, t0)
	f.write(t, "notes.txt", notesDoc, t0)

	summary, err := f.svc.Reindex(context.Background(), nil, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
}

func TestReindexService_ExplicitExcludedPath(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	dataDir := filepath.Join(f.root, "kbdata")
	f.svc.cfg.Exclude = []string{dataDir}
	manifest := f.write(t, "kbdata/manifest.json", pilotsRecord, t0)

	summary, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.Indexed)

	summary, err = f.svc.Reindex(ctx, []string{manifest}, domain.ReindexOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.Indexed)
	assert.Empty(t, summary.Results)

	_, err = f.manifest.Get(manifest)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.keywordHits(t, "pilots"))

	t.Run("Excluded", func(t *testing.T) {
		assert.True(t, f.svc.Excluded(manifest))
		assert.True(t, f.svc.Excluded(dataDir))
		assert.False(t, f.svc.Excluded(filepath.Join(f.root, "notes.txt")))
	})
}

func TestReindexService_Rebuild(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	f.write(t, "zebra.md", zebraDoc, t0)
	f.write(t, "notes.txt", notesDoc, t0)

	first, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Indexed)
	vectors := f.vectors.Len()

	summary, err := f.svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, vectors, f.vectors.Len())
	assert.Len(t, f.manifest.List(), 2)
}

func TestReindexService_CancelledContext(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	f.write(t, "zebra.md", zebraDoc, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Reindex(ctx, nil, domain.ReindexOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.manifest.List())
}

func TestReindexService_ConcurrentBatchesSamePath(t *testing.T) {
	f := newReindexFixture(t, ReindexConfig{})
	ctx := context.Background()
	path := f.write(t, "zebra.md", zebraDoc, t0)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reindex(ctx, []string{path}, domain.ReindexOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	docs, chunks, err := f.docs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, chunks, f.vectors.Len())
}

func TestIDs(t *testing.T) {
	assert.Equal(t, DocumentID("abc"), DocumentID("abc"))
	assert.NotEqual(t, DocumentID("abc"), DocumentID("abd"))
	assert.NotEqual(t, ChunkID("doc", 0), ChunkID("doc", 1))
}

func TestWithin(t *testing.T) {
	sep := string(filepath.Separator)
	dir := sep + strings.Join([]string{"kb", "notes"}, sep)
	assert.True(t, within(dir, filepath.Join(dir, "a.md")))
	assert.True(t, within(dir, filepath.Join(dir, "sub", "a.md")))
	assert.False(t, within(dir, dir))
	assert.False(t, within(dir, dir+"-other"))
	assert.False(t, within(filepath.Join(dir, "sub"), dir))
}
