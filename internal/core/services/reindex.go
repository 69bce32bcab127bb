package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/hasher"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure ReindexService implements the interface.
var _ driving.Reindexer = (*ReindexService)(nil)

// Reindex defaults.
const (
	DefaultWorkers          = 4
	DefaultFileTimeout      = 2 * time.Minute
	DefaultEmbedConcurrency = 2
)

// Reasons recorded on partial manifest entries.
const (
	ReasonOversized   = "oversized"
	ReasonNeedsOCR    = "ocr-required"
	ReasonPartialText = "partial-extraction"
)

// idNamespace scopes the name-based UUIDs for documents and chunks.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sercha-kb"))

// DocumentID derives the document id from its content hash.
func DocumentID(contentHash string) string {
	return uuid.NewSHA1(idNamespace, []byte(contentHash)).String()
}

// ChunkID derives a chunk id from its document and ordinal.
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(idNamespace, []byte(documentID+"#"+strconv.Itoa(ordinal))).String()
}

// ReindexConfig tunes the orchestrator.
type ReindexConfig struct {
	// Roots are re-scanned when Reindex is called without paths.
	Roots []string

	// Exclude lists absolute paths never walked, such as the data directory.
	Exclude []string

	// MaxFileSize in bytes; larger files get a partial entry and no chunks. Zero disables.
	MaxFileSize int64

	// Workers bounds how many paths are processed in parallel.
	Workers int

	// FileTimeout bounds import and embedding of a single file.
	FileTimeout time.Duration

	// EmbedConcurrency bounds concurrent embedding calls across workers.
	EmbedConcurrency int
}

func (c ReindexConfig) withDefaults() ReindexConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = DefaultEmbedConcurrency
	}
	return c
}

// ReindexService diffs the filesystem against the manifest and drives
// insert, update, skip and delete through the import and index pipeline.
type ReindexService struct {
	cfg      ReindexConfig
	registry driven.ImporterRegistry
	chunker  driven.Chunker
	embedder driven.EmbeddingService
	cache    driven.EmbeddingCache
	docs     driven.DocumentStore
	vectors  driven.VectorIndex
	keywords driven.KeywordIndex
	manifest driven.ManifestStore

	locks    *pathLocks
	embedSem *semaphore.Weighted

	// commitMu makes the duplicate check and the document write one step,
	// so two paths with identical content cannot both claim it.
	commitMu sync.Mutex

	// batchMu lets batches run together but excludes them during Rebuild.
	batchMu sync.RWMutex

	now func() time.Time
}

// NewReindexService creates a reindex orchestrator.
// The embedding cache is optional (can be nil).
func NewReindexService(
	cfg ReindexConfig,
	registry driven.ImporterRegistry,
	chunker driven.Chunker,
	embedder driven.EmbeddingService,
	cache driven.EmbeddingCache,
	docs driven.DocumentStore,
	vectors driven.VectorIndex,
	keywords driven.KeywordIndex,
	manifest driven.ManifestStore,
) *ReindexService {
	cfg = cfg.withDefaults()
	return &ReindexService{
		cfg:      cfg,
		registry: registry,
		chunker:  chunker,
		embedder: embedder,
		cache:    cache,
		docs:     docs,
		vectors:  vectors,
		keywords: keywords,
		manifest: manifest,
		locks:    newPathLocks(),
		embedSem: semaphore.NewWeighted(int64(cfg.EmbedConcurrency)),
		now:      time.Now,
	}
}

// Supports reports whether a path has an importer.
func (s *ReindexService) Supports(path string) bool {
	return s.registry.Supports(path)
}

// Excluded reports whether a path lies under a configured exclusion.
func (s *ReindexService) Excluded(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return s.excluded(abs)
}

// Stats returns aggregate corpus statistics.
func (s *ReindexService) Stats(_ context.Context) (domain.ManifestStats, error) {
	if s.cache != nil {
		s.manifest.SetEmbeddingsCached(s.cache.Len())
	}
	return s.manifest.Stats(), nil
}

// Reindex processes the given paths, or every configured root when paths is empty.
func (s *ReindexService) Reindex(
	ctx context.Context, paths []string, opts domain.ReindexOptions,
) (*domain.ReindexSummary, error) {
	s.batchMu.RLock()
	defer s.batchMu.RUnlock()
	return s.reindex(ctx, paths, opts)
}

// Rebuild wipes the document store, both indexes and the manifest, then
// re-imports every configured root.
func (s *ReindexService) Rebuild(ctx context.Context) (*domain.ReindexSummary, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	logger.Section("Rebuild")
	for _, e := range s.manifest.List() {
		if _, err := s.docs.DeleteByPath(ctx, e.Path); err != nil {
			return nil, fmt.Errorf("clearing %s: %w", e.Path, err)
		}
		if err := s.manifest.Delete(e.Path); err != nil {
			return nil, fmt.Errorf("clearing manifest: %w", err)
		}
	}
	if err := s.vectors.Reset(); err != nil {
		return nil, fmt.Errorf("resetting vector index: %w", err)
	}
	if err := s.keywords.Reset(); err != nil {
		return nil, fmt.Errorf("resetting keyword index: %w", err)
	}
	return s.reindex(ctx, nil, domain.ReindexOptions{Force: true})
}

func (s *ReindexService) reindex(
	ctx context.Context, paths []string, opts domain.ReindexOptions,
) (*domain.ReindexSummary, error) {
	start := s.now()
	logger.Section("Reindex")

	targets, err := s.targets(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("reindex: %d candidate path(s), force=%t", len(targets), opts.Force)

	summary := &domain.ReindexSummary{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, t := range targets {
		g.Go(func() error {
			results, err := s.reindexPath(gctx, t.path, t.explicit, opts)
			mu.Lock()
			for _, r := range results {
				summary.Record(r)
			}
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()

	if ferr := s.flush(); ferr != nil {
		logger.Warn("reindex: flush failed: %v", ferr)
		if err == nil {
			err = ferr
		}
	}

	sort.SliceStable(summary.Results, func(i, j int) bool { return summary.Results[i].Path < summary.Results[j].Path })
	summary.Duration = s.now().Sub(start)
	logger.Info("Reindex: %d indexed, %d updated, %d skipped, %d deleted, %d errors in %s",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Deleted, summary.Errors, summary.Duration)
	return summary, err
}

// flush is the checkpoint that makes the batch durable.
func (s *ReindexService) flush() error {
	if err := s.vectors.Flush(); err != nil {
		return fmt.Errorf("flushing vector index: %w", err)
	}
	if s.cache != nil {
		s.manifest.SetEmbeddingsCached(s.cache.Len())
	}
	if err := s.manifest.Snapshot(); err != nil {
		return fmt.Errorf("snapshotting manifest: %w", err)
	}
	return nil
}

type target struct {
	path     string
	explicit bool
}

// targets expands paths into files to process. Directories are walked and
// manifest entries beneath them are included so removals are noticed.
func (s *ReindexService) targets(paths []string) ([]target, error) {
	set := make(map[string]bool)
	add := func(p string, explicit bool) {
		set[p] = set[p] || explicit
	}

	roots := paths
	if len(paths) == 0 {
		roots = s.cfg.Roots
		for _, e := range s.manifest.List() {
			add(e.Path, false)
		}
	}

	for _, p := range roots {
		if strings.TrimSpace(p) == "" {
			return nil, domain.NewValidationError("paths", "required")
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, domain.NewValidationError("paths", "invalid")
		}

		info, err := os.Stat(abs)
		switch {
		case err == nil && info.IsDir():
			s.walk(abs, func(f string) { add(f, false) })
			for _, e := range s.manifest.List() {
				if within(abs, e.Path) {
					add(e.Path, false)
				}
			}
		case err == nil && s.excluded(abs):
			logger.Debug("reindex: %s is excluded", abs)
		case err == nil:
			add(abs, len(paths) > 0)
		case errors.Is(err, fs.ErrNotExist):
			for _, e := range s.manifest.List() {
				if e.Path == abs || within(abs, e.Path) {
					add(e.Path, false)
				}
			}
		default:
			logger.Warn("reindex: cannot stat %s: %v", abs, err)
		}
	}

	out := make([]target, 0, len(set))
	for p, explicit := range set {
		out = append(out, target{path: p, explicit: explicit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func (s *ReindexService) walk(root string, visit func(string)) {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("reindex: skipping %s: %v", p, err)
			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && s.registry.Supports(p) {
			visit(p)
		}
		return nil
	})
	if err != nil {
		logger.Warn("reindex: walking %s: %v", root, err)
	}
}

func (s *ReindexService) excluded(p string) bool {
	for _, ex := range s.cfg.Exclude {
		if p == ex || within(ex, p) {
			return true
		}
	}
	return false
}

// within reports whether p lies strictly beneath dir.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *ReindexService) reindexPath(
	ctx context.Context, path string, explicit bool, opts domain.ReindexOptions,
) ([]domain.PathResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(path)
	before := s.ownedEntry(path)
	results, err := s.reindexLocked(ctx, path, explicit, opts)
	released := before != nil && s.released(path, before)
	unlock()
	if err != nil || !released {
		return results, err
	}
	restored, err := s.restoreDependents(ctx, path)
	return append(results, restored...), err
}

// ownedEntry returns the manifest entry of a path that owns documents.
func (s *ReindexService) ownedEntry(path string) *domain.ManifestEntry {
	entry, err := s.manifest.Get(path)
	if err != nil || entry.IsDuplicate() {
		return nil
	}
	return entry
}

// released reports whether a path no longer holds the content it owned
// before, either because it is gone or because its content changed.
func (s *ReindexService) released(path string, before *domain.ManifestEntry) bool {
	after, err := s.manifest.Get(path)
	if err != nil {
		return true
	}
	return after.ContentHash != before.ContentHash
}

// reindexLocked runs the per-path state machine. The caller holds the path lock.
// Only batch-fatal errors are returned; file-level failures become results.
func (s *ReindexService) reindexLocked(
	ctx context.Context, path string, explicit bool, opts domain.ReindexOptions,
) ([]domain.PathResult, error) {
	entry, err := s.manifest.Get(path)
	if errors.Is(err, domain.ErrNotFound) {
		entry = nil
	} else if err != nil {
		return failed(path, err), nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if entry == nil {
			return nil, nil
		}
		return s.remove(ctx, path, entry)
	}
	if err != nil {
		return failed(path, err), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return failed(path, err), nil
	}
	if info.IsDir() {
		return nil, nil
	}

	format := s.registry.Format(path)
	if format == "" {
		if entry != nil {
			return s.remove(ctx, path, entry)
		}
		if explicit {
			return failed(path, &domain.ImportError{Path: path, Err: domain.ErrUnsupportedType}), nil
		}
		return nil, nil
	}

	mtime, size := info.ModTime(), info.Size()
	if !opts.Force && entry != nil && entry.Matches(mtime, size) {
		outcome := domain.OutcomeSkipped
		if entry.Partial && entry.Reason == ReasonOversized {
			outcome = domain.OutcomeSkippedPartial
		}
		return []domain.PathResult{{Path: path, Outcome: outcome, Chunks: len(entry.ChunkIDs)}}, nil
	}

	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		return s.oversized(ctx, path, format, entry, mtime, size)
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FileTimeout)
	defer cancel()

	// The bytes read here are the snapshot everything below is derived from.
	data, err := io.ReadAll(f)
	if err != nil {
		return failed(path, &domain.ImportError{Path: path, Format: format, Err: err}), nil
	}

	results, err := s.registry.Import(fctx, path, data)
	if err != nil {
		return s.fail(ctx, path, err)
	}

	plan, err := s.plan(path, results)
	if err != nil {
		return failed(path, err), nil
	}

	if !opts.Force && entry != nil && entry.ContentHash == plan.hash {
		touched := *entry
		touched.MTime, touched.Size = mtime, size
		if err := s.manifest.Put(touched); err != nil {
			return failed(path, err), nil
		}
		logger.Debug("reindex: %s touched, content unchanged", path)
		return []domain.PathResult{{Path: path, Outcome: domain.OutcomeSkipped, Chunks: len(entry.ChunkIDs)}}, nil
	}

	// Skip embedding when other paths already own every document.
	if owners, kept := s.dedup(ctx, path, plan.docs); len(plan.docs) > 0 && len(kept) == 0 {
		logger.Debug("reindex: %s duplicates %s", path, owners[0])
	} else if err := s.embed(fctx, kept); err != nil {
		return s.fail(ctx, path, err)
	}

	return s.commit(context.WithoutCancel(ctx), path, format, entry, plan, mtime, size)
}

// fail classifies an error from import or embedding.
func (s *ReindexService) fail(ctx context.Context, path string, err error) ([]domain.PathResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", s.cfg.FileTimeout, err)
		logger.Warn("reindex: %s: %v", path, err)
		return failed(path, err), nil
	}
	var provider *domain.EmbeddingProviderError
	if errors.As(err, &provider) {
		logger.Warn("reindex: %s: %v", path, err)
		return failed(path, err), err
	}
	logger.Warn("reindex: %s: %v", path, err)
	return failed(path, err), nil
}

func failed(path string, err error) []domain.PathResult {
	return []domain.PathResult{{Path: path, Outcome: domain.OutcomeFailed, Error: err.Error()}}
}

type plannedDoc struct {
	doc    domain.Document
	chunks []domain.Chunk
}

type filePlan struct {
	hash    string
	docs    []plannedDoc
	partial bool
	reason  string
}

// plan chunks each import result into a document. Results repeating an
// earlier hash in the same file are dropped.
func (s *ReindexService) plan(path string, results []domain.ImportResult) (*filePlan, error) {
	now := s.now().UTC()
	plan := &filePlan{}
	hashes := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))

	for i, res := range results {
		hashes = append(hashes, res.ContentHash)
		partial := res.Partial()
		if partial {
			plan.partial = true
			if plan.reason != ReasonNeedsOCR {
				plan.reason = ReasonPartialText
				for _, sec := range res.Sections {
					if sec.NeedsOCR {
						plan.reason = ReasonNeedsOCR
						break
					}
				}
			}
		}
		if _, dup := seen[res.ContentHash]; dup {
			continue
		}
		seen[res.ContentHash] = struct{}{}

		chunked, err := s.chunker.Chunk(res.Sections)
		if err != nil {
			return nil, fmt.Errorf("chunking %s: %w", path, err)
		}

		docID := DocumentID(res.ContentHash)
		doc := domain.Document{
			ID:          docID,
			Path:        path,
			Ordinal:     i,
			Title:       res.Meta.Title,
			ContentType: res.Meta.ContentType,
			ContentHash: res.ContentHash,
			Slug:        res.Meta.Slug,
			RouteHint:   res.Meta.RouteHint,
			Author:      res.Meta.Author,
			Tags:        res.Meta.Tags,
			Source:      res.Source,
			Meta:        res.Meta.Extra,
			Confidence:  res.Meta.Confidence,
			Partial:     partial,
			Text:        chunked.Text,
			Sections:    res.Sections,
			Updated:     res.Meta.Updated,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		chunks := chunked.Chunks
		for j := range chunks {
			chunks[j].ID = ChunkID(docID, chunks[j].Ordinal)
			chunks[j].DocumentID = docID
			chunks[j].DocumentPath = path
		}
		plan.docs = append(plan.docs, plannedDoc{doc: doc, chunks: chunks})
	}
	plan.hash = hasher.Combine(hashes...)
	return plan, nil
}

// dedup drops documents already owned by another path. It returns the
// owners deferred to, in first-seen order, and the documents kept.
func (s *ReindexService) dedup(ctx context.Context, path string, docs []plannedDoc) ([]string, []plannedDoc) {
	var owners []string
	kept := make([]plannedDoc, 0, len(docs))
	for _, d := range docs {
		existing, err := s.docs.FindByContentHash(ctx, d.doc.ContentHash)
		if err == nil && existing.Path != path {
			if !slices.Contains(owners, existing.Path) {
				owners = append(owners, existing.Path)
			}
			continue
		}
		kept = append(kept, d)
	}
	return owners, kept
}

type pendingEmbed struct {
	chunk  *domain.Chunk
	key    driven.EmbeddingKey
	digest string
}

// embed fills chunk embeddings from the cache and embeds the rest in one call.
func (s *ReindexService) embed(ctx context.Context, docs []plannedDoc) error {
	dims := s.embedder.Dimensions()
	var pending []pendingEmbed
	for i := range docs {
		for j := range docs[i].chunks {
			c := &docs[i].chunks[j]
			key := driven.EmbeddingKey{Path: c.DocumentPath, Page: c.Page, Start: c.OffsetStart, End: c.OffsetEnd}
			digest := hasher.TextDigest(c.Text)
			if s.cache != nil {
				if v, ok := s.cache.Get(key, digest); ok && len(v) == dims {
					c.Embedding = v
					continue
				}
			}
			pending = append(pending, pendingEmbed{chunk: c, key: key, digest: digest})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.embedSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.embedSem.Release(1)

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.chunk.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		var provider *domain.EmbeddingProviderError
		if ctx.Err() != nil || errors.As(err, &provider) {
			return err
		}
		return &domain.EmbeddingProviderError{Provider: s.embedder.ModelName(), Err: err}
	}
	if len(vectors) != len(pending) {
		return &domain.EmbeddingProviderError{
			Provider: s.embedder.ModelName(),
			Err:      fmt.Errorf("got %d vectors for %d texts", len(vectors), len(pending)),
		}
	}

	for i, p := range pending {
		p.chunk.Embedding = vectors[i]
		if s.cache != nil {
			if err := s.cache.Put(p.key, p.digest, vectors[i]); err != nil {
				logger.Warn("reindex: caching embedding for %s: %v", p.key.Path, err)
			}
		}
	}
	return nil
}

// commit replaces the path's documents in the store and both indexes and
// writes its manifest entry. New chunks are upserted before stale ones are
// removed so concurrent searches never see the path empty in the indexes.
func (s *ReindexService) commit(
	ctx context.Context,
	path, format string,
	entry *domain.ManifestEntry,
	plan *filePlan,
	mtime time.Time,
	size int64,
) ([]domain.PathResult, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// An alias owned nothing, so gaining documents is an insert.
	outcome := domain.OutcomeInserted
	if entry != nil && !entry.IsDuplicate() {
		outcome = domain.OutcomeUpdated
	}

	owners, docs := s.dedup(ctx, path, plan.docs)

	oldIDs, err := s.docs.DeleteByPath(ctx, path)
	if err != nil {
		return failed(path, err), nil
	}
	stale := union(oldIDs, entryChunkIDs(entry))

	next := domain.ManifestEntry{
		Path:        path,
		Type:        format,
		MTime:       mtime,
		Size:        size,
		ContentHash: plan.hash,
		ChunkIDs:    []string{},
		Partial:     plan.partial,
		Reason:      plan.reason,
		DeferredTo:  owners,
		IndexedAt:   s.now().UTC(),
	}
	if len(plan.docs) > 0 && plan.docs[0].doc.ContentType != "" {
		next.Type = plan.docs[0].doc.ContentType
	}

	if len(plan.docs) > 0 && len(docs) == 0 {
		s.removeFromIndexes(ctx, stale)
		next.DuplicateOf = owners[0]
		if err := s.manifest.Put(next); err != nil {
			return failed(path, err), nil
		}
		return []domain.PathResult{{Path: path, Outcome: domain.OutcomeSkipped}}, nil
	}

	fresh := make(map[string]struct{})
	for i := range docs {
		d := &docs[i]
		if err := s.docs.SaveDocument(ctx, &d.doc, d.chunks); err != nil {
			return s.abort(ctx, path, stale, docs, fmt.Errorf("saving document: %w", err)), nil
		}
		next.DocumentIDs = append(next.DocumentIDs, d.doc.ID)
		for _, c := range d.chunks {
			next.ChunkIDs = append(next.ChunkIDs, c.ID)
			next.ChunkChars += c.Len()
			fresh[c.ID] = struct{}{}
		}
	}

	for i := range docs {
		d := &docs[i]
		for _, c := range d.chunks {
			if err := s.vectors.Upsert(ctx, c.ID, c.Embedding); err != nil {
				return s.abort(ctx, path, stale, docs, fmt.Errorf("vector index: %w", err)), nil
			}
		}
		if err := s.keywords.Upsert(ctx, &d.doc, d.chunks); err != nil {
			return s.abort(ctx, path, stale, docs, fmt.Errorf("keyword index: %w", err)), nil
		}
	}

	var obsolete []string
	for _, id := range stale {
		if _, ok := fresh[id]; !ok {
			obsolete = append(obsolete, id)
		}
	}
	s.removeFromIndexes(ctx, obsolete)

	if err := s.manifest.Put(next); err != nil {
		return failed(path, err), nil
	}
	logger.Debug("reindex: %s %s with %d chunk(s)", path, outcome, len(next.ChunkIDs))
	return []domain.PathResult{{Path: path, Outcome: outcome, Chunks: len(next.ChunkIDs)}}, nil
}

// abort undoes a partially committed path so the next run treats it as new.
func (s *ReindexService) abort(
	ctx context.Context, path string, stale []string, docs []plannedDoc, cause error,
) []domain.PathResult {
	logger.Warn("reindex: %s: %v", path, cause)
	ids := append([]string(nil), stale...)
	for _, d := range docs {
		for _, c := range d.chunks {
			ids = append(ids, c.ID)
		}
	}
	if _, err := s.docs.DeleteByPath(ctx, path); err != nil {
		logger.Warn("reindex: cleaning up %s: %v", path, err)
	}
	s.removeFromIndexes(ctx, ids)
	if err := s.manifest.Delete(path); err != nil {
		logger.Warn("reindex: cleaning up manifest for %s: %v", path, err)
	}
	return failed(path, cause)
}

func (s *ReindexService) removeFromIndexes(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.vectors.Remove(ctx, ids...); err != nil {
		logger.Warn("reindex: removing from vector index: %v", err)
	}
	if err := s.keywords.Remove(ctx, ids...); err != nil {
		logger.Warn("reindex: removing from keyword index: %v", err)
	}
}

// remove purges a vanished path.
func (s *ReindexService) remove(ctx context.Context, path string, entry *domain.ManifestEntry) ([]domain.PathResult, error) {
	wctx := context.WithoutCancel(ctx)

	s.commitMu.Lock()
	ids, err := s.docs.DeleteByPath(wctx, path)
	if err != nil {
		s.commitMu.Unlock()
		return failed(path, err), nil
	}
	s.removeFromIndexes(wctx, union(ids, entry.ChunkIDs))
	err = s.manifest.Delete(path)
	s.commitMu.Unlock()
	if err != nil {
		return failed(path, err), nil
	}
	logger.Debug("reindex: %s deleted", path)
	return []domain.PathResult{{Path: path, Outcome: domain.OutcomeDeleted}}, nil
}

// oversized records a partial entry with no chunks for a file over the size limit.
func (s *ReindexService) oversized(
	ctx context.Context, path, format string, entry *domain.ManifestEntry, mtime time.Time, size int64,
) ([]domain.PathResult, error) {
	wctx := context.WithoutCancel(ctx)
	limitErr := &domain.SizeLimitError{Path: path, Size: size, Limit: s.cfg.MaxFileSize}
	logger.Warn("reindex: %v", limitErr)

	s.commitMu.Lock()
	ids, err := s.docs.DeleteByPath(wctx, path)
	if err != nil {
		s.commitMu.Unlock()
		return failed(path, err), nil
	}
	s.removeFromIndexes(wctx, union(ids, entryChunkIDs(entry)))
	err = s.manifest.Put(domain.ManifestEntry{
		Path:      path,
		Type:      format,
		MTime:     mtime,
		Size:      size,
		ChunkIDs:  []string{},
		Partial:   true,
		Reason:    ReasonOversized,
		IndexedAt: s.now().UTC(),
	})
	s.commitMu.Unlock()
	if err != nil {
		return failed(path, err), nil
	}

	return []domain.PathResult{{Path: path, Outcome: domain.OutcomeSkippedPartial, Error: limitErr.Error()}}, nil
}

// restoreDependents re-imports every path that skipped documents as
// duplicates of owner, which no longer holds them. The first full alias to
// run takes ownership and the rest defer to it.
func (s *ReindexService) restoreDependents(ctx context.Context, owner string) ([]domain.PathResult, error) {
	var results []domain.PathResult
	for _, dep := range s.manifest.DependentsOf(owner) {
		logger.Debug("reindex: restoring %s after %s released its documents", dep.Path, owner)
		res, err := s.reindexPath(ctx, dep.Path, false, domain.ReindexOptions{Force: true})
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func entryChunkIDs(e *domain.ManifestEntry) []string {
	if e == nil {
		return nil
	}
	return e.ChunkIDs
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
