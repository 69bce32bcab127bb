package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// Search defaults.
const (
	DefaultSnippetChars   = 240
	DefaultCandidates     = 100
	DefaultQueryCacheSize = 256
	ellipsis              = "…"
)

// SearchConfig tunes ranking and result presentation.
type SearchConfig struct {
	// K and Alpha replace the built-in defaults for requests that omit them.
	K     int
	Alpha *float64

	// SnippetChars bounds the snippet window in characters.
	SnippetChars int

	// Candidates is how many hits each index contributes before blending.
	// It is raised to k when smaller.
	Candidates int

	// QueryCacheSize is the number of query embeddings kept in memory.
	QueryCacheSize int
}

// scoredChunk holds intermediate search results before hydration.
type scoredChunk struct {
	chunkID string
	vector  float64
	keyword float64
	score   float64
}

// SearchService provides hybrid search functionality.
type SearchService struct {
	cfg      SearchConfig
	docs     driven.DocumentStore
	vectors  driven.VectorIndex
	keywords driven.KeywordIndex
	embedder driven.EmbeddingService
	audit    *slog.Logger
	validate *validator.Validate
	queries  *lru.Cache[string, []float32]
}

// NewSearchService creates a new search service.
// The audit logger is optional (can be nil).
func NewSearchService(
	cfg SearchConfig,
	docs driven.DocumentStore,
	vectors driven.VectorIndex,
	keywords driven.KeywordIndex,
	embedder driven.EmbeddingService,
	audit *slog.Logger,
) *SearchService {
	if cfg.SnippetChars <= 0 {
		cfg.SnippetChars = DefaultSnippetChars
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = DefaultQueryCacheSize
	}
	if audit == nil {
		audit = logger.Discard()
	}
	queries, _ := lru.New[string, []float32](cfg.QueryCacheSize)

	return &SearchService{
		cfg:      cfg,
		docs:     docs,
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		audit:    audit,
		validate: newValidator(),
		queries:  queries,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a request without running it.
func (s *SearchService) Validate(req domain.SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	fields := make(map[string]string)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate request: %w", err)
		}
		for _, fe := range verrs {
			_, name, _ := strings.Cut(fe.Namespace(), ".")
			fields[name] = fe.Tag()
		}
	}

	f := req.Filters
	if f.UpdatedAfter != nil && f.UpdatedBefore != nil && f.UpdatedAfter.After(*f.UpdatedBefore) {
		fields["filters.updated_after"] = "ltefield=updated_before"
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// Search validates the request and returns blended, cited results.
func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	start := time.Now()
	logger.Section("Search Execution")

	if err := s.Validate(req); err != nil {
		logger.Debug("Rejected request: %v", err)
		return nil, err
	}
	if req.K == 0 && s.cfg.K > 0 {
		req.K = s.cfg.K
	}
	if req.Alpha == nil && s.cfg.Alpha != nil {
		req.Alpha = s.cfg.Alpha
	}
	req = req.Normalise()
	alpha := req.AlphaValue()
	logger.Debug("Query: %q, k=%d, alpha=%.2f", req.Query, req.K, alpha)

	resp := &domain.SearchResponse{Query: req.Query, TopK: req.K, Results: []domain.SearchResult{}}

	results, err := s.search(ctx, req, alpha)
	if err != nil {
		logger.Warn("Search failed: %v", err)
		s.record(req, alpha, 0, start, err)
		return nil, err
	}
	resp.Results = results

	logger.Info("Final results: %d", len(results))
	s.record(req, alpha, len(results), start, nil)
	return resp, nil
}

func (s *SearchService) search(ctx context.Context, req domain.SearchRequest, alpha float64) ([]domain.SearchResult, error) {
	var filter driven.ChunkFilter
	if !req.Filters.IsZero() {
		f, err := s.docs.FilterChunkIDs(ctx, req.Filters)
		if err != nil {
			return nil, fmt.Errorf("apply filters: %w", err)
		}
		if f != nil && len(f) == 0 {
			logger.Debug("Filters match no chunks")
			return []domain.SearchResult{}, nil
		}
		filter = f
	}

	pool := max(s.cfg.Candidates, req.K)

	var vectorHits, keywordHits []domain.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	if alpha > 0 {
		g.Go(func() error {
			var err error
			vectorHits, err = s.vectorSearch(gctx, req.Query, pool, filter)
			return err
		})
	}
	if alpha < 1 {
		g.Go(func() error {
			var err error
			keywordHits, err = s.keywords.Search(gctx, req.Query, pool, driven.KeywordSearchOptions{Filter: filter})
			if err != nil {
				return fmt.Errorf("keyword search: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Debug("Candidates: %d vector, %d keyword", len(vectorHits), len(keywordHits))

	merged := blend(vectorHits, keywordHits, alpha)
	return s.hydrate(ctx, merged, req)
}

func (s *SearchService) vectorSearch(
	ctx context.Context, query string, k int, filter driven.ChunkFilter,
) ([]domain.ScoredChunk, error) {
	if s.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectors.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (s *SearchService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := s.embedder.ModelName() + "\x00" + query
	if vec, ok := s.queries.Get(key); ok {
		logger.Debug("Query embedding cache hit")
		return vec, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		var provider *domain.EmbeddingProviderError
		if ctx.Err() != nil || errors.As(err, &provider) {
			return nil, err
		}
		return nil, &domain.EmbeddingProviderError{Provider: s.embedder.ModelName(), Err: err}
	}
	s.queries.Add(key, vec)
	return vec, nil
}

// blend merges both hit lists into one score per chunk. Cosine similarity
// is mapped from [-1,1] to [0,1]; keyword scores are divided by the best
// keyword score. A chunk missing from one side scores 0 there.
func blend(vectorHits, keywordHits []domain.ScoredChunk, alpha float64) []scoredChunk {
	byID := make(map[string]*scoredChunk, len(vectorHits)+len(keywordHits))
	order := make([]string, 0, len(vectorHits)+len(keywordHits))
	get := func(id string) *scoredChunk {
		sc, ok := byID[id]
		if !ok {
			sc = &scoredChunk{chunkID: id}
			byID[id] = sc
			order = append(order, id)
		}
		return sc
	}

	for _, h := range vectorHits {
		get(h.ChunkID).vector = clamp01((h.Score + 1) / 2)
	}

	var best float64
	for _, h := range keywordHits {
		best = max(best, h.Score)
	}
	for _, h := range keywordHits {
		if best > 0 {
			get(h.ChunkID).keyword = clamp01(h.Score / best)
		} else {
			get(h.ChunkID)
		}
	}

	out := make([]scoredChunk, 0, len(order))
	for _, id := range order {
		sc := byID[id]
		sc.score = alpha*sc.vector + (1-alpha)*sc.keyword
		out = append(out, *sc)
	}
	return out
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

type hydrated struct {
	scored scoredChunk
	chunk  *domain.Chunk
	doc    *domain.Document
}

// hydrate converts chunk IDs to full SearchResult objects, ranks them
// and truncates to k. Chunks removed since retrieval are dropped.
func (s *SearchService) hydrate(
	ctx context.Context, chunks []scoredChunk, req domain.SearchRequest,
) ([]domain.SearchResult, error) {
	docs := make(map[string]*domain.Document)
	items := make([]hydrated, 0, len(chunks))

	for _, sc := range chunks {
		chunk, err := s.docs.GetChunk(ctx, sc.chunkID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("Chunk %s vanished before hydration", sc.chunkID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hydrate chunk: %w", err)
		}

		doc, ok := docs[chunk.DocumentID]
		if !ok {
			doc, err = s.docs.GetDocument(ctx, chunk.DocumentID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("hydrate document: %w", err)
			}
			docs[chunk.DocumentID] = doc
		}
		items = append(items, hydrated{scored: sc, chunk: chunk, doc: doc})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.scored.score != b.scored.score {
			return a.scored.score > b.scored.score
		}
		if a.chunk.Ordinal != b.chunk.Ordinal {
			return a.chunk.Ordinal < b.chunk.Ordinal
		}
		ra, rb := a.doc.Recency(), b.doc.Recency()
		if !ra.Equal(rb) {
			return ra.After(rb)
		}
		return a.chunk.ID < b.chunk.ID
	})
	if len(items) > req.K {
		items = items[:req.K]
	}

	terms := queryTerms(req.Query)
	results := make([]domain.SearchResult, 0, len(items))
	for _, it := range items {
		snippet := Snippet(it.chunk.Text, terms, s.cfg.SnippetChars)
		citation := domain.Citation{
			FilePath:  it.chunk.DocumentPath,
			Page:      it.chunk.Page,
			StartChar: it.chunk.OffsetStart,
			EndChar:   it.chunk.OffsetEnd,
			Snippet:   snippet,
		}
		tags := it.doc.Tags
		if tags == nil {
			tags = []string{}
		}
		results = append(results, domain.SearchResult{
			Score:        it.scored.score,
			Text:         it.chunk.Text,
			Citation:     citation,
			Title:        it.doc.Title,
			Snippet:      snippet,
			ContentType:  it.doc.ContentType,
			Slug:         it.doc.Slug,
			RouteHint:    it.doc.RouteHint,
			SourcePath:   it.chunk.DocumentPath,
			PageOrOffset: citation.PageOrOffset(),
			Tags:         tags,
			Updated:      it.doc.Updated,
			Confidence:   it.doc.Confidence,
			Partial:      it.chunk.Partial || it.doc.Partial,
			ChunkID:      it.chunk.ID,
			DocumentID:   it.doc.ID,
			Ordinal:      it.chunk.Ordinal,
			VectorScore:  it.scored.vector,
			KeywordScore: it.scored.keyword,
		})
	}
	return results, nil
}

func (s *SearchService) record(req domain.SearchRequest, alpha float64, n int, start time.Time, err error) {
	attrs := []any{
		slog.String("query", req.Query),
		slog.Int("k", req.K),
		slog.Float64("alpha", alpha),
		slog.Any("filters", req.Filters),
		slog.Int("results", n),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.audit.Info("search", attrs...)
}

// queryTerms lower-cases the query and splits it into words.
func queryTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Snippet returns at most width characters of text centred on the first
// query term found, with an ellipsis on each truncated side.
func Snippet(text string, terms []string, width int) string {
	text = strings.TrimSpace(text)
	total := utf8.RuneCountInString(text)
	if width <= 0 || total <= width {
		return text
	}

	lower := strings.ToLower(text)
	hit := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (hit < 0 || i < hit) {
			hit = i
		}
	}

	startRune := 0
	if hit > 0 && len(lower) == len(text) {
		startRune = utf8.RuneCountInString(text[:hit]) - width/3
	}
	startRune = max(0, min(startRune, total-width))
	endRune := startRune + width

	runes := []rune(text)
	var b strings.Builder
	if startRune > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.TrimSpace(string(runes[startRune:endRune])))
	if endRune < total {
		b.WriteString(ellipsis)
	}
	return b.String()
}
