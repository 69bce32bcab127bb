package domain

import (
	"strconv"
	"strings"
	"time"
)

// Search defaults.
const (
	DefaultSearchK     = 10
	DefaultSearchAlpha = 0.5
	MaxSearchK         = 100
)

// SearchFilters narrow the corpus a search runs over.
// All set fields must match (logical AND). Tags must all be present.
type SearchFilters struct {
	ContentTypes  []string   `json:"content_types,omitempty" validate:"omitempty,dive,required"`
	Author        string     `json:"author,omitempty"`
	Slug          string     `json:"slug,omitempty"`
	Tags          []string   `json:"tags,omitempty" validate:"omitempty,dive,required"`
	UpdatedAfter  *time.Time `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty"`
}

// IsZero reports whether no filter is set.
func (f SearchFilters) IsZero() bool {
	return len(f.ContentTypes) == 0 && f.Author == "" && f.Slug == "" &&
		len(f.Tags) == 0 && f.UpdatedAfter == nil && f.UpdatedBefore == nil
}

// FilterInput is the wire form of SearchFilters, with dates as strings.
type FilterInput struct {
	ContentTypes  []string `json:"content_types,omitempty"`
	Author        string   `json:"author,omitempty"`
	Slug          string   `json:"slug,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	UpdatedAfter  string   `json:"updated_after,omitempty"`
	UpdatedBefore string   `json:"updated_before,omitempty"`
}

// Filters parses the dates. Unparseable dates are reported together.
func (in FilterInput) Filters() (SearchFilters, error) {
	f := SearchFilters{
		ContentTypes: in.ContentTypes,
		Author:       strings.TrimSpace(in.Author),
		Slug:         strings.TrimSpace(in.Slug),
		Tags:         in.Tags,
	}
	fields := map[string]string{}
	var err error
	if f.UpdatedAfter, err = ParseFilterDate("updated_after", in.UpdatedAfter); err != nil {
		fields["filters.updated_after"] = "datetime"
	}
	if f.UpdatedBefore, err = ParseFilterDate("updated_before", in.UpdatedBefore); err != nil {
		fields["filters.updated_before"] = "datetime"
	}
	if len(fields) > 0 {
		return SearchFilters{}, &ValidationError{Fields: fields}
	}
	return f, nil
}

// ParseFilterDate parses an RFC 3339 timestamp or a YYYY-MM-DD date given
// for the named filter. A blank value yields nil.
func ParseFilterDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, NewValidationError("filters."+field, "datetime")
}

// SearchRequest is a hybrid search query.
type SearchRequest struct {
	// Query is the natural-language query text.
	Query string `json:"query" validate:"required,max=1024"`

	// K is the number of results to return. Zero means DefaultSearchK.
	K int `json:"k,omitempty" validate:"omitempty,min=1,max=100"`

	// Alpha weights vector similarity against keyword relevance.
	// 1 is pure vector ranking, 0 is pure keyword ranking, nil means DefaultSearchAlpha.
	Alpha *float64 `json:"alpha,omitempty" validate:"omitempty,gte=0,lte=1"`

	// Filters narrow the searched corpus.
	Filters SearchFilters `json:"filters"`
}

// Normalise trims the query and fills defaults.
func (r SearchRequest) Normalise() SearchRequest {
	r.Query = strings.TrimSpace(r.Query)
	if r.K == 0 {
		r.K = DefaultSearchK
	}
	if r.Alpha == nil {
		a := DefaultSearchAlpha
		r.Alpha = &a
	}
	return r
}

// AlphaValue returns the blend weight, falling back to the default.
func (r SearchRequest) AlphaValue() float64 {
	if r.Alpha == nil {
		return DefaultSearchAlpha
	}
	return *r.Alpha
}

// Citation is the provenance of a search result, derived from a chunk on demand.
type Citation struct {
	FilePath  string `json:"file_path"`
	Page      int    `json:"page,omitempty"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Snippet   string `json:"snippet"`
}

// PageOrOffset renders the citation location as "p.N" for paginated
// sources and "@offset" otherwise.
func (c Citation) PageOrOffset() string {
	if c.Page > 0 {
		return "p." + strconv.Itoa(c.Page)
	}
	return "@" + strconv.Itoa(c.StartChar)
}

// SearchResult is a single ranked hit.
type SearchResult struct {
	// Score is the blended hybrid score.
	Score float64 `json:"score"`

	// Text is the full chunk text.
	Text string `json:"text"`

	// Citation locates the hit in its source file.
	Citation Citation `json:"citation"`

	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	ContentType  string     `json:"content_type"`
	Slug         string     `json:"slug,omitempty"`
	RouteHint    string     `json:"route_hint,omitempty"`
	SourcePath   string     `json:"source_path"`
	PageOrOffset string     `json:"page_or_offset"`
	Tags         []string   `json:"tags"`
	Updated      *time.Time `json:"updated,omitempty"`
	Confidence   *float64   `json:"confidence,omitempty"`
	Partial      bool       `json:"partial,omitempty"`

	// ChunkID and DocumentID identify the hit.
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`

	// Ordinal is the chunk's position within its document.
	Ordinal int `json:"ordinal"`

	// VectorScore and KeywordScore are the normalised component scores.
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`
}

// SearchResponse is the result list of a hybrid search.
type SearchResponse struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Results []SearchResult `json:"results"`
}

// ScoredChunk is a chunk id with a raw score from one index.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}
