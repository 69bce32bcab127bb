package domain

import "time"

// DocumentMeta is the metadata an importer extracts alongside section text.
type DocumentMeta struct {
	// Title is the human-readable title.
	Title string `json:"title"`

	// Author is the declared author, if any.
	Author string `json:"author,omitempty"`

	// Slug is a short stable identifier declared by the document.
	Slug string `json:"slug,omitempty"`

	// RouteHint tells consumers where the document belongs (section of a site, topic).
	RouteHint string `json:"route_hint,omitempty"`

	// Tags are free-form labels used for filtering.
	Tags []string `json:"tags,omitempty"`

	// ContentType is the normalised format name ("markdown", "pdf", "csv", ...).
	ContentType string `json:"content_type"`

	// Updated is the date the document declares for its last revision.
	Updated *time.Time `json:"updated,omitempty"`

	// Confidence is an optional 0..1 quality score declared by the document.
	Confidence *float64 `json:"confidence,omitempty"`

	// Extra holds any remaining metadata fields verbatim.
	Extra map[string]any `json:"extra,omitempty"`
}

// Section is a pre-chunk structural unit produced by an importer.
type Section struct {
	// Heading is the heading text the section sits under, if any.
	Heading string `json:"heading,omitempty"`

	// Text is the section body.
	Text string `json:"text"`

	// Page is the 1-based page number for paginated formats, 0 otherwise.
	Page int `json:"page,omitempty"`

	// Order is the position of the section within the document.
	Order int `json:"order"`

	// Partial marks a section whose extraction was incomplete.
	Partial bool `json:"partial,omitempty"`

	// NeedsOCR marks a page whose text could only be recovered by OCR.
	NeedsOCR bool `json:"needs_ocr,omitempty"`
}

// ImportResult is one logical document extracted from a file.
type ImportResult struct {
	// Source is where the material came from.
	Source Source

	// Meta is the extracted metadata.
	Meta DocumentMeta

	// Sections are the ordered structural units.
	Sections []Section

	// ContentHash is the deterministic digest over meta and sections.
	ContentHash string
}

// Partial reports whether any section was extracted incompletely.
func (r ImportResult) Partial() bool {
	for _, s := range r.Sections {
		if s.Partial || s.NeedsOCR {
			return true
		}
	}
	return false
}

// Document represents one indexed logical record.
// A single file may produce several documents (one per exported record).
type Document struct {
	// ID is derived from the content hash so identical content maps to one document.
	ID string `json:"id" db:"id"`

	// Path is the file the document was imported from.
	Path string `json:"path" db:"path"`

	// Ordinal is the position of the document among the file's import results.
	Ordinal int `json:"ordinal" db:"ordinal"`

	// Title is the human-readable title.
	Title string `json:"title" db:"title"`

	// ContentType is the normalised format name.
	ContentType string `json:"content_type" db:"content_type"`

	// ContentHash is the digest over normalised content and metadata.
	ContentHash string `json:"content_hash" db:"content_hash"`

	// Slug is the document's declared short identifier.
	Slug string `json:"slug,omitempty" db:"slug"`

	// RouteHint is the document's declared routing hint.
	RouteHint string `json:"route_hint,omitempty" db:"route_hint"`

	// Author is the declared author.
	Author string `json:"author,omitempty" db:"author"`

	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty" db:"-"`

	// Source is the origin of the material.
	Source Source `json:"source" db:"-"`

	// Meta is the opaque metadata map kept for consumers.
	Meta map[string]any `json:"meta,omitempty" db:"-"`

	// Confidence is an optional 0..1 quality score.
	Confidence *float64 `json:"confidence,omitempty" db:"confidence"`

	// Partial marks incomplete extraction.
	Partial bool `json:"partial" db:"partial"`

	// Text is the normalised text the chunk offsets point into.
	Text string `json:"-" db:"text"`

	// Sections are persisted as an ordered array per document.
	Sections []Section `json:"sections,omitempty" db:"-"`

	// Updated is the revision date declared by the document, if any.
	Updated *time.Time `json:"updated,omitempty" db:"-"`

	// CreatedAt is when the document was first indexed.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is when the document was last indexed.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Recency returns the timestamp used to compare how recently documents changed.
func (d *Document) Recency() time.Time {
	if d.Updated != nil {
		return *d.Updated
	}
	return d.UpdatedAt
}

// Chunk is the retrieval unit within a document.
type Chunk struct {
	// ID is derived from the document ID and ordinal.
	ID string `json:"id" db:"id"`

	// DocumentID links to the parent Document.
	DocumentID string `json:"document_id" db:"document_id"`

	// DocumentPath is the file the parent document came from.
	DocumentPath string `json:"document_path" db:"document_path"`

	// Ordinal is the position within the document, strictly increasing from 0.
	Ordinal int `json:"ordinal" db:"ordinal"`

	// Heading is inherited from the section the chunk came from.
	Heading string `json:"heading,omitempty" db:"heading"`

	// Text is the exact slice of the document text at [OffsetStart, OffsetEnd).
	Text string `json:"text" db:"text"`

	// TokenCount is the number of tokens in Text.
	TokenCount int `json:"token_count" db:"token_count"`

	// OffsetStart is the inclusive byte offset into the document text.
	OffsetStart int `json:"offset_start" db:"offset_start"`

	// OffsetEnd is the exclusive byte offset into the document text.
	OffsetEnd int `json:"offset_end" db:"offset_end"`

	// Page is the 1-based page the chunk came from, 0 when not paginated.
	Page int `json:"page,omitempty" db:"page"`

	// Embedding is the L2-normalised vector representation.
	Embedding []float32 `json:"-" db:"-"`

	// Partial marks a chunk from incomplete extraction.
	Partial bool `json:"partial,omitempty" db:"partial"`

	// ForcedSplit marks a chunk cut at a token boundary because one sentence
	// exceeded the token budget on its own.
	ForcedSplit bool `json:"forced_split,omitempty" db:"forced_split"`
}

// Len returns the character span length of the chunk.
func (c *Chunk) Len() int {
	return c.OffsetEnd - c.OffsetStart
}
