package domain

import "time"

// ManifestEntry is the per-file bookkeeping the reindex orchestrator consults.
type ManifestEntry struct {
	// Path is the absolute file path.
	Path string `json:"path"`

	// Type is the content type the file was imported as.
	Type string `json:"type"`

	// MTime is the modification time observed when the file was read.
	MTime time.Time `json:"mtime"`

	// Size is the size in bytes observed when the file was read.
	Size int64 `json:"size"`

	// ContentHash is the digest over every document the file produced.
	ContentHash string `json:"content_hash,omitempty"`

	// DocumentIDs are the documents owned by this path.
	DocumentIDs []string `json:"document_ids,omitempty"`

	// ChunkIDs are the chunks owned by this path.
	ChunkIDs []string `json:"chunk_ids"`

	// ChunkChars is the summed character length of the chunks.
	ChunkChars int `json:"chunk_chars,omitempty"`

	// Partial marks incomplete extraction or an oversized file.
	Partial bool `json:"partial"`

	// Reason explains why the entry is partial.
	Reason string `json:"reason,omitempty"`

	// DuplicateOf names the path that owns identical content.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// DeferredTo lists every path owning a document this path skipped as
	// a duplicate, including DuplicateOf.
	DeferredTo []string `json:"deferred_to,omitempty"`

	// IndexedAt is when the entry was written.
	IndexedAt time.Time `json:"indexed_at"`
}

// Matches reports whether the file's observed mtime and size equal the entry's.
func (e *ManifestEntry) Matches(mtime time.Time, size int64) bool {
	return e.Size == size && e.MTime.Equal(mtime)
}

// IsDuplicate reports whether the entry is an alias of another path.
func (e *ManifestEntry) IsDuplicate() bool {
	return e.DuplicateOf != ""
}

// DefersTo reports whether the entry skipped any document owned by path.
func (e *ManifestEntry) DefersTo(path string) bool {
	if e.DuplicateOf == path {
		return true
	}
	for _, p := range e.DeferredTo {
		if p == path {
			return true
		}
	}
	return false
}

// ManifestStats are aggregate corpus statistics derived from the manifest.
type ManifestStats struct {
	Files            int            `json:"files"`
	Chunks           int            `json:"chunks"`
	ByType           map[string]int `json:"by_type"`
	AvgChunkLen      float64        `json:"avg_chunk_len"`
	EmbeddingsCached int            `json:"embeddings_cached"`
	PartialFiles     int            `json:"partial_files"`
	Duplicates       int            `json:"duplicates"`
	LastIndexedAt    *time.Time     `json:"last_indexed_at,omitempty"`
}
