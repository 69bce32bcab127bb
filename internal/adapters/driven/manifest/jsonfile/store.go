// Package jsonfile persists the indexing manifest as a single JSON document.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// FileName is the manifest file name inside the data directory.
const FileName = "manifest.json"

// formatVersion is bumped when the on-disk layout changes incompatibly.
const formatVersion = 1

// Ensure Store implements the interface.
var _ driven.ManifestStore = (*Store)(nil)

// Store is a file-based implementation of driven.ManifestStore.
// Entries live in memory and are written out by Snapshot.
type Store struct {
	mu               sync.RWMutex
	filePath         string
	entries          map[string]domain.ManifestEntry
	embeddingsCached int
}

type document struct {
	Version int                             `json:"version"`
	Entries map[string]domain.ManifestEntry `json:"entries"`
	Stats   domain.ManifestStats            `json:"stats"`
}

// New opens the manifest in dataDir, restoring the last snapshot if present.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	s := &Store{
		filePath: filepath.Join(dataDir, FileName),
		entries:  make(map[string]domain.ManifestEntry),
	}
	if err := s.Restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory returns a manifest that never touches disk.
func NewMemory() *Store {
	return &Store{entries: make(map[string]domain.ManifestEntry)}
}

// Path returns the manifest file path, empty for in-memory manifests.
func (s *Store) Path() string {
	return s.filePath
}

// Get returns the entry for a path or domain.ErrNotFound.
func (s *Store) Get(path string) (*domain.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneEntry(e), nil
}

// Put creates or replaces the entry for entry.Path.
func (s *Store) Put(entry domain.ManifestEntry) error {
	if entry.Path == "" {
		return domain.ErrInvalidInput
	}
	if entry.ChunkIDs == nil {
		entry.ChunkIDs = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Path] = *cloneEntry(entry)
	return nil
}

// Delete removes the entry for a path. Unknown paths are ignored.
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
	return nil
}

// List returns every entry ordered by path.
func (s *Store) List() []domain.ManifestEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ManifestEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// DependentsOf returns the entries that deferred a document to path,
// ordered by path.
func (s *Store) DependentsOf(path string) []domain.ManifestEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ManifestEntry
	for _, e := range s.entries {
		if e.DefersTo(path) {
			out = append(out, *cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// SetEmbeddingsCached records the embedding cache size for Stats.
func (s *Store) SetEmbeddingsCached(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddingsCached = n
}

// Stats returns aggregate corpus statistics.
func (s *Store) Stats() domain.ManifestStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats()
}

// stats computes aggregates (caller must hold lock).
func (s *Store) stats() domain.ManifestStats {
	st := domain.ManifestStats{
		Files:            len(s.entries),
		ByType:           make(map[string]int),
		EmbeddingsCached: s.embeddingsCached,
	}
	var chars int
	for _, e := range s.entries {
		st.Chunks += len(e.ChunkIDs)
		chars += e.ChunkChars
		if e.Type != "" {
			st.ByType[e.Type]++
		}
		if e.Partial {
			st.PartialFiles++
		}
		if e.IsDuplicate() {
			st.Duplicates++
		}
		if st.LastIndexedAt == nil || e.IndexedAt.After(*st.LastIndexedAt) {
			t := e.IndexedAt
			st.LastIndexedAt = &t
		}
	}
	if st.Chunks > 0 {
		st.AvgChunkLen = float64(chars) / float64(st.Chunks)
	}
	return st
}

// Snapshot persists the manifest atomically. In-memory manifests are a no-op.
func (s *Store) Snapshot() error {
	if s.filePath == "" {
		return nil
	}
	s.mu.RLock()
	doc := document{Version: formatVersion, Entries: s.entries, Stats: s.stats()}
	data, err := json.MarshalIndent(doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return writeFileAtomic(s.filePath, data)
}

// Restore reloads the manifest from its last snapshot.
// A missing file yields an empty manifest; an unreadable one is corruption.
func (s *Store) Restore() error {
	if s.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.entries = make(map[string]domain.ManifestEntry)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return &domain.IndexCorruptionError{Index: "manifest", Path: s.filePath, Err: err}
	}
	if doc.Version != formatVersion {
		return &domain.IndexCorruptionError{
			Index: "manifest",
			Path:  s.filePath,
			Err:   fmt.Errorf("unsupported version %d", doc.Version),
		}
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]domain.ManifestEntry)
	}
	for path, e := range doc.Entries {
		if e.Path != path {
			return &domain.IndexCorruptionError{
				Index: "manifest",
				Path:  s.filePath,
				Err:   fmt.Errorf("entry key %q does not match path %q", path, e.Path),
			}
		}
	}

	s.mu.Lock()
	s.entries = doc.Entries
	s.embeddingsCached = doc.Stats.EmbeddingsCached
	s.mu.Unlock()
	return nil
}

func cloneEntry(e domain.ManifestEntry) *domain.ManifestEntry {
	e.ChunkIDs = append([]string{}, e.ChunkIDs...)
	if e.DocumentIDs != nil {
		e.DocumentIDs = append([]string(nil), e.DocumentIDs...)
	}
	if e.DeferredTo != nil {
		e.DeferredTo = append([]string(nil), e.DeferredTo...)
	}
	return &e
}

// writeFileAtomic replaces path with data via a synced temp file and rename,
// so a crash leaves either the old or the new manifest.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}
