package importers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/hasher"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Registry implements the interface.
var _ driven.ImporterRegistry = (*Registry)(nil)

// Registry dispatches files to importers by extension.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]driven.Importer
}

// NewRegistry creates a registry with the given importers.
func NewRegistry(importers ...driven.Importer) *Registry {
	r := &Registry{byExt: make(map[string]driven.Importer)}
	for _, imp := range importers {
		r.Register(imp)
	}
	return r
}

// Register adds an importer, replacing any previous owner of its extensions.
func (r *Registry) Register(importer driven.Importer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range importer.Extensions() {
		r.byExt[strings.ToLower(ext)] = importer
	}
}

// Supports reports whether a file's extension has an importer.
func (r *Registry) Supports(path string) bool {
	return r.lookup(path) != nil
}

// Extensions returns every supported extension, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Format returns the name of the importer for a path, or "" if none.
func (r *Registry) Format(path string) string {
	if imp := r.lookup(path); imp != nil {
		return imp.Name()
	}
	return ""
}

func (r *Registry) lookup(path string) driven.Importer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byExt[Ext(path)]
}

// ImportFile reads the file from disk and imports it.
func (r *Registry) ImportFile(ctx context.Context, path string) ([]domain.ImportResult, error) {
	if !r.Supports(path) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ImportError{Path: path, Err: err}
	}
	return r.Import(ctx, path, data)
}

// Import parses already-read file bytes and hashes each result.
func (r *Registry) Import(ctx context.Context, path string, data []byte) (results []domain.ImportResult, err error) {
	imp := r.lookup(path)
	if imp == nil {
		logger.Debug("importers: no importer for %s", path)
		return nil, nil
	}

	defer func() {
		if p := recover(); p != nil {
			results = nil
			err = &domain.ImportError{Path: path, Format: imp.Name(), Err: fmt.Errorf("importer panic: %v", p)}
		}
	}()

	raw, err := imp.Import(ctx, path, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.ImportError{Path: path, Format: imp.Name(), Err: err}
	}

	results = make([]domain.ImportResult, 0, len(raw))
	for _, res := range raw {
		if !hasContent(res) {
			continue
		}
		for i := range res.Sections {
			res.Sections[i].Text = strings.ToValidUTF8(res.Sections[i].Text, "�")
		}
		if res.Meta.ContentType == "" {
			res.Meta.ContentType = imp.Name()
		}
		if res.Source.Kind == "" {
			res.Source.Kind = domain.SourceFile
		}
		if res.Source.Origin == "" {
			res.Source.Origin = path
		}
		// The file name is not content, so the fallback title is applied after hashing.
		hash, err := hasher.Hash(res.Meta, res.Sections)
		if err != nil {
			return nil, &domain.ImportError{Path: path, Format: imp.Name(), Err: err}
		}
		res.ContentHash = hash
		if res.Meta.Title == "" {
			res.Meta.Title = TitleFromPath(path)
		}
		results = append(results, res)
	}
	logger.Debug("importers: %s produced %d document(s) via %s", path, len(results), imp.Name())
	return results, nil
}

// hasContent keeps results with text or with incompletely extracted pages.
func hasContent(res domain.ImportResult) bool {
	for _, s := range res.Sections {
		if strings.TrimSpace(s.Text) != "" || s.NeedsOCR || s.Partial {
			return true
		}
	}
	return false
}
