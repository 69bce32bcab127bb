// Package app assembles the knowledge store from its settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/embedding/diskcache"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/keyword/bleveindex"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/manifest/jsonfile"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/vector/flat"
	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/watcher/fsnotify"
	"github.com/custodia-labs/sercha-kb/internal/config"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/services"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Files and directories inside the data directory.
const (
	VectorFile   = "vectors.bin"
	KeywordDir   = "keyword.bleve"
	EmbeddingDir = "embeddings"
	AuditFile    = "audit.log"
)

// Options changes how the store is opened.
type Options struct {
	// Rebuild discards the vector and keyword indexes before opening them,
	// so a snapshot built with another embedding dimension is accepted.
	Rebuild bool
}

// App holds the wired services and the resources they own.
type App struct {
	Settings  *config.Settings
	Search    *services.SearchService
	Reindex   *services.ReindexService
	Watch     *services.WatchService
	Scheduler *services.Scheduler
	Embedder  driven.EmbeddingService

	closers []func() error
}

// Open builds every adapter and service. On error, anything already
// opened is closed again.
func Open(settings *config.Settings, opts Options) (_ *App, err error) {
	a := &App{Settings: settings}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	persistent := settings.Storage != config.StorageMemory
	if persistent {
		if err := os.MkdirAll(settings.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if opts.Rebuild && persistent {
		logger.Info("Discarding vector and keyword indexes in %s", settings.DataDir)
		if err := os.Remove(filepath.Join(settings.DataDir, VectorFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove vector snapshot: %w", err)
		}
		if err := os.RemoveAll(filepath.Join(settings.DataDir, KeywordDir)); err != nil {
			return nil, fmt.Errorf("remove keyword index: %w", err)
		}
	}

	embedder, err := NewEmbedder(settings.Embedding)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder
	a.closers = append(a.closers, embedder.Close)

	stores, err := openStores(settings, persistent, embedder)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stores.close)

	chunker, err := NewChunker(settings.Chunking)
	if err != nil {
		return nil, err
	}

	audit := logger.Discard()
	if settings.Audit && persistent {
		l, closer, err := logger.OpenAudit(filepath.Join(settings.DataDir, AuditFile))
		if err != nil {
			return nil, err
		}
		audit = l
		a.closers = append(a.closers, closer.Close)
	}

	a.Reindex = services.NewReindexService(
		services.ReindexConfig{
			Roots:            settings.Roots,
			Exclude:          []string{settings.DataDir},
			MaxFileSize:      settings.MaxFileSize(),
			Workers:          settings.Workers,
			FileTimeout:      settings.FileTimeout,
			EmbedConcurrency: settings.Embedding.MaxConcurrency,
		},
		NewRegistry(),
		chunker,
		embedder,
		stores.cache,
		stores.docs,
		stores.vectors,
		stores.keywords,
		stores.manifest,
	)

	alpha := settings.Search.Alpha
	a.Search = services.NewSearchService(
		services.SearchConfig{
			K:            settings.Search.K,
			Alpha:        &alpha,
			SnippetChars: settings.Search.SnippetChars,
			Candidates:   settings.Search.Candidates,
		},
		stores.docs,
		stores.vectors,
		stores.keywords,
		embedder,
		audit,
	)

	a.Watch = services.NewWatchService(a.Reindex, fsnotify.Factory, settings.Watch.Debounce)
	a.Scheduler = services.NewScheduler(
		services.ScheduleConfig{RescanInterval: settings.Schedule.RescanInterval},
		stores.tasks,
		a.Reindex,
	)
	// Stop sessions and the scheduler before the stores they write to.
	a.closers = append(a.closers, a.Scheduler.Stop, a.Watch.Close)

	logger.Debug("Opened store in %s (storage=%s, provider=%s, model=%s, dims=%d)",
		settings.DataDir, settings.Storage, settings.Embedding.Provider, embedder.ModelName(), embedder.Dimensions())
	return a, nil
}

// RunScheduler runs periodic rescans until ctx ends. It returns at once
// when no rescan interval is configured.
func (a *App) RunScheduler(ctx context.Context) {
	if a.Settings.Schedule.RescanInterval <= 0 {
		return
	}
	logger.L().Info("Periodic rescan enabled", "interval", a.Settings.Schedule.RescanInterval)
	go func() {
		if err := a.Scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("Scheduler stopped", "error", err)
		}
	}()
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// stores groups the persistence adapters.
type stores struct {
	docs     driven.DocumentStore
	tasks    driven.TaskStore
	vectors  driven.VectorIndex
	keywords driven.KeywordIndex
	manifest driven.ManifestStore
	cache    driven.EmbeddingCache

	closers []io.Closer
}

func (s *stores) close() error {
	var errs []error
	if s.manifest != nil {
		if err := s.manifest.Snapshot(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStores(settings *config.Settings, persistent bool, embedder driven.EmbeddingService) (_ *stores, err error) {
	s := &stores{}
	defer func() {
		if err != nil {
			_ = s.close()
		}
	}()

	if !persistent {
		s.docs = memory.NewDocumentStore()
		s.tasks = memory.NewTaskStore()
		s.manifest = jsonfile.NewMemory()
		vectors, err := flat.New("", embedder.Dimensions())
		if err != nil {
			return nil, err
		}
		s.vectors = vectors
		s.closers = append(s.closers, vectors)
		keywords, err := bleveindex.NewMemory()
		if err != nil {
			return nil, err
		}
		s.keywords = keywords
		s.closers = append(s.closers, keywords)
		return s, nil
	}

	db, err := sqlite.NewStore(settings.DataDir)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db)
	s.docs = db.DocumentStore()
	s.tasks = db.TaskStore()

	manifest, err := jsonfile.New(settings.DataDir)
	if err != nil {
		return nil, err
	}
	s.manifest = manifest

	vectors, err := flat.New(filepath.Join(settings.DataDir, VectorFile), embedder.Dimensions())
	if err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w (run `sercha-kb index --force --rebuild` after changing the embedding model)", err)
		}
		return nil, err
	}
	s.vectors = vectors
	s.closers = append(s.closers, vectors)

	keywords, err := bleveindex.Open(filepath.Join(settings.DataDir, KeywordDir))
	if err != nil {
		return nil, err
	}
	s.keywords = keywords
	s.closers = append(s.closers, keywords)

	cache, err := diskcache.Open(filepath.Join(settings.DataDir, EmbeddingDir), embedder.ModelName(), settings.Embedding.CacheSize)
	if err != nil {
		return nil, err
	}
	s.cache = cache

	return s, nil
}
