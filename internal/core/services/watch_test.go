package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

const testDebounce = 40 * time.Millisecond

// --- Mock implementations for watch testing ---

// watchMockWatcher is a FileWatcher driven by the test.
type watchMockWatcher struct {
	mu     sync.Mutex
	added  []string
	addErr error
	events chan domain.FileEvent
	errs   chan error
	closed bool
}

func newWatchMockWatcher() *watchMockWatcher {
	return &watchMockWatcher{
		events: make(chan domain.FileEvent, 16),
		errs:   make(chan error, 4),
	}
}

func (m *watchMockWatcher) Add(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, path)
	return nil
}

func (m *watchMockWatcher) Events() <-chan domain.FileEvent { return m.events }
func (m *watchMockWatcher) Errors() <-chan error            { return m.errs }

func (m *watchMockWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *watchMockWatcher) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// watchMockReindexer records reindexed paths.
type watchMockReindexer struct {
	mu       sync.Mutex
	calls    map[string]int
	err      error
	excluded string
	// started, when set, receives each call and Reindex then waits for ctx.
	started chan struct{}
	ctxErr  error
}

func newWatchMockReindexer() *watchMockReindexer {
	return &watchMockReindexer{calls: make(map[string]int)}
}

func (m *watchMockReindexer) Reindex(ctx context.Context, paths []string, _ domain.ReindexOptions) (*domain.ReindexSummary, error) {
	m.mu.Lock()
	for _, p := range paths {
		m.calls[p]++
	}
	err, started := m.err, m.started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-ctx.Done()
		m.mu.Lock()
		m.ctxErr = ctx.Err()
		m.mu.Unlock()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &domain.ReindexSummary{Updated: len(paths)}, nil
}

func (m *watchMockReindexer) Stats(_ context.Context) (domain.ManifestStats, error) {
	return domain.ManifestStats{}, nil
}

func (m *watchMockReindexer) Supports(path string) bool {
	return filepath.Ext(path) == ".md" || filepath.Ext(path) == ".json"
}

func (m *watchMockReindexer) Excluded(path string) bool {
	return m.excluded != "" && (path == m.excluded || within(m.excluded, path))
}

func (m *watchMockReindexer) cancelled() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctxErr
}

func (m *watchMockReindexer) count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func (m *watchMockReindexer) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

type watchFixture struct {
	svc       *WatchService
	reindexer *watchMockReindexer
	watchers  []*watchMockWatcher
	dir       string
	mu        sync.Mutex
}

func newWatchFixture(t *testing.T) *watchFixture {
	t.Helper()
	f := &watchFixture{reindexer: newWatchMockReindexer(), dir: t.TempDir()}
	factory := func() (driven.FileWatcher, error) {
		w := newWatchMockWatcher()
		f.mu.Lock()
		f.watchers = append(f.watchers, w)
		f.mu.Unlock()
		return w, nil
	}
	f.svc = NewWatchService(f.reindexer, factory, testDebounce)
	t.Cleanup(func() { _ = f.svc.Close() })
	return f
}

func (f *watchFixture) watcher(i int) *watchMockWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers[i]
}

func TestWatchService_Start(t *testing.T) {
	t.Run("registers paths", func(t *testing.T) {
		f := newWatchFixture(t)
		activity, err := f.svc.Start(context.Background(), []string{f.dir})
		require.NoError(t, err)
		assert.NotEmpty(t, activity.SessionID)
		assert.Equal(t, []string{f.dir}, activity.Paths)
		assert.Equal(t, []string{f.dir}, f.watcher(0).added)
		assert.Len(t, f.svc.List(), 1)
	})

	t.Run("no paths", func(t *testing.T) {
		f := newWatchFixture(t)
		_, err := f.svc.Start(context.Background(), nil)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("missing path", func(t *testing.T) {
		f := newWatchFixture(t)
		_, err := f.svc.Start(context.Background(), []string{filepath.Join(f.dir, "nope")})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, f.svc.List())
	})

	t.Run("watcher add failure closes watcher", func(t *testing.T) {
		w := newWatchMockWatcher()
		w.addErr = errors.New("too many watches")
		svc := NewWatchService(newWatchMockReindexer(), func() (driven.FileWatcher, error) { return w, nil }, testDebounce)

		_, err := svc.Start(context.Background(), []string{t.TempDir()})
		require.Error(t, err)
		assert.True(t, w.isClosed())
		assert.Empty(t, svc.List())
	})

	t.Run("closed tracker rejects sessions", func(t *testing.T) {
		f := newWatchFixture(t)
		require.NoError(t, f.svc.Close())
		_, err := f.svc.Start(context.Background(), []string{f.dir})
		assert.ErrorIs(t, err, domain.ErrClosed)
	})
}

func TestWatchService_DebounceCoalesces(t *testing.T) {
	f := newWatchFixture(t)
	activity, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	path := filepath.Join(f.dir, "note.md")
	w := f.watcher(0)
	w.events <- domain.FileEvent{Path: path, Op: domain.FileWrite, At: time.Now()}
	w.events <- domain.FileEvent{Path: path, Op: domain.FileWrite, At: time.Now()}

	require.Eventually(t, func() bool { return f.reindexer.count(path) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, 1, f.reindexer.count(path))

	list := f.svc.List()
	require.Len(t, list, 1)
	assert.Equal(t, activity.SessionID, list[0].SessionID)
	assert.Equal(t, 2, list[0].EventCount)
	assert.Equal(t, 1, list[0].ReindexCount)
	assert.Zero(t, list[0].Pending)
	assert.Equal(t, "write", list[0].LastEventOp)
	require.NotNil(t, list[0].LastEvent)
	assert.Equal(t, path, list[0].LastEvent.Path)
}

func TestWatchService_SeparatePathsReindexSeparately(t *testing.T) {
	f := newWatchFixture(t)
	_, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	a, b := filepath.Join(f.dir, "a.md"), filepath.Join(f.dir, "b.md")
	w := f.watcher(0)
	w.events <- domain.FileEvent{Path: a, Op: domain.FileCreate}
	w.events <- domain.FileEvent{Path: b, Op: domain.FileWrite}

	require.Eventually(t, func() bool {
		return f.reindexer.count(a) == 1 && f.reindexer.count(b) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWatchService_UnsupportedFilesIgnored(t *testing.T) {
	f := newWatchFixture(t)
	_, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	w := f.watcher(0)
	w.events <- domain.FileEvent{Path: filepath.Join(f.dir, "image.png"), Op: domain.FileWrite}
	removedDir := filepath.Join(f.dir, "old")
	w.events <- domain.FileEvent{Path: removedDir, Op: domain.FileRemove}

	require.Eventually(t, func() bool { return f.reindexer.count(removedDir) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.reindexer.total())
	assert.Equal(t, 2, f.svc.List()[0].EventCount)
}

func TestWatchService_StopCancelsPending(t *testing.T) {
	f := newWatchFixture(t)
	activity, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	path := filepath.Join(f.dir, "note.md")
	w := f.watcher(0)
	w.events <- domain.FileEvent{Path: path, Op: domain.FileWrite}
	require.Eventually(t, func() bool {
		list := f.svc.List()
		return len(list) == 1 && list[0].Pending == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, f.svc.Stop(activity.SessionID))
	assert.True(t, w.isClosed())
	assert.Empty(t, f.svc.List())

	time.Sleep(3 * testDebounce)
	assert.Zero(t, f.reindexer.count(path))

	t.Run("unknown session", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.Stop(activity.SessionID), domain.ErrSessionNotFound)
	})
}

func TestWatchService_RecordsErrors(t *testing.T) {
	f := newWatchFixture(t)
	f.reindexer.err = &domain.EmbeddingProviderError{Provider: "openai", Err: errors.New("401")}
	_, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	w := f.watcher(0)
	w.events <- domain.FileEvent{Path: filepath.Join(f.dir, "a.md"), Op: domain.FileWrite}
	require.Eventually(t, func() bool {
		return f.svc.List()[0].LastError != ""
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, f.svc.List()[0].LastError, "openai")

	w.errs <- errors.New("queue overflow")
	require.Eventually(t, func() bool {
		return f.svc.List()[0].LastError == "queue overflow"
	}, time.Second, 5*time.Millisecond)
}

func TestWatchService_Close(t *testing.T) {
	f := newWatchFixture(t)
	_, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)
	require.Len(t, f.svc.List(), 2)

	require.NoError(t, f.svc.Close())
	assert.Empty(t, f.svc.List())
	assert.True(t, f.watcher(0).isClosed())
	assert.True(t, f.watcher(1).isClosed())
}

func TestWatchService_ExcludedPathsIgnored(t *testing.T) {
	f := newWatchFixture(t)
	dataDir := filepath.Join(f.dir, "kbdata")
	f.reindexer.excluded = dataDir
	_, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	w := f.watcher(0)
	manifest := filepath.Join(dataDir, "manifest.json")
	note := filepath.Join(f.dir, "note.md")
	w.events <- domain.FileEvent{Path: manifest, Op: domain.FileWrite}
	w.events <- domain.FileEvent{Path: note, Op: domain.FileWrite}

	require.Eventually(t, func() bool { return f.reindexer.count(note) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Zero(t, f.reindexer.count(manifest))
	assert.Equal(t, 1, f.svc.List()[0].EventCount)
}

func TestWatchService_StopCancelsRunningReindex(t *testing.T) {
	f := newWatchFixture(t)
	f.reindexer.started = make(chan struct{}, 1)
	activity, err := f.svc.Start(context.Background(), []string{f.dir})
	require.NoError(t, err)

	f.watcher(0).events <- domain.FileEvent{Path: filepath.Join(f.dir, "note.md"), Op: domain.FileWrite}
	select {
	case <-f.reindexer.started:
	case <-time.After(time.Second):
		t.Fatal("reindex did not start")
	}

	require.NoError(t, f.svc.Stop(activity.SessionID))
	require.Eventually(t, func() bool { return f.reindexer.cancelled() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.reindexer.cancelled(), context.Canceled)
}
