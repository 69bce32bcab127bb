package fsnotify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// waitFor drains events until one for path arrives or the timeout expires.
func waitFor(t *testing.T, w *Watcher, path string) domain.FileEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			if ev.Path == path {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func newWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWatcher_DirectoryTree(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "notes")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w := newWatcher(t)
	require.NoError(t, w.Add(root))

	target := filepath.Join(sub, "a.md")
	require.NoError(t, os.WriteFile(target, []byte("# A"), 0o600))
	ev := waitFor(t, w, target)
	assert.NotZero(t, ev.Op&(domain.FileCreate|domain.FileWrite))

	require.NoError(t, os.Remove(target))
	for {
		ev = waitFor(t, w, target)
		if ev.Op&domain.FileRemove != 0 {
			break
		}
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := newWatcher(t)
	require.NoError(t, w.Add(root))

	dir := filepath.Join(root, "later")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o600))
	waitFor(t, w, target)
}

func TestWatcher_SingleFile(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.md")
	other := filepath.Join(dir, "other.md")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0o600))

	w := newWatcher(t)
	require.NoError(t, w.Add(watched))

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(watched, []byte("v2"), 0o600))

	ev := waitFor(t, w, watched)
	assert.Equal(t, watched, ev.Path)
}

func TestWatcher_AddMissingPath(t *testing.T) {
	w := newWatcher(t)
	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing")))
}

func TestWatcher_CloseClosesChannels(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
}

func TestToOp(t *testing.T) {
	assert.Equal(t, domain.FileCreate|domain.FileWrite, toOp(fsnotify.Create|fsnotify.Write))
	assert.Equal(t, domain.FileOp(0), toOp(fsnotify.Chmod))
}
