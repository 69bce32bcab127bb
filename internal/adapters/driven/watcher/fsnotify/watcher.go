// Package fsnotify adapts github.com/fsnotify/fsnotify to driven.FileWatcher.
//
// Directories are watched recursively: subdirectories present when Add is
// called and any created later are registered as they appear. Single files
// are watched through their parent directory with events filtered to the file.
package fsnotify

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Watcher implements the interface.
var _ driven.FileWatcher = (*Watcher)(nil)

const eventBuffer = 256

// Watcher delivers filesystem events for files and directory trees.
type Watcher struct {
	fw     *fsnotify.Watcher
	events chan domain.FileEvent
	errs   chan error
	done   chan struct{}

	mu    sync.RWMutex
	trees map[string]struct{}
	files map[string]struct{}
	dirs  map[string]struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a watcher with nothing registered.
func New() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		fw:     fw,
		events: make(chan domain.FileEvent, eventBuffer),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
		trees:  make(map[string]struct{}),
		files:  make(map[string]struct{}),
		dirs:   make(map[string]struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Factory is a driven.WatcherFactory producing fsnotify watchers.
func Factory() (driven.FileWatcher, error) {
	return New()
}

// Add starts watching a file or directory tree.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	if !info.IsDir() {
		w.mu.Lock()
		w.files[abs] = struct{}{}
		w.mu.Unlock()
		return w.addDir(filepath.Dir(abs))
	}

	w.mu.Lock()
	w.trees[abs] = struct{}{}
	w.mu.Unlock()
	_, err = w.addTree(abs)
	return err
}

// Events returns the change notification channel.
func (w *Watcher) Events() <-chan domain.FileEvent {
	return w.events
}

// Errors returns the watcher error channel.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops watching and closes both channels.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errs)
	})
	return err
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// addTree registers dir and its subdirectories and returns the regular
// files found beneath them.
func (w *Watcher) addTree(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.addDir(p)
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.sendErr(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := toOp(ev.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(ev.Name)

	if op&(domain.FileRemove|domain.FileRename) != 0 {
		w.mu.Lock()
		delete(w.dirs, path)
		w.mu.Unlock()
	}

	if op&domain.FileCreate != 0 && w.inTree(path) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if strings.HasPrefix(filepath.Base(path), ".") {
				return
			}
			// Files may land in a new directory before it is registered,
			// so report everything already inside it.
			files, err := w.addTree(path)
			if err != nil {
				w.sendErr(err)
			}
			for _, f := range files {
				w.send(domain.FileEvent{Path: f, Op: domain.FileCreate, At: time.Now()})
			}
			return
		}
	}

	if !w.relevant(path) {
		return
	}
	w.send(domain.FileEvent{Path: path, Op: op, At: time.Now()})
}

func (w *Watcher) send(ev domain.FileEvent) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *Watcher) sendErr(err error) {
	select {
	case w.errs <- err:
	default:
		logger.Warn("watcher error dropped: %v", err)
	}
}

func (w *Watcher) relevant(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	w.mu.RLock()
	_, ok := w.files[path]
	w.mu.RUnlock()
	return ok || w.inTree(path)
}

func (w *Watcher) inTree(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for root := range w.trees {
		if path == root {
			return false
		}
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func toOp(op fsnotify.Op) domain.FileOp {
	var out domain.FileOp
	if op.Has(fsnotify.Create) {
		out |= domain.FileCreate
	}
	if op.Has(fsnotify.Write) {
		out |= domain.FileWrite
	}
	if op.Has(fsnotify.Remove) {
		out |= domain.FileRemove
	}
	if op.Has(fsnotify.Rename) {
		out |= domain.FileRename
	}
	return out
}
