package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure WatchService implements the interface.
var _ driving.WatchTracker = (*WatchService)(nil)

// DefaultDebounce is the quiet period before a changed path is reindexed.
const DefaultDebounce = 300 * time.Millisecond

// WatchService runs watch sessions that reindex changed paths once their
// events settle for the debounce window.
type WatchService struct {
	reindexer  driving.Reindexer
	newWatcher driven.WatcherFactory
	debounce   time.Duration

	mu       sync.Mutex
	sessions map[string]*watchSession
	closed   bool
}

// NewWatchService creates a watch tracker.
func NewWatchService(reindexer driving.Reindexer, newWatcher driven.WatcherFactory, debounce time.Duration) *WatchService {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &WatchService{
		reindexer:  reindexer,
		newWatcher: newWatcher,
		debounce:   debounce,
		sessions:   make(map[string]*watchSession),
	}
}

// Start begins watching paths. The session outlives ctx, which only bounds
// setup; it runs until Stop or Close.
func (s *WatchService) Start(ctx context.Context, paths []string) (*domain.WatchActivity, error) {
	if len(paths) == 0 {
		return nil, domain.NewValidationError("paths", "required")
	}
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return nil, domain.NewValidationError("paths", "required")
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, domain.NewValidationError("paths", "invalid")
		}
		if _, err := os.Stat(a); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("watch %s: %w", a, domain.ErrNotFound)
		} else if err != nil {
			return nil, fmt.Errorf("watch %s: %w", a, err)
		}
		abs = append(abs, a)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, err := s.newWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, p := range abs {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &watchSession{
		ctx:       sctx,
		cancel:    cancel,
		reindexer: s.reindexer,
		debounce:  s.debounce,
		watcher:   w,
		done:      make(chan struct{}),
		timers:    make(map[string]*pendingReindex),
		activity: domain.WatchActivity{
			SessionID: uuid.NewString(),
			Paths:     abs,
			StartedAt: time.Now().UTC(),
		},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = w.Close()
		return nil, domain.ErrClosed
	}
	s.sessions[sess.activity.SessionID] = sess
	s.mu.Unlock()

	sess.loopDone.Add(1)
	go sess.loop()

	logger.Info("Watch session %s started on %s", sess.activity.SessionID, strings.Join(abs, ", "))
	snapshot := sess.snapshot()
	return &snapshot, nil
}

// Stop ends a session, drops its pending reindexes and cancels the one
// running, if any. Work it had not committed is picked up by the next scan.
func (s *WatchService) Stop(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.stop()
	logger.Info("Watch session %s stopped", sessionID)
	return nil
}

// List returns the activity of every running session, oldest first.
func (s *WatchService) List() []domain.WatchActivity {
	s.mu.Lock()
	sessions := make([]*watchSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]domain.WatchActivity, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Close stops every session and waits for running reindexes.
func (s *WatchService) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*watchSession, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
		sess.inflight.Wait()
	}
	return nil
}

type pendingReindex struct {
	timer *time.Timer
	gen   uint64
}

type watchSession struct {
	// ctx bounds every reindex the session starts; stop cancels it.
	ctx       context.Context
	cancel    context.CancelFunc
	reindexer driving.Reindexer
	debounce  time.Duration
	watcher   driven.FileWatcher
	done      chan struct{}
	loopDone  sync.WaitGroup
	inflight  sync.WaitGroup

	mu       sync.Mutex
	activity domain.WatchActivity
	timers   map[string]*pendingReindex
	gen      uint64
	stopped  bool
}

func (w *watchSession) loop() {
	defer w.loopDone.Done()
	events, errs := w.watcher.Events(), w.watcher.Errors()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Warn("watch %s: %v", w.activity.SessionID, err)
			w.mu.Lock()
			w.activity.LastError = err.Error()
			w.mu.Unlock()
		}
	}
}

// handle records the event and (re)starts the path's debounce timer.
func (w *watchSession) handle(ev domain.FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	// Writes under the data directory would otherwise retrigger themselves.
	if w.reindexer.Excluded(ev.Path) {
		return
	}

	w.activity.EventCount++
	event := ev
	w.activity.LastEvent = &event
	w.activity.LastEventOp = ev.Op.String()

	// Removed directories carry no extension but may own manifest entries.
	if !w.reindexer.Supports(ev.Path) && ev.Op&(domain.FileRemove|domain.FileRename) == 0 {
		return
	}

	if p, ok := w.timers[ev.Path]; ok {
		p.timer.Stop()
	}
	w.gen++
	gen := w.gen
	path := ev.Path
	w.timers[path] = &pendingReindex{
		gen:   gen,
		timer: time.AfterFunc(w.debounce, func() { w.fire(path, gen) }),
	}
	w.activity.Pending = len(w.timers)
}

func (w *watchSession) fire(path string, gen uint64) {
	w.mu.Lock()
	p, ok := w.timers[path]
	if w.stopped || !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.activity.Pending = len(w.timers)
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	logger.Debug("watch %s: reindexing %s", w.activity.SessionID, path)
	summary, err := w.reindexer.Reindex(w.ctx, []string{path}, domain.ReindexOptions{})

	w.mu.Lock()
	defer w.mu.Unlock()
	w.activity.ReindexCount++
	switch {
	case err != nil && w.ctx.Err() != nil:
		logger.Debug("watch %s: reindex %s cancelled", w.activity.SessionID, path)
	case err != nil:
		w.activity.LastError = err.Error()
		logger.Warn("watch %s: reindex %s: %v", w.activity.SessionID, path, err)
	case summary != nil && summary.Errors > 0:
		for _, r := range summary.Results {
			if r.Outcome == domain.OutcomeFailed {
				w.activity.LastError = r.Path + ": " + r.Error
				break
			}
		}
	}
}

func (w *watchSession) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, p := range w.timers {
		p.timer.Stop()
		delete(w.timers, path)
	}
	w.activity.Pending = 0
	w.mu.Unlock()

	w.cancel()
	close(w.done)
	if err := w.watcher.Close(); err != nil {
		logger.Warn("watch %s: closing watcher: %v", w.activity.SessionID, err)
	}
	w.loopDone.Wait()
}

func (w *watchSession) snapshot() domain.WatchActivity {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.activity
	a.Paths = append([]string(nil), w.activity.Paths...)
	if w.activity.LastEvent != nil {
		ev := *w.activity.LastEvent
		a.LastEvent = &ev
	}
	return a
}
