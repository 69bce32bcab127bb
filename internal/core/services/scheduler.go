package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// Scheduler defaults.
const (
	DefaultCheckInterval = time.Minute
	DefaultHistoryKeep   = 100
)

// ScheduleConfig configures background tasks.
type ScheduleConfig struct {
	// RescanInterval is how often every root is re-scanned. Zero disables rescans.
	RescanInterval time.Duration

	// CheckInterval is how often due tasks are looked for.
	CheckInterval time.Duration

	// HistoryKeep is how many results are kept per task.
	HistoryKeep int
}

// Scheduler manages background task execution.
// It is a pure core service with no external control API.
type Scheduler struct {
	config    ScheduleConfig
	store     driven.TaskStore
	reindexer driving.Reindexer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// busy guards against a slow rescan overlapping the next one.
	busy map[string]bool

	now func() time.Time
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(config ScheduleConfig, store driven.TaskStore, reindexer driving.Reindexer) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
		if config.RescanInterval > 0 && config.RescanInterval < config.CheckInterval {
			config.CheckInterval = config.RescanInterval
		}
	}
	if config.HistoryKeep <= 0 {
		config.HistoryKeep = DefaultHistoryKeep
	}
	return &Scheduler{
		config:    config,
		store:     store,
		reindexer: reindexer,
		busy:      make(map[string]bool),
		now:       time.Now,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx, stopCh)
}

// Stop gracefully shuts down the scheduler and waits for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	return s.ensureTask(ctx, domain.TaskIDRescan, "Rescan roots", s.config.RescanInterval)
}

// ensureTask creates or updates a task in the store. A zero interval
// disables the task.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, interval time.Duration) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	enabled := interval > 0
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: interval,
			Enabled:  enabled,
			NextRun:  s.now().Add(interval),
		}
	} else {
		if task.Interval != interval {
			task.Interval = interval
			task.NextRun = s.now().Add(interval)
		}
		task.Enabled = enabled
	}

	return s.store.SaveTask(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.now()
	for i := range tasks {
		if tasks[i].Due(now) {
			task := tasks[i]
			s.runTask(ctx, &task)
		}
	}
}

// runTask executes a single task in the background.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.mu.Lock()
	if s.busy[task.ID] {
		s.mu.Unlock()
		logger.Debug("scheduler: %s still running, skipping", task.ID)
		return
	}
	s.busy[task.ID] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.busy, task.ID)
			s.mu.Unlock()
		}()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.now(),
		}

		var err error
		switch task.ID {
		case domain.TaskIDRescan:
			result.ItemsProcessed, err = s.runRescan(ctx)
		default:
			logger.Warn("scheduler: unknown task ID: %s", task.ID)
			return
		}

		result.EndedAt = s.now()
		if err != nil {
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.Warn("scheduler: %s failed: %v", task.ID, err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
		}

		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		// The run may outlive ctx; bookkeeping still needs to land.
		bctx := context.WithoutCancel(ctx)
		if saveErr := s.store.SaveTask(bctx, task); saveErr != nil {
			logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}
		if recordErr := s.store.RecordResult(bctx, result); recordErr != nil {
			logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}
		if pruneErr := s.store.PruneHistory(bctx, s.config.HistoryKeep); pruneErr != nil {
			logger.Warn("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

// runRescan re-scans every configured root and counts changed files.
func (s *Scheduler) runRescan(ctx context.Context) (int, error) {
	if s.reindexer == nil {
		return 0, nil
	}
	summary, err := s.reindexer.Reindex(ctx, nil, domain.ReindexOptions{})
	if summary == nil {
		return 0, err
	}
	logger.Info("scheduler: rescan indexed %d, updated %d, deleted %d", summary.Indexed, summary.Updated, summary.Deleted)
	return summary.Indexed + summary.Updated + summary.Deleted, err
}
