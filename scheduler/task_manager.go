package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"spotfinder/models"
	"spotfinder/scraper"

	"go.uber.org/zap"
)

const (
	ErrorKindNavigation = "navigation"
	ErrorKindTimeout    = "timeout"
	ErrorKindQueueFull  = "queue_full"
	ErrorKindInternal   = "error"

	defaultTaskRetention = time.Hour
	cleanupInterval      = 5 * time.Minute
)

// ErrStopped is returned for lookups that arrive after Stop
var ErrStopped = errors.New("task manager stopped")

// SpotFunc runs one spot lookup
type SpotFunc func(ctx context.Context, req models.SpotRequest) (*models.SpotResult, error)

// TaskManagerOptions sizes the worker pool
type TaskManagerOptions struct {
	MaxWorkers int
	QueueSize  int
	// Timeout bounds each lookup; zero means no limit
	Timeout time.Duration
	// Retention is how long finished tasks stay queryable
	Retention time.Duration
}

// TaskManager runs spot lookups on a fixed pool of workers. Queued tasks and
// synchronous Do calls share the same MaxWorkers slots.
type TaskManager struct {
	tasks     map[string]*models.SpotCheckTask
	taskQueue chan *models.SpotCheckTask
	slots     chan struct{}
	busy      int32
	opts      TaskManagerOptions
	spotFunc  SpotFunc
	logger    *zap.Logger

	mutex    sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTaskManager creates a task manager and starts its workers
func NewTaskManager(spotFunc SpotFunc, opts TaskManagerOptions, logger *zap.Logger) *TaskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultTaskRetention
	}

	ctx, cancel := context.WithCancel(context.Background())
	tm := &TaskManager{
		tasks:     make(map[string]*models.SpotCheckTask),
		taskQueue: make(chan *models.SpotCheckTask, opts.QueueSize),
		slots:     make(chan struct{}, opts.MaxWorkers),
		opts:      opts,
		spotFunc:  spotFunc,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < opts.MaxWorkers; i++ {
		tm.wg.Add(1)
		go tm.worker(i + 1)
	}
	tm.wg.Add(1)
	go tm.janitor()

	logger.Info("🚀 Task manager started", zap.Int("max_workers", opts.MaxWorkers), zap.Int("queue_size", opts.QueueSize))
	return tm
}

// Submit queues a lookup and returns a snapshot of the new task.
// When the queue is full the task is failed immediately.
func (tm *TaskManager) Submit(req models.SpotRequest) models.SpotCheckTask {
	task := models.NewSpotCheckTask(req)

	tm.mutex.Lock()
	tm.tasks[task.ID] = task
	snapshot := *task
	tm.mutex.Unlock()

	if tm.ctx.Err() != nil {
		return tm.fail(task, ErrorKindInternal, ErrStopped.Error())
	}

	select {
	case tm.taskQueue <- task:
		tm.logger.Info("📝 Task submitted",
			zap.String("task_id", task.ID),
			zap.String("category", req.SearchCategory),
			zap.String("product", req.ProductName))
		return snapshot
	default:
		tm.logger.Warn("❌ Failed to submit task - queue full", zap.String("task_id", task.ID))
		return tm.fail(task, ErrorKindQueueFull, "task queue is full")
	}
}

func (tm *TaskManager) fail(task *models.SpotCheckTask, kind, msg string) models.SpotCheckTask {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	task.Fail(kind, msg)
	return *task
}

// GetTask returns a snapshot of a task by ID
func (tm *TaskManager) GetTask(taskID string) (models.SpotCheckTask, bool) {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	task, exists := tm.tasks[taskID]
	if !exists {
		return models.SpotCheckTask{}, false
	}
	return *task, true
}

// CleanupOldTasks removes finished tasks created before maxAge ago and returns how many went
func (tm *TaskManager) CleanupOldTasks(maxAge time.Duration) int {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for taskID, task := range tm.tasks {
		if task.IsCompleted() && task.CreatedAt.Before(cutoff) {
			delete(tm.tasks, taskID)
			removed++
		}
	}
	if removed > 0 {
		tm.logger.Debug("🧹 Cleaned up old tasks", zap.Int("removed", removed))
	}
	return removed
}

func (tm *TaskManager) janitor() {
	defer tm.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tm.CleanupOldTasks(tm.opts.Retention)
		case <-tm.ctx.Done():
			return
		}
	}
}

func (tm *TaskManager) worker(id int) {
	defer tm.wg.Done()

	for {
		select {
		case <-tm.ctx.Done():
			return
		case task := <-tm.taskQueue:
			if err := tm.acquire(tm.ctx); err != nil {
				tm.fail(task, ErrorKindInternal, ErrStopped.Error())
				return
			}
			tm.run(id, task)
			tm.release()
		}
	}
}

// Do runs a lookup on the caller's goroutine once a worker slot is free. It waits
// for the slot until ctx is done, and ctx also bounds the lookup itself.
func (tm *TaskManager) Do(ctx context.Context, req models.SpotRequest) (*models.SpotResult, error) {
	if err := tm.acquire(ctx); err != nil {
		return nil, err
	}
	defer tm.release()

	atomic.AddInt32(&tm.busy, 1)
	defer atomic.AddInt32(&tm.busy, -1)

	return tm.spotFunc(ctx, req)
}

func (tm *TaskManager) acquire(ctx context.Context) error {
	if tm.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case tm.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.ctx.Done():
		return ErrStopped
	}
}

func (tm *TaskManager) release() {
	<-tm.slots
}

func (tm *TaskManager) run(workerID int, task *models.SpotCheckTask) {
	atomic.AddInt32(&tm.busy, 1)
	defer atomic.AddInt32(&tm.busy, -1)

	tm.mutex.Lock()
	task.Start()
	req := task.Request
	tm.mutex.Unlock()

	log := tm.logger.With(zap.String("task_id", task.ID), zap.Int("worker", workerID))
	log.Info("👷 Worker started processing task")

	ctx := tm.ctx
	if tm.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tm.opts.Timeout)
		defer cancel()
	}

	result, err := tm.spotFunc(ctx, req)

	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if err != nil {
		task.Fail(ErrorKind(err), err.Error())
		log.Warn("❌ Task failed", zap.String("kind", task.ErrorKind), zap.Error(err))
		return
	}
	task.Complete(result)
	log.Info("✅ Task completed", zap.Bool("found", result.Found()), zap.Duration("duration", task.Duration()))
}

// ErrorKind classifies a lookup error for API responses
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, scraper.ErrNavigation):
		return ErrorKindNavigation
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	default:
		return ErrorKindInternal
	}
}

// Stop cancels running lookups and waits for the workers to exit. Safe to call more than once.
func (tm *TaskManager) Stop() {
	tm.stopOnce.Do(func() {
		tm.logger.Info("🛑 Task manager stopping...")
		tm.cancel()
		tm.wg.Wait()

		// whatever is still queued will never run
		for {
			select {
			case task := <-tm.taskQueue:
				tm.fail(task, ErrorKindInternal, ErrStopped.Error())
			default:
				tm.logger.Info("🛑 Task manager stopped")
				return
			}
		}
	})
}

// GetStats returns task manager statistics
func (tm *TaskManager) GetStats() map[string]interface{} {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	statusCounts := make(map[string]int)
	active := 0
	for _, task := range tm.tasks {
		statusCounts[string(task.Status)]++
		if task.IsActive() {
			active++
		}
	}

	return map[string]interface{}{
		"total_tasks":     len(tm.tasks),
		"active_tasks":    active,
		"active_workers":  int(atomic.LoadInt32(&tm.busy)),
		"max_workers":     tm.opts.MaxWorkers,
		"queue_size":      len(tm.taskQueue),
		"tasks_by_status": statusCounts,
	}
}
