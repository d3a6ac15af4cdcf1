package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"spotfinder/models"
	"spotfinder/scraper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func foundAt(rank int) *models.SpotResult {
	return &models.SpotResult{Rank: &rank, MatchedTitle: "Omron M3 Comfort", TotalSeen: 40}
}

func newTestManager(t *testing.T, fn SpotFunc, opts TaskManagerOptions) *TaskManager {
	t.Helper()
	tm := NewTaskManager(fn, opts, zaptest.NewLogger(t))
	t.Cleanup(tm.Stop)
	return tm
}

func waitFinished(t *testing.T, tm *TaskManager, id string) models.SpotCheckTask {
	t.Helper()
	var task models.SpotCheckTask
	require.Eventually(t, func() bool {
		var ok bool
		task, ok = tm.GetTask(id)
		return ok && task.IsCompleted()
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestTaskManager_CompletesTask(t *testing.T) {
	var got models.SpotRequest
	tm := newTestManager(t, func(_ context.Context, req models.SpotRequest) (*models.SpotResult, error) {
		got = req
		return foundAt(5), nil
	}, TaskManagerOptions{MaxWorkers: 2})

	req := models.SpotRequest{SearchCategory: "blood pressure monitor", ProductName: "Omron M3"}
	submitted := tm.Submit(req)
	assert.Equal(t, models.TaskStatusQueued, submitted.Status)

	task := waitFinished(t, tm, submitted.ID)

	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, 5, *task.Result.Rank)
	assert.Equal(t, "Product found", task.Message)
	assert.NotNil(t, task.StartedAt)
	assert.Equal(t, req, got)
}

func TestTaskManager_NavigationFailure(t *testing.T) {
	tm := newTestManager(t, func(context.Context, models.SpotRequest) (*models.SpotResult, error) {
		return nil, &scraper.NavigationError{URL: "https://x", Reason: scraper.NavNetwork, Err: errors.New("refused")}
	}, TaskManagerOptions{MaxWorkers: 1})

	task := waitFinished(t, tm, tm.Submit(models.SpotRequest{SearchCategory: "a", ProductName: "b"}).ID)

	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, ErrorKindNavigation, task.ErrorKind)
	assert.Contains(t, task.Error, "refused")
}

func TestTaskManager_TimeoutApplied(t *testing.T) {
	tm := newTestManager(t, func(ctx context.Context, _ models.SpotRequest) (*models.SpotResult, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("stabilize listing: %w", ctx.Err())
	}, TaskManagerOptions{MaxWorkers: 1, Timeout: 20 * time.Millisecond})

	task := waitFinished(t, tm, tm.Submit(models.SpotRequest{}).ID)

	assert.Equal(t, ErrorKindTimeout, task.ErrorKind)
}

func TestTaskManager_QueueFull(t *testing.T) {
	release := make(chan struct{})
	tm := newTestManager(t, func(context.Context, models.SpotRequest) (*models.SpotResult, error) {
		<-release
		return foundAt(1), nil
	}, TaskManagerOptions{MaxWorkers: 1, QueueSize: 1})
	defer close(release)

	first := tm.Submit(models.SpotRequest{ProductName: "first"})
	require.Eventually(t, func() bool {
		task, _ := tm.GetTask(first.ID)
		return task.Status == models.TaskStatusProcessing
	}, time.Second, 5*time.Millisecond)

	second := tm.Submit(models.SpotRequest{ProductName: "second"})
	assert.Equal(t, models.TaskStatusQueued, second.Status)

	third := tm.Submit(models.SpotRequest{ProductName: "third"})
	assert.Equal(t, models.TaskStatusFailed, third.Status)
	assert.Equal(t, ErrorKindQueueFull, third.ErrorKind)

	stats := tm.GetStats()
	assert.Equal(t, 3, stats["total_tasks"])
	assert.Equal(t, 2, stats["active_tasks"])
	assert.Equal(t, 1, stats["active_workers"])
	assert.Equal(t, 1, stats["queue_size"])
	assert.Equal(t, 1, stats["tasks_by_status"].(map[string]int)["failed"])
}

func TestTaskManager_DoSharesWorkerSlots(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	tm := newTestManager(t, func(_ context.Context, req models.SpotRequest) (*models.SpotResult, error) {
		atomic.AddInt32(&calls, 1)
		if req.ProductName == "queued" {
			<-release
		}
		return foundAt(3), nil
	}, TaskManagerOptions{MaxWorkers: 1})

	queued := tm.Submit(models.SpotRequest{ProductName: "queued"})
	require.Eventually(t, func() bool {
		task, _ := tm.GetTask(queued.ID)
		return task.Status == models.TaskStatusProcessing
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tm.Do(ctx, models.SpotRequest{ProductName: "sync"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
	waitFinished(t, tm, queued.ID)

	res, err := tm.Do(context.Background(), models.SpotRequest{ProductName: "sync"})
	require.NoError(t, err)
	assert.Equal(t, 3, *res.Rank)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTaskManager_DoAfterStop(t *testing.T) {
	tm := NewTaskManager(func(context.Context, models.SpotRequest) (*models.SpotResult, error) {
		return foundAt(1), nil
	}, TaskManagerOptions{MaxWorkers: 1}, zaptest.NewLogger(t))
	tm.Stop()

	_, err := tm.Do(context.Background(), models.SpotRequest{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestTaskManager_GetTaskReturnsSnapshot(t *testing.T) {
	tm := newTestManager(t, func(context.Context, models.SpotRequest) (*models.SpotResult, error) {
		return foundAt(2), nil
	}, TaskManagerOptions{MaxWorkers: 1})

	id := tm.Submit(models.SpotRequest{}).ID
	task := waitFinished(t, tm, id)
	task.Status = models.TaskStatusQueued

	again, ok := tm.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, again.Status)

	_, ok = tm.GetTask("task_missing")
	assert.False(t, ok)
}

func TestTaskManager_CleanupOldTasks(t *testing.T) {
	tm := newTestManager(t, func(context.Context, models.SpotRequest) (*models.SpotResult, error) {
		return foundAt(1), nil
	}, TaskManagerOptions{MaxWorkers: 1})

	oldID := tm.Submit(models.SpotRequest{}).ID
	freshID := tm.Submit(models.SpotRequest{}).ID
	waitFinished(t, tm, oldID)
	waitFinished(t, tm, freshID)

	tm.mutex.Lock()
	tm.tasks[oldID].CreatedAt = time.Now().Add(-2 * time.Hour)
	tm.mutex.Unlock()

	assert.Equal(t, 1, tm.CleanupOldTasks(time.Hour))

	_, ok := tm.GetTask(oldID)
	assert.False(t, ok)
	_, ok = tm.GetTask(freshID)
	assert.True(t, ok)
}

func TestTaskManager_StopIsIdempotent(t *testing.T) {
	tm := NewTaskManager(func(context.Context, models.SpotRequest) (*models.SpotResult, error) {
		return foundAt(1), nil
	}, TaskManagerOptions{}, zaptest.NewLogger(t))

	tm.Stop()
	tm.Stop()

	task := tm.Submit(models.SpotRequest{})
	assert.Equal(t, models.TaskStatusFailed, task.Status)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, ErrorKindNavigation, ErrorKind(fmt.Errorf("wrapped: %w", &scraper.NavigationError{Reason: scraper.NavBlocked})))
	assert.Equal(t, ErrorKindTimeout, ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, ErrorKindInternal, ErrorKind(errors.New("eval failed")))
}
