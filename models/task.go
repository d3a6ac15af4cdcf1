package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the status of an async task
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// SpotCheckTask represents an async spot lookup
type SpotCheckTask struct {
	ID          string      `json:"id"`
	Request     SpotRequest `json:"request"`
	Status      TaskStatus  `json:"status"`
	Message     string      `json:"message"`
	Result      *SpotResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewSpotCheckTask creates a new queued task
func NewSpotCheckTask(req SpotRequest) *SpotCheckTask {
	return &SpotCheckTask{
		ID:        generateTaskID(),
		Request:   req,
		Status:    TaskStatusQueued,
		Message:   "Task queued for processing",
		CreatedAt: time.Now(),
	}
}

// Start marks the task as processing
func (t *SpotCheckTask) Start() {
	t.Status = TaskStatusProcessing
	t.Message = "Searching listing..."
	now := time.Now()
	t.StartedAt = &now
}

// Complete marks the task as completed with result
func (t *SpotCheckTask) Complete(result *SpotResult) {
	t.Status = TaskStatusCompleted
	t.Result = result
	if result.Found() {
		t.Message = "Product found"
	} else {
		t.Message = "Product not found in listing"
	}
	now := time.Now()
	t.CompletedAt = &now
}

// Fail marks the task as failed with error
func (t *SpotCheckTask) Fail(kind, message string) {
	t.Status = TaskStatusFailed
	t.Message = "Spot check failed"
	t.Error = message
	t.ErrorKind = kind
	now := time.Now()
	t.CompletedAt = &now
}

// IsCompleted returns true if the task is in a final state
func (t *SpotCheckTask) IsCompleted() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// IsActive returns true if the task is still running
func (t *SpotCheckTask) IsActive() bool {
	return t.Status == TaskStatusQueued || t.Status == TaskStatusProcessing
}

// Duration returns the duration of the task
func (t *SpotCheckTask) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}

	endTime := time.Now()
	if t.CompletedAt != nil {
		endTime = *t.CompletedAt
	}

	return endTime.Sub(*t.StartedAt)
}

func generateTaskID() string {
	return "task_" + time.Now().Format("20060102150405") + "_" + uuid.NewString()[:8]
}
