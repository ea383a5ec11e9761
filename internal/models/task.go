package models

import (
	"time"
)

// TaskStatus represents the status of a queued unit of work
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskType identifies the orchestration operation a task runs
type TaskType string

const (
	TaskTypeFanOut              TaskType = "fan_out"
	TaskTypeRequestTranslations TaskType = "request_translations"
	TaskTypeTranslateVariant    TaskType = "translate_variant"
	TaskTypePublishAll          TaskType = "publish_all"
	TaskTypePublishReady        TaskType = "publish_ready"
	TaskTypePublishVariant      TaskType = "publish_variant"
	TaskTypeEditVariant         TaskType = "edit_variant"
	TaskTypeDeleteVariant       TaskType = "delete_variant"
	TaskTypeRecomputeAggregate  TaskType = "recompute_aggregate"
	TaskTypeSyncChannel         TaskType = "sync_channel"
)

// Task is one independent, retryable unit of work keyed by the entity it
// operates on. At most one pending or running task exists per (type, entity).
type Task struct {
	ID          string     `json:"task_id" db:"id"`
	Type        TaskType   `json:"type" db:"type"`
	EntityID    string     `json:"entity_id" db:"entity_id"`
	Status      TaskStatus `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"max_attempts" db:"max_attempts"`
	RunAt       time.Time  `json:"run_at" db:"run_at"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsFinalAttempt reports whether the current attempt is the last one allowed
func (t *Task) IsFinalAttempt() bool {
	return t.Attempts >= t.MaxAttempts
}
