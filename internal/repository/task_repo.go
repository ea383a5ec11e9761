package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/multichannel-posting-api/internal/database"
	"github.com/multichannel-posting-api/internal/models"
)

// taskRepo is the concrete implementation of TaskRepository
type taskRepo struct {
	db dbtx
}

// NewTaskRepo creates a new task repository
func NewTaskRepo(db *database.DB) TaskRepository {
	return &taskRepo{db: db}
}

const taskColumns = `id, type, entity_id, status, attempts, max_attempts, run_at, last_error,
	created_at, started_at, completed_at`

// Enqueue inserts a task. The partial unique index on live (type, entity_id)
// turns a duplicate submission into a no-op.
func (r *taskRepo) Enqueue(ctx context.Context, task *models.Task) (bool, error) {
	query := `
		INSERT INTO tasks (id, type, entity_id, status, attempts, max_attempts, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (type, entity_id) WHERE status IN ('pending', 'running') DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		task.ID, task.Type, task.EntityID, task.Status, task.Attempts, task.MaxAttempts,
		task.RunAt, task.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetByID retrieves a task by ID
func (r *taskRepo) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// GetLive retrieves the pending or running task for a unit of work
func (r *taskRepo) GetLive(ctx context.Context, taskType models.TaskType, entityID string) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE type = $1 AND entity_id = $2 AND status IN ('pending', 'running')
	`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, taskType, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// GetPendingTasks retrieves due pending tasks, oldest first. The row locks
// end with the statement; MarkTaskAsRunning is what makes a claim exclusive.
func (r *taskRepo) GetPendingTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND run_at <= $1
		ORDER BY run_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// MarkTaskAsRunning atomically claims a pending task and counts the attempt
func (r *taskRepo) MarkTaskAsRunning(ctx context.Context, taskID string) (bool, error) {
	query := `
		UPDATE tasks SET status = 'running', attempts = attempts + 1, started_at = $1
		WHERE id = $2 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), taskID)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkCompleted records a successful run
func (r *taskRepo) MarkCompleted(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = 'completed', completed_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), taskID)
	return err
}

// MarkFailed records a terminal failure
func (r *taskRepo) MarkFailed(ctx context.Context, taskID, lastError string) error {
	query := `UPDATE tasks SET status = 'failed', last_error = $1, completed_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, nullString(lastError), time.Now().UTC(), taskID)
	return err
}

// Reschedule puts a task back into the queue for a later attempt
func (r *taskRepo) Reschedule(ctx context.Context, taskID string, runAt time.Time, lastError string) error {
	query := `UPDATE tasks SET status = 'pending', run_at = $1, last_error = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, runAt, nullString(lastError), taskID)
	return err
}

// RequeueStale returns tasks left running by a worker that went away
func (r *taskRepo) RequeueStale(ctx context.Context, startedBefore time.Time) (int, error) {
	query := `
		UPDATE tasks SET status = 'pending', run_at = $1
		WHERE status = 'running' AND started_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), startedBefore)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var lastError sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Type, &t.EntityID, &t.Status, &t.Attempts, &t.MaxAttempts, &t.RunAt,
		&lastError, &t.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.LastError = lastError.String
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	return &t, nil
}
