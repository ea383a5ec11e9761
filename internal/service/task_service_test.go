package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTask models.TaskType = "test_task"

func TestEnqueue_OneLiveTaskPerEntity(t *testing.T) {
	h := newHarness(t, "en")
	h.svcs.Tasks.Register(testTask, service.TaskHandler{
		Run: func(ctx context.Context, task *models.Task) error { return nil },
	})

	first, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "entity-1", 0)
	require.NoError(t, err)
	second, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "entity-1", 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "entity-2", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	h.drain()

	third, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "entity-1", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID, "a finished task does not block new work")

	got, err := h.svcs.Tasks.GetTask(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestEnqueue_DelayedTaskWaits(t *testing.T) {
	h := newHarness(t, "en")
	h.svcs.Tasks.Register(testTask, service.TaskHandler{
		Run: func(ctx context.Context, task *models.Task) error { return nil },
	})

	_, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "later", 2*time.Hour)
	require.NoError(t, err)

	n, err := h.svcs.Tasks.RunDue(h.ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.svcs.Tasks.RunDue(h.ctx, time.Now().Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetTask_NotFound(t *testing.T) {
	h := newHarness(t, "en")
	_, err := h.svcs.Tasks.GetTask(h.ctx, "missing")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestRunTask_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, "en")
	var calls int32
	h.svcs.Tasks.Register(testTask, service.TaskHandler{
		Run: func(ctx context.Context, task *models.Task) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return service.Retry(errors.New("not yet"))
			}
			return nil
		},
	})

	task, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "flaky", 0)
	require.NoError(t, err)
	h.drain()

	got, err := h.svcs.Tasks.GetTask(h.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "not yet", got.LastError)
}

func TestRunTask_GiveUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, "en")
	var gaveUp []error
	h.svcs.Tasks.Register(testTask, service.TaskHandler{
		Run: func(ctx context.Context, task *models.Task) error {
			return service.Retry(errors.New("still down"))
		},
		GiveUp: func(ctx context.Context, task *models.Task, err error) {
			gaveUp = append(gaveUp, err)
		},
	})

	task, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "broken", 0)
	require.NoError(t, err)
	h.drain()

	require.Len(t, gaveUp, 1)
	assert.EqualError(t, gaveUp[0], "still down")

	got, err := h.svcs.Tasks.GetTask(h.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, h.cfg.Worker.MaxAttempts, got.Attempts)
	assert.Equal(t, "still down", got.LastError)
}

func TestRunTask_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		run        func(ctx context.Context, task *models.Task) error
		wantStatus models.TaskStatus
		wantError  string
	}{
		{
			name:       "missing entity completes",
			run:        func(ctx context.Context, task *models.Task) error { return service.ErrNotFound },
			wantStatus: models.TaskStatusCompleted,
		},
		{
			name:       "plain error fails without retry",
			run:        func(ctx context.Context, task *models.Task) error { return errors.New("bad input") },
			wantStatus: models.TaskStatusFailed,
			wantError:  "bad input",
		},
		{
			name:       "panic is recovered",
			run:        func(ctx context.Context, task *models.Task) error { panic("boom") },
			wantStatus: models.TaskStatusFailed,
			wantError:  "task panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "en")
			h.svcs.Tasks.Register(testTask, service.TaskHandler{Run: tt.run})

			task, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, "x", 0)
			require.NoError(t, err)
			h.drain()

			got, err := h.svcs.Tasks.GetTask(h.ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantError, got.LastError)
			assert.Equal(t, 1, got.Attempts)
		})
	}
}

func TestRunTask_UnknownType(t *testing.T) {
	h := newHarness(t, "en")
	task, err := h.svcs.Tasks.Enqueue(h.ctx, "unknown_type", "x", 0)
	require.NoError(t, err)
	h.drain()

	got, err := h.svcs.Tasks.GetTask(h.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no handler")
}

func TestProcessor_RunsQueuedTasks(t *testing.T) {
	h := newHarness(t, "en")
	var ran int32
	h.svcs.Tasks.Register(testTask, service.TaskHandler{
		Run: func(ctx context.Context, task *models.Task) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.svcs.Tasks.Enqueue(h.ctx, testTask, id, 0)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.svcs.Tasks.StartProcessor(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 3 }, 2*time.Second, 10*time.Millisecond)
	h.svcs.Tasks.StopProcessor()

	assert.Equal(t, 0, h.store.Tasks.Live())
}

func TestProcessor_RequeuesStaleTasksOnStart(t *testing.T) {
	h := newHarness(t, "en")
	var ran int32
	h.svcs.Tasks.Register(testTask, service.TaskHandler{
		Run: func(ctx context.Context, task *models.Task) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})

	startedAt := time.Now().Add(-time.Hour)
	h.store.Tasks.Tasks["stale"] = &models.Task{
		ID:          "stale",
		Type:        testTask,
		EntityID:    "x",
		Status:      models.TaskStatusRunning,
		Attempts:    1,
		MaxAttempts: 3,
		RunAt:       startedAt,
		StartedAt:   &startedAt,
		CreatedAt:   startedAt,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.svcs.Tasks.StartProcessor(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, 2*time.Second, 10*time.Millisecond)
	h.svcs.Tasks.StopProcessor()

	got, err := h.svcs.Tasks.GetTask(h.ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
}
