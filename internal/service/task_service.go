package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/rs/zerolog"
)

// staleAfter is how long a task may stay running before the processor
// assumes its worker died
const staleAfter = 15 * time.Minute

// TaskHandler runs one task type. Run returns nil on success, a *RetryError
// to be scheduled again, or any other error to fail the task. GiveUp, when
// set, is called once the retry ceiling is reached.
type TaskHandler struct {
	Run    func(ctx context.Context, task *models.Task) error
	GiveUp func(ctx context.Context, task *models.Task, err error)
}

// taskService is the concrete implementation of TaskService
type taskService struct {
	taskRepo repository.TaskRepository
	cfg      config.WorkerConfig
	metrics  *metrics.Metrics
	log      zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	// Semaphore: buffered channel bounding concurrent tasks
	sem chan struct{}

	// handlers has its own lock; mu is held across StopProcessor's wait
	handlersMu sync.RWMutex
	handlers   map[models.TaskType]TaskHandler
}

// newTaskService creates a TaskService with a worker pool sized for I/O-bound work
func newTaskService(taskRepo repository.TaskRepository, cfg config.WorkerConfig, m *metrics.Metrics, log zerolog.Logger) *taskService {
	// Tasks spend nearly all their time waiting on gateways and the database
	maxWorkers := cfg.Concurrency
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * 4
		if maxWorkers < 4 {
			maxWorkers = 4
		}
		if maxWorkers > 32 {
			maxWorkers = 32
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	log.Info().Int("max_workers", maxWorkers).Msg("Initializing task worker pool")

	return &taskService{
		taskRepo: taskRepo,
		handlers: make(map[models.TaskType]TaskHandler),
		cfg:      cfg,
		metrics:  m,
		log:      log.With().Str("service", "task").Logger(),
		ctx:      context.Background(),
		sem:      make(chan struct{}, maxWorkers),
	}
}

// Register binds a handler to a task type. Must be called before StartProcessor.
func (s *taskService) Register(taskType models.TaskType, handler TaskHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[taskType] = handler
}

// Enqueue submits a unit of work. While a pending or running task exists for
// the same (type, entity) the existing task is returned instead.
func (s *taskService) Enqueue(ctx context.Context, taskType models.TaskType, entityID string, delay time.Duration) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		EntityID:    entityID,
		Status:      models.TaskStatusPending,
		MaxAttempts: s.cfg.MaxAttempts,
		RunAt:       now.Add(delay),
		CreatedAt:   now,
	}

	// The live task may finish between the insert and the lookup; one more
	// insert settles it.
	for i := 0; i < 2; i++ {
		inserted, err := s.taskRepo.Enqueue(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
		}
		if inserted {
			s.log.Debug().Str("task_id", task.ID).Str("type", string(taskType)).Str("entity_id", entityID).Msg("Task enqueued")
			return task, nil
		}

		live, err := s.taskRepo.GetLive(ctx, taskType, entityID)
		if err != nil {
			return nil, fmt.Errorf("failed to get live %s task: %w", taskType, err)
		}
		if live != nil {
			return live, nil
		}
	}
	return nil, fmt.Errorf("failed to enqueue %s task for %s", taskType, entityID)
}

// GetTask retrieves a task by ID
func (s *taskService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return task, nil
}

// StartProcessor starts the background task processor
func (s *taskService) StartProcessor(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if n, err := s.taskRepo.RequeueStale(s.ctx, time.Now().UTC().Add(-staleAfter)); err != nil {
		s.log.Error().Err(err).Msg("Failed to requeue stale tasks")
	} else if n > 0 {
		s.log.Warn().Int("count", n).Msg("Requeued stale running tasks")
	}

	s.log.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("Task processor started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("Task processor stopping")
			return
		case <-ticker.C:
			s.processPendingTasks()
		}
	}
}

// StopProcessor stops the background task processor and waits for
// in-flight tasks
func (s *taskService) StopProcessor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("Task processor stopped")
}

// processPendingTasks claims due tasks and runs each on the pool
func (s *taskService) processPendingTasks() {
	tasks, err := s.taskRepo.GetPendingTasks(s.ctx, time.Now().UTC(), cap(s.sem))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get pending tasks")
		return
	}

	for _, task := range tasks {
		// Acquire a slot; blocks while every worker is busy
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}

		claimed, err := s.taskRepo.MarkTaskAsRunning(s.ctx, task.ID)
		if err != nil || !claimed {
			<-s.sem
			continue // Another worker already picked it up
		}
		task.Attempts++
		task.Status = models.TaskStatusRunning

		s.wg.Add(1)
		go func(t *models.Task) {
			defer s.wg.Done()
			defer func() { <-s.sem }()

			if err := s.RunTask(s.ctx, t); err != nil {
				s.log.Error().Err(err).Str("task_id", t.ID).Msg("Failed to record task result")
			}
		}(task)
	}
}

// RunDue claims and runs every task due at now, one at a time. It is used by
// the one-shot worker command and by tests.
func (s *taskService) RunDue(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.taskRepo.GetPendingTasks(ctx, now, cap(s.sem))
	if err != nil {
		return 0, fmt.Errorf("failed to get pending tasks: %w", err)
	}

	ran := 0
	for _, task := range tasks {
		claimed, err := s.taskRepo.MarkTaskAsRunning(ctx, task.ID)
		if err != nil {
			return ran, err
		}
		if !claimed {
			continue
		}
		task.Attempts++
		task.Status = models.TaskStatusRunning

		if err := s.RunTask(ctx, task); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

// RunTask executes a claimed task and records its result. The returned
// error only reports failures to record that result.
func (s *taskService) RunTask(ctx context.Context, task *models.Task) error {
	s.handlersMu.RLock()
	handler, ok := s.handlers[task.Type]
	s.handlersMu.RUnlock()

	log := s.log.With().Str("task_id", task.ID).Str("type", string(task.Type)).Str("entity_id", task.EntityID).Logger()

	if !ok {
		log.Error().Msg("No handler registered for task type")
		return s.taskRepo.MarkFailed(ctx, task.ID, "no handler for task type "+string(task.Type))
	}

	start := time.Now()
	log.Info().Int("attempt", task.Attempts).Msg("Processing task")

	runErr := s.safeRun(ctx, handler, task)
	return s.settle(ctx, log, handler, task, runErr, time.Since(start))
}

// safeRun converts a handler panic into an error so one task cannot take
// down the worker pool
func (s *taskService) safeRun(ctx context.Context, handler TaskHandler, task *models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("task_id", task.ID).
				Msg("Task processing panicked - recovered")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler.Run(ctx, task)
}

func (s *taskService) settle(ctx context.Context, log zerolog.Logger, handler TaskHandler, task *models.Task, runErr error, elapsed time.Duration) error {
	taskType := string(task.Type)

	if runErr == nil {
		s.metrics.ObserveTask(taskType, "completed", elapsed)
		log.Info().Dur("duration", elapsed).Msg("Task completed")
		return s.taskRepo.MarkCompleted(ctx, task.ID)
	}

	var retryErr *RetryError
	switch {
	case errors.As(runErr, &retryErr):
		message := gateway.Describe(retryErr.Err)
		if task.IsFinalAttempt() {
			log.Warn().Err(retryErr.Err).Int("attempts", task.Attempts).Msg("Task retries exhausted")
			if handler.GiveUp != nil {
				handler.GiveUp(ctx, task, retryErr.Err)
			}
			s.metrics.ObserveTask(taskType, "failed", elapsed)
			return s.taskRepo.MarkFailed(ctx, task.ID, message)
		}

		delay := retryErr.After
		if delay <= 0 {
			delay = s.backoff(task.Attempts)
		}
		log.Warn().Err(retryErr.Err).Dur("retry_in", delay).Int("attempt", task.Attempts).Msg("Task will be retried")
		s.metrics.ObserveTask(taskType, "retried", elapsed)
		return s.taskRepo.Reschedule(ctx, task.ID, time.Now().UTC().Add(delay), message)

	case errors.Is(runErr, ErrNotFound):
		log.Warn().Err(runErr).Msg("Task entity not found, skipping")
		s.metrics.ObserveTask(taskType, "skipped", elapsed)
		return s.taskRepo.MarkCompleted(ctx, task.ID)

	default:
		log.Error().Err(runErr).Msg("Task failed")
		s.metrics.ObserveTask(taskType, "failed", elapsed)
		return s.taskRepo.MarkFailed(ctx, task.ID, runErr.Error())
	}
}

// backoff doubles the base delay per attempt, capped at the max delay
func (s *taskService) backoff(attempt int) time.Duration {
	delay := s.cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if s.cfg.RetryMaxDelay > 0 && delay >= s.cfg.RetryMaxDelay {
			return s.cfg.RetryMaxDelay
		}
	}
	if s.cfg.RetryMaxDelay > 0 && delay > s.cfg.RetryMaxDelay {
		return s.cfg.RetryMaxDelay
	}
	return delay
}
