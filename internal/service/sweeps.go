package service

import (
	"context"
	"fmt"
	"time"

	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
)

// Sweep names
const (
	JobPendingTranslations = "process-pending-translations"
	JobVerifyPermissions   = "verify-bot-permissions"
	JobScheduledPosts      = "publish-scheduled-posts"
	JobRecoverTasks        = "recover-stale-tasks"
)

// sweepJob is a Job backed by a function
type sweepJob struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

func (j *sweepJob) Name() string                  { return j.name }
func (j *sweepJob) Schedule() string              { return j.schedule }
func (j *sweepJob) Run(ctx context.Context) error { return j.run(ctx) }

// sweepJobs builds the periodic sweeps. Sweeps only enqueue tasks; the
// task processor does the work. Jobs with an empty schedule are left out.
func sweepJobs(repos *repository.Repositories, tasks TaskService, cfg *config.Config) []Job {
	maxFailures := cfg.Translation.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}

	all := []*sweepJob{
		{
			name:     JobPendingTranslations,
			schedule: cfg.Schedule.PendingTranslations,
			run: func(ctx context.Context) error {
				ids, err := repos.Post.ListWithPendingTranslations(ctx, maxFailures)
				if err != nil {
					return fmt.Errorf("failed to list posts with pending translations: %w", err)
				}
				return enqueueAll(ctx, tasks, models.TaskTypeRequestTranslations, ids)
			},
		},
		{
			name:     JobVerifyPermissions,
			schedule: cfg.Schedule.VerifyPermissions,
			run: func(ctx context.Context) error {
				channels, err := repos.Channel.ListActive(ctx)
				if err != nil {
					return fmt.Errorf("failed to list active channels: %w", err)
				}
				ids := make([]string, len(channels))
				for i, c := range channels {
					ids[i] = c.ID
				}
				return enqueueAll(ctx, tasks, models.TaskTypeSyncChannel, ids)
			},
		},
		{
			name:     JobScheduledPosts,
			schedule: cfg.Schedule.ScheduledPosts,
			run: func(ctx context.Context) error {
				posts, err := repos.Post.ListDueScheduled(ctx, time.Now().UTC())
				if err != nil {
					return fmt.Errorf("failed to list scheduled posts: %w", err)
				}
				ids := make([]string, len(posts))
				for i, p := range posts {
					ids[i] = p.ID
				}
				return enqueueAll(ctx, tasks, models.TaskTypePublishReady, ids)
			},
		},
		{
			name:     JobRecoverTasks,
			schedule: cfg.Schedule.RecoverTasks,
			run: func(ctx context.Context) error {
				_, err := repos.Task.RequeueStale(ctx, time.Now().UTC().Add(-staleAfter))
				return err
			},
		},
	}

	jobs := make([]Job, 0, len(all))
	for _, j := range all {
		if j.schedule != "" {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// enqueueAll submits one task per entity and returns the first error after
// trying every entity
func enqueueAll(ctx context.Context, tasks TaskService, taskType models.TaskType, ids []string) error {
	var firstErr error
	for _, id := range ids {
		if _, err := tasks.Enqueue(ctx, taskType, id, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
