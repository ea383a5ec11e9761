package service

import (
	"context"
	"time"

	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/gateway/botgateway"
	"github.com/multichannel-posting-api/internal/gateway/translation"
	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/rs/zerolog"
)

// ChannelGateway is the channel transport (Telegram bot gateway)
type ChannelGateway interface {
	SendMessage(ctx context.Context, req botgateway.SendRequest) (*botgateway.SentMessage, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, disableWebPagePreview bool) (bool, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) (bool, error)
	GetChannelInfo(ctx context.Context, chatID int64) (*botgateway.ChannelInfo, error)
	VerifyPermissions(ctx context.Context, chatID int64) (*botgateway.Permissions, error)
}

// Translator is the translation gateway
type Translator interface {
	Translate(ctx context.Context, req translation.TranslateRequest) (*translation.Translation, error)
	BatchTranslate(ctx context.Context, text, sourceLanguage string, targetLanguages []string) (map[string]string, error)
}

// PostService is the post orchestrator: fan-out, translation and publish
// propagation, and aggregate status
type PostService interface {
	CreatePost(ctx context.Context, req *models.CreatePostRequest) (*models.PostDetail, error)
	GetPost(ctx context.Context, id string) (*models.PostDetail, error)
	EditPost(ctx context.Context, id string, req *models.EditPostRequest) (*models.PostDetail, error)
	MarkReady(ctx context.Context, id string) (*models.Post, error)
	FanOut(ctx context.Context, postID string) ([]*models.Variant, error)
	RequestTranslations(ctx context.Context, postID string) (*TranslationReport, error)
	RequestVariantTranslation(ctx context.Context, variantID string) (*models.Task, error)
	TranslateVariant(ctx context.Context, variantID string) error
	PublishAll(ctx context.Context, postID string) (*PublishReport, error)
	PublishReady(ctx context.Context, postID string) (*PublishReport, error)
	RetryFailed(ctx context.Context, postID string) (*PublishReport, error)
	RecomputeAggregate(ctx context.Context, postID string) (models.PostStatus, error)
}

// VariantService manages the content and status of single variants
type VariantService interface {
	CreateForTarget(ctx context.Context, post *models.Post, channel *models.ChannelTarget) (*models.Variant, bool, error)
	GetVariant(ctx context.Context, id string) (*models.Variant, error)
	ListByPost(ctx context.Context, postID string) ([]*models.Variant, error)
	EditVariant(ctx context.Context, id string, req *models.EditVariantRequest) (*models.Variant, error)
	ApplyTranslation(ctx context.Context, post *models.Post, sourceLanguage string, v *models.Variant, text string) error
	ConvertToHTML(ctx context.Context, id string) (*models.Variant, error)
	QueuePublish(ctx context.Context, id string) (*models.Task, error)
	QueueDelete(ctx context.Context, id string) (*models.Task, error)
	Publish(ctx context.Context, id string) error
	EditRemote(ctx context.Context, id string) error
	DeleteRemote(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) (*models.Variant, error)
	MarkFailed(ctx context.Context, v *models.Variant, message string) error
	MarkPublished(ctx context.Context, v *models.Variant, remoteMessageID int64) error
}

// ChannelService registers channels and keeps their capabilities fresh
type ChannelService interface {
	CreateGroup(ctx context.Context, req *models.CreateGroupRequest) (*models.ChannelGroup, error)
	RegisterChannel(ctx context.Context, req *models.RegisterChannelRequest) (*models.ChannelTarget, error)
	GetChannel(ctx context.Context, id string) (*models.ChannelTarget, error)
	SyncChannel(ctx context.Context, id string) (*models.ChannelTarget, error)
}

// TaskService runs queued units of work on a bounded worker pool
type TaskService interface {
	Register(taskType models.TaskType, handler TaskHandler)
	Enqueue(ctx context.Context, taskType models.TaskType, entityID string, delay time.Duration) (*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	RunTask(ctx context.Context, task *models.Task) error
	RunDue(ctx context.Context, now time.Time) (int, error)
	StartProcessor(ctx context.Context)
	StopProcessor()
}

// Gateways are the external services the orchestrator depends on
type Gateways struct {
	Bot        ChannelGateway
	Translator Translator
}

// Services holds all service interfaces
type Services struct {
	Posts     PostService
	Variants  VariantService
	Channels  ChannelService
	Tasks     TaskService
	Scheduler *Scheduler
	Metrics   *metrics.Metrics
}

// NewServices creates all services and registers the task handlers
func NewServices(repos *repository.Repositories, gw Gateways, m *metrics.Metrics, cfg *config.Config, log zerolog.Logger) *Services {
	botPolicy := gateway.NewPolicy(gateway.PolicyConfig{
		Service:         gateway.ServiceBot,
		MaxRetries:      cfg.Retry.MaxRetries,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		AttemptTimeout:  cfg.BotGateway.Timeout,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    30 * time.Second,
	}, m, log)
	translationPolicy := gateway.NewPolicy(gateway.PolicyConfig{
		Service:         gateway.ServiceTranslation,
		MaxRetries:      cfg.Retry.MaxRetries,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		AttemptTimeout:  cfg.Translation.Timeout,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    time.Minute,
	}, m, log)

	taskSvc := newTaskService(repos.Task, cfg.Worker, m, log)
	agg := newAggregator(repos, m, log)
	variantSvc := newVariantService(repos, gw.Bot, botPolicy, taskSvc, agg, cfg, m, log)
	postSvc := newPostService(repos, variantSvc, gw.Translator, translationPolicy, taskSvc, agg, cfg, m, log)
	channelSvc := newChannelService(repos.Channel, gw.Bot, botPolicy, log)

	registerHandlers(taskSvc, postSvc, variantSvc, channelSvc)

	scheduler := NewScheduler(log)
	for _, job := range sweepJobs(repos, taskSvc, cfg) {
		if err := scheduler.RegisterJob(job); err != nil {
			log.Error().Err(err).Str("job", job.Name()).Msg("Failed to register sweep")
		}
	}

	return &Services{
		Posts:     postSvc,
		Variants:  variantSvc,
		Channels:  channelSvc,
		Tasks:     taskSvc,
		Scheduler: scheduler,
		Metrics:   m,
	}
}

// registerHandlers binds every task type to the operation it runs
func registerHandlers(tasks TaskService, posts *postService, variants *variantService, channels *channelService) {
	tasks.Register(models.TaskTypeFanOut, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			_, err := posts.FanOut(ctx, t.EntityID)
			return err
		},
	})
	tasks.Register(models.TaskTypeRequestTranslations, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			_, err := posts.RequestTranslations(ctx, t.EntityID)
			return err
		},
		GiveUp: posts.translationBatchGiveUp,
	})
	tasks.Register(models.TaskTypeTranslateVariant, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			return posts.TranslateVariant(ctx, t.EntityID)
		},
		GiveUp: posts.translationGiveUp,
	})
	tasks.Register(models.TaskTypePublishAll, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			_, err := posts.PublishAll(ctx, t.EntityID)
			return err
		},
	})
	tasks.Register(models.TaskTypePublishReady, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			_, err := posts.PublishReady(ctx, t.EntityID)
			return err
		},
	})
	tasks.Register(models.TaskTypePublishVariant, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			return variants.Publish(ctx, t.EntityID)
		},
		GiveUp: variants.publishGiveUp,
	})
	tasks.Register(models.TaskTypeEditVariant, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			return variants.EditRemote(ctx, t.EntityID)
		},
		GiveUp: variants.remoteGiveUp,
	})
	tasks.Register(models.TaskTypeDeleteVariant, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			return variants.DeleteRemote(ctx, t.EntityID)
		},
		GiveUp: variants.remoteGiveUp,
	})
	tasks.Register(models.TaskTypeRecomputeAggregate, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			_, err := posts.RecomputeAggregate(ctx, t.EntityID)
			return err
		},
	})
	tasks.Register(models.TaskTypeSyncChannel, TaskHandler{
		Run: func(ctx context.Context, t *models.Task) error {
			_, err := channels.SyncChannel(ctx, t.EntityID)
			return err
		},
	})
}
