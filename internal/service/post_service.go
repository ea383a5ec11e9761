package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/multichannel-posting-api/internal/textfmt"
	"github.com/multichannel-posting-api/internal/validation"
	"github.com/rs/zerolog"
)

// PublishReport lists which variants an orchestration call queued and why
// the others were left alone. Variant failures never fail the call.
type PublishReport struct {
	PostID  string            `json:"post_id"`
	Queued  []string          `json:"queued"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

func newPublishReport(postID string) *PublishReport {
	return &PublishReport{PostID: postID, Queued: []string{}, Skipped: map[string]string{}}
}

func (r *PublishReport) skip(variantID, reason string) {
	r.Skipped[variantID] = reason
}

// postService is the concrete implementation of PostService
type postService struct {
	repos       *repository.Repositories
	posts       repository.PostRepository
	variantRepo repository.VariantRepository
	channels    repository.ChannelRepository
	variants    *variantService
	translator  Translator
	policy      *gateway.Policy
	tasks       TaskService
	agg         *aggregator
	validator   *validation.Validator
	cfg         config.TranslationConfig
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func newPostService(
	repos *repository.Repositories,
	variants *variantService,
	translator Translator,
	policy *gateway.Policy,
	tasks TaskService,
	agg *aggregator,
	cfg *config.Config,
	m *metrics.Metrics,
	log zerolog.Logger,
) *postService {
	return &postService{
		repos:       repos,
		posts:       repos.Post,
		variantRepo: repos.Variant,
		channels:    repos.Channel,
		variants:    variants,
		translator:  translator,
		policy:      policy,
		tasks:       tasks,
		agg:         agg,
		validator:   validation.NewValidator(),
		cfg:         cfg.Translation,
		metrics:     m,
		log:         log.With().Str("service", "post").Logger(),
	}
}

// CreatePost validates the input, stores the post and fans it out to every
// active channel of the group
func (s *postService) CreatePost(ctx context.Context, req *models.CreatePostRequest) (*models.PostDetail, error) {
	if errs := s.validator.ValidateCreatePost(req); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	group, err := s.channels.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel group: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("channel group %s: %w", req.GroupID, ErrNotFound)
	}

	primary, err := s.channels.GetByID(ctx, req.PrimaryChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary channel: %w", err)
	}
	if primary == nil || primary.GroupID != group.ID {
		return nil, ErrInvalidPrimaryChannel
	}

	now := time.Now().UTC()
	post := &models.Post{
		ID:                    uuid.New().String(),
		GroupID:               group.ID,
		InternalTitle:         req.InternalTitle,
		PrimaryChannelID:      primary.ID,
		SourceText:            req.SourceText,
		PhotoURL:              req.PhotoURL,
		AutoTranslate:         req.AutoTranslateOrDefault(),
		Status:                models.PostStatusDraft,
		ScheduledAt:           req.ScheduledAt,
		DisableWebPagePreview: req.DisableWebPagePreview,
		DisableNotification:   req.DisableNotification,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	// The post and its variants are committed together
	var variants []*models.Variant
	err = s.repos.InTx(ctx, func(tx *repository.Repositories) error {
		if err := tx.Post.Create(ctx, post); err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}
		created, err := s.fanOut(ctx, tx, post)
		if err != nil {
			return fmt.Errorf("failed to fan out post: %w", err)
		}
		variants = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str("post_id", post.ID).Logger()

	if post.AutoTranslate && hasPendingTranslation(variants) {
		if _, err := s.tasks.Enqueue(ctx, models.TaskTypeRequestTranslations, post.ID, 0); err != nil {
			log.Error().Err(err).Msg("Failed to schedule translations")
		}
	}

	log.Info().Int("variants", len(variants)).Bool("auto_translate", post.AutoTranslate).Msg("Post created")
	return &models.PostDetail{Post: *post, Variants: variants}, nil
}

// FanOut creates any missing variants of a post, for example for channels
// that joined the group after the post was created. Repeated calls are no-ops.
func (s *postService) FanOut(ctx context.Context, postID string) ([]*models.Variant, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	variants, err := s.fanOut(ctx, s.repos, post)
	if err != nil {
		return nil, err
	}
	if post.AutoTranslate && hasPendingTranslation(variants) {
		if _, err := s.tasks.Enqueue(ctx, models.TaskTypeRequestTranslations, post.ID, 0); err != nil {
			return variants, err
		}
	}
	return variants, nil
}

func (s *postService) fanOut(ctx context.Context, repos *repository.Repositories, post *models.Post) ([]*models.Variant, error) {
	targets, err := repos.Channel.ListActiveByGroup(ctx, post.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group channels: %w", err)
	}

	variants := make([]*models.Variant, 0, len(targets))
	for _, target := range targets {
		v, _, err := s.variants.createForTarget(ctx, repos.Variant, post, target)
		if err != nil {
			return variants, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func hasPendingTranslation(variants []*models.Variant) bool {
	for _, v := range variants {
		if v.SourceType == models.SourceTypeAutoTranslated && v.Status == models.VariantStatusPendingTranslation {
			return true
		}
	}
	return false
}

// GetPost retrieves a post with its variants
func (s *postService) GetPost(ctx context.Context, id string) (*models.PostDetail, error) {
	post, err := s.getPost(ctx, id)
	if err != nil {
		return nil, err
	}
	variants, err := s.variantRepo.ListByPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if variants == nil {
		variants = []*models.Variant{}
	}
	return &models.PostDetail{Post: *post, Variants: variants}, nil
}

// EditPost replaces the source text and propagates it: the primary variant
// is rewritten, unpublished auto-translated variants go back for
// translation, and published translations are flagged as outdated.
func (s *postService) EditPost(ctx context.Context, id string, req *models.EditPostRequest) (*models.PostDetail, error) {
	if errs := s.validator.ValidateEditPost(req); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	post, err := s.getPost(ctx, id)
	if err != nil {
		return nil, err
	}

	oldPhoto := post.PhotoURL
	post.SourceText = req.SourceText
	if req.InternalTitle != nil {
		post.InternalTitle = *req.InternalTitle
	}
	if req.PhotoURL != nil {
		post.PhotoURL = *req.PhotoURL
	}
	post.UpdatedAt = time.Now().UTC()
	if err := s.posts.Update(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	variants, err := s.variantRepo.ListByPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	now := time.Now().UTC()
	needTranslation := false
	for _, v := range variants {
		changed := false

		if post.PhotoURL != oldPhoto && v.PhotoURL == oldPhoto && !v.ManuallyEdited &&
			v.Status != models.VariantStatusPublished {
			v.PhotoURL = post.PhotoURL
			changed = true
		}

		switch {
		case v.IsPrimary():
			v.TextMarkdown = post.SourceText
			v.TextHTML = textfmt.ToTelegramHTML(post.SourceText)
			v.PhotoURL = post.PhotoURL
			changed = true

		case v.SourceType == models.SourceTypeAutoTranslated && !v.ManuallyEdited &&
			v.Status != models.VariantStatusPublished && v.Status != models.VariantStatusPublishing:
			if err := setStatus(v, models.VariantStatusPendingTranslation); err != nil {
				return nil, err
			}
			v.TextMarkdown = ""
			v.TextHTML = ""
			v.TranslationRequested = false
			v.TranslationFailures = 0
			v.ErrorMessage = ""
			changed = true
			needTranslation = true

		case v.Status == models.VariantStatusPublished:
			v.SetMeta(models.MetaSourceOutdated, "true")
			changed = true
		}

		if !changed {
			continue
		}
		v.ModifiedAt = now
		if err := s.variants.save(ctx, v); err != nil {
			return nil, err
		}

		if v.IsPrimary() && v.Status == models.VariantStatusPublished && v.RemoteMessageID != nil {
			if _, err := s.tasks.Enqueue(ctx, models.TaskTypeEditVariant, v.ID, 0); err != nil {
				s.log.Error().Err(err).Str("variant_id", v.ID).Msg("Failed to enqueue remote edit")
			}
		}
	}

	if _, err := s.agg.Recompute(ctx, id); err != nil {
		s.log.Error().Err(err).Str("post_id", id).Msg("Failed to recompute post status")
	}
	if needTranslation {
		if _, err := s.tasks.Enqueue(ctx, models.TaskTypeRequestTranslations, id, 0); err != nil {
			s.log.Error().Err(err).Str("post_id", id).Msg("Failed to schedule translations")
		}
	}

	return s.GetPost(ctx, id)
}

// MarkReady moves a draft post to ready_for_publish. This is the only
// status an operator sets directly.
func (s *postService) MarkReady(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.getPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.PostStatusDraft {
		return nil, transition(string(post.Status), string(models.PostStatusReadyForPublish))
	}
	if err := s.posts.UpdateStatus(ctx, id, models.PostStatusReadyForPublish, nil); err != nil {
		return nil, fmt.Errorf("failed to update post status: %w", err)
	}
	post.Status = models.PostStatusReadyForPublish
	return post, nil
}

// PublishAll queues a publish for every variant that is not yet published
// and whose channel is active and postable
func (s *postService) PublishAll(ctx context.Context, postID string) (*PublishReport, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	variants, err := s.variantRepo.ListByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	report, err := s.queuePublishes(ctx, post, variants)
	if err != nil {
		return nil, err
	}
	if err := s.markQueued(ctx, postID, report); err != nil {
		return report, err
	}

	s.log.Info().Str("post_id", postID).Int("queued", len(report.Queued)).Int("skipped", len(report.Skipped)).Msg("Publish all requested")
	return report, nil
}

// PublishReady queues only drafts and pending publishes that have content.
// Variants still translating or already failed are left alone, so it can be
// re-run safely.
func (s *postService) PublishReady(ctx context.Context, postID string) (*PublishReport, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	variants, err := s.variantRepo.ListByPostAndStatuses(ctx, postID, []models.VariantStatus{
		models.VariantStatusDraft,
		models.VariantStatusPendingPublish,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ready variants: %w", err)
	}

	ready := variants[:0]
	for _, v := range variants {
		if v.TextMarkdown != "" {
			ready = append(ready, v)
		}
	}

	report, err := s.queuePublishes(ctx, post, ready)
	if err != nil {
		return nil, err
	}
	if err := s.markQueued(ctx, postID, report); err != nil {
		return report, err
	}
	s.log.Info().Str("post_id", postID).Int("queued", len(report.Queued)).Int("skipped", len(report.Skipped)).Msg("Publish ready requested")
	return report, nil
}

func (s *postService) queuePublishes(ctx context.Context, post *models.Post, variants []*models.Variant) (*PublishReport, error) {
	targets, err := s.channels.ListActiveByGroup(ctx, post.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group channels: %w", err)
	}
	active := make(map[string]*models.ChannelTarget, len(targets))
	for _, t := range targets {
		active[t.ID] = t
	}

	report := newPublishReport(post.ID)
	for _, v := range variants {
		switch v.Status {
		case models.VariantStatusPublished:
			report.skip(v.ID, "already published")
			continue
		case models.VariantStatusPublishing:
			report.skip(v.ID, "publish in progress")
			continue
		}

		channel, ok := active[v.ChannelID]
		if !ok {
			report.skip(v.ID, msgChannelInactive)
			continue
		}
		if !channel.Capabilities.CanPost {
			report.skip(v.ID, msgNoPostPermission)
			continue
		}

		if err := s.queuePublish(ctx, v); err != nil {
			s.log.Warn().Err(err).Str("variant_id", v.ID).Msg("Variant not queued for publish")
			report.skip(v.ID, err.Error())
			continue
		}
		report.Queued = append(report.Queued, v.ID)
	}
	return report, nil
}

func (s *postService) queuePublish(ctx context.Context, v *models.Variant) error {
	s.variants.ensureHTML(v)
	if err := setStatus(v, models.VariantStatusPendingPublish); err != nil {
		return err
	}
	if err := s.variants.save(ctx, v); err != nil {
		return err
	}
	_, err := s.tasks.Enqueue(ctx, models.TaskTypePublishVariant, v.ID, 0)
	return err
}

// markQueued writes publishing once publish tasks are queued. The variants
// are still pending_publish at this point, so AggregateStatus alone would
// leave the post unchanged and the scheduled-posts sweep would queue it
// again every minute. The first variant transition recomputes the real value.
func (s *postService) markQueued(ctx context.Context, postID string, report *PublishReport) error {
	if len(report.Queued) == 0 {
		return nil
	}
	return s.agg.write(ctx, postID, models.PostStatusPublishing)
}

// RetryFailed moves every failed variant of a post back into the pipeline
func (s *postService) RetryFailed(ctx context.Context, postID string) (*PublishReport, error) {
	if _, err := s.getPost(ctx, postID); err != nil {
		return nil, err
	}
	failed, err := s.variantRepo.ListByPostAndStatuses(ctx, postID, []models.VariantStatus{models.VariantStatusFailed})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed variants: %w", err)
	}

	report := newPublishReport(postID)
	for _, v := range failed {
		if _, err := s.variants.Retry(ctx, v.ID); err != nil {
			report.skip(v.ID, err.Error())
			continue
		}
		report.Queued = append(report.Queued, v.ID)
	}
	return report, nil
}

// RecomputeAggregate derives and writes the post status. When the variants
// are still converging the current status is returned unchanged.
func (s *postService) RecomputeAggregate(ctx context.Context, postID string) (models.PostStatus, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return "", err
	}
	status, err := s.agg.Recompute(ctx, postID)
	if err != nil {
		return "", err
	}
	if status == "" {
		return post.Status, nil
	}
	return status, nil
}

func (s *postService) getPost(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if post == nil {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return post, nil
}

// sourceLanguage returns the language of the post's primary channel
func (s *postService) sourceLanguage(ctx context.Context, post *models.Post) (string, error) {
	primary, err := s.channels.GetByID(ctx, post.PrimaryChannelID)
	if err != nil {
		return "", fmt.Errorf("failed to get primary channel: %w", err)
	}
	if primary == nil {
		return "", nil
	}
	return primary.LanguageCode, nil
}
