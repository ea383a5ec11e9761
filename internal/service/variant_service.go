package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/gateway/botgateway"
	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/multichannel-posting-api/internal/textfmt"
	"github.com/multichannel-posting-api/internal/validation"
	"github.com/rs/zerolog"
)

// Messages recorded on variants
const (
	msgNoPostPermission = "Bot does not have posting permissions"
	msgNoContent        = "No content to publish"
	msgChannelInactive  = "Channel is not active"
	msgNoMessageID      = "No message ID received from Telegram"
	msgNotPublished     = "Variant has not been published"
	msgNoEditPermission = "Bot does not have edit permissions"
	msgNoDeletePerm     = "Bot does not have delete permissions"
	msgNoSourceText     = "No source text to translate"
	msgNoSourceLanguage = "Source channel has no language set"
	msgNoTargetLanguage = "Target channel has no language set"
)

// variantService is the concrete implementation of VariantService
type variantService struct {
	variants  repository.VariantRepository
	posts     repository.PostRepository
	channels  repository.ChannelRepository
	bot       ChannelGateway
	policy    *gateway.Policy
	tasks     TaskService
	agg       *aggregator
	validator *validation.Validator
	siteURL   string
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func newVariantService(
	repos *repository.Repositories,
	bot ChannelGateway,
	policy *gateway.Policy,
	tasks TaskService,
	agg *aggregator,
	cfg *config.Config,
	m *metrics.Metrics,
	log zerolog.Logger,
) *variantService {
	return &variantService{
		variants:  repos.Variant,
		posts:     repos.Post,
		channels:  repos.Channel,
		bot:       bot,
		policy:    policy,
		tasks:     tasks,
		agg:       agg,
		validator: validation.NewValidator(),
		siteURL:   strings.TrimRight(cfg.Site.URL, "/"),
		metrics:   m,
		log:       log.With().Str("service", "variant").Logger(),
	}
}

// InitialVariantState decides the source type and first status of the
// variant a post gets for a channel. It depends only on whether the channel
// is the primary one and on the auto-translate flag.
func InitialVariantState(post *models.Post, channelID string) (models.SourceType, models.VariantStatus) {
	switch {
	case channelID == post.PrimaryChannelID:
		return models.SourceTypePrimary, models.VariantStatusDraft
	case post.AutoTranslate:
		return models.SourceTypeAutoTranslated, models.VariantStatusPendingTranslation
	default:
		return models.SourceTypeManual, models.VariantStatusDraft
	}
}

// CreateForTarget creates the variant of post for channel. When one already
// exists it is returned unchanged and created is false.
func (s *variantService) CreateForTarget(ctx context.Context, post *models.Post, channel *models.ChannelTarget) (*models.Variant, bool, error) {
	return s.createForTarget(ctx, s.variants, post, channel)
}

func (s *variantService) createForTarget(ctx context.Context, repo repository.VariantRepository, post *models.Post, channel *models.ChannelTarget) (*models.Variant, bool, error) {
	sourceType, status := InitialVariantState(post, channel.ID)
	now := time.Now().UTC()

	v := &models.Variant{
		ID:           uuid.New().String(),
		PostID:       post.ID,
		ChannelID:    channel.ID,
		LanguageCode: channel.LanguageCode,
		SourceType:   sourceType,
		Status:       status,
		PhotoURL:     post.PhotoURL,
		ModifiedAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if sourceType == models.SourceTypePrimary {
		v.TextMarkdown = post.SourceText
		v.TextHTML = textfmt.ToTelegramHTML(post.SourceText)
	}

	created, err := repo.CreateIfNotExists(ctx, v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create variant: %w", err)
	}
	if !created {
		existing, err := repo.GetByPostAndChannel(ctx, post.ID, channel.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get existing variant: %w", err)
		}
		return existing, false, nil
	}

	s.log.Debug().
		Str("post_id", post.ID).
		Str("variant_id", v.ID).
		Str("channel_id", channel.ID).
		Str("source_type", string(sourceType)).
		Msg("Variant created")
	return v, true, nil
}

// GetVariant retrieves a variant by ID
func (s *variantService) GetVariant(ctx context.Context, id string) (*models.Variant, error) {
	v, err := s.variants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("variant %s: %w", id, ErrNotFound)
	}
	return v, nil
}

// ListByPost returns the variants of a post
func (s *variantService) ListByPost(ctx context.Context, postID string) ([]*models.Variant, error) {
	return s.variants.ListByPost(ctx, postID)
}

// EditVariant applies a manual edit. Edited variants are never overwritten
// by automatic translation again.
func (s *variantService) EditVariant(ctx context.Context, id string, req *models.EditVariantRequest) (*models.Variant, error) {
	if errs := s.validator.ValidateEditVariant(req); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	v, err := s.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status == models.VariantStatusPublishing {
		return nil, fmt.Errorf("%w: variant is being published", ErrInvalidTransition)
	}

	previous := v.Status
	if req.TextMarkdown != nil {
		v.TextMarkdown = *req.TextMarkdown
		v.TextHTML = textfmt.ToTelegramHTML(v.TextMarkdown)
		v.ManuallyEdited = true
		delete(v.Meta, models.MetaSourceOutdated)
	}
	if req.PhotoURL != nil {
		v.PhotoURL = *req.PhotoURL
	}
	v.ModifiedAt = time.Now().UTC()

	if (v.Status == models.VariantStatusPendingTranslation || v.Status == models.VariantStatusFailed) && v.HasContent() {
		v.Status = models.VariantStatusDraft
		v.TranslationRequested = false
		v.ErrorMessage = ""
	}

	if err := s.save(ctx, v); err != nil {
		return nil, err
	}
	if v.Status != previous {
		s.recompute(ctx, v.PostID)
	}

	if v.Status == models.VariantStatusPublished && v.RemoteMessageID != nil {
		if _, err := s.tasks.Enqueue(ctx, models.TaskTypeEditVariant, v.ID, 0); err != nil {
			s.log.Error().Err(err).Str("variant_id", v.ID).Msg("Failed to enqueue remote edit")
		}
	}

	return v, nil
}

// ApplyTranslation stores translated content and returns the variant to
// draft. Manually edited variants are left untouched, including edits that
// land while the translation call is in flight (ErrTranslationSuperseded).
func (s *variantService) ApplyTranslation(ctx context.Context, post *models.Post, sourceLanguage string, v *models.Variant, text string) error {
	if v.ManuallyEdited {
		s.log.Info().Str("variant_id", v.ID).Msg("Skipping translation of manually edited variant")
		return nil
	}
	if err := s.checkTranslatable(ctx, post, sourceLanguage, v); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return s.failTranslation(ctx, v, fmt.Sprintf("Translation to %s failed", v.LanguageCode))
	}

	previous := v.Status
	if err := setStatus(v, models.VariantStatusDraft); err != nil {
		return err
	}

	now := time.Now().UTC()
	v.TextMarkdown = text
	v.TextHTML = textfmt.ToTelegramHTML(text)
	v.TranslationReceivedAt = &now
	v.TranslationRequested = false
	v.ErrorMessage = ""
	v.ModifiedAt = now
	delete(v.Meta, models.MetaSourceOutdated)
	delete(v.Meta, models.MetaLastErrorCode)

	if err := s.saveTranslation(ctx, v, previous); err != nil {
		return err
	}
	if previous != v.Status {
		s.recompute(ctx, v.PostID)
	}
	return nil
}

// saveTranslation writes a translation outcome. Variants that were pending
// translation are written only if the stored row still is, so an operator
// edit made during the gateway call wins.
func (s *variantService) saveTranslation(ctx context.Context, v *models.Variant, previous models.VariantStatus) error {
	if previous != models.VariantStatusPendingTranslation {
		return s.save(ctx, v)
	}
	v.UpdatedAt = time.Now().UTC()
	ok, err := s.variants.UpdateIfAwaitingTranslation(ctx, v)
	if err != nil {
		return fmt.Errorf("failed to update variant: %w", err)
	}
	if !ok {
		s.log.Info().Str("post_id", v.PostID).Str("variant_id", v.ID).Msg("Variant changed during translation, keeping stored content")
		return ErrTranslationSuperseded
	}
	return nil
}

// checkTranslatable parks the variant in draft with a descriptive error
// when a translation cannot be attempted, so it never stays pending forever
func (s *variantService) checkTranslatable(ctx context.Context, post *models.Post, sourceLanguage string, v *models.Variant) error {
	var reason string
	var sentinel error
	switch {
	case strings.TrimSpace(post.SourceText) == "":
		reason, sentinel = msgNoSourceText, ErrNoSourceText
	case strings.TrimSpace(sourceLanguage) == "":
		reason, sentinel = msgNoSourceLanguage, ErrLanguageMissing
	case strings.TrimSpace(v.LanguageCode) == "":
		reason, sentinel = msgNoTargetLanguage, ErrLanguageMissing
	default:
		return nil
	}

	previous := v.Status
	if v.Status.CanTransition(models.VariantStatusDraft) {
		v.Status = models.VariantStatusDraft
	}
	v.ErrorMessage = reason
	v.TranslationRequested = false
	if err := s.saveTranslation(ctx, v, previous); err != nil {
		return err
	}
	if previous != v.Status {
		s.recompute(ctx, v.PostID)
	}
	return fmt.Errorf("%w: %s", sentinel, reason)
}

// failTranslation counts a translation failure and fails the variant
func (s *variantService) failTranslation(ctx context.Context, v *models.Variant, message string) error {
	previous := v.Status
	if err := setStatus(v, models.VariantStatusFailed); err != nil {
		return err
	}
	v.TranslationFailures++
	v.TranslationRequested = false
	v.ErrorMessage = message
	if err := s.saveTranslation(ctx, v, previous); err != nil {
		return err
	}

	s.metrics.ObserveTranslation("any", "failed")
	s.logFailed(v, message)
	s.recompute(ctx, v.PostID)
	return nil
}

// releaseTranslationRequest clears the requested flag so the pending
// translations sweep picks the variant up again
func (s *variantService) releaseTranslationRequest(ctx context.Context, v *models.Variant) {
	if !v.TranslationRequested {
		return
	}
	v.TranslationRequested = false
	err := s.saveTranslation(ctx, v, v.Status)
	if err != nil && !errors.Is(err, ErrTranslationSuperseded) {
		s.log.Error().Err(err).Str("variant_id", v.ID).Msg("Failed to release translation request")
	}
}

// ConvertToHTML renders the variant's markdown into Telegram HTML. The
// status is not changed.
func (s *variantService) ConvertToHTML(ctx context.Context, id string) (*models.Variant, error) {
	v, err := s.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.ensureHTML(v) {
		if err := s.save(ctx, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ensureHTML derives HTML from markdown and reports whether it changed.
// HTML is derived content, so modified_at stays put.
func (s *variantService) ensureHTML(v *models.Variant) bool {
	if v.TextMarkdown == "" {
		return false
	}
	html := textfmt.ToTelegramHTML(v.TextMarkdown)
	if html == v.TextHTML {
		return false
	}
	v.TextHTML = html
	return true
}

// QueuePublish checks publish preconditions and submits a publish task
func (s *variantService) QueuePublish(ctx context.Context, id string) (*models.Task, error) {
	v, channel, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status == models.VariantStatusPublished {
		return nil, fmt.Errorf("%w: variant is already published", ErrInvalidTransition)
	}
	if err := checkPublishable(v, channel); err != nil {
		return nil, err
	}

	s.ensureHTML(v)
	if v.Status != models.VariantStatusPublishing {
		if err := setStatus(v, models.VariantStatusPendingPublish); err != nil {
			return nil, err
		}
	}
	if err := s.save(ctx, v); err != nil {
		return nil, err
	}

	return s.tasks.Enqueue(ctx, models.TaskTypePublishVariant, v.ID, 0)
}

// QueueDelete checks delete preconditions and submits a delete task
func (s *variantService) QueueDelete(ctx context.Context, id string) (*models.Task, error) {
	v, channel, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.RemoteMessageID == nil {
		return nil, notReady(msgNotPublished)
	}
	if !channel.Capabilities.CanDelete {
		return nil, notReady(msgNoDeletePerm)
	}
	return s.tasks.Enqueue(ctx, models.TaskTypeDeleteVariant, v.ID, 0)
}

func checkPublishable(v *models.Variant, channel *models.ChannelTarget) error {
	switch {
	case !channel.IsActive:
		return notReady(msgChannelInactive)
	case !channel.Capabilities.CanPost:
		return notReady(msgNoPostPermission)
	case !v.HasContent():
		return notReady(msgNoContent)
	}
	return nil
}

// Publish sends the variant to its channel. A retried publish of unchanged
// content carries the same idempotency key, so the gateway never posts twice.
func (s *variantService) Publish(ctx context.Context, id string) error {
	v, channel, post, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	log := s.log.With().Str("post_id", v.PostID).Str("variant_id", v.ID).Str("channel_id", v.ChannelID).Logger()

	if v.Status == models.VariantStatusPublished {
		log.Info().Msg("Variant already published, skipping")
		return nil
	}

	if err := checkPublishable(v, channel); err != nil {
		s.metrics.ObservePublish("not_ready")
		if ferr := s.MarkFailed(ctx, v, err.Error()); ferr != nil {
			return ferr
		}
		return err
	}

	s.ensureHTML(v)
	if errs := s.validator.ValidateTelegramHTML(v.TextHTML); len(errs) > 0 {
		s.metrics.ObservePublish("invalid")
		return s.MarkFailed(ctx, v, errs[0].Message)
	}

	if err := setStatus(v, models.VariantStatusPublishing); err != nil {
		return err
	}
	v.ErrorMessage = ""
	if err := s.save(ctx, v); err != nil {
		return err
	}
	s.recompute(ctx, v.PostID)

	req := botgateway.SendRequest{
		ChatID:                channel.TelegramChatID,
		Text:                  v.TextHTML,
		ParseMode:             botgateway.ParseModeHTML,
		PhotoURL:              s.resolvePhotoURL(v.PhotoURL),
		DisableWebPagePreview: post.DisableWebPagePreview,
		DisableNotification:   post.DisableNotification,
		IdempotencyKey:        v.IdempotencyKey(),
	}

	res := gateway.Call(ctx, s.policy, "send_message", func(ctx context.Context) (*botgateway.SentMessage, error) {
		return s.bot.SendMessage(ctx, req)
	})

	switch res.Outcome {
	case gateway.OutcomeSuccess:
		if res.Value == nil || res.Value.MessageID == 0 {
			s.metrics.ObservePublish("failed")
			log.Error().Msg(msgNoMessageID)
			return s.MarkFailed(ctx, v, msgNoMessageID)
		}
		s.metrics.ObservePublish("published")
		log.Info().Int64("message_id", res.Value.MessageID).Msg("Variant published")
		return s.MarkPublished(ctx, v, res.Value.MessageID)

	case gateway.OutcomeTransient:
		s.metrics.ObservePublish("retrying")
		log.Warn().Err(res.Err).Str("code", gateway.Code(res.Err)).Int("attempts", res.Attempts).Msg("Transient publish failure")
		if err := setStatus(v, models.VariantStatusPendingPublish); err != nil {
			return err
		}
		v.ErrorMessage = "Retrying: " + gateway.Describe(res.Err)
		setErrorCode(v, res.Err)
		if err := s.save(ctx, v); err != nil {
			return err
		}
		s.recompute(ctx, v.PostID)
		return Retry(res.Err)

	default:
		s.metrics.ObservePublish("failed")
		log.Error().Err(res.Err).Str("code", gateway.Code(res.Err)).Msg("Permanent publish failure")
		return s.markFailedErr(ctx, v, res.Err)
	}
}

// publishGiveUp records the last transient failure once retries run out
func (s *variantService) publishGiveUp(ctx context.Context, task *models.Task, err error) {
	v, getErr := s.variants.GetByID(ctx, task.EntityID)
	if getErr != nil || v == nil || v.Status == models.VariantStatusPublished {
		return
	}
	if ferr := s.markFailedErr(ctx, v, err); ferr != nil {
		s.log.Error().Err(ferr).Str("variant_id", v.ID).Msg("Failed to mark variant failed")
	}
}

// EditRemote pushes the current content to the already published message
func (s *variantService) EditRemote(ctx context.Context, id string) error {
	v, channel, post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if v.RemoteMessageID == nil || v.Status != models.VariantStatusPublished {
		return notReady(msgNotPublished)
	}
	if !channel.Capabilities.CanEdit {
		return notReady(msgNoEditPermission)
	}
	s.ensureHTML(v)

	messageID := *v.RemoteMessageID
	res := gateway.Call(ctx, s.policy, "edit_message", func(ctx context.Context) (bool, error) {
		return s.bot.EditMessage(ctx, channel.TelegramChatID, messageID, v.TextHTML, post.DisableWebPagePreview)
	})

	switch res.Outcome {
	case gateway.OutcomeSuccess:
		v.ErrorMessage = ""
		delete(v.Meta, models.MetaSourceOutdated)
		delete(v.Meta, models.MetaLastErrorCode)
		s.log.Info().Str("variant_id", v.ID).Int64("message_id", messageID).Msg("Remote message edited")
		return s.save(ctx, v)
	case gateway.OutcomeTransient:
		return Retry(res.Err)
	default:
		return s.recordRemoteError(ctx, v, res.Err)
	}
}

// DeleteRemote deletes the published message and returns the variant to draft
func (s *variantService) DeleteRemote(ctx context.Context, id string) error {
	v, channel, _, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if v.RemoteMessageID == nil {
		return notReady(msgNotPublished)
	}
	if !channel.Capabilities.CanDelete {
		return notReady(msgNoDeletePerm)
	}

	messageID := *v.RemoteMessageID
	res := gateway.Call(ctx, s.policy, "delete_message", func(ctx context.Context) (bool, error) {
		return s.bot.DeleteMessage(ctx, channel.TelegramChatID, messageID)
	})

	switch {
	case res.Outcome == gateway.OutcomeTransient:
		return Retry(res.Err)
	case res.Outcome == gateway.OutcomePermanent && gateway.Code(res.Err) != gateway.CodeInvalidMessageID:
		return s.recordRemoteError(ctx, v, res.Err)
	}
	// An unknown message id means the message is already gone

	if err := setStatus(v, models.VariantStatusDraft); err != nil {
		return err
	}
	v.RemoteMessageID = nil
	v.PublishedAt = nil
	v.ErrorMessage = ""
	v.ModifiedAt = time.Now().UTC()
	delete(v.Meta, models.MetaLastErrorCode)
	if err := s.save(ctx, v); err != nil {
		return err
	}
	s.log.Info().Str("variant_id", v.ID).Int64("message_id", messageID).Msg("Remote message deleted")
	s.recompute(ctx, v.PostID)
	return nil
}

// remoteGiveUp records the last failure of an edit or delete task
func (s *variantService) remoteGiveUp(ctx context.Context, task *models.Task, err error) {
	v, getErr := s.variants.GetByID(ctx, task.EntityID)
	if getErr != nil || v == nil {
		return
	}
	if rerr := s.recordRemoteError(ctx, v, err); rerr != nil {
		s.log.Error().Err(rerr).Str("variant_id", v.ID).Msg("Failed to record remote error")
	}
}

// recordRemoteError stores an edit or delete failure; the status is kept
func (s *variantService) recordRemoteError(ctx context.Context, v *models.Variant, err error) error {
	s.log.Error().Err(err).Str("variant_id", v.ID).Str("code", gateway.Code(err)).Msg("Remote message operation failed")
	v.ErrorMessage = gateway.Describe(err)
	setErrorCode(v, err)
	return s.save(ctx, v)
}

// Retry moves a failed variant back into the pipeline
func (s *variantService) Retry(ctx context.Context, id string) (*models.Variant, error) {
	v, err := s.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VariantStatusFailed {
		return nil, fmt.Errorf("%w: only failed variants can be retried (status %s)", ErrInvalidTransition, v.Status)
	}

	next, taskType := models.VariantStatusPendingPublish, models.TaskTypePublishVariant
	if v.SourceType == models.SourceTypeAutoTranslated && !v.HasContent() {
		next, taskType = models.VariantStatusPendingTranslation, models.TaskTypeTranslateVariant
	}

	if err := setStatus(v, next); err != nil {
		return nil, err
	}
	v.ErrorMessage = ""
	v.TranslationRequested = taskType == models.TaskTypeTranslateVariant
	if err := s.save(ctx, v); err != nil {
		return nil, err
	}
	s.recompute(ctx, v.PostID)

	if _, err := s.tasks.Enqueue(ctx, taskType, v.ID, 0); err != nil {
		return nil, err
	}
	return v, nil
}

// MarkFailed records a terminal failure on the variant
func (s *variantService) MarkFailed(ctx context.Context, v *models.Variant, message string) error {
	if err := setStatus(v, models.VariantStatusFailed); err != nil {
		return err
	}
	v.ErrorMessage = message
	if err := s.save(ctx, v); err != nil {
		return err
	}

	s.logFailed(v, message)
	s.recompute(ctx, v.PostID)
	return nil
}

func (s *variantService) logFailed(v *models.Variant, message string) {
	s.log.Warn().
		Str("post_id", v.PostID).
		Str("variant_id", v.ID).
		Str("channel_id", v.ChannelID).
		Str("code", v.Meta[models.MetaLastErrorCode]).
		Str("error", message).
		Msg("Variant failed")
}

func (s *variantService) markFailedErr(ctx context.Context, v *models.Variant, err error) error {
	setErrorCode(v, err)
	return s.MarkFailed(ctx, v, gateway.Describe(err))
}

// MarkPublished records a successful publish
func (s *variantService) MarkPublished(ctx context.Context, v *models.Variant, remoteMessageID int64) error {
	if err := setStatus(v, models.VariantStatusPublished); err != nil {
		return err
	}
	now := time.Now().UTC()
	v.RemoteMessageID = &remoteMessageID
	v.PublishedAt = &now
	v.ErrorMessage = ""
	delete(v.Meta, models.MetaLastErrorCode)
	delete(v.Meta, models.MetaSourceOutdated)
	if err := s.save(ctx, v); err != nil {
		return err
	}
	s.recompute(ctx, v.PostID)
	return nil
}

// load fetches a variant with its channel and post
func (s *variantService) load(ctx context.Context, id string) (*models.Variant, *models.ChannelTarget, *models.Post, error) {
	v, err := s.GetVariant(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	channel, err := s.channels.GetByID(ctx, v.ChannelID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if channel == nil {
		return nil, nil, nil, fmt.Errorf("channel %s: %w", v.ChannelID, ErrNotFound)
	}
	post, err := s.posts.GetByID(ctx, v.PostID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get post: %w", err)
	}
	if post == nil {
		return nil, nil, nil, fmt.Errorf("post %s: %w", v.PostID, ErrNotFound)
	}
	return v, channel, post, nil
}

func (s *variantService) save(ctx context.Context, v *models.Variant) error {
	v.UpdatedAt = time.Now().UTC()
	if err := s.variants.Update(ctx, v); err != nil {
		return fmt.Errorf("failed to update variant: %w", err)
	}
	return nil
}

// recompute refreshes the post aggregate. Failures are logged only; the
// next variant change recomputes again.
func (s *variantService) recompute(ctx context.Context, postID string) {
	if _, err := s.agg.Recompute(ctx, postID); err != nil {
		s.log.Error().Err(err).Str("post_id", postID).Msg("Failed to recompute post status")
	}
}

// resolvePhotoURL makes relative media paths absolute with SITE_URL
func (s *variantService) resolvePhotoURL(photo string) string {
	if photo == "" {
		return ""
	}
	if u, err := url.Parse(photo); err == nil && u.IsAbs() {
		return photo
	}
	if s.siteURL == "" {
		s.log.Warn().Str("photo_url", photo).Msg("SITE_URL not set, sending without photo")
		return ""
	}
	return s.siteURL + "/" + strings.TrimLeft(photo, "/")
}

func setStatus(v *models.Variant, next models.VariantStatus) error {
	if !v.Status.CanTransition(next) {
		return transition(string(v.Status), string(next))
	}
	v.Status = next
	return nil
}

func setErrorCode(v *models.Variant, err error) {
	if code := gateway.Code(err); code != "" {
		v.SetMeta(models.MetaLastErrorCode, code)
	}
}
