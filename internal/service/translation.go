package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/gateway/translation"
	"github.com/multichannel-posting-api/internal/models"
)

// TranslationReport summarises one translation round for a post
type TranslationReport struct {
	PostID     string            `json:"post_id"`
	Translated []string          `json:"translated"`
	Copied     []string          `json:"copied"`
	Deferred   []string          `json:"deferred"`
	// Skipped lists variants edited or moved on while the call was in flight
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func newTranslationReport(postID string) *TranslationReport {
	return &TranslationReport{
		PostID:     postID,
		Translated: []string{},
		Copied:     []string{},
		Deferred:   []string{},
		Skipped:    []string{},
		Failed:     map[string]string{},
	}
}

// RequestTranslations translates every pending auto-translated variant of a
// post. Variants sharing a target language share one batch entry; when the
// batch endpoint refuses the request each variant is translated on its own.
func (s *postService) RequestTranslations(ctx context.Context, postID string) (report *TranslationReport, err error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	sourceLanguage, err := s.sourceLanguage(ctx, post)
	if err != nil {
		return nil, err
	}

	pending, err := s.variantRepo.ListByPostAndStatuses(ctx, postID, []models.VariantStatus{models.VariantStatusPendingTranslation})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending variants: %w", err)
	}

	log := s.log.With().Str("post_id", postID).Logger()
	report = newTranslationReport(postID)
	byLanguage := make(map[string][]*models.Variant)

	// Any exit other than a retry releases the requested variants; a
	// retried task still owns them.
	var requested []*models.Variant
	defer func() {
		var retry *RetryError
		if err == nil || errors.As(err, &retry) {
			return
		}
		for _, v := range requested {
			s.variants.releaseTranslationRequest(ctx, v)
		}
	}()

	for _, v := range pending {
		if v.SourceType != models.SourceTypeAutoTranslated || v.ManuallyEdited {
			continue
		}

		if sourceLanguage != "" && models.SameLanguage(sourceLanguage, v.LanguageCode) {
			if err := s.variants.ApplyTranslation(ctx, post, sourceLanguage, v, post.SourceText); err != nil {
				report.record(v, err)
				continue
			}
			s.metrics.ObserveTranslation("copy", "translated")
			report.Copied = append(report.Copied, v.ID)
			continue
		}

		if err := s.variants.checkTranslatable(ctx, post, sourceLanguage, v); err != nil {
			if errors.Is(err, ErrNoSourceText) || errors.Is(err, ErrLanguageMissing) {
				report.Failed[v.ID] = v.ErrorMessage
				continue
			}
			if errors.Is(err, ErrTranslationSuperseded) {
				report.Skipped = append(report.Skipped, v.ID)
				continue
			}
			return nil, err
		}

		v.TranslationRequested = true
		if err := s.variants.saveTranslation(ctx, v, v.Status); err != nil {
			if errors.Is(err, ErrTranslationSuperseded) {
				report.Skipped = append(report.Skipped, v.ID)
				continue
			}
			return nil, err
		}
		requested = append(requested, v)
		lang := strings.ToLower(strings.TrimSpace(v.LanguageCode))
		byLanguage[lang] = append(byLanguage[lang], v)
	}

	if len(byLanguage) == 0 {
		return report, nil
	}

	if !s.cfg.BatchEnabled {
		if err := s.deferIndividually(ctx, byLanguage, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	targets := make([]string, 0, len(byLanguage))
	for lang := range byLanguage {
		targets = append(targets, lang)
	}
	sort.Strings(targets)

	res := gateway.Call(ctx, s.policy, "batch_translate", func(ctx context.Context) (map[string]string, error) {
		return s.translator.BatchTranslate(ctx, post.SourceText, sourceLanguage, targets)
	})

	switch res.Outcome {
	case gateway.OutcomeTransient:
		s.metrics.ObserveTranslation("batch", "retrying")
		log.Warn().Err(res.Err).Strs("languages", targets).Msg("Batch translation unavailable, will retry")
		return nil, Retry(res.Err)

	case gateway.OutcomePermanent:
		s.metrics.ObserveTranslation("batch", "fallback")
		log.Warn().Err(res.Err).Str("code", gateway.Code(res.Err)).Msg("Batch translation rejected, translating individually")
		if err := s.deferIndividually(ctx, byLanguage, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	for _, lang := range targets {
		text := strings.TrimSpace(res.Value[lang])
		for _, v := range byLanguage[lang] {
			if text == "" {
				err := s.variants.failTranslation(ctx, v, fmt.Sprintf("Translation to %s failed", lang))
				switch {
				case errors.Is(err, ErrTranslationSuperseded):
					report.Skipped = append(report.Skipped, v.ID)
				case err != nil:
					return nil, err
				default:
					report.Failed[v.ID] = v.ErrorMessage
				}
				continue
			}
			if err := s.variants.ApplyTranslation(ctx, post, sourceLanguage, v, res.Value[lang]); err != nil {
				report.record(v, err)
				continue
			}
			s.metrics.ObserveTranslation("batch", "translated")
			report.Translated = append(report.Translated, v.ID)
		}
	}

	log.Info().
		Int("translated", len(report.Translated)).
		Int("copied", len(report.Copied)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("Translations applied")
	return report, nil
}

// record notes a variant whose translation could not be applied. A variant
// left requested after a failed write is picked up again by the sweep.
func (r *TranslationReport) record(v *models.Variant, err error) {
	if errors.Is(err, ErrTranslationSuperseded) {
		r.Skipped = append(r.Skipped, v.ID)
		return
	}
	r.Failed[v.ID] = err.Error()
}

// deferIndividually queues one translate task per variant
func (s *postService) deferIndividually(ctx context.Context, byLanguage map[string][]*models.Variant, report *TranslationReport) error {
	for _, group := range byLanguage {
		for _, v := range group {
			if _, err := s.tasks.Enqueue(ctx, models.TaskTypeTranslateVariant, v.ID, 0); err != nil {
				return err
			}
			report.Deferred = append(report.Deferred, v.ID)
		}
	}
	sort.Strings(report.Deferred)
	return nil
}

// translationBatchGiveUp falls back to per-variant translation once the
// batch task has used up its retries
func (s *postService) translationBatchGiveUp(ctx context.Context, task *models.Task, err error) {
	pending, lerr := s.variantRepo.ListByPostAndStatuses(ctx, task.EntityID, []models.VariantStatus{models.VariantStatusPendingTranslation})
	if lerr != nil {
		s.log.Error().Err(lerr).Str("post_id", task.EntityID).Msg("Failed to list pending variants")
		return
	}

	s.log.Warn().Err(err).Str("post_id", task.EntityID).Msg("Batch translation gave up, translating individually")
	for _, v := range pending {
		if v.SourceType != models.SourceTypeAutoTranslated || v.ManuallyEdited {
			continue
		}
		if _, qerr := s.tasks.Enqueue(ctx, models.TaskTypeTranslateVariant, v.ID, 0); qerr != nil {
			s.log.Error().Err(qerr).Str("variant_id", v.ID).Msg("Failed to enqueue variant translation")
		}
	}
}

// TranslateVariant translates a single variant from the post source text
func (s *postService) TranslateVariant(ctx context.Context, variantID string) error {
	v, err := s.variants.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	if v.IsPrimary() {
		return ErrCannotTranslatePrimary
	}

	log := s.log.With().Str("post_id", v.PostID).Str("variant_id", v.ID).Str("language", v.LanguageCode).Logger()

	if v.ManuallyEdited || v.Status != models.VariantStatusPendingTranslation {
		log.Info().Str("status", string(v.Status)).Bool("manually_edited", v.ManuallyEdited).Msg("Variant no longer awaits translation, skipping")
		return nil
	}

	post, err := s.getPost(ctx, v.PostID)
	if err != nil {
		return err
	}
	sourceLanguage, err := s.sourceLanguage(ctx, post)
	if err != nil {
		return err
	}

	if sourceLanguage != "" && models.SameLanguage(sourceLanguage, v.LanguageCode) {
		if err := s.variants.ApplyTranslation(ctx, post, sourceLanguage, v, post.SourceText); err != nil {
			return ignoreSuperseded(err)
		}
		s.metrics.ObserveTranslation("copy", "translated")
		return nil
	}
	if err := s.variants.checkTranslatable(ctx, post, sourceLanguage, v); err != nil {
		return ignoreSuperseded(err)
	}

	req := translation.TranslateRequest{
		Text:               post.SourceText,
		SourceLanguage:     sourceLanguage,
		TargetLanguage:     v.LanguageCode,
		PreserveFormatting: true,
	}
	res := gateway.Call(ctx, s.policy, "translate", func(ctx context.Context) (*translation.Translation, error) {
		return s.translator.Translate(ctx, req)
	})

	switch res.Outcome {
	case gateway.OutcomeSuccess:
		if len(res.Value.Warnings) > 0 {
			log.Warn().Strs("warnings", res.Value.Warnings).Msg("Translation returned warnings")
		}
		if err := s.variants.ApplyTranslation(ctx, post, sourceLanguage, v, res.Value.Text); err != nil {
			return ignoreSuperseded(err)
		}
		s.metrics.ObserveTranslation("single", "translated")
		log.Info().Int("tokens_used", res.Value.TokensUsed).Msg("Variant translated")
		return nil

	case gateway.OutcomeTransient:
		s.metrics.ObserveTranslation("single", "retrying")
		log.Warn().Err(res.Err).Msg("Translation unavailable, will retry")
		return Retry(res.Err)

	default:
		log.Error().Err(res.Err).Str("code", gateway.Code(res.Err)).Msg("Translation failed")
		setErrorCode(v, res.Err)
		return ignoreSuperseded(s.variants.failTranslation(ctx, v, gateway.Describe(res.Err)))
	}
}

func ignoreSuperseded(err error) error {
	if errors.Is(err, ErrTranslationSuperseded) {
		return nil
	}
	return err
}

// translationGiveUp fails a variant whose translation kept failing transiently
func (s *postService) translationGiveUp(ctx context.Context, task *models.Task, err error) {
	v, getErr := s.variantRepo.GetByID(ctx, task.EntityID)
	if getErr != nil || v == nil || v.Status != models.VariantStatusPendingTranslation {
		return
	}
	setErrorCode(v, err)
	if ferr := ignoreSuperseded(s.variants.failTranslation(ctx, v, gateway.Describe(err))); ferr != nil {
		s.log.Error().Err(ferr).Str("variant_id", v.ID).Msg("Failed to mark translation failed")
	}
}

// RequestVariantTranslation re-arms automatic translation for one variant,
// discarding a manual edit, and queues it
func (s *postService) RequestVariantTranslation(ctx context.Context, variantID string) (*models.Task, error) {
	v, err := s.variants.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if v.IsPrimary() {
		return nil, ErrCannotTranslatePrimary
	}
	if v.Status == models.VariantStatusPublished || v.Status == models.VariantStatusPublishing {
		return nil, transition(string(v.Status), string(models.VariantStatusPendingTranslation))
	}

	previous := v.Status
	if err := setStatus(v, models.VariantStatusPendingTranslation); err != nil {
		return nil, err
	}
	v.ManuallyEdited = false
	v.SourceType = models.SourceTypeAutoTranslated
	v.TranslationFailures = 0
	v.TranslationRequested = true
	v.ErrorMessage = ""
	if err := s.variants.save(ctx, v); err != nil {
		return nil, err
	}
	if previous != v.Status {
		s.variants.recompute(ctx, v.PostID)
	}

	return s.tasks.Enqueue(ctx, models.TaskTypeTranslateVariant, v.ID, 0)
}
