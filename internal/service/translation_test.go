package service_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/mocks"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTranslations_Batch(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.drain()

	require.Len(t, h.tr.BatchCalls, 1)
	assert.Equal(t, []string{"de", "fr"}, h.tr.BatchCalls[0])
	assert.Empty(t, h.tr.Calls)

	for _, lang := range []string{"de", "fr"} {
		v := h.variant(detail.ID, lang)
		assert.Equal(t, models.VariantStatusDraft, v.Status, lang)
		assert.Equal(t, mocks.Translated(lang, sourceText), v.TextMarkdown)
		assert.NotEmpty(t, v.TextHTML)
		assert.NotNil(t, v.TranslationReceivedAt)
		assert.False(t, v.TranslationRequested)
	}
}

func TestRequestTranslations_SameLanguageIsCopied(t *testing.T) {
	h := newHarness(t, "en", "de", "EN")
	detail := h.createPost(true)

	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)

	second := h.variant(detail.ID, "EN")
	assert.Equal(t, []string{second.ID}, report.Copied)
	assert.Equal(t, []string{h.variant(detail.ID, "de").ID}, report.Translated)
	assert.Equal(t, sourceText, second.TextMarkdown)
	assert.Equal(t, models.VariantStatusDraft, second.Status)

	require.Len(t, h.tr.BatchCalls, 1)
	assert.Equal(t, []string{"de"}, h.tr.BatchCalls[0])
}

func TestRequestTranslations_MissingLanguageInBatch(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.tr.BatchResult = map[string]string{"de": "Hallo **Welt**", "fr": "  "}

	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)

	de, fr := h.variant(detail.ID, "de"), h.variant(detail.ID, "fr")
	assert.Equal(t, []string{de.ID}, report.Translated)
	assert.Equal(t, "Translation to fr failed", report.Failed[fr.ID])

	assert.Equal(t, "Hallo **Welt**", de.TextMarkdown)
	assert.Equal(t, models.VariantStatusFailed, fr.Status)
	assert.Equal(t, "Translation to fr failed", fr.ErrorMessage)
	assert.Equal(t, 1, fr.TranslationFailures)
	assert.False(t, fr.TranslationRequested)
}

func TestRequestTranslations_BatchRejectedFallsBackToSingle(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.tr.BatchErr = gateway.NewError(gateway.ServiceTranslation, gateway.CodeValidation, "batch too large", http.StatusBadRequest)

	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Len(t, report.Deferred, 2)
	assert.Len(t, h.store.Tasks.ByType(models.TaskTypeTranslateVariant), 2)

	h.drain()

	require.Len(t, h.tr.Calls, 2)
	for _, call := range h.tr.Calls {
		assert.True(t, call.PreserveFormatting)
		assert.Equal(t, "en", call.SourceLanguage)
		assert.Equal(t, sourceText, call.Text)
	}
	for _, lang := range []string{"de", "fr"} {
		v := h.variant(detail.ID, lang)
		assert.Equal(t, models.VariantStatusDraft, v.Status)
		assert.Equal(t, mocks.Translated(lang, sourceText), v.TextMarkdown)
	}
}

func TestRequestTranslations_BatchUnavailableGivesUpToSingle(t *testing.T) {
	h := newHarness(t, "en", "de")
	h.tr.BatchErr = gateway.NewError(gateway.ServiceTranslation, gateway.CodeLLMUnavailable, "model offline", http.StatusServiceUnavailable)

	detail := h.createPost(true)
	h.drain()

	assert.Len(t, h.tr.BatchCalls, h.cfg.Worker.MaxAttempts)
	require.Len(t, h.tr.Calls, 1)

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusDraft, de.Status)
	assert.Equal(t, mocks.Translated("de", sourceText), de.TextMarkdown)

	tasks := h.store.Tasks.ByType(models.TaskTypeRequestTranslations, detail.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
}

func TestTranslateVariant_PermanentErrorFailsVariant(t *testing.T) {
	cfg := testConfig()
	cfg.Translation.BatchEnabled = false
	h := newHarnessWithConfig(t, cfg, "en", "de", "fr")
	h.tr.Errors["fr"] = gateway.NewError(gateway.ServiceTranslation, gateway.CodeLanguageUnknown, "fr is not supported", http.StatusBadRequest)

	detail := h.createPost(true)
	h.drain()

	assert.Empty(t, h.tr.BatchCalls)

	fr := h.variant(detail.ID, "fr")
	assert.Equal(t, models.VariantStatusFailed, fr.Status)
	assert.Equal(t, "[UNSUPPORTED_LANGUAGE] fr is not supported", fr.ErrorMessage)
	assert.Equal(t, 1, fr.TranslationFailures)
	assert.Equal(t, gateway.CodeLanguageUnknown, fr.Meta[models.MetaLastErrorCode])

	assert.Equal(t, models.VariantStatusDraft, h.variant(detail.ID, "de").Status)
}

func TestTranslation_SkipsManuallyEditedVariant(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)

	de := h.variant(detail.ID, "de")
	edited, err := h.svcs.Variants.EditVariant(h.ctx, de.ID, &models.EditVariantRequest{TextMarkdown: strPtr("Handgeschrieben")})
	require.NoError(t, err)
	assert.True(t, edited.ManuallyEdited)
	assert.Equal(t, models.VariantStatusDraft, edited.Status)

	h.drain()

	require.Len(t, h.tr.BatchCalls, 1)
	assert.Equal(t, []string{"fr"}, h.tr.BatchCalls[0])
	assert.Equal(t, "Handgeschrieben", h.variant(detail.ID, "de").TextMarkdown)

	// A direct task for the edited variant is a no-op too
	require.NoError(t, h.svcs.Posts.TranslateVariant(h.ctx, de.ID))
	assert.Equal(t, "Handgeschrieben", h.variant(detail.ID, "de").TextMarkdown)
	assert.Empty(t, h.tr.Calls)
}

func TestRequestVariantTranslation_RearmsEditedVariant(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	h.drain()

	de := h.variant(detail.ID, "de")
	_, err := h.svcs.Variants.EditVariant(h.ctx, de.ID, &models.EditVariantRequest{TextMarkdown: strPtr("Handgeschrieben")})
	require.NoError(t, err)

	task, err := h.svcs.Posts.RequestVariantTranslation(h.ctx, de.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskTypeTranslateVariant, task.Type)
	assert.Equal(t, de.ID, task.EntityID)

	de = h.variant(detail.ID, "de")
	assert.False(t, de.ManuallyEdited)
	assert.Equal(t, models.VariantStatusPendingTranslation, de.Status)

	h.drain()
	de = h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusDraft, de.Status)
	assert.Equal(t, mocks.Translated("de", sourceText), de.TextMarkdown)
}

func TestTranslation_PrimaryVariantIsNeverTranslated(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	en := h.variant(detail.ID, "en")

	assert.ErrorIs(t, h.svcs.Posts.TranslateVariant(h.ctx, en.ID), service.ErrCannotTranslatePrimary)
	_, err := h.svcs.Posts.RequestVariantTranslation(h.ctx, en.ID)
	assert.ErrorIs(t, err, service.ErrCannotTranslatePrimary)
}

func TestRequestVariantTranslation_PublishedVariant(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	h.drain()
	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	h.drain()

	_, err = h.svcs.Posts.RequestVariantTranslation(h.ctx, h.variant(detail.ID, "de").ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestRequestTranslations_SourceLanguageMissing(t *testing.T) {
	h := newHarness(t, "en", "de")
	h.store.Channels.Channels[h.channels["en"].ID].LanguageCode = ""

	detail := h.createPost(true)
	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)

	de := h.variant(detail.ID, "de")
	assert.Equal(t, "Source channel has no language set", report.Failed[de.ID])
	assert.Equal(t, models.VariantStatusDraft, de.Status)
	assert.Equal(t, "Source channel has no language set", de.ErrorMessage)
	assert.False(t, de.TranslationRequested)
	assert.Empty(t, h.tr.BatchCalls)
}

func TestRequestTranslations_OnlyMissingLanguageFails(t *testing.T) {
	h := newHarness(t, "en", "ru", "de", "fr")
	detail := h.createPost(true)
	h.tr.BatchResult = map[string]string{"ru": "Привет", "fr": "Bonjour"}

	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)
	require.Len(t, h.tr.BatchCalls, 1)
	assert.Equal(t, []string{"de", "fr", "ru"}, h.tr.BatchCalls[0])

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusFailed, de.Status)
	assert.Equal(t, "Translation to de failed", de.ErrorMessage)
	assert.Equal(t, map[string]string{de.ID: "Translation to de failed"}, report.Failed)

	assert.Equal(t, "Привет", h.variant(detail.ID, "ru").TextMarkdown)
	assert.Equal(t, "Bonjour", h.variant(detail.ID, "fr").TextMarkdown)
	for _, lang := range []string{"ru", "fr"} {
		assert.Equal(t, models.VariantStatusDraft, h.variant(detail.ID, lang).Status, lang)
	}
}

func TestRequestTranslations_EditDuringBatchIsKept(t *testing.T) {
	h := newHarness(t, "en", "ru")
	detail := h.createPost(true)
	ru := h.variant(detail.ID, "ru")

	h.tr.OnCall = func() {
		_, err := h.svcs.Variants.EditVariant(h.ctx, ru.ID, &models.EditVariantRequest{TextMarkdown: strPtr("Operator wording")})
		assert.NoError(t, err)
	}

	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ru.ID}, report.Skipped)
	assert.Empty(t, report.Translated)

	got := h.variant(detail.ID, "ru")
	assert.Equal(t, "Operator wording", got.TextMarkdown)
	assert.True(t, got.ManuallyEdited)
	assert.Equal(t, models.VariantStatusDraft, got.Status)
}

func TestRequestTranslations_MissingLanguageAfterEditIsKept(t *testing.T) {
	h := newHarness(t, "en", "ru")
	detail := h.createPost(true)
	ru := h.variant(detail.ID, "ru")

	h.tr.BatchResult = map[string]string{}
	h.tr.OnCall = func() {
		_, err := h.svcs.Variants.EditVariant(h.ctx, ru.ID, &models.EditVariantRequest{TextMarkdown: strPtr("Operator wording")})
		assert.NoError(t, err)
	}

	report, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ru.ID}, report.Skipped)
	assert.Empty(t, report.Failed)

	got := h.variant(detail.ID, "ru")
	assert.Equal(t, models.VariantStatusDraft, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Zero(t, got.TranslationFailures)
}

func TestTranslateVariant_EditDuringCallIsKept(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	de := h.variant(detail.ID, "de")

	h.tr.OnCall = func() {
		_, err := h.svcs.Variants.EditVariant(h.ctx, de.ID, &models.EditVariantRequest{TextMarkdown: strPtr("Handgeschrieben")})
		assert.NoError(t, err)
	}

	require.NoError(t, h.svcs.Posts.TranslateVariant(h.ctx, de.ID))
	require.Len(t, h.tr.Calls, 1)

	got := h.variant(detail.ID, "de")
	assert.Equal(t, "Handgeschrieben", got.TextMarkdown)
	assert.True(t, got.ManuallyEdited)
}

func TestRequestTranslations_FailedWriteIsPickedUpBySweep(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)

	h.store.Variants.UpdateHook = func(v *models.Variant) error {
		if v.TranslationReceivedAt != nil {
			return errors.New("connection reset by peer")
		}
		return nil
	}
	h.drain()

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusPendingTranslation, de.Status)
	assert.True(t, de.TranslationRequested)

	h.store.Variants.UpdateHook = nil
	h.svcs.Scheduler.RunAll(h.ctx)
	assert.Len(t, h.store.Tasks.ByType(models.TaskTypeRequestTranslations, detail.ID), 2)

	h.drain()
	de = h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusDraft, de.Status)
	assert.Equal(t, mocks.Translated("de", sourceText), de.TextMarkdown)
}

func TestRequestTranslations_ErrorReleasesRequestedVariants(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.tr.BatchErr = gateway.NewError(gateway.ServiceTranslation, gateway.CodeValidation, "batch too large", http.StatusBadRequest)
	h.store.Tasks.Err = errors.New("queue unavailable")

	_, err := h.svcs.Posts.RequestTranslations(h.ctx, detail.ID)
	require.Error(t, err)

	for _, lang := range []string{"de", "fr"} {
		v := h.variant(detail.ID, lang)
		assert.Equal(t, models.VariantStatusPendingTranslation, v.Status, lang)
		assert.False(t, v.TranslationRequested, lang)
	}

	h.store.Tasks.Err = nil
	ids, err := h.store.Posts.ListWithPendingTranslations(h.ctx, h.cfg.Translation.MaxFailures)
	require.NoError(t, err)
	assert.Contains(t, ids, detail.ID)
}
