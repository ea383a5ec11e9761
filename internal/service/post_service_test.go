package service_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/mocks"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePost_FansOutToActiveChannels(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	h.addChannel("es", -1009, false)

	detail := h.createPost(true)
	assert.Len(t, detail.Variants, 3)
	assert.Equal(t, models.PostStatusDraft, detail.Status)
	assert.True(t, detail.AutoTranslate)

	primary := h.variant(detail.ID, "en")
	assert.Equal(t, models.SourceTypePrimary, primary.SourceType)
	assert.Equal(t, models.VariantStatusDraft, primary.Status)
	assert.Equal(t, sourceText, primary.TextMarkdown)
	assert.Contains(t, primary.TextHTML, "<b>world</b>")

	for _, lang := range []string{"de", "fr"} {
		v := h.variant(detail.ID, lang)
		assert.Equal(t, models.SourceTypeAutoTranslated, v.SourceType, lang)
		assert.Equal(t, models.VariantStatusPendingTranslation, v.Status, lang)
		assert.Empty(t, v.TextMarkdown, lang)
		assert.Equal(t, lang, v.LanguageCode)
	}

	assert.Len(t, h.store.Tasks.ByType(models.TaskTypeRequestTranslations, detail.ID), 1)
}

func TestCreatePost_FanOutIsIdempotent(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)

	variants, err := h.svcs.Posts.FanOut(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Len(t, variants, 3)
	assert.Len(t, h.store.Variants.Variants, 3)

	// A new channel joining the group gets its variant on the next fan-out
	h.addChannel("it", -1010, true)
	variants, err = h.svcs.Posts.FanOut(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Len(t, variants, 4)
	assert.Len(t, h.store.Variants.Variants, 4)
}

func TestCreatePost_ManualVariantsWithoutAutoTranslate(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(false)

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.SourceTypeManual, de.SourceType)
	assert.Equal(t, models.VariantStatusDraft, de.Status)
	assert.Empty(t, h.store.Tasks.ByType(models.TaskTypeRequestTranslations))
}

func TestCreatePost_Rejections(t *testing.T) {
	h := newHarness(t, "en", "de")

	t.Run("validation", func(t *testing.T) {
		_, err := h.svcs.Posts.CreatePost(h.ctx, &models.CreatePostRequest{GroupID: "nope"})
		var ve *service.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.NotEmpty(t, ve.Errors)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := h.svcs.Posts.CreatePost(h.ctx, &models.CreatePostRequest{
			GroupID:          uuid.New().String(),
			PrimaryChannelID: h.channels["en"].ID,
			SourceText:       sourceText,
		})
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("primary channel outside group", func(t *testing.T) {
		other := &models.ChannelTarget{ID: uuid.New().String(), GroupID: uuid.New().String(), TelegramChatID: -2000, IsActive: true}
		h.store.Channels.Add(other)

		_, err := h.svcs.Posts.CreatePost(h.ctx, &models.CreatePostRequest{
			GroupID:          h.group.ID,
			PrimaryChannelID: other.ID,
			SourceText:       sourceText,
		})
		assert.ErrorIs(t, err, service.ErrInvalidPrimaryChannel)
	})

	assert.Empty(t, h.store.Posts.Posts)
}

func TestMarkReady(t *testing.T) {
	h := newHarness(t, "en")
	detail := h.createPost(false)

	post, err := h.svcs.Posts.MarkReady(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusReadyForPublish, post.Status)
	assert.Equal(t, models.PostStatusReadyForPublish, h.postStatus(detail.ID))

	_, err = h.svcs.Posts.MarkReady(h.ctx, detail.ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = h.svcs.Posts.MarkReady(h.ctx, uuid.New().String())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestPublishAll_AllChannelsSucceed(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.drain()

	report, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Len(t, report.Queued, 3)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, models.PostStatusPublishing, h.postStatus(detail.ID))

	h.drain()

	keys := make(map[string]bool)
	for _, lang := range []string{"en", "de", "fr"} {
		v := h.variant(detail.ID, lang)
		assert.Equal(t, models.VariantStatusPublished, v.Status, lang)
		require.NotNil(t, v.RemoteMessageID, lang)
		assert.NotNil(t, v.PublishedAt, lang)

		sent := h.bot.SentTo(h.chat(lang))
		require.Len(t, sent, 1, lang)
		assert.Equal(t, "HTML", sent[0].ParseMode)
		assert.Equal(t, v.TextHTML, sent[0].Text)
		keys[sent[0].IdempotencyKey] = true
	}
	assert.Len(t, keys, 3)

	post, err := h.svcs.Posts.GetPost(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.NotNil(t, post.PublishedAt)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.svcs.Metrics.PublishTotal.WithLabelValues("published")))
}

func TestPublishAll_PartialFailureAndRetry(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.drain()

	h.bot.StickySend[h.chat("de")] = gateway.NewError(gateway.ServiceBot, gateway.CodeBotCannotPost, "bot cannot post", http.StatusForbidden)

	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	h.drain()

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusFailed, de.Status)
	assert.Equal(t, "[BOT_CANNOT_POST] bot cannot post", de.ErrorMessage)
	assert.Equal(t, gateway.CodeBotCannotPost, de.Meta[models.MetaLastErrorCode])
	assert.Len(t, h.bot.SentTo(h.chat("de")), 1, "permanent errors are not retried")
	assert.Equal(t, models.PostStatusPartialPublished, h.postStatus(detail.ID))

	delete(h.bot.StickySend, h.chat("de"))
	report, err := h.svcs.Posts.RetryFailed(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{de.ID}, report.Queued)

	h.drain()
	de = h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusPublished, de.Status)
	assert.Empty(t, de.ErrorMessage)
	assert.Empty(t, de.Meta[models.MetaLastErrorCode])
	assert.Equal(t, models.PostStatusPublished, h.postStatus(detail.ID))
}

func TestPublishAll_EveryChannelFails(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	h.drain()

	for _, lang := range []string{"en", "de"} {
		h.bot.StickySend[h.chat(lang)] = gateway.NewError(gateway.ServiceBot, gateway.CodeInvalidChatID, "chat not found", http.StatusBadRequest)
	}

	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	h.drain()

	assert.Equal(t, models.PostStatusFailed, h.postStatus(detail.ID))
}

func TestPublishAll_SkipsChannelsThatCannotPost(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.drain()

	h.setCapabilities("fr", models.Capabilities{IsAdmin: true})
	h.store.Channels.Channels[h.channels["de"].ID].IsActive = false

	report, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)

	en, de, fr := h.variant(detail.ID, "en"), h.variant(detail.ID, "de"), h.variant(detail.ID, "fr")
	assert.Equal(t, []string{en.ID}, report.Queued)
	assert.Equal(t, "Bot does not have posting permissions", report.Skipped[fr.ID])
	assert.Equal(t, "Channel is not active", report.Skipped[de.ID])

	h.drain()
	assert.Equal(t, models.VariantStatusDraft, h.variant(detail.ID, "fr").Status)
	assert.Empty(t, h.bot.SentTo(h.chat("fr")))
}

func TestPublishAll_SkipsPublishedVariants(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	h.drain()

	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	h.drain()

	report, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Queued)
	assert.Len(t, report.Skipped, 2)

	h.drain()
	assert.Len(t, h.bot.Sent, 2)
}

func TestPublishAll_UntranslatedVariantFails(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)

	// Publish before translations arrive: the empty variant is not publishable
	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	_, err = h.svcs.Tasks.RunDue(h.ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusFailed, de.Status)
	assert.Equal(t, "No content to publish", de.ErrorMessage)
}

func TestPublishReady_OnlyDraftsWithContent(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)

	report, err := h.svcs.Posts.PublishReady(h.ctx, detail.ID)
	require.NoError(t, err)
	en := h.variant(detail.ID, "en")
	assert.Equal(t, []string{en.ID}, report.Queued)

	h.drain()
	assert.Equal(t, models.VariantStatusPublished, h.variant(detail.ID, "en").Status)
	assert.Equal(t, models.VariantStatusDraft, h.variant(detail.ID, "de").Status)
	assert.Empty(t, h.bot.SentTo(h.chat("de")))

	// Failed variants are left for an explicit retry
	h.store.Variants.Variants[h.variant(detail.ID, "fr").ID].Status = models.VariantStatusFailed

	report, err = h.svcs.Posts.PublishReady(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{h.variant(detail.ID, "de").ID}, report.Queued)

	h.drain()
	assert.Equal(t, models.VariantStatusPublished, h.variant(detail.ID, "de").Status)
	assert.Equal(t, models.VariantStatusFailed, h.variant(detail.ID, "fr").Status)
	assert.Equal(t, models.PostStatusPartialPublished, h.postStatus(detail.ID))
}

func TestPublish_TransientFailureReusesIdempotencyKey(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	h.drain()

	h.bot.FailSend(h.chat("de"), gateway.NewError(gateway.ServiceBot, gateway.CodeTelegramRateLimit, "slow down", http.StatusTooManyRequests))

	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	_, err = h.svcs.Tasks.RunDue(h.ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusPendingPublish, de.Status)
	assert.Equal(t, "Retrying: [TELEGRAM_RATE_LIMIT] slow down", de.ErrorMessage)
	assert.Equal(t, gateway.CodeTelegramRateLimit, de.Meta[models.MetaLastErrorCode])

	h.drain()

	de = h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusPublished, de.Status)
	sent := h.bot.SentTo(h.chat("de"))
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].IdempotencyKey, sent[1].IdempotencyKey)
	assert.Equal(t, models.PostStatusPublished, h.postStatus(detail.ID))
}

func TestPublish_TransientFailuresExhaustRetries(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.drain()

	h.bot.StickySend[h.chat("de")] = gateway.NewError(gateway.ServiceBot, gateway.CodeTelegramUnavailable, "telegram down", http.StatusServiceUnavailable)

	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	h.drain()

	de := h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusFailed, de.Status)
	assert.Equal(t, "[TELEGRAM_UNAVAILABLE] telegram down", de.ErrorMessage)
	assert.Len(t, h.bot.SentTo(h.chat("de")), h.cfg.Worker.MaxAttempts)

	tasks := h.store.Tasks.ByType(models.TaskTypePublishVariant, de.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, h.cfg.Worker.MaxAttempts, tasks[0].Attempts)

	assert.Equal(t, models.PostStatusPartialPublished, h.postStatus(detail.ID))
}

func TestPublish_MissingMessageID(t *testing.T) {
	h := newHarness(t, "en")
	detail := h.createPost(false)
	h.bot.NoMessageID = true

	_, err := h.svcs.Variants.QueuePublish(h.ctx, h.variant(detail.ID, "en").ID)
	require.NoError(t, err)
	h.drain()

	en := h.variant(detail.ID, "en")
	assert.Equal(t, models.VariantStatusFailed, en.Status)
	assert.Equal(t, "No message ID received from Telegram", en.ErrorMessage)
	assert.Nil(t, en.RemoteMessageID)
	assert.Equal(t, models.PostStatusFailed, h.postStatus(detail.ID))
}

func TestEditPost_PropagatesToVariants(t *testing.T) {
	h := newHarness(t, "en", "de", "fr")
	detail := h.createPost(true)
	h.drain()

	de := h.variant(detail.ID, "de")
	_, err := h.svcs.Variants.QueuePublish(h.ctx, de.ID)
	require.NoError(t, err)
	h.drain()

	const updated = "Updated **text**"
	_, err = h.svcs.Posts.EditPost(h.ctx, detail.ID, &models.EditPostRequest{SourceText: updated})
	require.NoError(t, err)

	en := h.variant(detail.ID, "en")
	assert.Equal(t, updated, en.TextMarkdown)
	assert.Contains(t, en.TextHTML, "<b>text</b>")

	fr := h.variant(detail.ID, "fr")
	assert.Equal(t, models.VariantStatusPendingTranslation, fr.Status)
	assert.Empty(t, fr.TextMarkdown)

	de = h.variant(detail.ID, "de")
	assert.Equal(t, models.VariantStatusPublished, de.Status)
	assert.Equal(t, "true", de.Meta[models.MetaSourceOutdated])
	assert.Equal(t, mocks.Translated("de", sourceText), de.TextMarkdown)

	h.drain()
	fr = h.variant(detail.ID, "fr")
	assert.Equal(t, models.VariantStatusDraft, fr.Status)
	assert.Equal(t, mocks.Translated("fr", updated), fr.TextMarkdown)
	assert.Empty(t, h.bot.Edits, "only the primary message is edited in place")
}

func TestEditPost_EditsPublishedPrimaryMessage(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(true)
	h.drain()
	_, err := h.svcs.Posts.PublishAll(h.ctx, detail.ID)
	require.NoError(t, err)
	h.drain()

	_, err = h.svcs.Posts.EditPost(h.ctx, detail.ID, &models.EditPostRequest{SourceText: "Fixed typo"})
	require.NoError(t, err)
	h.drain()

	en := h.variant(detail.ID, "en")
	assert.Equal(t, "Fixed typo", en.TextMarkdown)
	assert.Equal(t, models.VariantStatusPublished, en.Status)
	require.Len(t, h.bot.Edits, 1)
	assert.Equal(t, *en.RemoteMessageID, h.bot.Edits[0])

	assert.Equal(t, "true", h.variant(detail.ID, "de").Meta[models.MetaSourceOutdated])
}

func TestEditPost_PhotoPropagatesToUnpublishedVariants(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(false)

	_, err := h.svcs.Posts.EditPost(h.ctx, detail.ID, &models.EditPostRequest{
		SourceText: sourceText,
		PhotoURL:   strPtr("/media/cover.jpg"),
	})
	require.NoError(t, err)

	assert.Equal(t, "/media/cover.jpg", h.variant(detail.ID, "de").PhotoURL)

	_, err = h.svcs.Variants.QueuePublish(h.ctx, h.variant(detail.ID, "en").ID)
	require.NoError(t, err)
	h.drain()

	sent := h.bot.SentTo(h.chat("en"))
	require.Len(t, sent, 1)
	assert.Equal(t, "https://example.org/media/cover.jpg", sent[0].PhotoURL)
}

func TestRecomputeAggregate(t *testing.T) {
	h := newHarness(t, "en", "de")
	detail := h.createPost(false)

	status, err := h.svcs.Posts.RecomputeAggregate(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusDraft, status, "converging variants keep the current status")

	for _, lang := range []string{"en", "de"} {
		h.store.Variants.Variants[h.variant(detail.ID, lang).ID].Status = models.VariantStatusPublished
	}
	status, err = h.svcs.Posts.RecomputeAggregate(h.ctx, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, status)
	assert.Equal(t, models.PostStatusPublished, h.postStatus(detail.ID))
}
