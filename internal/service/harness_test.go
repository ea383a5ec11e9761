package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/mocks"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const sourceText = "Hello **world**"

type harness struct {
	t        *testing.T
	ctx      context.Context
	cfg      *config.Config
	svcs     *service.Services
	store    *mocks.Store
	bot      *mocks.MockBotGateway
	tr       *mocks.MockTranslator
	group    *models.ChannelGroup
	channels map[string]*models.ChannelTarget
}

func testConfig() *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{
			Concurrency:    4,
			PollInterval:   5 * time.Millisecond,
			MaxAttempts:    3,
			RetryBaseDelay: time.Millisecond,
			RetryMaxDelay:  5 * time.Millisecond,
		},
		Retry: config.RetryConfig{
			MaxRetries: 0,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
		Translation: config.TranslationConfig{
			BatchEnabled: true,
			MaxFailures:  3,
		},
		Schedule: config.ScheduleConfig{
			PendingTranslations: "*/2 * * * *",
			VerifyPermissions:   "0 * * * *",
			RecoverTasks:        "*/5 * * * *",
			ScheduledPosts:      "* * * * *",
		},
		Site: config.SiteConfig{URL: "https://example.org"},
	}
}

// newHarness builds services over in-memory repositories with one active
// channel per language. The first language is the primary one.
func newHarness(t *testing.T, languages ...string) *harness {
	return newHarnessWithConfig(t, testConfig(), languages...)
}

func newHarnessWithConfig(t *testing.T, cfg *config.Config, languages ...string) *harness {
	t.Helper()

	repos, store := mocks.NewRepositories()
	bot := mocks.NewMockBotGateway()
	tr := mocks.NewMockTranslator()
	m := metrics.New(prometheus.NewRegistry())

	svcs := service.NewServices(repos, service.Gateways{Bot: bot, Translator: tr}, m, cfg, zerolog.Nop())

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		cfg:      cfg,
		svcs:     svcs,
		store:    store,
		bot:      bot,
		tr:       tr,
		channels: make(map[string]*models.ChannelTarget),
	}

	h.group = &models.ChannelGroup{ID: uuid.New().String(), Name: "news", IsActive: true}
	require.NoError(t, store.Channels.CreateGroup(h.ctx, h.group))

	for i, lang := range languages {
		h.addChannel(lang, int64(-1001000000000-i), true)
	}
	return h
}

func (h *harness) addChannel(lang string, chatID int64, active bool) *models.ChannelTarget {
	c := &models.ChannelTarget{
		ID:             uuid.New().String(),
		GroupID:        h.group.ID,
		TelegramChatID: chatID,
		Title:          "Channel " + lang,
		LanguageCode:   lang,
		IsActive:       active,
		Capabilities: models.Capabilities{
			IsAdmin: true, CanPost: true, CanEdit: true, CanDelete: true, CanRead: true,
		},
		CreatedAt: time.Now(),
	}
	h.store.Channels.Add(c)
	if active {
		h.channels[lang] = c
	}
	return c
}

func (h *harness) setCapabilities(lang string, caps models.Capabilities) {
	c := h.channels[lang]
	require.NoError(h.t, h.store.Channels.UpdateCapabilities(h.ctx, c.ID, caps, time.Now()))
}

func (h *harness) createPost(autoTranslate bool) *models.PostDetail {
	h.t.Helper()
	detail, err := h.svcs.Posts.CreatePost(h.ctx, &models.CreatePostRequest{
		GroupID:          h.group.ID,
		InternalTitle:    "launch",
		PrimaryChannelID: h.channels["en"].ID,
		SourceText:       sourceText,
		AutoTranslate:    &autoTranslate,
	})
	require.NoError(h.t, err)
	return detail
}

// drain runs due tasks until the queue settles
func (h *harness) drain() {
	h.t.Helper()
	for i := 0; i < 50; i++ {
		n, err := h.svcs.Tasks.RunDue(h.ctx, time.Now().Add(time.Hour))
		require.NoError(h.t, err)
		if n == 0 {
			return
		}
	}
	h.t.Fatal("task queue did not settle")
}

func (h *harness) variant(postID, lang string) *models.Variant {
	h.t.Helper()
	v := h.store.Variants.ByChannel(postID, h.channels[lang].ID)
	require.NotNil(h.t, v, "variant for %s", lang)
	return v
}

func (h *harness) postStatus(postID string) models.PostStatus {
	return h.store.Posts.Status(postID)
}

func (h *harness) chat(lang string) int64 {
	return h.channels[lang].TelegramChatID
}

func strPtr(s string) *string {
	return &s
}
