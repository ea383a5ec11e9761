package service_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/gateway/botgateway"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroup(t *testing.T) {
	h := newHarness(t)

	group, err := h.svcs.Channels.CreateGroup(h.ctx, &models.CreateGroupRequest{Name: " weekly ", Description: "Weekly digest"})
	require.NoError(t, err)
	assert.Equal(t, "weekly", group.Name)
	assert.True(t, group.IsActive)
	assert.NotEmpty(t, group.ID)

	_, err = h.svcs.Channels.CreateGroup(h.ctx, &models.CreateGroupRequest{Name: "weekly"})
	assert.ErrorIs(t, err, service.ErrDuplicate)

	_, err = h.svcs.Channels.CreateGroup(h.ctx, &models.CreateGroupRequest{Name: "  "})
	var ve *service.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRegisterChannel(t *testing.T) {
	h := newHarness(t)
	const chatID = int64(-1001234567890)
	h.bot.Info[chatID] = &botgateway.ChannelInfo{ChatID: chatID, Title: "Daily DE", Username: "daily_de", MemberCount: 42}
	h.bot.Permissions[chatID] = &botgateway.Permissions{IsMember: true, IsAdmin: true, CanPost: true}

	channel, err := h.svcs.Channels.RegisterChannel(h.ctx, &models.RegisterChannelRequest{
		TelegramChatID: chatID,
		GroupID:        h.group.ID,
		LanguageCode:   "DE",
	})
	require.NoError(t, err)
	assert.Equal(t, "Daily DE", channel.Title)
	assert.Equal(t, "daily_de", channel.Username)
	assert.Equal(t, 42, channel.MemberCount)
	assert.Equal(t, "de", channel.LanguageCode)
	assert.True(t, channel.IsActive)
	assert.Equal(t, models.Capabilities{IsAdmin: true, CanPost: true, CanRead: true}, channel.Capabilities)
	assert.NotNil(t, channel.PermissionsCheckedAt)

	// Registering the same chat again refreshes the existing channel
	again, err := h.svcs.Channels.RegisterChannel(h.ctx, &models.RegisterChannelRequest{
		TelegramChatID: chatID,
		GroupID:        h.group.ID,
		LanguageCode:   "de",
	})
	require.NoError(t, err)
	assert.Equal(t, channel.ID, again.ID)
	assert.Len(t, h.store.Channels.Channels, 1)
}

func TestRegisterChannel_Errors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svcs.Channels.RegisterChannel(h.ctx, &models.RegisterChannelRequest{GroupID: "x"})
		var ve *service.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Len(t, ve.Errors, 2)
	})

	t.Run("unknown group", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svcs.Channels.RegisterChannel(h.ctx, &models.RegisterChannelRequest{TelegramChatID: -1, GroupID: uuid.New().String()})
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("chat rejected by gateway", func(t *testing.T) {
		h := newHarness(t)
		h.bot.InfoErr = gateway.NewError(gateway.ServiceBot, gateway.CodeInvalidChatID, "chat not found", http.StatusBadRequest)
		_, err := h.svcs.Channels.RegisterChannel(h.ctx, &models.RegisterChannelRequest{TelegramChatID: -1, GroupID: h.group.ID})
		assert.ErrorIs(t, err, service.ErrNotReady)
		assert.EqualError(t, err, "[INVALID_CHAT_ID] chat not found")
		assert.Empty(t, h.store.Channels.Channels)
	})

	t.Run("gateway unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.bot.InfoErr = gateway.NewError(gateway.ServiceBot, gateway.CodeTelegramUnavailable, "down", http.StatusServiceUnavailable)
		_, err := h.svcs.Channels.RegisterChannel(h.ctx, &models.RegisterChannelRequest{TelegramChatID: -1, GroupID: h.group.ID})
		assert.ErrorIs(t, err, service.ErrUnavailable)

		var retryErr *service.RetryError
		assert.True(t, errors.As(err, &retryErr))
	})
}

func TestSyncChannel_RefreshesCapabilities(t *testing.T) {
	h := newHarness(t, "en")
	chatID := h.chat("en")
	h.bot.Info[chatID] = &botgateway.ChannelInfo{ChatID: chatID, Title: "Renamed", MemberCount: 7}
	h.bot.Permissions[chatID] = &botgateway.Permissions{IsMember: true, CanPost: false}

	synced, err := h.svcs.Channels.SyncChannel(h.ctx, h.channels["en"].ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", synced.Title)
	assert.False(t, synced.Capabilities.CanPost)

	stored, err := h.svcs.Channels.GetChannel(h.ctx, h.channels["en"].ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)
	assert.Equal(t, 7, stored.MemberCount)
	assert.False(t, stored.Capabilities.CanPost)
	assert.True(t, stored.Capabilities.CanRead)

	// Publishing is now refused up front
	detail := h.createPost(false)
	_, err = h.svcs.Variants.QueuePublish(h.ctx, h.variant(detail.ID, "en").ID)
	assert.ErrorIs(t, err, service.ErrNotReady)
}

func TestGetChannel_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svcs.Channels.GetChannel(h.ctx, uuid.New().String())
	assert.ErrorIs(t, err, service.ErrNotFound)
}
