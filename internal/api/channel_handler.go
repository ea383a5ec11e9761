package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/rs/zerolog"
)

// ChannelHandler handles channel group and channel endpoints
type ChannelHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewChannelHandler creates a new ChannelHandler
func NewChannelHandler(services *service.Services, log zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{
		services: services,
		log:      log.With().Str("handler", "channel").Logger(),
	}
}

// CreateGroup handles POST /v1/groups
func (h *ChannelHandler) CreateGroup(c *gin.Context) {
	var req models.CreateGroupRequest
	if !bindJSON(c, &req) {
		return
	}

	group, err := h.services.Channels.CreateGroup(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// RegisterChannel handles POST /v1/channels
// Channel details and bot permissions are read through the bot gateway
func (h *ChannelHandler) RegisterChannel(c *gin.Context) {
	var req models.RegisterChannelRequest
	if !bindJSON(c, &req) {
		return
	}

	channel, err := h.services.Channels.RegisterChannel(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("channel_id", channel.ID).
		Int64("chat_id", channel.TelegramChatID).
		Bool("can_post", channel.Capabilities.CanPost).
		Msg("Channel registered")
	c.JSON(http.StatusCreated, channel)
}

// GetChannel handles GET /v1/channels/:channel_id
func (h *ChannelHandler) GetChannel(c *gin.Context) {
	channel, err := h.services.Channels.GetChannel(c.Request.Context(), c.Param("channel_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

// SyncChannel handles POST /v1/channels/:channel_id/sync
func (h *ChannelHandler) SyncChannel(c *gin.Context) {
	channel, err := h.services.Channels.SyncChannel(c.Request.Context(), c.Param("channel_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}
