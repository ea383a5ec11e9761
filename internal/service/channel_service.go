package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/gateway"
	"github.com/multichannel-posting-api/internal/gateway/botgateway"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/multichannel-posting-api/internal/validation"
	"github.com/rs/zerolog"
)

// channelService is the concrete implementation of ChannelService
type channelService struct {
	channels  repository.ChannelRepository
	bot       ChannelGateway
	policy    *gateway.Policy
	validator *validation.Validator
	log       zerolog.Logger
}

func newChannelService(channels repository.ChannelRepository, bot ChannelGateway, policy *gateway.Policy, log zerolog.Logger) *channelService {
	return &channelService{
		channels:  channels,
		bot:       bot,
		policy:    policy,
		validator: validation.NewValidator(),
		log:       log.With().Str("service", "channel").Logger(),
	}
}

// CreateGroup creates a named channel group
func (s *channelService) CreateGroup(ctx context.Context, req *models.CreateGroupRequest) (*models.ChannelGroup, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Errors: []validation.ValidationError{
			{Field: "name", Message: "name is required"},
		}}
	}

	now := time.Now().UTC()
	group := &models.ChannelGroup{
		ID:          uuid.New().String(),
		Name:        name,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.channels.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("channel group %q: %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create channel group: %w", err)
	}

	s.log.Info().Str("group_id", group.ID).Str("name", name).Msg("Channel group created")
	return group, nil
}

// RegisterChannel adds a channel to a group, filling title and bot rights
// from the gateway. Registering a known chat id again refreshes it.
func (s *channelService) RegisterChannel(ctx context.Context, req *models.RegisterChannelRequest) (*models.ChannelTarget, error) {
	if errs := s.validator.ValidateChannel(req.TelegramChatID, req.GroupID, req.LanguageCode); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	group, err := s.channels.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel group: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("channel group %s: %w", req.GroupID, ErrNotFound)
	}

	info, err := s.fetchInfo(ctx, req.TelegramChatID)
	if err != nil {
		return nil, err
	}
	perms, err := s.fetchPermissions(ctx, req.TelegramChatID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	channel := &models.ChannelTarget{
		ID:                   uuid.New().String(),
		GroupID:              group.ID,
		TelegramChatID:       req.TelegramChatID,
		Title:                info.Title,
		Username:             info.Username,
		LanguageCode:         strings.ToLower(strings.TrimSpace(req.LanguageCode)),
		IsActive:             true,
		Capabilities:         capabilities(perms),
		MemberCount:          info.MemberCount,
		PermissionsCheckedAt: &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.channels.Upsert(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to save channel: %w", err)
	}

	s.log.Info().
		Str("channel_id", channel.ID).
		Int64("chat_id", channel.TelegramChatID).
		Str("language", channel.LanguageCode).
		Bool("can_post", channel.Capabilities.CanPost).
		Msg("Channel registered")
	return channel, nil
}

// GetChannel retrieves a channel by ID
func (s *channelService) GetChannel(ctx context.Context, id string) (*models.ChannelTarget, error) {
	channel, err := s.channels.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if channel == nil {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return channel, nil
}

// SyncChannel refreshes title, member count and bot rights from the gateway
func (s *channelService) SyncChannel(ctx context.Context, id string) (*models.ChannelTarget, error) {
	channel, err := s.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := s.fetchInfo(ctx, channel.TelegramChatID)
	if err != nil {
		return nil, err
	}
	perms, err := s.fetchPermissions(ctx, channel.TelegramChatID)
	if err != nil {
		return nil, err
	}

	title := info.Title
	if title == "" {
		title = channel.Title
	}
	if err := s.channels.UpdateInfo(ctx, channel.ID, title, info.MemberCount); err != nil {
		return nil, fmt.Errorf("failed to update channel info: %w", err)
	}

	now := time.Now().UTC()
	caps := capabilities(perms)
	if err := s.channels.UpdateCapabilities(ctx, channel.ID, caps, now); err != nil {
		return nil, fmt.Errorf("failed to update channel capabilities: %w", err)
	}

	if caps != channel.Capabilities {
		s.log.Warn().
			Str("channel_id", channel.ID).
			Interface("before", channel.Capabilities).
			Interface("after", caps).
			Msg("Bot permissions changed")
	}

	channel.Title = title
	channel.MemberCount = info.MemberCount
	channel.Capabilities = caps
	channel.PermissionsCheckedAt = &now
	return channel, nil
}

func (s *channelService) fetchInfo(ctx context.Context, chatID int64) (*botgateway.ChannelInfo, error) {
	res := gateway.Call(ctx, s.policy, "get_channel_info", func(ctx context.Context) (*botgateway.ChannelInfo, error) {
		return s.bot.GetChannelInfo(ctx, chatID)
	})
	if err := gatewayFailure(res.Outcome, res.Err); err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (s *channelService) fetchPermissions(ctx context.Context, chatID int64) (*botgateway.Permissions, error) {
	res := gateway.Call(ctx, s.policy, "verify_permissions", func(ctx context.Context) (*botgateway.Permissions, error) {
		return s.bot.VerifyPermissions(ctx, chatID)
	})
	if err := gatewayFailure(res.Outcome, res.Err); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// gatewayFailure maps a failed synchronous call onto a service error.
// Inside a task a transient failure is retried.
func gatewayFailure(outcome gateway.Outcome, err error) error {
	switch outcome {
	case gateway.OutcomeSuccess:
		return nil
	case gateway.OutcomeTransient:
		return Retry(fmt.Errorf("%w: %s", ErrUnavailable, gateway.Describe(err)))
	default:
		return notReady(gateway.Describe(err))
	}
}

func capabilities(p *botgateway.Permissions) models.Capabilities {
	return models.Capabilities{
		IsAdmin:   p.IsAdmin,
		CanPost:   p.CanPost,
		CanEdit:   p.CanEdit,
		CanDelete: p.CanDelete,
		CanRead:   p.IsMember,
	}
}
