package models

import (
	"strings"
	"time"
)

// ChannelGroup is a named set of channels a post fans out to
type ChannelGroup struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Capabilities are the bot's rights in a channel as last reported by the gateway
type Capabilities struct {
	IsAdmin   bool `json:"is_admin"`
	CanPost   bool `json:"can_post"`
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
	CanRead   bool `json:"can_read"`
}

// ChannelTarget is a destination channel on the messaging platform
type ChannelTarget struct {
	ID                   string            `json:"id" db:"id"`
	GroupID              string            `json:"group_id" db:"group_id"`
	TelegramChatID       int64             `json:"telegram_chat_id" db:"telegram_chat_id"`
	Title                string            `json:"title" db:"title"`
	Username             string            `json:"username,omitempty" db:"username"`
	LanguageCode         string            `json:"language_code,omitempty" db:"language_code"`
	IsActive             bool              `json:"is_active" db:"is_active"`
	Capabilities         Capabilities      `json:"capabilities"`
	MemberCount          int               `json:"member_count" db:"member_count"`
	PermissionsCheckedAt *time.Time        `json:"permissions_checked_at,omitempty" db:"permissions_checked_at"`
	Meta                 map[string]string `json:"meta,omitempty" db:"meta"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// HasLanguage reports whether the channel has a language configured
func (c *ChannelTarget) HasLanguage() bool {
	return strings.TrimSpace(c.LanguageCode) != ""
}

// CanPublish reports whether the bot may post to this channel
func (c *ChannelTarget) CanPublish() bool {
	return c.IsActive && c.Capabilities.CanPost
}

// SameLanguage compares two language codes case-insensitively
func SameLanguage(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CreateGroupRequest is the input for creating a channel group
type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RegisterChannelRequest adds a Telegram channel to a group. Title and
// capabilities are fetched from the bot gateway.
type RegisterChannelRequest struct {
	TelegramChatID int64  `json:"telegram_chat_id"`
	GroupID        string `json:"group_id"`
	LanguageCode   string `json:"language_code,omitempty"`
}
