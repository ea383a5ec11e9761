package models

import (
	"time"
)

// PostStatus is the aggregate lifecycle state of a parent post
type PostStatus string

const (
	PostStatusDraft            PostStatus = "draft"
	PostStatusReadyForPublish  PostStatus = "ready_for_publish"
	PostStatusPublishing       PostStatus = "publishing"
	PostStatusPublished        PostStatus = "published"
	PostStatusPartialPublished PostStatus = "partial_published"
	PostStatusFailed           PostStatus = "failed"
)

// Valid reports whether s is a known post status
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusReadyForPublish, PostStatusPublishing,
		PostStatusPublished, PostStatusPartialPublished, PostStatusFailed:
		return true
	}
	return false
}

// Post is the parent post authored once and fanned out to every channel
// in its group
type Post struct {
	ID                    string     `json:"id" db:"id"`
	GroupID               string     `json:"group_id" db:"group_id"`
	InternalTitle         string     `json:"internal_title" db:"internal_title"`
	PrimaryChannelID      string     `json:"primary_channel_id" db:"primary_channel_id"`
	SourceText            string     `json:"source_text" db:"primary_text_markdown"`
	PhotoURL              string     `json:"photo_url,omitempty" db:"primary_photo_url"`
	AutoTranslate         bool       `json:"auto_translate" db:"auto_translate"`
	Status                PostStatus `json:"status" db:"status"`
	ScheduledAt           *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	PublishedAt           *time.Time `json:"published_at,omitempty" db:"published_at"`
	DisableWebPagePreview bool       `json:"disable_web_page_preview" db:"disable_web_page_preview"`
	DisableNotification   bool       `json:"disable_notification" db:"disable_notification"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// CreatePostRequest is the input for creating a parent post
type CreatePostRequest struct {
	GroupID               string     `json:"group_id"`
	InternalTitle         string     `json:"internal_title"`
	PrimaryChannelID      string     `json:"primary_channel_id"`
	SourceText            string     `json:"source_text"`
	PhotoURL              string     `json:"photo_url,omitempty"`
	AutoTranslate         *bool      `json:"auto_translate,omitempty"`
	ScheduledAt           *time.Time `json:"scheduled_at,omitempty"`
	DisableWebPagePreview bool       `json:"disable_web_page_preview"`
	DisableNotification   bool       `json:"disable_notification"`
}

// AutoTranslateOrDefault returns the requested flag, defaulting to true
func (r *CreatePostRequest) AutoTranslateOrDefault() bool {
	if r.AutoTranslate == nil {
		return true
	}
	return *r.AutoTranslate
}

// EditPostRequest replaces the authored source text of a post
type EditPostRequest struct {
	SourceText    string  `json:"source_text"`
	InternalTitle *string `json:"internal_title,omitempty"`
	PhotoURL      *string `json:"photo_url,omitempty"`
}

// PostDetail is a post together with its variants
type PostDetail struct {
	Post
	Variants []*Variant `json:"variants"`
}
