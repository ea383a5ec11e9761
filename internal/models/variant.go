package models

import (
	"fmt"
	"time"
)

// SourceType records where a variant's content came from
type SourceType string

const (
	SourceTypePrimary        SourceType = "primary"
	SourceTypeAutoTranslated SourceType = "auto_translated"
	SourceTypeManual         SourceType = "manual"
)

// Valid reports whether t is a known source type
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypePrimary, SourceTypeAutoTranslated, SourceTypeManual:
		return true
	}
	return false
}

// VariantStatus is the per-channel lifecycle state
type VariantStatus string

const (
	VariantStatusDraft              VariantStatus = "draft"
	VariantStatusPendingTranslation VariantStatus = "pending_translation"
	VariantStatusPendingPublish     VariantStatus = "pending_publish"
	VariantStatusPublishing         VariantStatus = "publishing"
	VariantStatusPublished          VariantStatus = "published"
	VariantStatusFailed             VariantStatus = "failed"
)

// Valid reports whether s is a known variant status
func (s VariantStatus) Valid() bool {
	_, ok := variantTransitions[s]
	return ok
}

// variantTransitions lists the states reachable from each state.
// published -> draft happens when the remote message is deleted.
var variantTransitions = map[VariantStatus][]VariantStatus{
	VariantStatusDraft: {
		VariantStatusPendingTranslation, VariantStatusPendingPublish,
		VariantStatusPublishing, VariantStatusFailed,
	},
	VariantStatusPendingTranslation: {
		VariantStatusDraft, VariantStatusPendingPublish, VariantStatusFailed,
	},
	VariantStatusPendingPublish: {
		VariantStatusPublishing, VariantStatusDraft, VariantStatusFailed,
		VariantStatusPendingTranslation,
	},
	VariantStatusPublishing: {
		VariantStatusPublished, VariantStatusFailed, VariantStatusPendingPublish,
	},
	VariantStatusPublished: {
		VariantStatusDraft,
	},
	VariantStatusFailed: {
		VariantStatusPendingTranslation, VariantStatusPendingPublish,
		VariantStatusPublishing, VariantStatusDraft,
	},
}

// CanTransition reports whether a variant may move from s to next.
// Staying in the same state is always allowed.
func (s VariantStatus) CanTransition(next VariantStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range variantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Meta keys stored on variants
const (
	MetaSourceOutdated = "source_outdated"
	MetaLastErrorCode  = "last_error_code"
)

// Variant is the per-channel instance of a parent post
type Variant struct {
	ID                    string            `json:"id" db:"id"`
	PostID                string            `json:"post_id" db:"post_id"`
	ChannelID             string            `json:"channel_id" db:"channel_id"`
	LanguageCode          string            `json:"language_code" db:"language_code"`
	SourceType            SourceType        `json:"source_type" db:"source_type"`
	TextMarkdown          string            `json:"text_markdown" db:"text_markdown"`
	TextHTML              string            `json:"text_html" db:"text_html"`
	PhotoURL              string            `json:"photo_url,omitempty" db:"photo_url"`
	RemoteMessageID       *int64            `json:"remote_message_id,omitempty" db:"remote_message_id"`
	Status                VariantStatus     `json:"status" db:"status"`
	TranslationRequested  bool              `json:"translation_requested" db:"translation_requested"`
	TranslationReceivedAt *time.Time        `json:"translation_received_at,omitempty" db:"translation_received_at"`
	TranslationFailures   int               `json:"translation_failures" db:"translation_failures"`
	ManuallyEdited        bool              `json:"manually_edited" db:"manually_edited"`
	PublishedAt           *time.Time        `json:"published_at,omitempty" db:"published_at"`
	ErrorMessage          string            `json:"error_message,omitempty" db:"error_message"`
	Meta                  map[string]string `json:"meta,omitempty" db:"meta"`
	// ModifiedAt moves only when the publishable content changes, so a
	// retried publish of unchanged content carries the same idempotency key.
	ModifiedAt time.Time `json:"modified_at" db:"modified_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HasContent reports whether the variant has any text to publish
func (v *Variant) HasContent() bool {
	return v.TextMarkdown != "" || v.TextHTML != ""
}

// IsPrimary reports whether this is the primary-language variant
func (v *Variant) IsPrimary() bool {
	return v.SourceType == SourceTypePrimary
}

// IdempotencyKey derives the publish key from the variant identity and its
// last-modified timestamp
func (v *Variant) IdempotencyKey() string {
	return fmt.Sprintf("variant-%s-%s", v.ID, v.ModifiedAt.UTC().Format(time.RFC3339Nano))
}

// SetMeta sets a meta key, allocating the map when needed
func (v *Variant) SetMeta(key, value string) {
	if v.Meta == nil {
		v.Meta = make(map[string]string)
	}
	v.Meta[key] = value
}

// EditVariantRequest is a manual edit of a variant's content
type EditVariantRequest struct {
	TextMarkdown *string `json:"text_markdown,omitempty"`
	PhotoURL     *string `json:"photo_url,omitempty"`
}
