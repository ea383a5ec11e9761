package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/textfmt"
)

// MaxSourceTextLength bounds authored markdown; rendered HTML must still fit
// a single Telegram message.
const MaxSourceTextLength = 12000

var (
	languageRegex = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,4})?$`)
	openTagRegex  = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9-]*)(?:\s[^>]*)?>`)
	closeTagRegex = regexp.MustCompile(`</([a-zA-Z][a-zA-Z0-9-]*)\s*>`)
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validator provides validation methods
type Validator struct {
	allowedTags map[string]bool
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	allowed := make(map[string]bool, len(textfmt.AllowedTags))
	for _, tag := range textfmt.AllowedTags {
		allowed[tag] = true
	}
	return &Validator{allowedTags: allowed}
}

// ValidateCreatePost validates a post creation request
func (v *Validator) ValidateCreatePost(req *models.CreatePostRequest) []ValidationError {
	var errors []ValidationError

	if req.GroupID == "" {
		errors = append(errors, ValidationError{Field: "group_id", Message: "group_id is required"})
	} else if !isValidUUID(req.GroupID) {
		errors = append(errors, ValidationError{Field: "group_id", Message: "invalid UUID format", Value: req.GroupID})
	}

	if req.PrimaryChannelID == "" {
		errors = append(errors, ValidationError{Field: "primary_channel_id", Message: "primary_channel_id is required"})
	} else if !isValidUUID(req.PrimaryChannelID) {
		errors = append(errors, ValidationError{Field: "primary_channel_id", Message: "invalid UUID format", Value: req.PrimaryChannelID})
	}

	errors = append(errors, v.validateSourceText("source_text", req.SourceText)...)

	if len(req.InternalTitle) > 255 {
		errors = append(errors, ValidationError{Field: "internal_title", Message: "internal_title must be at most 255 characters"})
	}

	if req.PhotoURL != "" && !isValidPhotoURL(req.PhotoURL) {
		errors = append(errors, ValidationError{Field: "photo_url", Message: "photo_url must be an http(s) URL or an absolute path", Value: req.PhotoURL})
	}

	return errors
}

// ValidateEditPost validates a post edit request
func (v *Validator) ValidateEditPost(req *models.EditPostRequest) []ValidationError {
	var errors []ValidationError

	errors = append(errors, v.validateSourceText("source_text", req.SourceText)...)

	if req.InternalTitle != nil && len(*req.InternalTitle) > 255 {
		errors = append(errors, ValidationError{Field: "internal_title", Message: "internal_title must be at most 255 characters"})
	}
	if req.PhotoURL != nil && *req.PhotoURL != "" && !isValidPhotoURL(*req.PhotoURL) {
		errors = append(errors, ValidationError{Field: "photo_url", Message: "photo_url must be an http(s) URL or an absolute path", Value: *req.PhotoURL})
	}

	return errors
}

// ValidateEditVariant validates a manual variant edit
func (v *Validator) ValidateEditVariant(req *models.EditVariantRequest) []ValidationError {
	var errors []ValidationError

	if req.TextMarkdown == nil && req.PhotoURL == nil {
		errors = append(errors, ValidationError{Field: "text_markdown", Message: "nothing to update"})
		return errors
	}
	if req.TextMarkdown != nil {
		errors = append(errors, v.validateSourceText("text_markdown", *req.TextMarkdown)...)
	}
	if req.PhotoURL != nil && *req.PhotoURL != "" && !isValidPhotoURL(*req.PhotoURL) {
		errors = append(errors, ValidationError{Field: "photo_url", Message: "photo_url must be an http(s) URL or an absolute path", Value: *req.PhotoURL})
	}

	return errors
}

// ValidateChannel validates channel registration input
func (v *Validator) ValidateChannel(chatID int64, groupID, language string) []ValidationError {
	var errors []ValidationError

	if chatID == 0 {
		errors = append(errors, ValidationError{Field: "telegram_chat_id", Message: "telegram_chat_id is required"})
	}
	if groupID == "" {
		errors = append(errors, ValidationError{Field: "group_id", Message: "group_id is required"})
	} else if !isValidUUID(groupID) {
		errors = append(errors, ValidationError{Field: "group_id", Message: "invalid UUID format", Value: groupID})
	}
	if language != "" && !languageRegex.MatchString(language) {
		errors = append(errors, ValidationError{Field: "language_code", Message: "invalid language code", Value: language})
	}

	return errors
}

// ValidateTelegramHTML checks length, tag whitelist and tag balance of
// rendered message HTML
func (v *Validator) ValidateTelegramHTML(html string) []ValidationError {
	var errors []ValidationError
	if html == "" {
		return errors
	}

	if n := utf8.RuneCountInString(html); n > textfmt.MaxMessageLength {
		errors = append(errors, ValidationError{
			Field:   "text_html",
			Message: fmt.Sprintf("Message too long: %d characters (max %d)", n, textfmt.MaxMessageLength),
		})
	}

	opened := make(map[string]int)
	var unsupported []string
	seen := make(map[string]bool)
	for _, m := range openTagRegex.FindAllStringSubmatch(html, -1) {
		tag := strings.ToLower(m[1])
		if !v.allowedTags[tag] {
			if !seen[tag] {
				unsupported = append(unsupported, tag)
				seen[tag] = true
			}
			continue
		}
		opened[tag]++
	}
	if len(unsupported) > 0 {
		errors = append(errors, ValidationError{
			Field:   "text_html",
			Message: "Unsupported HTML tags: " + strings.Join(unsupported, ", "),
		})
	}

	closed := make(map[string]int)
	for _, m := range closeTagRegex.FindAllStringSubmatch(html, -1) {
		closed[strings.ToLower(m[1])]++
	}
	for _, tag := range textfmt.AllowedTags {
		if opened[tag] != closed[tag] {
			errors = append(errors, ValidationError{
				Field:   "text_html",
				Message: fmt.Sprintf("Unclosed or mismatched tag: <%s>", tag),
			})
		}
	}

	return errors
}

func (v *Validator) validateSourceText(field, text string) []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(text) == "" {
		errors = append(errors, ValidationError{Field: field, Message: field + " is required"})
		return errors
	}
	if n := utf8.RuneCountInString(text); n > MaxSourceTextLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be at most %d characters, got %d", field, MaxSourceTextLength, n),
		})
	}
	return errors
}

// IsValidLanguage reports whether s looks like an ISO language code
func IsValidLanguage(s string) bool {
	return languageRegex.MatchString(s)
}

func isValidPhotoURL(s string) bool {
	if strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//") {
		return true
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isValidUUID checks if a string is a valid UUID
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
