// Package botgateway is the client for the Telegram bot gateway service,
// which sends, edits and deletes channel messages on our behalf.
package botgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway"
)

// ParseModeHTML is the only parse mode the orchestrator sends
const ParseModeHTML = "HTML"

// Client talks to the bot gateway's /api/v1 endpoints
type Client struct {
	http        *gateway.HTTPClient
	idempotency bool
}

// NewClient creates a bot gateway client
func NewClient(cfg config.BotGatewayConfig) *Client {
	return &Client{
		http: &gateway.HTTPClient{
			Service: gateway.ServiceBot,
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			HTTP:    &http.Client{Timeout: cfg.Timeout},
		},
		idempotency: cfg.EnableIdempotency,
	}
}

// SendRequest is a message to post to a channel
type SendRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	PhotoURL              string `json:"photo_url,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	DisableNotification   bool   `json:"disable_notification"`
	IdempotencyKey        string `json:"-"`
}

// SentMessage is the gateway's record of a posted message.
// MessageID is zero when the gateway did not report one.
type SentMessage struct {
	MessageID int64
	ChatID    int64
	Date      time.Time
}

// ChannelInfo describes a channel as seen by the bot
type ChannelInfo struct {
	ChatID      int64  `json:"chat_id"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	Description string `json:"description"`
	MemberCount int    `json:"member_count"`
	Type        string `json:"type"`
}

// Permissions are the bot's rights in a channel
type Permissions struct {
	IsMember  bool `json:"is_member"`
	IsAdmin   bool `json:"is_admin"`
	CanPost   bool `json:"can_post_messages"`
	CanEdit   bool `json:"can_edit_messages"`
	CanDelete bool `json:"can_delete_messages"`
}

type envelope struct {
	Success bool                   `json:"success"`
	Code    string                 `json:"code"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details"`
}

// failure converts a 2xx response that reports success=false
func (e envelope) failure(op string) error {
	code := e.Code
	if code == "" {
		code = gateway.CodeInternal
	}
	msg := e.Error
	if msg == "" {
		msg = op + " was not successful"
	}
	return &gateway.Error{Service: gateway.ServiceBot, Code: code, Message: msg, Details: e.Details}
}

type sendResponse struct {
	envelope
	ChatID    flexInt64       `json:"chat_id"`
	MessageID int64           `json:"message_id"`
	Date      json.RawMessage `json:"date"`
}

// SendMessage posts a message. When idempotency is enabled and a key is
// given, the gateway deduplicates retried sends carrying the same key.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SentMessage, error) {
	if req.ParseMode == "" {
		req.ParseMode = ParseModeHTML
	}
	headers := map[string]string{}
	if c.idempotency && req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	resp, err := gateway.Do[sendResponse](ctx, c.http, http.MethodPost, "/api/v1/messages/send", req, headers)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, resp.failure("send message")
	}

	return &SentMessage{
		MessageID: resp.MessageID,
		ChatID:    int64(resp.ChatID),
		Date:      parseDate(resp.Date),
	}, nil
}

type editRequest struct {
	ChatID                int64  `json:"chat_id"`
	MessageID             int64  `json:"message_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// EditMessage replaces the text of a posted message
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string, disableWebPagePreview bool) (bool, error) {
	req := editRequest{
		ChatID:                chatID,
		MessageID:             messageID,
		Text:                  text,
		ParseMode:             ParseModeHTML,
		DisableWebPagePreview: disableWebPagePreview,
	}
	resp, err := gateway.Do[envelope](ctx, c.http, http.MethodPost, "/api/v1/messages/edit", req, nil)
	if err != nil {
		return false, err
	}
	if !resp.Success {
		return false, resp.failure("edit message")
	}
	return true, nil
}

type deleteRequest struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// DeleteMessage removes a posted message
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) (bool, error) {
	req := deleteRequest{ChatID: chatID, MessageID: messageID}
	resp, err := gateway.Do[envelope](ctx, c.http, http.MethodPost, "/api/v1/messages/delete", req, nil)
	if err != nil {
		return false, err
	}
	if !resp.Success {
		return false, resp.failure("delete message")
	}
	return true, nil
}

type infoResponse struct {
	envelope
	ChatID      flexInt64 `json:"chat_id"`
	Title       string    `json:"title"`
	Username    string    `json:"username"`
	Description string    `json:"description"`
	MemberCount int       `json:"member_count"`
	Type        string    `json:"type"`
}

// GetChannelInfo fetches title and member count of a channel
func (c *Client) GetChannelInfo(ctx context.Context, chatID int64) (*ChannelInfo, error) {
	path := "/api/v1/channels/info?chat_id=" + url.QueryEscape(strconv.FormatInt(chatID, 10))
	resp, err := gateway.Do[infoResponse](ctx, c.http, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, resp.failure("get channel info")
	}
	return &ChannelInfo{
		ChatID:      int64(resp.ChatID),
		Title:       resp.Title,
		Username:    resp.Username,
		Description: resp.Description,
		MemberCount: resp.MemberCount,
		Type:        resp.Type,
	}, nil
}

type permissionsResponse struct {
	envelope
	Permissions
}

// VerifyPermissions fetches the bot's rights in a channel
func (c *Client) VerifyPermissions(ctx context.Context, chatID int64) (*Permissions, error) {
	path := "/api/v1/channels/permissions?chat_id=" + url.QueryEscape(strconv.FormatInt(chatID, 10))
	resp, err := gateway.Do[permissionsResponse](ctx, c.http, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, resp.failure("verify permissions")
	}
	perms := resp.Permissions
	return &perms, nil
}

// flexInt64 accepts chat ids encoded as numbers or strings
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("chat_id: %w", err)
	}
	// @usernames carry no numeric id
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt64(n)
	}
	return nil
}

// parseDate accepts unix seconds or an RFC 3339 timestamp
func parseDate(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil {
		return time.Unix(unix, 0).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
