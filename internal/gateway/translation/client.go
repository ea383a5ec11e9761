// Package translation is the client for the LLM-backed translation gateway
package translation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/gateway"
)

// Client talks to the translation gateway
type Client struct {
	http    *gateway.HTTPClient
	context string
	tone    string
}

// NewClient creates a translation gateway client
func NewClient(cfg config.TranslationConfig) *Client {
	return &Client{
		http: &gateway.HTTPClient{
			Service: gateway.ServiceTranslation,
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			HTTP:    &http.Client{Timeout: cfg.Timeout},
		},
		context: cfg.Context,
		tone:    cfg.Tone,
	}
}

// TranslateRequest is a single-language translation request.
// Empty Context and Tone fall back to the client defaults.
type TranslateRequest struct {
	Text               string `json:"text"`
	SourceLanguage     string `json:"source_language"`
	TargetLanguage     string `json:"target_language"`
	Context            string `json:"context,omitempty"`
	Tone               string `json:"tone,omitempty"`
	PreserveFormatting bool   `json:"preserve_formatting"`
}

// Translation is one translated text
type Translation struct {
	Text       string   `json:"translation"`
	Warnings   []string `json:"warnings,omitempty"`
	TokensUsed int      `json:"tokens_used"`
}

// Language is a language the gateway can translate to
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Translate translates text into one target language
func (c *Client) Translate(ctx context.Context, req TranslateRequest) (*Translation, error) {
	if req.Context == "" {
		req.Context = c.context
	}
	if req.Tone == "" {
		req.Tone = c.tone
	}
	return gateway.Do[Translation](ctx, c.http, http.MethodPost, "/api/v1/translate", req, nil)
}

type batchRequest struct {
	Text               string   `json:"text"`
	SourceLanguage     string   `json:"source_language"`
	TargetLanguages    []string `json:"target_languages"`
	Context            string   `json:"context,omitempty"`
	Tone               string   `json:"tone,omitempty"`
	PreserveFormatting bool     `json:"preserve_formatting"`
}

type batchResult struct {
	TargetLanguage string   `json:"target_language"`
	Translation    string   `json:"translation"`
	Warnings       []string `json:"warnings,omitempty"`
	TokensUsed     int      `json:"tokens_used"`
}

type batchResponse struct {
	Results         []batchResult `json:"results"`
	TotalTokensUsed int           `json:"total_tokens_used"`
}

// BatchTranslate translates text into several languages in one request.
// The result may be partial: languages the gateway did not return are
// absent from the map.
func (c *Client) BatchTranslate(ctx context.Context, text, sourceLanguage string, targetLanguages []string) (map[string]string, error) {
	req := batchRequest{
		Text:               text,
		SourceLanguage:     sourceLanguage,
		TargetLanguages:    targetLanguages,
		Context:            c.context,
		Tone:               c.tone,
		PreserveFormatting: true,
	}
	resp, err := gateway.Do[batchResponse](ctx, c.http, http.MethodPost, "/api/v1/translate/batch", req, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		if r.TargetLanguage == "" || r.Translation == "" {
			continue
		}
		out[r.TargetLanguage] = r.Translation
	}
	return out, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health checks that the gateway reports itself healthy
func (c *Client) Health(ctx context.Context) error {
	resp, err := gateway.Do[healthResponse](ctx, c.http, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("translation gateway status %q", resp.Status)
	}
	return nil
}

type languagesResponse struct {
	Languages []Language `json:"languages"`
}

// Languages lists the languages the gateway supports
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	resp, err := gateway.Do[languagesResponse](ctx, c.http, http.MethodGet, "/api/v1/languages", nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Languages, nil
}
