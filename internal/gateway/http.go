package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/multichannel-posting-api/internal/textfmt"
)

const (
	maxResponseBytes = 10 << 20
	maxErrorSnippet  = 200
)

// HTTPClient is the JSON-over-HTTP transport shared by the gateway clients.
// Every request carries a bearer token.
type HTTPClient struct {
	Service string
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// errorBody is the error envelope both gateways return
type errorBody struct {
	Code    string                 `json:"code"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details"`
}

// Do sends a request and decodes a JSON response into T. Non-2xx responses
// become *Error with the gateway's code, or PARSE_ERROR when the body is not
// the expected envelope.
func Do[T any](ctx context.Context, c *HTTPClient, method, path string, payload any, headers map[string]string) (*T, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal %s request: %w", c.Service, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create %s request: %w", c.Service, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %s request failed: %w", c.Service, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read %s response: %w", c.Service, path, err)
	}

	if resp.StatusCode >= 400 {
		return nil, decodeError(c.Service, resp.StatusCode, respBody)
	}

	var out T
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{
			Service:    c.Service,
			Code:       CodeParse,
			Message:    fmt.Sprintf("Failed to parse response: %v", err),
			StatusCode: resp.StatusCode,
		}
	}
	return &out, nil
}

func decodeError(service string, status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || (eb.Code == "" && eb.Error == "") {
		// Leave the code empty so the status decides retryability.
		snippet := textfmt.Truncate(strings.TrimSpace(string(body)), maxErrorSnippet, "...")
		return &Error{
			Service:    service,
			Message:    fmt.Sprintf("HTTP %d: %s", status, snippet),
			StatusCode: status,
		}
	}
	if eb.Error == "" {
		eb.Error = http.StatusText(status)
	}
	return &Error{
		Service:    service,
		Code:       eb.Code,
		Message:    eb.Error,
		Details:    eb.Details,
		StatusCode: status,
	}
}
