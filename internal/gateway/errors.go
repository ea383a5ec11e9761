// Package gateway holds what the outbound service clients share: the error
// taxonomy, transient/permanent classification, and the retrying call wrapper.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// Services
const (
	ServiceBot         = "telegram_bot"
	ServiceTranslation = "translation"
)

// Error codes reported by the bot gateway
const (
	CodeTelegramRateLimit   = "TELEGRAM_RATE_LIMIT"
	CodeTelegramUnavailable = "TELEGRAM_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidChatID       = "INVALID_CHAT_ID"
	CodeInvalidMessageID    = "INVALID_MESSAGE_ID"
	CodeBotNotAdmin         = "BOT_NOT_ADMIN"
	CodeBotCannotPost       = "BOT_CANNOT_POST"
	CodeBadRequest          = "TELEGRAM_BAD_REQUEST"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
	CodeParse               = "PARSE_ERROR"
)

// Error codes reported by the translation gateway
const (
	CodeLLMRateLimit    = "LLM_RATE_LIMIT"
	CodeLLMUnavailable  = "LLM_UNAVAILABLE"
	CodeLLMTimeout      = "LLM_TIMEOUT"
	CodeLanguageUnknown = "UNSUPPORTED_LANGUAGE"
)

var transientCodes = map[string]bool{
	CodeTelegramRateLimit:   true,
	CodeTelegramUnavailable: true,
	CodeTimeout:             true,
	CodeLLMRateLimit:        true,
	CodeLLMUnavailable:      true,
	CodeLLMTimeout:          true,
}

// Error is a failure reported by (or while talking to) an external gateway
type Error struct {
	Service    string                 `json:"service"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
}

func (e *Error) Error() string {
	code := e.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", code, e.Message)
}

// NewError builds a gateway error
func NewError(service, code, message string, status int) *Error {
	return &Error{Service: service, Code: code, Message: message, StatusCode: status}
}

// IsTransientCode reports whether a gateway error code is worth retrying
func IsTransientCode(code string) bool {
	return transientCodes[code]
}

// Outcome tags the result of a gateway call
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an error to an outcome. Rate limits, unavailability,
// timeouts, network failures and an open circuit are transient; everything
// else is permanent.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		if gwErr.Code != "" {
			if IsTransientCode(gwErr.Code) {
				return OutcomeTransient
			}
			return OutcomePermanent
		}
		return classifyStatus(gwErr.StatusCode)
	}

	if errors.Is(err, circuitbreaker.ErrOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return OutcomeTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeTransient
	}

	return OutcomePermanent
}

// classifyStatus handles errors without a usable code
func classifyStatus(status int) Outcome {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}

// Code extracts the gateway error code, or "" for other errors
func Code(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}

// Describe renders an error the way it is recorded on a variant:
// "[CODE] message" for gateway errors, the plain text otherwise
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("[%s] %s", CodeTimeout, err.Error())
	}
	return err.Error()
}
