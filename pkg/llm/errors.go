package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError is a generic non-200 API response.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unknown API error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
	}
	return "API error: " + msg
}

// ContextLengthExceededError indicates the request overflowed the model's
// context limits.
type ContextLengthExceededError struct {
	StatusCode int
	Message    string
}

func (e *ContextLengthExceededError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "context length exceeded"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("context length exceeded (%d): %s", e.StatusCode, msg)
	}
	return "context length exceeded: " + msg
}

// RateLimitError indicates provider throttling.
type RateLimitError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "rate limit exceeded"
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
}

// ClassifyAPIError converts a non-200 response payload into a typed error.
func ClassifyAPIError(statusCode int, payload string, retryAfter time.Duration) error {
	payload = strings.TrimSpace(payload)
	message := extractErrorMessage(payload)
	if message == "" {
		message = payload
	}
	if message == "" {
		message = "unknown API error"
	}

	if looksLikeContextLength(message) || looksLikeContextLength(payload) {
		return &ContextLengthExceededError{StatusCode: statusCode, Message: message}
	}
	if statusCode == 429 || looksLikeRateLimit(message) {
		return &RateLimitError{StatusCode: statusCode, Message: message, RetryAfter: retryAfter}
	}
	return &APIError{StatusCode: statusCode, Message: message, Body: payload}
}

// IsContextLengthExceeded reports whether the error is a context/token
// limit failure.
func IsContextLengthExceeded(err error) bool {
	if err == nil {
		return false
	}
	var cle *ContextLengthExceededError
	if errors.As(err, &cle) {
		return true
	}
	return looksLikeContextLength(err.Error())
}

// IsRateLimit reports whether the error is provider throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	return errors.As(err, &rle)
}

func extractErrorMessage(payload string) string {
	if payload == "" {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return ""
	}
	// OpenAI-compatible shape: {"error":{"message":"..."}}
	if rawErr, ok := decoded["error"]; ok {
		switch v := rawErr.(type) {
		case string:
			return strings.TrimSpace(v)
		case map[string]any:
			if message, ok := v["message"].(string); ok {
				return strings.TrimSpace(message)
			}
		}
	}
	if message, ok := decoded["message"].(string); ok {
		return strings.TrimSpace(message)
	}
	return ""
}

func looksLikeContextLength(s string) bool {
	s = strings.ToLower(s)
	for _, needle := range []string{
		"context length",
		"context window",
		"maximum context",
		"context limit",
		"too many tokens",
		"maximum number of tokens",
		"prompt is too long",
		"token limit exceeded",
	} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func looksLikeRateLimit(s string) bool {
	s = strings.ToLower(s)
	for _, needle := range []string{"rate limit", "too many requests", "quota exceeded", "throttle"} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
