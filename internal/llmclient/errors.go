package llmclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidResponse is returned when no attempt produced a usable response.
// It wraps the last underlying cause.
var ErrInvalidResponse = errors.New("invalid LLM response after retries")

// RateLimitError is returned when every attempt was answered with HTTP 429,
// or when the last transport failure before retries ran out was a 429.
type RateLimitError struct {
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by the model API (HTTP 429) after %d attempts; please wait and try again", e.Attempts)
}

// IsRateLimited reports whether err is or wraps a *RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// HTTPError is a non-2xx response from the model API.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("model API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed if repeated.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// schemaError marks a response that parsed but did not fit the action schema.
type schemaError struct{ msg string }

func (e *schemaError) Error() string { return "invalid LLM response: " + e.msg }

func schemaErrorf(format string, args ...any) error {
	return &schemaError{msg: fmt.Sprintf(format, args...)}
}
