package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrRateLimitExceeded is returned once every attempt was rate limited.
var ErrRateLimitExceeded = errors.New("llm: rate limit exceeded")

// ModelError wraps any failure that is not a rate limit. It is never retried.
type ModelError struct {
	Attempt int
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("llm: model call failed (attempt %d): %v", e.Attempt, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is the endpoint's "try again later" signal.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if containsRateLimit(apiErr.Type) {
			return true
		}
		if code, ok := apiErr.Code.(string); ok && containsRateLimit(code) {
			return true
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	return containsRateLimit(err.Error())
}

func containsRateLimit(s string) bool {
	return strings.Contains(strings.ToLower(s), "rate_limit")
}
