package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"matchjumper/internal/retry"
)

// RateLimitError indicates the server rate limited the request.
type RateLimitError struct {
	// StatusCode is 429 or 503.
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("http error: status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// Is lets a 404 match ErrNotFound and a 401/403 match ErrUnauthorized.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

var (
	// ErrNotFound is matched by 404 responses. It is shared with the retry
	// package so lookups of missing resources are never retried.
	ErrNotFound = retry.ErrNotFound

	ErrUnauthorized = errors.New("http: unauthorized")
	ErrNoResponse   = errors.New("http: no response received")
)
