package youtube

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	mjhttp "matchjumper/http"
	"matchjumper/internal/retry"
)

// Sentinel errors for YouTube operations.
var (
	ErrNoAPIKey        = errors.New("youtube: api key required")
	ErrInvalidURL      = errors.New("youtube: invalid url")
	ErrChannelNotFound = errors.New("youtube: channel not found")
	ErrVideoNotFound   = errors.New("youtube: video not found")
)

// apiErrorClassifier retries transient Data API failures. Quota exhaustion,
// bad keys and missing resources are permanent.
func apiErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrVideoNotFound) || errors.Is(err, ErrInvalidURL) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, mjhttp.ErrCircuitOpen) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return true
		case gerr.Code == http.StatusForbidden:
			for _, item := range gerr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
			return false
		default:
			return false
		}
	}

	return retry.IsRetryable(err)
}
