package matchjumper

import (
	mjhttp "matchjumper/http"
	"matchjumper/internal/retry"
	"matchjumper/player"
	"matchjumper/robotevents"
	"matchjumper/session"
	"matchjumper/storage"
	"matchjumper/timeline"
	"matchjumper/youtube"
)

// Type aliases for convenient error handling.
type (
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
	// HTTPError is a non-2xx response.
	HTTPError = mjhttp.HTTPError
	// GrayedError explains why a match cannot be watched.
	GrayedError = session.GrayedError
	// PlayerCommandError is a command the player rejected.
	PlayerCommandError = player.CommandError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrUnsynced indicates a stream has no start time yet.
	ErrUnsynced = timeline.ErrUnsynced
	// ErrNoMatchTime indicates a match has neither started nor scheduled time.
	ErrNoMatchTime = timeline.ErrNoMatchTime
	// ErrMatchBeforeStream indicates the match predates the stream; warn, do not seek.
	ErrMatchBeforeStream = timeline.ErrMatchBeforeStream

	ErrEventNotFound = robotevents.ErrEventNotFound
	ErrTeamNotFound  = robotevents.ErrTeamNotFound

	ErrNoAPIKey      = youtube.ErrNoAPIKey
	ErrInvalidURL    = youtube.ErrInvalidURL
	ErrVideoNotFound = youtube.ErrVideoNotFound

	ErrNoEvent          = session.ErrNoEvent
	ErrMatchNotFound    = session.ErrMatchNotFound
	ErrStartUnavailable = session.ErrStartUnavailable

	// ErrCircuitOpen indicates a host is failing and requests are short-circuited.
	ErrCircuitOpen  = mjhttp.ErrCircuitOpen
	ErrUnauthorized = mjhttp.ErrUnauthorized

	// ErrNotFound indicates a key is absent from storage.
	ErrNotFound    = storage.ErrNotFound
	ErrLockTimeout = storage.ErrLockTimeout
)

// IsRetryable determines if an error should be retried.
// It returns false for permanent errors like ErrNotFound.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
