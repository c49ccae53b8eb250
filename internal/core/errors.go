// Package core defines the fundamental types and errors for EventFlow.
package core

import (
	"errors"
	"fmt"
	"time"
)

// Errors that cross package boundaries. Callers match with errors.Is.
var (
	// Validation
	ErrValidation      = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")

	// Resources
	ErrUserNotFound       = errors.New("user not found")
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrConnectorNotFound  = errors.New("connector not found")

	// Authorization
	ErrForbidden = errors.New("forbidden")

	// Lifecycle
	ErrInvalidState = errors.New("suggestion is not pending")

	// External collaborators
	ErrExtraction    = errors.New("extraction failed")
	ErrSyncFailed    = errors.New("calendar sync failed")
	ErrNotConfigured = errors.New("not configured")
)

// RateLimitError reports an exhausted quota. RetryAfter tells the caller when
// the window resets; it is surfaced as a Retry-After header by the API layer.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.RetryAfter.Round(time.Second))
}

// IsRateLimited reports whether err is a RateLimitError and returns it.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
