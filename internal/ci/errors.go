package ci

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrRunNotFound is returned when no run started after the trigger could be found.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrInvalidCredentials is returned when the CI provider rejects the configured token.
	ErrInvalidCredentials = errors.New("invalid CI credentials")
)

// TransientFetchError reports that a fetch kept failing after every retry.
// Callers treat the remote state as undetermined rather than failed.
type TransientFetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// TimeoutError is returned when a run did not complete within the wait budget.
type TimeoutError struct {
	RunID  int64
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow run %d did not complete within %s", e.RunID, e.Waited)
}

// APIError is a provider error annotated with the HTTP outcome.
type APIError struct {
	Op          string
	StatusCode  int
	RateLimited bool
	ResetAt     time.Time
	Err         error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call could succeed.
func (e *APIError) Retryable() bool {
	if e.RateLimited {
		return true
	}
	switch e.StatusCode {
	case 0:
		// No response at all: network failure or timeout.
		return true
	case http.StatusTooManyRequests:
		return true
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return false
	default:
		return e.StatusCode >= 500 && e.StatusCode < 600
	}
}

// IsRetryable classifies an arbitrary provider error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrRunNotFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
