package httpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for a 404 response.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned for a 429 response; retryable.
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrUpstreamDown is returned for a 5xx response, which is retryable.
	// A transport-level failure wraps it (errors.Is matches) and is not
	// retried.
	ErrUpstreamDown = errors.New("upstream unavailable")
)

// StatusError represents a non-2xx, non-404/429/5xx HTTP response: one the
// retry policy treats as permanent.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s: %s", e.StatusCode, e.URL, e.Body)
}
