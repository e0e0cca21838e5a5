package graph

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrAuthenticationFailed means the upstream rejected the token even
	// after a forced refresh; the owning grant is likely revoked
	ErrAuthenticationFailed = goerr.New("upstream authentication failed")

	// ErrRateLimited means retries were exhausted against throttling
	ErrRateLimited = goerr.New("upstream rate limited")

	// ErrUpstreamUnavailable means retries were exhausted against
	// server errors
	ErrUpstreamUnavailable = goerr.New("upstream unavailable")
)

// ClientError is a non-retriable 4xx response from the upstream API
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("upstream client error (status %d): %s", e.StatusCode, e.Body)
}
