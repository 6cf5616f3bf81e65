package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrAborted means the request was canceled before a response arrived.
	// It is never shown to users.
	ErrAborted = errors.New("backend: loading aborted")

	// ErrUnauthorized means the session expired; the whole page must reload.
	ErrUnauthorized = errors.New("backend: session expired")
)

// HTTPError is a non-success HTTP response other than 401.
type HTTPError struct {
	Code int
	URL  string
	Text string
}

func (e *HTTPError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("backend: HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", e.Code, e.Text)
}
