package transport

import (
	"fmt"

	"github.com/eventflow/faasctl/function"
)

// ErrUnauthenticated occurs when there is no session or the backend rejected its token.
// The session has been cleared by the time the caller sees it.
type ErrUnauthenticated struct {
	Op string
}

func (e ErrUnauthenticated) Error() string {
	return fmt.Sprintf("Operation %q requires login.", e.Op)
}

// ErrNotFound occurs when the function doesn't exist in the tenant namespace.
type ErrNotFound struct {
	Op   string
	Name function.Name
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("Function %q not found.", string(e.Name))
}

// ErrRejected occurs when the backend refuses a request as invalid or conflicting, e.g. a
// duplicate name. Message is the backend's own explanation. A StatusCode of 0 means the
// request could not be built and was never sent.
type ErrRejected struct {
	Op         string
	StatusCode int
	Message    string
}

func (e ErrRejected) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("Request %q rejected before sending: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("Backend rejected %q (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
}

// ErrUnavailable occurs on network failures, timeouts and server errors. The request is
// safe to repeat unless it was an invocation.
type ErrUnavailable struct {
	Op       string
	Original error
}

func (e ErrUnavailable) Error() string {
	return fmt.Sprintf("Backend unavailable for %q. Error: %q", e.Op, e.Original)
}

func (e ErrUnavailable) Unwrap() error {
	return e.Original
}
