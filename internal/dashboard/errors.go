package dashboard

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable marks an endpoint the dashboard does not offer for this
// network or device. Callers treat it as "absent", not as a failure.
var ErrUnavailable = errors.New("dashboard endpoint unavailable")

// ErrForeignNextLink is wrapped when a pagination link points away from the
// configured dashboard origin.
var ErrForeignNextLink = errors.New("pagination link leaves the dashboard origin")

// ErrUnauthorized is wrapped by RetrievalError when the API key is rejected.
var ErrUnauthorized = errors.New("dashboard rejected the api key")

// RetrievalError is returned once a request has failed for good: either a
// non-retryable status or transport error, or retries were exhausted.
type RetrievalError struct {
	Op        string
	Status    int
	Attempts  int
	Retryable bool
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dashboard %s: status %d (%s) after %d attempt(s): %v", e.Op, e.Status, http.StatusText(e.Status), e.Attempts, e.Err)
	}
	return fmt.Sprintf("dashboard %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a RetrievalError that a later refresh
// cycle may succeed on.
func IsRetryable(err error) bool {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
