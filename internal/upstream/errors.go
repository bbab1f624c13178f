package upstream

import (
	"errors"
	"fmt"
)

// ErrTokenExpired signals an upstream 401. The caller should refresh the
// bearer token and retry without consuming an attempt.
var ErrTokenExpired = errors.New("upstream token expired")

// StatusError reports a non-2xx upstream response
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// TruncatedError reports a response body that was cut off mid-stream,
// which is the signal to downshift the page size.
type TruncatedError struct {
	PageSize int
	Page     int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated response at page %d (page size %d)", e.Page, e.PageSize)
}

// ParseError reports a structurally complete but undecodable response
type ParseError struct {
	Page int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse page %d: %v", e.Page, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnrecoverableError marks a failure no page-size downshift can fix.
// Workers should fail the task terminally rather than retry.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable fetch failure: %v", e.Err)
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a fetch error is worth a delayed re-attempt
// of the whole task. Token expiry is handled separately by the caller.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var unrec *UnrecoverableError
	if errors.As(err, &unrec) {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Status >= 500 || status.Status == 409 || status.Status == 429
	}
	return true
}
