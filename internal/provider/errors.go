package provider

import (
	"errors"
	"fmt"
)

var (
	ErrLoginFailed           = errors.New("provider rejected login")
	ErrNoTokenIssued         = errors.New("provider login response carried no token")
	ErrUnauthorized          = errors.New("provider rejected credential")
	ErrNotFound              = errors.New("provider resource not found")
	ErrUnexpectedStatus      = errors.New("unexpected provider status")
	ErrResourceNotFound      = errors.New("provider resource does not exist")
	ErrNoCredentialAvailable = errors.New("no provider credential available")
	ErrSchemaMismatch        = errors.New("provider response does not match expected schema")
)

// StatusError is returned for every non-2xx provider response. Err is one of
// ErrLoginFailed, ErrUnauthorized, ErrNotFound or ErrUnexpectedStatus.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider: %s: status %d: %v: %s", e.Op, e.StatusCode, e.Err, e.Body)
	}
	return fmt.Sprintf("provider: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsRefreshable reports whether err may be caused by a stale credential.
func IsRefreshable(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound)
}
