package reasoning

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError wraps a failure that a later attempt may clear: rate
// limits, overloaded upstreams, timeouts, connection resets.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix: bad credentials,
// unknown model, malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// classifyStatus maps an HTTP status from the provider to the error
// taxonomy. Rate limits, timeouts, and server-side failures are transient;
// every other non-2xx status is permanent.
func classifyStatus(code int, detail string) error {
	err := fmt.Errorf("reasoning api: status %d: %s", code, detail)
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code >= 500:
		return &TransientError{Err: err}
	default:
		return &PermanentError{Err: err}
	}
}
