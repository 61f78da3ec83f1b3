package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TransientError is a backend failure worth retrying: throttling, server
// errors and network failures.
type TransientError struct {
	Status     int           // HTTP status, 0 for network failures
	RetryAfter time.Duration // server-requested delay, 0 if none
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient backend error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a backend failure that will not succeed on retry: bad
// credentials, unknown model, malformed request.
type PermanentError struct {
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent backend error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent backend error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfter returns the delay the server asked for, if any.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// statusError classifies a non-200 response.
func statusError(status int, header http.Header, body []byte) error {
	msg := errors.New(strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return &TransientError{Status: status, RetryAfter: parseRetryAfter(header.Get("Retry-After")), Err: msg}
	default:
		return &PermanentError{Status: status, Err: msg}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
