package probe

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError is a failure worth retrying: name resolution failure,
// rate limiting or an unavailable upstream.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return statusText(e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError is a failure that retrying will not fix.
type TerminalError struct {
	Status int
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return statusText(e.Status)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Classify maps an attempt's status and transport error to nil (reachable),
// a *TransientError or a *TerminalError.
func Classify(status int, err error) error {
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return &TransientError{Err: err}
		}
		return &TerminalError{Err: err}
	}

	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &TransientError{Status: status}
	}
	if status >= 200 && status < 400 {
		return nil
	}
	return &TerminalError{Status: status}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func statusText(status int) string {
	if t := http.StatusText(status); t != "" {
		return fmt.Sprintf("%d %s", status, t)
	}
	return fmt.Sprintf("status %d", status)
}
