package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	const max = 200
	body := e.Body
	if len(body) > max {
		body = body[:max]
	}
	if len(body) == 0 {
		return fmt.Sprintf("httpclient: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("httpclient: HTTP %d: %s", e.StatusCode, body)
}

// Retryable reports whether the server may accept the request later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError is a request that got no answer.
type TransportError struct {
	// Timeout is set when the attempt ran out of time.
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return "httpclient: timeout: " + e.Err.Error()
	}
	return "httpclient: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure or a retryable
// status. Anything else, including an open circuit, is final.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
