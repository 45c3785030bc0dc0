package supportapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidEndpoint is returned when the configured base URL cannot
	// form a request URL.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrUnauthorized matches any StatusError with a 401 or 403 code.
	ErrUnauthorized = errors.New("unauthorized")
)

// TransportError means the request never produced an HTTP response,
// including timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response. Detail carries the server's "detail"
// field, or the raw body when the body is not a detail object.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server error (status %d): %s", e.Op, e.Code, e.Detail)
}

func (e *StatusError) Is(target error) bool {
	if target == ErrUnauthorized {
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	}
	return false
}

// DecodeError means a 2xx response body could not be decoded.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
