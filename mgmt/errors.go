package mgmt

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/f5-conx-go/auth"
)

// TransportError indicates no HTTP response was obtained for a request
// (DNS failure, refused connection, timeout, cancellation).
type TransportError struct {
	ID     string
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] %s %s: %v", e.ID, e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError is a non-2xx response. It carries everything the device sent
// back so callers can build their own diagnostics.
type RequestError struct {
	ID     string
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func (e *RequestError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("[%s] %s %s: status %d: %s", e.ID, e.Method, e.URL, e.Status, msg)
	}
	return fmt.Sprintf("[%s] %s %s: status %d", e.ID, e.Method, e.URL, e.Status)
}

// Message returns the "message" field of a JSON error body, if any.
func (e *RequestError) Message() string {
	var b struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &b); err != nil {
		return ""
	}
	return b.Message
}

// IsAuthFailure reports whether the device answered with its
// authentication-failure signature.
func (e *RequestError) IsAuthFailure() bool {
	return auth.IsAuthFailure(e.Status, e.Body)
}

// Unwrap lets errors.Is match auth.ErrAuthenticationFailed.
func (e *RequestError) Unwrap() error {
	if e.IsAuthFailure() {
		return auth.ErrAuthenticationFailed
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Status, true
	}
	var lerr *auth.LoginError
	if errors.As(err, &lerr) && lerr.Status != 0 {
		return lerr.Status, true
	}
	return 0, false
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusNotFound
}
