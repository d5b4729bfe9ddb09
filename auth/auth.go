package auth

import (
	"errors"
	"fmt"
)

// LoginPath is the iControl REST authentication endpoint.
const LoginPath = "/mgmt/shared/authn/login"

// DefaultProvider is the login provider used when Credentials.Provider is empty.
const DefaultProvider = "tmos"

// ErrAuthenticationFailed indicates the device rejected the credentials or
// the token with its authentication-failure response.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrClosed is returned by Token after Close.
var ErrClosed = errors.New("session closed")

// Credentials identify a user on a device. They are immutable for the
// lifetime of a Session.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	Provider string
}

func (c Credentials) provider() string {
	if c.Provider == "" {
		return DefaultProvider
	}
	return c.Provider
}

// Token is an authenticated session issued by the login endpoint.
type Token struct {
	Value    string
	Timeout  int // seconds
	UserName string
	Provider string
}

// State is the externally observable state of a Session.
type State int

const (
	StateNoToken State = iota
	StateTokenValid
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no-token"
	case StateTokenValid:
		return "token-valid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LoginError is returned when a login call did not produce a token.
// Status is zero when no HTTP response was received.
type LoginError struct {
	URL    string
	Status int
	Body   []byte
	Err    error
}

func (e *LoginError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("login to %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("login to %s: status %d: %v", e.URL, e.Status, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }
