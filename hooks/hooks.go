// Package hooks defines the lifecycle events raised while talking to a
// device. A session and its executor report every request they issue, every
// response they receive, transport failures, and changes to the held token.
//
// Implementations must be safe for concurrent use: many operations may share
// one session. Embed Nop to implement only the events of interest.
package hooks

import (
	"context"
	"net/http"
	"time"
)

// RequestEvent describes an outbound request right before it is sent.
type RequestEvent struct {
	ID     string // short correlation identifier
	Method string
	URL    string
	Header http.Header
}

// ResponseEvent describes a fully received response.
type ResponseEvent struct {
	ID       string
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Duration time.Duration
}

// AuthFailedEvent is raised when the device rejects credentials or a token
// with its authentication-failure response.
type AuthFailedEvent struct {
	ID     string
	Host   string
	Status int
	Body   []byte

	// Login is true when the failure came from the login call itself, which
	// means the credentials are wrong rather than the token having expired.
	Login bool
}

// TransportEvent describes a request for which no response was obtained.
type TransportEvent struct {
	ID     string
	Method string
	URL    string
	Err    error
}

// TokenReason explains why a token left the session.
type TokenReason string

const (
	TokenReasonPreemptive  TokenReason = "preemptive-expiry"
	TokenReasonInvalidated TokenReason = "invalidated"
	TokenReasonAuthFailure TokenReason = "auth-failure"
)

// TokenEvent describes a token being acquired or discarded.
type TokenEvent struct {
	Host      string
	UserName  string
	Provider  string
	Timeout   int // seconds, as issued by the device
	Remaining int // countdown value when discarded
	Reason    TokenReason
}

// Events receives lifecycle notifications.
type Events interface {
	RequestIssued(ctx context.Context, ev RequestEvent)
	ResponseReceived(ctx context.Context, ev ResponseEvent)
	AuthFailed(ctx context.Context, ev AuthFailedEvent)
	TransportFailed(ctx context.Context, ev TransportEvent)
	TokenAcquired(ctx context.Context, ev TokenEvent)
	TokenDiscarded(ctx context.Context, ev TokenEvent)
}

// Nop ignores every event.
type Nop struct{}

var _ Events = Nop{}

func (Nop) RequestIssued(context.Context, RequestEvent)     {}
func (Nop) ResponseReceived(context.Context, ResponseEvent) {}
func (Nop) AuthFailed(context.Context, AuthFailedEvent)     {}
func (Nop) TransportFailed(context.Context, TransportEvent) {}
func (Nop) TokenAcquired(context.Context, TokenEvent)       {}
func (Nop) TokenDiscarded(context.Context, TokenEvent)      {}
