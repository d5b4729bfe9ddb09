// Package hookstest provides a recording hooks.Events implementation for tests.
package hookstest

import (
	"context"
	"sync"

	"github.com/ggoodman/f5-conx-go/hooks"
)

// Recorder captures every event it receives. The zero value is ready to use.
type Recorder struct {
	mu        sync.Mutex
	requests  []hooks.RequestEvent
	responses []hooks.ResponseEvent
	authFails []hooks.AuthFailedEvent
	transport []hooks.TransportEvent
	acquired  []hooks.TokenEvent
	discarded []hooks.TokenEvent
}

var _ hooks.Events = (*Recorder)(nil)

func (r *Recorder) RequestIssued(_ context.Context, ev hooks.RequestEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, ev)
}

func (r *Recorder) ResponseReceived(_ context.Context, ev hooks.ResponseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, ev)
}

func (r *Recorder) AuthFailed(_ context.Context, ev hooks.AuthFailedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authFails = append(r.authFails, ev)
}

func (r *Recorder) TransportFailed(_ context.Context, ev hooks.TransportEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = append(r.transport, ev)
}

func (r *Recorder) TokenAcquired(_ context.Context, ev hooks.TokenEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired = append(r.acquired, ev)
}

func (r *Recorder) TokenDiscarded(_ context.Context, ev hooks.TokenEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, ev)
}

// Requests returns a copy of the recorded request events.
func (r *Recorder) Requests() []hooks.RequestEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.RequestEvent(nil), r.requests...)
}

// Responses returns a copy of the recorded response events.
func (r *Recorder) Responses() []hooks.ResponseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.ResponseEvent(nil), r.responses...)
}

// AuthFailures returns a copy of the recorded authentication failures.
func (r *Recorder) AuthFailures() []hooks.AuthFailedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.AuthFailedEvent(nil), r.authFails...)
}

// TransportFailures returns a copy of the recorded transport failures.
func (r *Recorder) TransportFailures() []hooks.TransportEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.TransportEvent(nil), r.transport...)
}

// TokensAcquired returns a copy of the recorded token acquisitions.
func (r *Recorder) TokensAcquired() []hooks.TokenEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.TokenEvent(nil), r.acquired...)
}

// TokensDiscarded returns a copy of the recorded token discards.
func (r *Recorder) TokensDiscarded() []hooks.TokenEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.TokenEvent(nil), r.discarded...)
}
