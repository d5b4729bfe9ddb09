// Package storage is the key/value cache behind the release metadata
// client. Entries live either in the global namespace or under an ATC
// service, and may carry a time-to-live.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a namespaced byte store.
type Storage interface {
	// Get returns the item stored under key, or nil when it is missing or
	// expired. Errors are reserved for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes the key named by WithKey, or the whole namespace when
	// no key is given.
	Delete(ctx context.Context, opts ...Option) error

	Close() error
}

// Item is a stored value with its metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item outlived its TTL.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Age returns how long ago the item was stored.
func (it *Item) Age() time.Duration {
	return time.Since(it.CreatedAt)
}

// Option configures a storage operation.
type Option func(*Options)

// Options collects the effect of Option values.
type Options struct {
	Namespace Namespace // nil = global
	Key       *string   // Delete only
	TTL       *time.Duration
}

// Apply folds opts into an Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace scopes keys. Only types in this package implement it.
type Namespace interface {
	namespace()
}

// ServiceNamespace holds entries about one ATC service, such as "as3".
type ServiceNamespace struct {
	Service string
}

func (ServiceNamespace) namespace() {}

// WithService scopes the operation to service.
func WithService(service string) Option {
	return func(o *Options) {
		o.Namespace = ServiceNamespace{Service: service}
	}
}

// WithKey names the key for Delete. Without it Delete drops the namespace.
func WithKey(key string) Option {
	return func(o *Options) {
		o.Key = &key
	}
}

// WithTTL expires the entry after ttl.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// KeyPrefix returns the flat key prefix for ns, shared by every backend.
func KeyPrefix(ns Namespace) string {
	switch ns := ns.(type) {
	case ServiceNamespace:
		return "service:" + ns.Service + ":"
	default:
		return "global:"
	}
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")
