// Package memory is an in-process storage.Storage backed by a bounded
// github.com/hashicorp/golang-lru/v2 cache.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/f5-conx-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Storage keeps at most a fixed number of items, evicting the least
// recently used.
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.Item]

	stop     chan struct{}
	stopOnce sync.Once
}

var _ storage.Storage = (*Storage)(nil)

// New creates a Storage holding up to maxItems entries.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}
	go s.sweep(time.Minute)
	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o := storage.Apply(opts...)
	k := storage.KeyPrefix(o.Namespace) + key

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(k)
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.cache.Remove(k)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	if o.Key != nil {
		return storage.ErrInvalidOptions
	}

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		item.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.cache.Add(storage.KeyPrefix(o.Namespace)+key, item)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	prefix := storage.KeyPrefix(o.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Key != nil {
		s.cache.Remove(prefix + *o.Key)
		return nil
	}
	// The LRU has no prefix index.
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Close purges the cache and stops the expiry sweep.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		s.mu.Lock()
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
				s.cache.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}
