// Package redis is a storage.Storage backed by Redis, for release metadata
// shared by several processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/f5-conx-go/storage"
	"github.com/redis/go-redis/v9"
)

// Config configures a Storage.
type Config struct {
	Client *redis.Client

	// KeyPrefix is prepended to every key. Default: "f5conx:".
	KeyPrefix string
}

// Storage stores items as JSON envelopes with a native Redis TTL.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

var _ storage.Storage = (*Storage)(nil)

type envelope struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New returns a Storage using cfg.Client.
func New(cfg Config) (*Storage, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "f5conx:"
	}
	return &Storage{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromAddr dials addr and verifies the connection.
func NewFromAddr(ctx context.Context, addr string) (*Storage, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(Config{Client: client})
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	k := s.key(storage.Apply(opts...).Namespace, key)

	raw, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", k, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	item := &storage.Item{Data: env.Data, CreatedAt: env.CreatedAt, ExpiresAt: env.ExpiresAt}
	if item.IsExpired() {
		s.client.Del(ctx, k)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	if o.Key != nil {
		return storage.ErrInvalidOptions
	}
	k := s.key(o.Namespace, key)

	now := time.Now()
	env := envelope{Data: data, CreatedAt: now}
	var ttl time.Duration
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		env.ExpiresAt = &exp
		ttl = *o.TTL
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}
	if err := s.client.Set(ctx, k, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", k, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Apply(opts...)

	if o.Key != nil {
		k := s.key(o.Namespace, *o.Key)
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", k, err)
		}
		return nil
	}

	pattern := s.key(o.Namespace, "*")
	keys, err := s.scan(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) key(ns storage.Namespace, key string) string {
	return s.keyPrefix + storage.KeyPrefix(ns) + key
}

func (s *Storage) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
