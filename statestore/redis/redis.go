// Package redis implements statestore.Store on top of Redis, the shared
// key-value backing store used across dispatcher instances: connection
// config shape, ping-on-connect, and closed/external-client bookkeeping,
// without the Streams/consumer-group machinery a message-delivery backend
// would need, since this package only serves plain key-value reads and
// writes.
package redis

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/edge-robotics/command-core/statestore"
	"github.com/redis/go-redis/v9"
)

// ConnectionConfig holds Redis connection parameters.
type ConnectionConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DefaultConnectionConfig returns sane local defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{Addr: "localhost:6379"}
}

// Store is a statestore.Store backed by Redis.
type Store struct {
	client         *redis.Client
	closed         bool
	externalClient bool
}

// New connects to Redis using cfg and returns a Store.
func New(cfg *ConnectionConfig) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an already-constructed client; the caller owns its
// lifecycle and Close will not close it.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, externalClient: true}
}

// Get implements statestore.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore/redis: get %s: %w", key, err)
	}
	return val, nil
}

// Set implements statestore.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("statestore/redis: set %s: %w", key, err)
	}
	return nil
}

// SetNX implements statestore.Store.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("statestore/redis: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete implements statestore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("statestore/redis: delete %s: %w", key, err)
	}
	return nil
}

// Close implements statestore.Store. If the client was supplied via
// NewWithClient, Close is a no-op: the caller owns that lifecycle.
func (s *Store) Close() error {
	if s.closed || s.externalClient {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ statestore.Store = (*Store)(nil)
