// Package statestore is the shared key-value state store: the batch
// executor polls it for `command:{id}:result` keys written by whatever
// dispatches the actual robot command.
package statestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist (or has
// expired).
var ErrNotFound = errors.New("statestore: key not found")

// Store is the shared key-value contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the raw value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key with an optional TTL (zero means no
	// expiration).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value at key only if it does not already exist,
	// reporting whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying connection.
	Close() error
}

// ResultKey builds the `command:{id}:result` key the Batch Executor
// polls for.
func ResultKey(commandID string) string {
	return "command:" + commandID + ":result"
}
