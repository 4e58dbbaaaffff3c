// Package store defines the durable boolean key-value boundary that backs
// the entitlement store.
package store

import "context"

// Store is a persistent boolean key-value store. Writes are single-key
// idempotent upserts.
type Store interface {
	// GetBool returns the value for key, or def if the key was never set.
	GetBool(ctx context.Context, key string, def bool) (bool, error)

	// SetBool upserts key.
	SetBool(ctx context.Context, key string, value bool) error

	// Scan returns every key that starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string]bool, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
