// Package cachestore abstracts the key-value store holding cached response
// bodies and validated-token entries. Eviction is entirely the store's TTL
// mechanism; the gateway never deletes entries.
package cachestore

import (
	"context"
	"time"
)

// Store is the minimal key-value surface the pipeline needs.
type Store interface {
	// Get returns the value for key. ok is false on a miss; a miss is
	// not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}
