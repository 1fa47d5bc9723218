// Package cache provides the keyed, TTL-bounded forecast cache. Keys carry
// an explicit namespace; callers embed the model run in it so that entries
// of a superseded run are never read again.
package cache

import (
	"context"
	"time"
)

// Key addresses one cached value.
type Key struct {
	Namespace string
	ID        string
}

func (k Key) String() string { return k.Namespace + ":" + k.ID }

// Cache stores values under a Key for at most ttl. A ttl of zero keeps the
// value until it is evicted. Close releases the backend's connections.
type Cache[V any] interface {
	Get(ctx context.Context, key Key) (V, bool, error)
	Set(ctx context.Context, key Key, value V, ttl time.Duration) error
	Close() error
}
