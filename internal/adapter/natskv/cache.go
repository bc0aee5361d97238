// Package natskv backs the cache port with a NATS JetStream KV bucket: the
// shared L2 that lets every instance observe a policy refresh at once.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache adapts a JetStream KeyValue bucket to the cache port.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps an existing bucket; the bucket TTL governs expiry.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Get reports a value and whether the key exists in the bucket.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set writes the value. The per-call TTL is ignored; expiry is a bucket
// property set at creation.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, key, value)
	return err
}

// Delete removes the key, tolerating absent keys.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
