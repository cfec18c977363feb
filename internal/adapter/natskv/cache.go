// Package natskv implements the cache port using NATS JetStream KV as the
// L2 cache shared by all concierge processes.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/concierge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// KV is the subset of jetstream.KeyValue the cache uses.
type KV interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// envelope carries a per-entry expiry on top of the bucket-wide TTL.
type envelope struct {
	ExpiresAt int64  `json:"exp,omitempty"` // unix nanos, 0 = bucket TTL only
	Data      []byte `json:"data"`
}

// Cache wraps a NATS JetStream KeyValue bucket as an L2 cache.
type Cache struct {
	kv  KV
	now func() time.Time
}

// New creates a NATS KV-backed cache.
func New(kv KV) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Get retrieves a value. Entries past their own expiry are misses.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, false, nil
	}
	if env.ExpiresAt != 0 && c.now().UnixNano() >= env.ExpiresAt {
		return nil, false, nil
	}
	return env.Data, true, nil
}

// Set stores a value. The bucket TTL still applies when it is shorter.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := envelope{Data: value}
	if ttl > 0 {
		env.ExpiresAt = c.now().Add(ttl).UnixNano()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("natskv encode %s: %w", key, err)
	}
	if _, err := c.kv.Put(ctx, kvKey(key), data); err != nil {
		return fmt.Errorf("natskv put %s: %w", key, err)
	}
	return nil
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, kvKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete %s: %w", key, err)
	}
	return nil
}

// kvKey maps cache keys onto the NATS KV key alphabet, where '/' is not a
// separator but '.' is.
func kvKey(key string) string {
	return strings.ReplaceAll(key, "/", ".")
}
