// Package tiered implements a two-level (L1 + L2) cache adapter used by
// the idempotency layer in front of the durable store.
package tiered

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/resflow/toolplane/internal/port/cache"
)

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set and Delete operate on both levels.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	group    singleflight.Group
}

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire controls how long L2 backfill entries live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

type lookup struct {
	val   []byte
	found bool
}

// Get checks L1, then L2. On L2 hit, backfills L1. Concurrent misses for
// the same key share a single L2 round trip. An L2 error after an L1
// miss is returned as a miss with the error so callers can fall through
// to the durable store.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		val, found, err := c.l2.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			_ = c.l1.Set(ctx, key, val, c.l1Expire)
		}
		return lookup{val: val, found: found}, nil
	})
	if err != nil {
		return nil, false, err
	}

	hit := res.(lookup)
	return hit.val, hit.found, nil
}

// Set writes to both L1 and L2. L1 entries never outlive l1Expire even
// when the caller asks for a longer TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if c.l1Expire > 0 && (l1TTL <= 0 || l1TTL > c.l1Expire) {
		l1TTL = c.l1Expire
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
