package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowweaver/compiler/internal/logger"
)

// ErrCacheMiss is returned by BlobCache.Get when casID has no cached entry.
var ErrCacheMiss = errors.New("store: cache miss")

// BlobCache is a TTL'd cache-aside layer in front of a PostgresStore's
// content-addressed blobs, keyed by cas id exactly as the source's
// redis.Client wraps SetWithExpiry/Get for similar lookaside caches.
type BlobCache struct {
	redis *redis.Client
	log   *logger.Logger
	ttl   time.Duration
}

// NewBlobCache wraps an already-connected redis client.
func NewBlobCache(client *redis.Client, log *logger.Logger, ttl time.Duration) *BlobCache {
	return &BlobCache{redis: client, log: log, ttl: ttl}
}

func cacheKey(casID string) string {
	return "flowweaver:blob:" + casID
}

// Get returns the cached content for casID, or ErrCacheMiss.
func (c *BlobCache) Get(ctx context.Context, casID string) ([]byte, error) {
	val, err := c.redis.Get(ctx, cacheKey(casID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.Debug("blob cache miss", "cas_id", casID)
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.log.Error("blob cache GET failed", "cas_id", casID, "error", err)
		return nil, fmt.Errorf("blob cache get: %w", err)
	}
	c.log.Debug("blob cache hit", "cas_id", casID)
	return val, nil
}

// Set caches content for casID under the cache's default TTL.
func (c *BlobCache) Set(ctx context.Context, casID string, content []byte) error {
	if err := c.redis.Set(ctx, cacheKey(casID), content, c.ttl).Err(); err != nil {
		c.log.Error("blob cache SET failed", "cas_id", casID, "error", err)
		return fmt.Errorf("blob cache set: %w", err)
	}
	c.log.Debug("blob cache set", "cas_id", casID, "ttl", c.ttl)
	return nil
}

// GetOrLoad returns the cached content for casID, loading and populating
// the cache from load on a miss.
func (c *BlobCache) GetOrLoad(ctx context.Context, casID string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if content, err := c.Get(ctx, casID); err == nil {
		return content, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}

	content, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, casID, content); err != nil {
		c.log.Warn("failed to populate blob cache after load", "cas_id", casID, "error", err)
	}
	return content, nil
}

// Invalidate drops the cached entry for casID.
func (c *BlobCache) Invalidate(ctx context.Context, casID string) error {
	if err := c.redis.Del(ctx, cacheKey(casID)).Err(); err != nil {
		return fmt.Errorf("blob cache invalidate: %w", err)
	}
	return nil
}
