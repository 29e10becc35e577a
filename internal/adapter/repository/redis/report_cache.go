package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache implements usecase.ReportCache. Every key embeds the school's
// generation counter, so Invalidate only has to bump the counter and stale
// entries age out through their TTL.
type ReportCache struct {
	client *redis.Client
	prefix string
}

// NewReportCache creates a new ReportCache.
func NewReportCache(client *redis.Client) *ReportCache {
	return &ReportCache{
		client: client,
		prefix: "reports:",
	}
}

// Generation returns the current cache generation of a school.
func (c *ReportCache) Generation(ctx context.Context, schoolID string) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey(schoolID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}

	return gen, err
}

// Get returns a report cached under gen. ok is false on a miss.
func (c *ReportCache) Get(ctx context.Context, schoolID, gen, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.entryKey(schoolID, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

// Set stores a report under gen, the generation observed before the report
// was computed. A report that raced an invalidation lands under a stale
// generation and is never served.
func (c *ReportCache) Set(ctx context.Context, schoolID, gen, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.entryKey(schoolID, gen, key), value, ttl).Err()
}

// Invalidate makes every cached report of a school unreachable.
func (c *ReportCache) Invalidate(ctx context.Context, schoolID string) error {
	return c.client.Incr(ctx, c.generationKey(schoolID)).Err()
}

func (c *ReportCache) generationKey(schoolID string) string {
	return c.prefix + schoolID + ":gen"
}

func (c *ReportCache) entryKey(schoolID, gen, key string) string {
	return c.prefix + schoolID + ":" + gen + ":" + key
}
