package authz

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "authz:policy:version"

// DecisionCache keeps resolved Check outcomes in Redis for a bounded TTL.
// Every administrative mutation bumps the policy version, which shifts all
// keys and leaves stale decisions to expire on their own.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache instantiates the cache helper. A nil client disables
// caching entirely.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DecisionCache{client: client, ttl: ttl}
}

func (c *DecisionCache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *DecisionCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the cache key for one decision tuple.
func (c *DecisionCache) Key(ctx context.Context, userID string, resource ResourceKind, action ActionKind, resourceID *string, attrs map[string]string) (string, error) {
	instance := ""
	if resourceID != nil {
		instance = *resourceID
	}
	var ver int64 = 0
	if c.enabled() {
		v, err := c.version(ctx)
		if err != nil {
			return "", err
		}
		ver = v
	}
	return fmt.Sprintf("authz:decision:%d:%s:%s:%s:%s:%s", ver, userID, resource, action, instance, hashAttrs(attrs)), nil
}

// Lookup returns the cached decision and whether one was present.
func (c *DecisionCache) Lookup(ctx context.Context, key string) (allowed, ok bool, err error) {
	if !c.enabled() {
		return false, false, nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

// Store records a decision under the bounded TTL.
func (c *DecisionCache) Store(ctx context.Context, key string, allowed bool) error {
	if !c.enabled() {
		return nil
	}
	val := "0"
	if allowed {
		val = "1"
	}
	return c.client.Set(ctx, key, val, c.ttl).Err()
}

// Invalidate bumps the policy version after an administrative mutation.
func (c *DecisionCache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func hashAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(attrs[k]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}
