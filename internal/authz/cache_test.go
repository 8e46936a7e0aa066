package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *DecisionCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDecisionCache(client, time.Minute)
}

func TestDecisionCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.Key(ctx, "user-1", ResourceProject, ActionRead, nil, nil)
	require.NoError(t, err)

	_, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Store(ctx, key, true))
	allowed, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, allowed)

	require.NoError(t, cache.Store(ctx, key, false))
	allowed, ok, err = cache.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, allowed)
}

func TestDecisionCacheKeyShape(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	instance := "asset-42"
	base, err := cache.Key(ctx, "u", ResourceAsset, ActionRead, nil, nil)
	require.NoError(t, err)
	withInstance, err := cache.Key(ctx, "u", ResourceAsset, ActionRead, &instance, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base, withInstance)

	withAttrs, err := cache.Key(ctx, "u", ResourceAsset, ActionRead, nil, map[string]string{"org": "A"})
	require.NoError(t, err)
	assert.NotEqual(t, base, withAttrs)

	// Attribute order must not matter.
	a, err := cache.Key(ctx, "u", ResourceAsset, ActionRead, nil, map[string]string{"org": "A", "env": "prod"})
	require.NoError(t, err)
	b, err := cache.Key(ctx, "u", ResourceAsset, ActionRead, nil, map[string]string{"env": "prod", "org": "A"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecisionCacheInvalidateShiftsKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.Key(ctx, "u", ResourceProject, ActionRead, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cache.Store(ctx, before, true))

	require.NoError(t, cache.Invalidate(ctx))

	after, err := cache.Key(ctx, "u", ResourceProject, ActionRead, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	_, ok, err := cache.Lookup(ctx, after)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecisionCacheDisabled(t *testing.T) {
	var cache *DecisionCache
	ctx := context.Background()

	assert.NoError(t, cache.Store(ctx, "any", true))
	assert.NoError(t, cache.Invalidate(ctx))
	_, ok, err := cache.Lookup(ctx, "any")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceUsesDecisionCache(t *testing.T) {
	store := newMemStore()
	cache := newTestCache(t)
	svc := NewService(ServiceConfig{Store: store, Logger: testLogger(), Cache: cache})
	ctx := context.Background()

	role := seedRoleRow(t, store, "cached-role", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionRead)
	seedGrantRow(t, store, role.ID, perm.ID)
	seedAssignmentRow(t, store, "user-c", role.ID)

	require.True(t, svc.Check(ctx, "user-c", ResourceProject, ActionRead, nil, nil))

	// Served from the cache even when the store stops answering.
	store.failReads = assert.AnError
	assert.True(t, svc.Check(ctx, "user-c", ResourceProject, ActionRead, nil, nil))
	assert.Equal(t, "cached", store.lastAudit().Details["reason"])
	store.failReads = nil

	// An administrative mutation shifts the version and forces re-evaluation.
	_, err := store.DeleteRoleGrant(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	assert.True(t, svc.Check(ctx, "user-c", ResourceProject, ActionRead, nil, nil), "stale entry still answers until invalidated")

	require.NoError(t, cache.Invalidate(ctx))
	assert.False(t, svc.Check(ctx, "user-c", ResourceProject, ActionRead, nil, nil))
}
