package permcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisConfig{
		URL:      "redis://" + mr.Addr(),
		PoolSize: 5,
		TTL:      time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisConfig{URL: "invalid://url"})
	assert.Error(t, err)
}

func TestNewRedisCache_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "u1", samplePerms))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"u1"))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKeyPrefix+"u1"))

	got, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, samplePerms, got)

	require.NoError(t, c.Set(ctx, "u2", nil))
	got, ok, err = c.Get(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Equal(t, int64(2), c.Stats().Hits)
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, c.Set(ctx, "u1", samplePerms))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, mr.Set(DefaultKeyPrefix+"u1", "not json"))

	_, ok, err := c.Get(ctx, "u1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(DefaultKeyPrefix+"u1"))
}

func TestRedisCache_InvalidateAndPurge(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, mr.Set("unrelated", "keep"))
	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, c.Set(ctx, u, samplePerms))
	}

	require.NoError(t, c.Invalidate(ctx, "u1"))
	assert.False(t, mr.Exists(DefaultKeyPrefix+"u1"))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"u2"))

	require.NoError(t, c.Purge(ctx))
	assert.False(t, mr.Exists(DefaultKeyPrefix+"u2"))
	assert.False(t, mr.Exists(DefaultKeyPrefix+"u3"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCache_Errors(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)
	mr.SetError("READONLY")

	_, ok, err := c.Get(ctx, "u1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Set(ctx, "u1", samplePerms))
	assert.Error(t, c.Ping(ctx))
}
