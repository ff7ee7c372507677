package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCaches(t *testing.T) map[string]Service {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Service{
		"memory": NewMemoryCache(),
		"redis":  NewRedisCacheFromClient(client, logrus.New()),
	}
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()

	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "alert:active:r1", "a1", 0))

			val, err := c.Get(ctx, "alert:active:r1")
			require.NoError(t, err)
			assert.Equal(t, "a1", val)

			_, err = c.Get(ctx, "alert:active:missing")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestCacheSetNX(t *testing.T) {
	ctx := context.Background()

	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := c.SetNX(ctx, "alert:active:r1", "a1", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.SetNX(ctx, "alert:active:r1", "a2", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second SetNX must not overwrite")

			val, err := c.Get(ctx, "alert:active:r1")
			require.NoError(t, err)
			assert.Equal(t, "a1", val)
		})
	}
}

func TestCacheIncrAndExpire(t *testing.T) {
	ctx := context.Background()

	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			n, err := c.Incr(ctx, "rate_limit:ch1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			ttl, err := c.TTL(ctx, "rate_limit:ch1")
			require.NoError(t, err)
			assert.Greater(t, ttl, time.Duration(0), "first bump must start the window")

			n, err = c.Incr(ctx, "rate_limit:ch1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			n, err = c.Incr(ctx, "alert:stats:raw", 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			require.NoError(t, c.Expire(ctx, "alert:stats:raw", time.Minute))

			ttl, err = c.TTL(ctx, "alert:stats:raw")
			require.NoError(t, err)
			assert.Greater(t, ttl, time.Duration(0))
		})
	}
}

func TestCacheHashOps(t *testing.T) {
	ctx := context.Background()

	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			total, err := c.HIncrBy(ctx, "alert:stats", "total_triggered", 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), total)

			total, err = c.HIncrBy(ctx, "alert:stats", "total_triggered", 2)
			require.NoError(t, err)
			assert.Equal(t, int64(3), total)

			require.NoError(t, c.HSet(ctx, "alert:stats", "avg_resolution", "42.5"))

			all, err := c.HGetAll(ctx, "alert:stats")
			require.NoError(t, err)
			assert.Equal(t, "3", all["total_triggered"])
			assert.Equal(t, "42.5", all["avg_resolution"])
		})
	}
}

func TestCacheSetOps(t *testing.T) {
	ctx := context.Background()

	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.SAdd(ctx, "alerts:active", "a1", "a2"))

			members, err := c.SMembers(ctx, "alerts:active")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a1", "a2"}, members)

			require.NoError(t, c.SRem(ctx, "alerts:active", "a1"))

			members, err = c.SMembers(ctx, "alerts:active")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a2"}, members)
		})
	}
}

func TestCacheKeysPattern(t *testing.T) {
	ctx := context.Background()

	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "suppression:r1", "1", 0))
			require.NoError(t, c.Set(ctx, "suppression:r2", "1", 0))
			require.NoError(t, c.Set(ctx, "alert:active:r1", "a1", 0))

			keys, err := c.Keys(ctx, "suppression:*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"suppression:r1", "suppression:r2"}, keys)
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, "suppression:r1", "1", time.Minute))

	val, err := c.Get(ctx, "suppression:r1")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	now = now.Add(2 * time.Minute)

	_, err = c.Get(ctx, "suppression:r1")
	assert.True(t, IsNotFound(err))

	ok, err := c.SetNX(ctx, "suppression:r1", "2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be claimable again")
}
