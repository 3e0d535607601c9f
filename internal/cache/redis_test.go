package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	report := testReport("r1")
	report.TTLExpiresAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.Set(ctx, "ip:192.168.1.100", report, time.Hour))

	got, err := store.Get(ctx, "ip:192.168.1.100")
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, report.Score, got.Score)
	assert.Equal(t, report.IOC, got.IOC)
}

func TestRedisStoreMiss(t *testing.T) {
	store := newRedisStore(t)

	_, err := store.Get(context.Background(), "ip:10.0.0.1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreExpiredByOwnTimestamp(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	// Native key TTL still running, but the report's own expiry has passed.
	report := testReport("r1")
	report.TTLExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Set(ctx, "k", report, time.Hour))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "report expiry field governs, not the store TTL")

	// The stale entry was dropped on read.
	_, err = store.client.Get(ctx, redisKeyPrefix+"k").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisStoreDelete(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	report := testReport("r1")
	report.TTLExpiresAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.Set(ctx, "k", report, time.Hour))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
