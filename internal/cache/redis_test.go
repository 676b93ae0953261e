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

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	backend := NewRedisBackendFromClient(client)
	t.Cleanup(func() { backend.Close() })

	return backend, srv
}

func TestRedisBackend_SetAndGet(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k1", "v1", time.Minute))

	value, found, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", value)
}

func TestRedisBackend_GetMissing(t *testing.T) {
	b, _ := newTestRedisBackend(t)

	_, found, err := b.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	b, srv := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "short", "v", 100*time.Millisecond))

	srv.FastForward(time.Second)

	_, found, err := b.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisBackend_Delete(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", "v", time.Minute))

	existed, err := b.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = b.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRedisBackend_DeletePattern(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "cost_summary:tenant:t-1:aaaa", "v", time.Minute))
	require.NoError(t, b.Set(ctx, "sync_status:tenant:t-1:bbbb", "v", time.Minute))
	require.NoError(t, b.Set(ctx, "cost_summary:tenant:t-2:cccc", "v", time.Minute))

	removed, err := b.DeletePattern(ctx, "tenant:t-1:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, found, err := b.Get(ctx, "cost_summary:tenant:t-2:cccc")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRedisBackend_Ping(t *testing.T) {
	b, srv := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Ping(ctx))

	srv.Close()
	assert.Error(t, b.Ping(ctx))
}

func TestManager_OnRedisBackend(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	m := NewManagerWithBackend(testCacheConfig(), b, nil)

	ctx := context.Background()
	key := BuildKey(KindComplianceSummary, "t-7", "q3")
	stored := map[string]int{"passing": 40, "failing": 2}

	require.NoError(t, m.Set(ctx, KindComplianceSummary, key, stored))

	var loaded map[string]int
	found, err := m.Get(ctx, key, &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, stored, loaded)
	assert.Equal(t, "redis", m.Backend())
}
