package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/metrics"
)

func testCacheConfig() *config.CacheConfig {
	return &config.CacheConfig{
		Backend:              "memory",
		DefaultTTL:           30 * time.Minute,
		CostSummaryTTL:       time.Hour,
		ComplianceTTL:        30 * time.Minute,
		ResourceInventoryTTL: 15 * time.Minute,
		IdentityInventoryTTL: 15 * time.Minute,
		SyncStatusTTL:        5 * time.Minute,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := NewMemoryBackend(0)
	t.Cleanup(func() { backend.Close() })
	return NewManagerWithBackend(testCacheConfig(), backend, nil)
}

type costSummary struct {
	TenantID string  `json:"tenant_id"`
	Total    float64 `json:"total"`
}

func TestManager_SetAndGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	key := BuildKey(KindCostSummary, "t-1", "monthly")
	stored := costSummary{TenantID: "t-1", Total: 1234.56}

	require.NoError(t, m.Set(ctx, KindCostSummary, key, stored))

	var loaded costSummary
	found, err := m.Get(ctx, key, &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, stored, loaded)
}

func TestManager_GetMiss(t *testing.T) {
	m := newTestManager(t)

	var dest costSummary
	found, err := m.Get(context.Background(), "absent", &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_TTLFor(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, time.Hour, m.TTLFor(KindCostSummary))
	assert.Equal(t, 5*time.Minute, m.TTLFor(KindSyncStatus))
	// Unknown kinds fall back to the default TTL
	assert.Equal(t, 30*time.Minute, m.TTLFor(DataKind("unknown")))
}

func TestManager_SetTTLExpires(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetTTL(ctx, "ephemeral", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var dest string
	found, err := m.Get(ctx, "ephemeral", &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_InvalidateTenant(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	keyT1Cost := BuildKey(KindCostSummary, "t-1")
	keyT1Sync := BuildKey(KindSyncStatus, "t-1")
	keyT2Cost := BuildKey(KindCostSummary, "t-2")

	require.NoError(t, m.Set(ctx, KindCostSummary, keyT1Cost, "a"))
	require.NoError(t, m.Set(ctx, KindSyncStatus, keyT1Sync, "b"))
	require.NoError(t, m.Set(ctx, KindCostSummary, keyT2Cost, "c"))

	removed, err := m.InvalidateTenant(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var dest string
	found, err := m.Get(ctx, keyT2Cost, &dest)
	require.NoError(t, err)
	assert.True(t, found, "other tenants' entries must survive")
}

func TestManager_InvalidateKind(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, KindCostSummary, BuildKey(KindCostSummary, "t-1"), "a"))
	require.NoError(t, m.Set(ctx, KindSyncStatus, BuildKey(KindSyncStatus, "t-1"), "b"))

	removed, err := m.InvalidateKind(ctx, KindCostSummary)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	key := BuildKey(KindSyncStatus, "t-1")
	require.NoError(t, m.Set(ctx, KindSyncStatus, key, "v"))

	var dest string
	_, err := m.Get(ctx, key, &dest)
	require.NoError(t, err)
	_, err = m.Get(ctx, "missing", &dest)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestManager_RecordsPrometheusOperations(t *testing.T) {
	m := newTestManager(t)
	prom := metrics.NewMetrics(metrics.DefaultConfig())
	m.WithMetrics(prom)
	ctx := context.Background()

	key := BuildKey(KindSyncStatus, "t-1")
	require.NoError(t, m.Set(ctx, KindSyncStatus, key, "v"))

	var dest string
	_, err := m.Get(ctx, key, &dest)
	require.NoError(t, err)
	_, err = m.Get(ctx, "missing", &dest)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.CacheOperations.WithLabelValues("set", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.CacheOperations.WithLabelValues("get", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.CacheOperations.WithLabelValues("get", "miss")))
	assert.Equal(t, 0.5, testutil.ToFloat64(prom.CacheHitRatio.WithLabelValues("memory")))
}

func TestNewManager_MemoryBackendSelected(t *testing.T) {
	cfg := testCacheConfig()
	m := NewManager(cfg, &config.RedisConfig{Host: "localhost", Port: 6379}, nil)
	defer m.Close()

	assert.Equal(t, "memory", m.Backend())
}

func TestNewManager_RedisFallbackToMemory(t *testing.T) {
	cfg := testCacheConfig()
	cfg.Backend = "redis"

	// Nothing listens on this port, so the manager must degrade
	m := NewManager(cfg, &config.RedisConfig{Host: "127.0.0.1", Port: 1}, nil)
	defer m.Close()

	assert.Equal(t, "memory", m.Backend())

	// The degraded cache still works
	ctx := context.Background()
	key := BuildKey(KindSyncStatus, "t-1")
	require.NoError(t, m.Set(ctx, KindSyncStatus, key, "v"))

	var dest string
	found, err := m.Get(ctx, key, &dest)
	require.NoError(t, err)
	assert.True(t, found)
}
