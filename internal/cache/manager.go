package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/logging"
	"github.com/stackwatch/stackwatch/pkg/metrics"
)

// Manager shields expensive multi-tenant aggregations from recomputation.
// It wraps a swappable backend with JSON serialization, a per-kind TTL
// policy table, hit/miss accounting and tenant-scoped invalidation.
type Manager struct {
	backend    Backend
	ttls       map[DataKind]time.Duration
	defaultTTL time.Duration
	logger     *logging.Logger
	prom       *metrics.Metrics

	statsMutex sync.Mutex
	stats      statsCounters
}

type statsCounters struct {
	hits       int64
	misses     int64
	sets       int64
	deletes    int64
	errors     int64
	getLatency time.Duration
	getOps     int64
	setLatency time.Duration
	setOps     int64
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Backend      string  `json:"backend"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Sets         int64   `json:"sets"`
	Deletes      int64   `json:"deletes"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	AvgGetTimeMs float64 `json:"avg_get_time_ms"`
	AvgSetTimeMs float64 `json:"avg_set_time_ms"`
}

// NewManager creates a cache manager on the configured backend. When the
// Redis backend is selected but unreachable at startup, the manager
// degrades to the in-process backend and logs the degradation once.
func NewManager(cfg *config.CacheConfig, redisCfg *config.RedisConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetLogger()
	}

	var backend Backend
	if cfg.Backend == "redis" {
		rb, err := NewRedisBackend(redisCfg)
		if err != nil {
			logger.Warn("Redis cache unreachable, degrading to in-process cache",
				"error", err.Error(),
			)
			backend = NewMemoryBackend(cfg.SweepInterval)
		} else {
			backend = rb
		}
	} else {
		backend = NewMemoryBackend(cfg.SweepInterval)
	}

	return NewManagerWithBackend(cfg, backend, logger)
}

// NewManagerWithBackend creates a manager on an explicit backend
func NewManagerWithBackend(cfg *config.CacheConfig, backend Backend, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Manager{
		backend:    backend,
		defaultTTL: cfg.DefaultTTL,
		ttls: map[DataKind]time.Duration{
			KindCostSummary:       cfg.CostSummaryTTL,
			KindComplianceSummary: cfg.ComplianceTTL,
			KindResourceInventory: cfg.ResourceInventoryTTL,
			KindIdentityInventory: cfg.IdentityInventoryTTL,
			KindSyncStatus:        cfg.SyncStatusTTL,
		},
		logger: logger,
	}
}

// WithMetrics attaches prometheus recorders for cache operations and the
// hit ratio gauge
func (m *Manager) WithMetrics(prom *metrics.Metrics) *Manager {
	m.prom = prom
	return m
}

// TTLFor returns the policy TTL for a data kind
func (m *Manager) TTLFor(kind DataKind) time.Duration {
	if ttl, ok := m.ttls[kind]; ok && ttl > 0 {
		return ttl
	}
	return m.defaultTTL
}

// Get retrieves a cached value into dest, reporting whether it was present
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	start := time.Now()
	raw, found, err := m.backend.Get(ctx, key)
	m.recordGet(time.Since(start), found, err)

	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		m.recordError()
		return false, errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	return true, nil
}

// Set stores a value under key for the data kind's policy TTL
func (m *Manager) Set(ctx context.Context, kind DataKind, key string, value interface{}) error {
	return m.SetTTL(ctx, key, value, m.TTLFor(kind))
}

// SetTTL stores a value under key with an explicit TTL
func (m *Manager) SetTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		m.recordError()
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	start := time.Now()
	err = m.backend.Set(ctx, key, string(data), ttl)
	m.recordSet(time.Since(start), err)
	return err
}

// Delete removes one key
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := m.backend.Delete(ctx, key)
	m.recordDelete(err)
	return existed, err
}

// DeletePattern removes every key containing the substring
func (m *Manager) DeletePattern(ctx context.Context, substring string) (int, error) {
	count, err := m.backend.DeletePattern(ctx, substring)
	m.recordDelete(err)
	return count, err
}

// InvalidateTenant purges every cached entry scoped to one tenant. Sync
// jobs call this after writing fresh domain data so subsequent reads
// recompute instead of serving stale aggregates.
func (m *Manager) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	count, err := m.DeletePattern(ctx, TenantPattern(tenantID))
	if err != nil {
		return 0, err
	}

	m.logger.Debug("Invalidated tenant cache entries",
		"tenant_id", tenantID,
		"entries", count,
	)
	return count, nil
}

// InvalidateKind purges every cached entry of one data kind
func (m *Manager) InvalidateKind(ctx context.Context, kind DataKind) (int, error) {
	return m.DeletePattern(ctx, KindPattern(kind))
}

// InvalidateAll purges every entry of every known data kind, used after a
// global resync
func (m *Manager) InvalidateAll(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range Kinds() {
		count, err := m.InvalidateKind(ctx, kind)
		if err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}

// Stats returns a snapshot of cache counters
func (m *Manager) Stats() Stats {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()

	s := Stats{
		Backend: m.backend.Name(),
		Hits:    m.stats.hits,
		Misses:  m.stats.misses,
		Sets:    m.stats.sets,
		Deletes: m.stats.deletes,
		Errors:  m.stats.errors,
	}

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if m.stats.getOps > 0 {
		s.AvgGetTimeMs = float64(m.stats.getLatency.Milliseconds()) / float64(m.stats.getOps)
	}
	if m.stats.setOps > 0 {
		s.AvgSetTimeMs = float64(m.stats.setLatency.Milliseconds()) / float64(m.stats.setOps)
	}

	return s
}

// Backend exposes the active backend name
func (m *Manager) Backend() string {
	return m.backend.Name()
}

// Ping checks backend reachability
func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}

// Close releases backend resources
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) recordGet(elapsed time.Duration, hit bool, err error) {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()

	m.stats.getOps++
	m.stats.getLatency += elapsed

	result := "miss"
	switch {
	case err != nil:
		m.stats.errors++
		result = "error"
	case hit:
		m.stats.hits++
		result = "hit"
	default:
		m.stats.misses++
	}

	if m.prom != nil {
		m.prom.RecordCacheOperation("get", result)
		if total := m.stats.hits + m.stats.misses; total > 0 {
			m.prom.UpdateCacheHitRatio(m.backend.Name(), float64(m.stats.hits)/float64(total))
		}
	}
}

func (m *Manager) recordSet(elapsed time.Duration, err error) {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()

	m.stats.setOps++
	m.stats.setLatency += elapsed

	result := "ok"
	if err != nil {
		m.stats.errors++
		result = "error"
	} else {
		m.stats.sets++
	}

	if m.prom != nil {
		m.prom.RecordCacheOperation("set", result)
	}
}

func (m *Manager) recordDelete(err error) {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()

	result := "ok"
	if err != nil {
		m.stats.errors++
		result = "error"
	} else {
		m.stats.deletes++
	}

	if m.prom != nil {
		m.prom.RecordCacheOperation("delete", result)
	}
}

func (m *Manager) recordError() {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()
	m.stats.errors++
}
