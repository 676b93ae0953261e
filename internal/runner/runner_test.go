package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/stackwatch/internal/cache"
	"github.com/stackwatch/stackwatch/internal/monitoring"
	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/metrics"
	"github.com/stackwatch/stackwatch/pkg/resilience"
	"github.com/stackwatch/stackwatch/pkg/types"
)

type memLogStore struct {
	mu   sync.Mutex
	logs []*types.SyncJobLog
}

func (s *memLogStore) Create(ctx context.Context, log *types.SyncJobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *log
	s.logs = append(s.logs, &copied)
	return nil
}

func (s *memLogStore) Update(ctx context.Context, log *types.SyncJobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.logs {
		if existing.ID == log.ID {
			copied := *log
			s.logs[i] = &copied
			return nil
		}
	}
	return errors.NewNotFoundError("sync job log")
}

func (s *memLogStore) GetByID(ctx context.Context, id uuid.UUID) (*types.SyncJobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range s.logs {
		if log.ID == id {
			copied := *log
			return &copied, nil
		}
	}
	return nil, errors.NewNotFoundError("sync job log")
}

func (s *memLogStore) ListByType(ctx context.Context, jobType string) ([]*types.SyncJobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SyncJobLog
	for _, log := range s.logs {
		if log.JobType == jobType {
			copied := *log
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memLogStore) ListRecent(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error) {
	return s.ListByType(ctx, jobType)
}

func (s *memLogStore) ListFinished(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SyncJobLog
	for _, log := range s.logs {
		if log.JobType == jobType && log.Status != types.SyncJobStatusRunning {
			copied := *log
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memLogStore) JobTypes(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *memLogStore) all() []*types.SyncJobLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.SyncJobLog, len(s.logs))
	copy(out, s.logs)
	return out
}

type memMetricsStore struct {
	mu   sync.Mutex
	rows map[string]*types.SyncJobMetrics
}

func (s *memMetricsStore) Upsert(ctx context.Context, metrics *types.SyncJobMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]*types.SyncJobMetrics)
	}
	copied := *metrics
	s.rows[metrics.JobType] = &copied
	return nil
}

func (s *memMetricsStore) GetByType(ctx context.Context, jobType string) (*types.SyncJobMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jobType]
	if !ok {
		return nil, errors.NewNotFoundError("sync job metrics")
	}
	copied := *row
	return &copied, nil
}

func (s *memMetricsStore) List(ctx context.Context) ([]*types.SyncJobMetrics, error) {
	return nil, nil
}

func (s *memMetricsStore) Delete(ctx context.Context, jobType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, jobType)
	return nil
}

type memAlertStore struct {
	mu     sync.Mutex
	alerts []*types.Alert
}

func (s *memAlertStore) Create(ctx context.Context, alert *types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts = append(s.alerts, &copied)
	return nil
}

func (s *memAlertStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Alert, error) {
	return nil, errors.NewNotFoundError("alert")
}

func (s *memAlertStore) List(ctx context.Context, resolved *bool, limit int) ([]*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out, nil
}

func (s *memAlertStore) HasUnresolved(ctx context.Context, alertType types.AlertType, jobType string) (bool, error) {
	return false, nil
}

func (s *memAlertStore) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string) error {
	return errors.NewNotFoundError("unresolved alert")
}

func newTestRunner(t *testing.T) (*Runner, *memLogStore, *cache.Manager) {
	t.Helper()

	logs := &memLogStore{}
	monitorCfg := &config.MonitoringConfig{
		ZeroRecordRuns:     3,
		ErrorRateWindow:    10,
		ErrorRateThreshold: 0.3,
		StaleRunningAfter:  6 * time.Hour,
		ErrorMessageMaxLen: 500,
	}
	monitor := monitoring.NewService(logs, &memMetricsStore{}, &memAlertStore{}, monitorCfg, nil)

	backend := cache.NewMemoryBackend(0)
	t.Cleanup(func() { backend.Close() })
	cacheManager := cache.NewManagerWithBackend(&config.CacheConfig{
		Backend:    "memory",
		DefaultTTL: time.Minute,
	}, backend, nil)

	policies := []resilience.ServicePolicy{
		{
			Name: resilience.ServiceCostAPI,
			Breaker: resilience.CircuitBreakerConfig{
				FailureThreshold: 2,
				RecoveryTimeout:  time.Minute,
				SuccessThreshold: 1,
			},
			Retry: resilience.RetryConfig{
				MaxRetries: 1,
				BaseDelay:  time.Millisecond,
				MaxDelay:   2 * time.Millisecond,
			},
		},
	}
	registry := resilience.NewRegistry(policies)

	return NewRunner(registry, monitor, cacheManager, nil), logs, cacheManager
}

func TestRunner_SuccessfulRunCompletesAndInvalidatesTenantCache(t *testing.T) {
	runner, logs, cacheManager := newTestRunner(t)
	ctx := context.Background()

	tenantID := "t-1"
	key := cache.BuildKey(cache.KindCostSummary, tenantID)
	require.NoError(t, cacheManager.SetTTL(ctx, key, "stale-value", time.Minute))

	err := runner.Execute(ctx, Task{
		JobType:  types.JobTypeCostSync,
		TenantID: &tenantID,
		Service:  resilience.ServiceCostAPI,
		Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			return &monitoring.ProgressCounts{Processed: 250, Created: 100, Updated: 150}, nil
		},
	})
	require.NoError(t, err)

	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, types.SyncJobStatusCompleted, rows[0].Status)
	assert.Equal(t, int64(250), rows[0].RecordsProcessed)

	// The tenant's cached aggregations were dropped
	var dest string
	found, err := cacheManager.Get(ctx, key, &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunner_FailureRecordsFailedLogAndReturnsOriginalError(t *testing.T) {
	runner, logs, _ := newTestRunner(t)

	upstream := errors.NewAuthenticationError("cost-api")
	attempts := 0
	err := runner.Execute(context.Background(), Task{
		JobType: types.JobTypeCostSync,
		Service: resilience.ServiceCostAPI,
		Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			attempts++
			return nil, upstream
		},
	})

	// Permanent errors are not retried and surface unchanged
	assert.Same(t, upstream, err.(*errors.AppError))
	assert.Equal(t, 1, attempts)

	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, types.SyncJobStatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].ErrorMessage)
}

func TestRunner_TransientFailureIsRetried(t *testing.T) {
	runner, logs, _ := newTestRunner(t)

	attempts := 0
	err := runner.Execute(context.Background(), Task{
		JobType: types.JobTypeCostSync,
		Service: resilience.ServiceCostAPI,
		Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.NewUnavailableError("cost-api")
			}
			return &monitoring.ProgressCounts{Processed: 5}, nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, types.SyncJobStatusCompleted, rows[0].Status)
}

func TestRunner_OpenBreakerFailsFast(t *testing.T) {
	runner, logs, _ := newTestRunner(t)
	ctx := context.Background()

	// Two runs x (1 attempt + 1 retry) opens the threshold-2 breaker on the
	// first run already
	failing := Task{
		JobType: types.JobTypeCostSync,
		Service: resilience.ServiceCostAPI,
		Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			return nil, errors.NewUnavailableError("cost-api")
		},
	}
	require.Error(t, runner.Execute(ctx, failing))

	attempts := 0
	err := runner.Execute(ctx, Task{
		JobType: types.JobTypeCostSync,
		Service: resilience.ServiceCostAPI,
		Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			attempts++
			return &monitoring.ProgressCounts{}, nil
		},
	})

	assert.True(t, resilience.IsBreakerOpen(err))
	assert.Equal(t, 0, attempts)

	// Both runs are on record, the second failed without an upstream call
	rows := logs.all()
	require.Len(t, rows, 2)
	assert.Equal(t, types.SyncJobStatusFailed, rows[1].Status)
}

func TestRunner_ExecutePerTenantIsolatesFailures(t *testing.T) {
	runner, logs, _ := newTestRunner(t)

	failed, err := runner.ExecutePerTenant(context.Background(), Task{
		JobType: types.JobTypeCostSync,
		Service: resilience.ServiceCostAPI,
	}, []string{"t-1", "t-2", "t-3"}, func(ctx context.Context, tenantID string) (*monitoring.ProgressCounts, error) {
		if tenantID == "t-2" {
			return nil, errors.NewValidationError("tenant misconfigured")
		}
		return &monitoring.ProgressCounts{Processed: 1}, nil
	})

	assert.Error(t, err)
	assert.Equal(t, 1, failed)

	// All three tenants ran; only t-2 failed
	rows := logs.all()
	require.Len(t, rows, 3)
	statuses := map[string]types.SyncJobStatus{}
	for _, row := range rows {
		require.NotNil(t, row.TenantID)
		statuses[*row.TenantID] = row.Status
	}
	assert.Equal(t, types.SyncJobStatusCompleted, statuses["t-1"])
	assert.Equal(t, types.SyncJobStatusFailed, statuses["t-2"])
	assert.Equal(t, types.SyncJobStatusCompleted, statuses["t-3"])
}

func TestRunner_RecordsRunMetrics(t *testing.T) {
	runner, _, _ := newTestRunner(t)
	m := metrics.NewMetrics(metrics.DefaultConfig())
	runner.WithMetrics(m)

	err := runner.Execute(context.Background(), Task{
		JobType: types.JobTypeCostSync,
		Service: resilience.ServiceCostAPI,
		Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			return &monitoring.ProgressCounts{Processed: 10}, nil
		},
	})
	require.NoError(t, err)

	completed := m.SyncRunsTotal.WithLabelValues(types.JobTypeCostSync, string(types.SyncJobStatusCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(completed))

	records := m.SyncRecordsProcessed.WithLabelValues(types.JobTypeCostSync)
	assert.Equal(t, 10.0, testutil.ToFloat64(records))
}

func TestRunner_ValidatesTask(t *testing.T) {
	runner, _, _ := newTestRunner(t)
	ctx := context.Background()

	err := runner.Execute(ctx, Task{Service: resilience.ServiceCostAPI, Run: func(ctx context.Context) (*monitoring.ProgressCounts, error) {
		return nil, nil
	}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = runner.Execute(ctx, Task{JobType: types.JobTypeCostSync, Service: resilience.ServiceCostAPI})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
