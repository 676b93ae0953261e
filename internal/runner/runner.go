package runner

import (
	"context"
	"time"

	"github.com/stackwatch/stackwatch/internal/cache"
	"github.com/stackwatch/stackwatch/internal/monitoring"
	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/logging"
	"github.com/stackwatch/stackwatch/pkg/metrics"
	"github.com/stackwatch/stackwatch/pkg/resilience"
	"github.com/stackwatch/stackwatch/pkg/types"
)

// SyncFunc does the actual data pull for one sync run and reports how
// many records it touched. It is retried and circuit-guarded, so it must
// be safe to call more than once.
type SyncFunc func(ctx context.Context) (*monitoring.ProgressCounts, error)

// Task describes one sync job execution
type Task struct {
	// JobType names the sync job, e.g. types.JobTypeCostSync
	JobType string
	// TenantID scopes the run to one tenant; nil runs across all tenants
	TenantID *string
	// Service selects the resilience policy guarding the upstream call,
	// e.g. resilience.ServiceCostAPI
	Service string
	// InvalidateKinds lists the cached data kinds a successful run makes
	// stale. Tenant-scoped runs invalidate the tenant's keys instead.
	InvalidateKinds []cache.DataKind
	// Run performs the sync
	Run SyncFunc
}

// Runner executes sync tasks end to end: it opens a job log, runs the
// sync through the service's retry/circuit-breaker pipeline, records the
// terminal outcome and invalidates the cache entries the run made stale.
type Runner struct {
	registry *resilience.Registry
	monitor  *monitoring.Service
	cache    *cache.Manager
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewRunner creates a sync task runner
func NewRunner(registry *resilience.Registry, monitor *monitoring.Service, cacheManager *cache.Manager, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Runner{
		registry: registry,
		monitor:  monitor,
		cache:    cacheManager,
		logger:   logger,
	}
}

// WithMetrics attaches prometheus recorders for executed runs
func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// Execute runs one sync task. The job log records the outcome either way;
// the returned error is the original upstream error after retries are
// exhausted, or the breaker-open rejection when the circuit refused the
// call.
func (r *Runner) Execute(ctx context.Context, task Task) error {
	if task.JobType == "" {
		return errors.NewValidationError("task job type is required")
	}
	if task.Run == nil {
		return errors.NewValidationError("task run function is required")
	}

	log, err := r.monitor.StartJob(ctx, task.JobType, task.TenantID)
	if err != nil {
		return err
	}

	var counts *monitoring.ProgressCounts
	pipeline := r.registry.Pipeline(task.Service)
	runErr := pipeline.ExecuteVoid(ctx, func(ctx context.Context) error {
		result, err := task.Run(ctx)
		if err != nil {
			return err
		}
		counts = result
		return nil
	})

	if runErr != nil {
		if completeErr := r.monitor.CompleteJob(ctx, log, types.SyncJobStatusFailed, runErr.Error(), counts); completeErr != nil {
			r.logger.Error("Failed to record sync job failure",
				"job_type", task.JobType, "error", completeErr.Error())
		}
		r.recordRun(log)
		return runErr
	}

	if err := r.monitor.CompleteJob(ctx, log, types.SyncJobStatusCompleted, "", counts); err != nil {
		return err
	}
	r.recordRun(log)

	r.invalidate(ctx, task)
	return nil
}

func (r *Runner) recordRun(log *types.SyncJobLog) {
	if r.metrics == nil {
		return
	}

	var duration time.Duration
	if log.DurationMs != nil {
		duration = time.Duration(*log.DurationMs) * time.Millisecond
	}
	r.metrics.RecordSyncRun(log.JobType, string(log.Status), duration, log.RecordsProcessed, log.ErrorsCount)
}

// ExecutePerTenant runs the same sync for a list of tenants, isolating
// failures: one tenant's error does not stop the others. It returns the
// first error together with how many tenants failed.
func (r *Runner) ExecutePerTenant(ctx context.Context, task Task, tenantIDs []string, run func(ctx context.Context, tenantID string) (*monitoring.ProgressCounts, error)) (int, error) {
	var firstErr error
	failed := 0

	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		tid := tenantID
		tenantTask := task
		tenantTask.TenantID = &tid
		tenantTask.Run = func(ctx context.Context) (*monitoring.ProgressCounts, error) {
			return run(ctx, tid)
		}

		if err := r.Execute(ctx, tenantTask); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			r.logger.Error("Tenant sync failed",
				"job_type", task.JobType,
				"tenant_id", tid,
				"error", err.Error())
		}
	}

	return failed, firstErr
}

// invalidate drops the cache entries a successful run made stale. Cache
// errors never fail the sync; they are logged and the entries age out via
// TTL instead.
func (r *Runner) invalidate(ctx context.Context, task Task) {
	if r.cache == nil {
		return
	}

	if task.TenantID != nil {
		removed, err := r.cache.InvalidateTenant(ctx, *task.TenantID)
		if err != nil {
			r.logger.Warn("Tenant cache invalidation failed",
				"tenant_id", *task.TenantID, "error", err.Error())
			return
		}
		r.logger.Debug("Tenant cache invalidated",
			"tenant_id", *task.TenantID, "entries", removed)
		return
	}

	for _, kind := range task.InvalidateKinds {
		removed, err := r.cache.InvalidateKind(ctx, kind)
		if err != nil {
			r.logger.Warn("Cache invalidation failed",
				"kind", string(kind), "error", err.Error())
			continue
		}
		r.logger.Debug("Cache invalidated", "kind", string(kind), "entries", removed)
	}
}
