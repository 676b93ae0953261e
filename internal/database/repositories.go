package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/types"
)

// Repositories aggregates all repositories
type Repositories struct {
	SyncJobLogs    *SyncJobLogRepository
	SyncJobMetrics *SyncJobMetricsRepository
	Alerts         *AlertRepository
}

// NewRepositories creates all repositories on one database handle
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		SyncJobLogs:    NewSyncJobLogRepository(db),
		SyncJobMetrics: NewSyncJobMetricsRepository(db),
		Alerts:         NewAlertRepository(db),
	}
}

// SyncJobLogRepository handles sync job log persistence
type SyncJobLogRepository struct {
	db *DB
}

// NewSyncJobLogRepository creates a new sync job log repository
func NewSyncJobLogRepository(db *DB) *SyncJobLogRepository {
	return &SyncJobLogRepository{db: db}
}

// Create inserts a new log row
func (r *SyncJobLogRepository) Create(ctx context.Context, log *types.SyncJobLog) error {
	query := `
		INSERT INTO sync_job_logs (
			id, job_type, tenant_id, status, started_at,
			records_processed, records_created, records_updated, errors_count
		) VALUES (
			:id, :job_type, :tenant_id, :status, :started_at,
			:records_processed, :records_created, :records_updated, :errors_count
		)`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	_, err := r.db.NamedExecContext(ctx, query, log)
	if err != nil {
		return errors.NewInternalError("failed to create sync job log").WithCause(err)
	}

	return nil
}

// Update persists progress counters and terminal state for a log row
func (r *SyncJobLogRepository) Update(ctx context.Context, log *types.SyncJobLog) error {
	query := `
		UPDATE sync_job_logs
		SET status = :status,
		    ended_at = :ended_at,
		    duration_ms = :duration_ms,
		    records_processed = :records_processed,
		    records_created = :records_created,
		    records_updated = :records_updated,
		    errors_count = :errors_count,
		    error_message = :error_message
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, log)
	if err != nil {
		return errors.NewInternalError("failed to update sync job log").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	if rowsAffected == 0 {
		return errors.NewNotFoundError("sync job log")
	}

	return nil
}

// GetByID retrieves one log row
func (r *SyncJobLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.SyncJobLog, error) {
	var log types.SyncJobLog
	query := `SELECT * FROM sync_job_logs WHERE id = $1`

	err := r.db.GetContext(ctx, &log, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("sync job log")
		}
		return nil, errors.NewInternalError("failed to get sync job log").WithCause(err)
	}

	return &log, nil
}

// ListByType returns the full history for one job type, oldest first
func (r *SyncJobLogRepository) ListByType(ctx context.Context, jobType string) ([]*types.SyncJobLog, error) {
	var logs []*types.SyncJobLog
	query := `SELECT * FROM sync_job_logs WHERE job_type = $1 ORDER BY started_at ASC`

	err := r.db.SelectContext(ctx, &logs, query, jobType)
	if err != nil {
		return nil, errors.NewInternalError("failed to list sync job logs").WithCause(err)
	}

	return logs, nil
}

// ListRecent returns the newest log rows, optionally filtered by job type
func (r *SyncJobLogRepository) ListRecent(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var logs []*types.SyncJobLog
	var err error

	if jobType == "" {
		query := `SELECT * FROM sync_job_logs ORDER BY started_at DESC LIMIT $1`
		err = r.db.SelectContext(ctx, &logs, query, limit)
	} else {
		query := `SELECT * FROM sync_job_logs WHERE job_type = $1 ORDER BY started_at DESC LIMIT $2`
		err = r.db.SelectContext(ctx, &logs, query, jobType, limit)
	}

	if err != nil {
		return nil, errors.NewInternalError("failed to list recent sync job logs").WithCause(err)
	}

	return logs, nil
}

// ListFinished returns the newest non-running rows for one job type
func (r *SyncJobLogRepository) ListFinished(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error) {
	if limit <= 0 {
		limit = 10
	}

	var logs []*types.SyncJobLog
	query := `
		SELECT * FROM sync_job_logs
		WHERE job_type = $1 AND status <> $2
		ORDER BY ended_at DESC
		LIMIT $3`

	err := r.db.SelectContext(ctx, &logs, query, jobType, types.SyncJobStatusRunning, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list finished sync job logs").WithCause(err)
	}

	return logs, nil
}

// JobTypes returns every job type that has at least one log row
func (r *SyncJobLogRepository) JobTypes(ctx context.Context) ([]string, error) {
	var jobTypes []string
	query := `SELECT DISTINCT job_type FROM sync_job_logs ORDER BY job_type`

	err := r.db.SelectContext(ctx, &jobTypes, query)
	if err != nil {
		return nil, errors.NewInternalError("failed to list job types").WithCause(err)
	}

	return jobTypes, nil
}

// SyncJobMetricsRepository handles derived per-job-type metrics
type SyncJobMetricsRepository struct {
	db *DB
}

// NewSyncJobMetricsRepository creates a new metrics repository
func NewSyncJobMetricsRepository(db *DB) *SyncJobMetricsRepository {
	return &SyncJobMetricsRepository{db: db}
}

// Upsert writes the recomputed metrics row for a job type. Concurrent
// recomputes of the same type are last-writer-wins.
func (r *SyncJobMetricsRepository) Upsert(ctx context.Context, metrics *types.SyncJobMetrics) error {
	metrics.UpdatedAt = time.Now()

	query := `
		INSERT INTO sync_job_metrics (
			job_type, total_runs, successful_runs, failed_runs, success_rate,
			min_duration_ms, avg_duration_ms, max_duration_ms,
			total_records_processed, avg_records_processed, total_errors,
			last_run_at, last_success_at, last_failure_at, last_error_message,
			updated_at
		) VALUES (
			:job_type, :total_runs, :successful_runs, :failed_runs, :success_rate,
			:min_duration_ms, :avg_duration_ms, :max_duration_ms,
			:total_records_processed, :avg_records_processed, :total_errors,
			:last_run_at, :last_success_at, :last_failure_at, :last_error_message,
			:updated_at
		)
		ON CONFLICT (job_type) DO UPDATE SET
			total_runs = EXCLUDED.total_runs,
			successful_runs = EXCLUDED.successful_runs,
			failed_runs = EXCLUDED.failed_runs,
			success_rate = EXCLUDED.success_rate,
			min_duration_ms = EXCLUDED.min_duration_ms,
			avg_duration_ms = EXCLUDED.avg_duration_ms,
			max_duration_ms = EXCLUDED.max_duration_ms,
			total_records_processed = EXCLUDED.total_records_processed,
			avg_records_processed = EXCLUDED.avg_records_processed,
			total_errors = EXCLUDED.total_errors,
			last_run_at = EXCLUDED.last_run_at,
			last_success_at = EXCLUDED.last_success_at,
			last_failure_at = EXCLUDED.last_failure_at,
			last_error_message = EXCLUDED.last_error_message,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExecContext(ctx, query, metrics)
	if err != nil {
		return errors.NewInternalError("failed to upsert sync job metrics").WithCause(err)
	}

	return nil
}

// GetByType retrieves the metrics row for one job type
func (r *SyncJobMetricsRepository) GetByType(ctx context.Context, jobType string) (*types.SyncJobMetrics, error) {
	var metrics types.SyncJobMetrics
	query := `SELECT * FROM sync_job_metrics WHERE job_type = $1`

	err := r.db.GetContext(ctx, &metrics, query, jobType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("sync job metrics")
		}
		return nil, errors.NewInternalError("failed to get sync job metrics").WithCause(err)
	}

	return &metrics, nil
}

// List returns metrics for every job type
func (r *SyncJobMetricsRepository) List(ctx context.Context) ([]*types.SyncJobMetrics, error) {
	var metrics []*types.SyncJobMetrics
	query := `SELECT * FROM sync_job_metrics ORDER BY job_type`

	err := r.db.SelectContext(ctx, &metrics, query)
	if err != nil {
		return nil, errors.NewInternalError("failed to list sync job metrics").WithCause(err)
	}

	return metrics, nil
}

// Delete removes the metrics row for one job type
func (r *SyncJobMetricsRepository) Delete(ctx context.Context, jobType string) error {
	query := `DELETE FROM sync_job_metrics WHERE job_type = $1`

	_, err := r.db.ExecContext(ctx, query, jobType)
	if err != nil {
		return errors.NewInternalError("failed to delete sync job metrics").WithCause(err)
	}

	return nil
}

// AlertRepository handles alert persistence
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert
func (r *AlertRepository) Create(ctx context.Context, alert *types.Alert) error {
	query := `
		INSERT INTO alerts (
			id, alert_type, severity, job_type, tenant_id,
			title, message, details, is_resolved, created_at
		) VALUES (
			:id, :alert_type, :severity, :job_type, :tenant_id,
			:title, :message, :details, :is_resolved, :created_at
		)`

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	_, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return errors.NewInternalError("failed to create alert").WithCause(err)
	}

	return nil
}

// GetByID retrieves one alert
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Alert, error) {
	var alert types.Alert
	query := `SELECT * FROM alerts WHERE id = $1`

	err := r.db.GetContext(ctx, &alert, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("alert")
		}
		return nil, errors.NewInternalError("failed to get alert").WithCause(err)
	}

	return &alert, nil
}

// List returns alerts filtered by resolution state, newest first
func (r *AlertRepository) List(ctx context.Context, resolved *bool, limit int) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	var alerts []*types.Alert
	var err error

	if resolved == nil {
		query := `SELECT * FROM alerts ORDER BY created_at DESC LIMIT $1`
		err = r.db.SelectContext(ctx, &alerts, query, limit)
	} else {
		query := `SELECT * FROM alerts WHERE is_resolved = $1 ORDER BY created_at DESC LIMIT $2`
		err = r.db.SelectContext(ctx, &alerts, query, *resolved, limit)
	}

	if err != nil {
		return nil, errors.NewInternalError("failed to list alerts").WithCause(err)
	}

	return alerts, nil
}

// HasUnresolved reports whether an unresolved alert of the given type
// exists for a job type, used for alert de-duplication
func (r *AlertRepository) HasUnresolved(ctx context.Context, alertType types.AlertType, jobType string) (bool, error) {
	var count int64
	query := `
		SELECT COUNT(*) FROM alerts
		WHERE alert_type = $1 AND job_type = $2 AND is_resolved = FALSE`

	err := r.db.GetContext(ctx, &count, query, alertType, jobType)
	if err != nil {
		return false, errors.NewInternalError("failed to check unresolved alerts").WithCause(err)
	}

	return count > 0, nil
}

// Resolve marks an alert resolved by an operator
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string) error {
	query := `
		UPDATE alerts
		SET is_resolved = TRUE, resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND is_resolved = FALSE`

	result, err := r.db.ExecContext(ctx, query, id, time.Now(), resolvedBy)
	if err != nil {
		return errors.NewInternalError("failed to resolve alert").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	if rowsAffected == 0 {
		return errors.NewNotFoundError("unresolved alert")
	}

	return nil
}
