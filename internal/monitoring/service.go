package monitoring

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/logging"
	prommetrics "github.com/stackwatch/stackwatch/pkg/metrics"
	"github.com/stackwatch/stackwatch/pkg/types"
)

// ProgressCounts carries the record counters reported by a sync job
type ProgressCounts struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Errors    int64 `json:"errors"`
}

// JobLogView is a SyncJobLog enriched with read-time derived state
type JobLogView struct {
	*types.SyncJobLog
	// StaleRunning is true when the row still says Running but no terminal
	// transition arrived within the configured window, so its real outcome
	// is unknown (the process likely died mid-run)
	StaleRunning bool `json:"stale_running"`
}

// Service owns the sync job lifecycle: it records job executions,
// recomputes per-job-type metrics after every terminal transition and
// evaluates alert rules against the recorded history
type Service struct {
	logs    SyncLogStore
	metrics MetricsStore
	alerts  AlertStore
	config  *config.MonitoringConfig
	logger  *logging.Logger
	prom    *prommetrics.Metrics
}

// NewService creates a monitoring service on top of the given stores
func NewService(logs SyncLogStore, metrics MetricsStore, alerts AlertStore, cfg *config.MonitoringConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Service{
		logs:    logs,
		metrics: metrics,
		alerts:  alerts,
		config:  cfg,
		logger:  logger,
	}
}

// WithMetrics attaches prometheus recorders for raised alerts
func (s *Service) WithMetrics(prom *prommetrics.Metrics) *Service {
	s.prom = prom
	return s
}

// StartJob records the beginning of a sync job execution and returns the
// log row that tracks it. The returned row is the handle callers pass to
// UpdateProgress and CompleteJob.
func (s *Service) StartJob(ctx context.Context, jobType string, tenantID *string) (*types.SyncJobLog, error) {
	if jobType == "" {
		return nil, errors.NewValidationError("job type is required")
	}

	log := &types.SyncJobLog{
		ID:        uuid.New(),
		JobType:   jobType,
		TenantID:  tenantID,
		Status:    types.SyncJobStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	if err := s.logs.Create(ctx, log); err != nil {
		return nil, err
	}

	s.logger.WithFields(jobFields(log)).Info("Sync job started")
	return log, nil
}

// UpdateProgress overwrites the record counters on a running job. Counts
// are absolute totals, not deltas.
func (s *Service) UpdateProgress(ctx context.Context, log *types.SyncJobLog, counts ProgressCounts) error {
	if log == nil {
		return errors.NewValidationError("job log is required")
	}
	if log.Status.IsTerminal() {
		return errors.NewConflictError("cannot update progress on a finished job")
	}

	log.RecordsProcessed = counts.Processed
	log.RecordsCreated = counts.Created
	log.RecordsUpdated = counts.Updated
	log.ErrorsCount = counts.Errors

	return s.logs.Update(ctx, log)
}

// CompleteJob applies the single terminal transition for a job: it stamps
// the end time and duration, persists the outcome, then recomputes the
// job type's metrics and evaluates completion alert rules. Metrics and
// alert failures are logged, not returned; the terminal transition itself
// is the only operation whose failure the caller sees.
func (s *Service) CompleteJob(ctx context.Context, log *types.SyncJobLog, status types.SyncJobStatus, errorMessage string, counts *ProgressCounts) error {
	if log == nil {
		return errors.NewValidationError("job log is required")
	}
	if !status.IsTerminal() {
		return errors.NewValidationError("completion status must be terminal")
	}
	if log.Status.IsTerminal() {
		return errors.NewConflictError("job already finished")
	}

	now := time.Now().UTC()
	durationMs := now.Sub(log.StartedAt).Milliseconds()

	log.Status = status
	log.EndedAt = &now
	log.DurationMs = &durationMs
	if counts != nil {
		log.RecordsProcessed = counts.Processed
		log.RecordsCreated = counts.Created
		log.RecordsUpdated = counts.Updated
		log.ErrorsCount = counts.Errors
	}
	if status == types.SyncJobStatusFailed && errorMessage != "" {
		truncated := s.truncateError(errorMessage)
		log.ErrorMessage = &truncated
	}

	if err := s.logs.Update(ctx, log); err != nil {
		return err
	}

	fields := jobFields(log)
	fields["duration_ms"] = durationMs
	if status == types.SyncJobStatusCompleted {
		fields["records_processed"] = log.RecordsProcessed
		s.logger.WithFields(fields).Info("Sync job completed")
	} else {
		fields["error_message"] = errorMessage
		s.logger.WithFields(fields).Error("Sync job failed")
	}

	if _, err := s.RecomputeMetrics(ctx, log.JobType); err != nil {
		s.logger.Error("Failed to recompute sync metrics",
			"job_type", log.JobType, "error", err.Error())
	}
	if err := s.evaluateCompletionAlerts(ctx, log); err != nil {
		s.logger.Error("Failed to evaluate alert rules",
			"job_type", log.JobType, "error", err.Error())
	}

	return nil
}

// jobFields builds the standard log fields for one job execution
func jobFields(log *types.SyncJobLog) logging.Fields {
	fields := logging.Fields{
		"job_type": log.JobType,
		"job_id":   log.ID.String(),
	}
	if log.TenantID != nil {
		fields["tenant_id"] = *log.TenantID
	}
	return fields
}

// RecomputeMetrics rebuilds the aggregate metrics for a job type from its
// full log history and upserts the result. Rows still in Running state do
// not contribute. The rebuilt row replaces whatever is stored, so
// concurrent recomputes converge on a full-history result either way.
func (s *Service) RecomputeMetrics(ctx context.Context, jobType string) (*types.SyncJobMetrics, error) {
	history, err := s.logs.ListByType(ctx, jobType)
	if err != nil {
		return nil, err
	}

	metrics := &types.SyncJobMetrics{JobType: jobType}

	var durationSum int64
	var durationCount int64
	for _, entry := range history {
		if !entry.Status.IsTerminal() {
			continue
		}

		metrics.TotalRuns++
		metrics.TotalRecordsProcessed += entry.RecordsProcessed
		metrics.TotalErrors += entry.ErrorsCount

		if entry.Status == types.SyncJobStatusCompleted {
			metrics.SuccessfulRuns++
			if entry.EndedAt != nil {
				metrics.LastSuccessAt = latestTime(metrics.LastSuccessAt, entry.EndedAt)
			}
		} else {
			metrics.FailedRuns++
			if entry.EndedAt != nil {
				if latest := latestTime(metrics.LastFailureAt, entry.EndedAt); latest != metrics.LastFailureAt {
					metrics.LastFailureAt = latest
					metrics.LastErrorMessage = entry.ErrorMessage
				}
			}
		}

		startedAt := entry.StartedAt
		metrics.LastRunAt = latestTime(metrics.LastRunAt, &startedAt)

		if entry.DurationMs != nil {
			d := *entry.DurationMs
			durationSum += d
			durationCount++
			if metrics.MinDurationMs == nil || d < *metrics.MinDurationMs {
				metrics.MinDurationMs = &d
			}
			if metrics.MaxDurationMs == nil || d > *metrics.MaxDurationMs {
				metrics.MaxDurationMs = &d
			}
		}
	}

	if metrics.TotalRuns > 0 {
		rate := float64(metrics.SuccessfulRuns) / float64(metrics.TotalRuns)
		metrics.SuccessRate = &rate
		avgRecords := float64(metrics.TotalRecordsProcessed) / float64(metrics.TotalRuns)
		metrics.AvgRecordsProcessed = &avgRecords
	}
	if durationCount > 0 {
		avg := float64(durationSum) / float64(durationCount)
		metrics.AvgDurationMs = &avg
	}

	if err := s.metrics.Upsert(ctx, metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// GetMetrics returns the stored metrics for one job type
func (s *Service) GetMetrics(ctx context.Context, jobType string) (*types.SyncJobMetrics, error) {
	return s.metrics.GetByType(ctx, jobType)
}

// ListMetrics returns the stored metrics for every job type
func (s *Service) ListMetrics(ctx context.Context) ([]*types.SyncJobMetrics, error) {
	return s.metrics.List(ctx)
}

// ResetMetrics deletes the stored metrics row for a job type. History is
// untouched; the next terminal transition rebuilds the row from it.
func (s *Service) ResetMetrics(ctx context.Context, jobType string) error {
	if jobType == "" {
		return errors.NewValidationError("job type is required")
	}
	if err := s.metrics.Delete(ctx, jobType); err != nil {
		return err
	}
	s.logger.Info("Sync metrics reset", "job_type", jobType)
	return nil
}

// RecentLogs returns the most recent log rows, newest first, flagging
// Running rows whose start time is older than the stale-running window
func (s *Service) RecentLogs(ctx context.Context, jobType string, limit int) ([]*JobLogView, error) {
	rows, err := s.logs.ListRecent(ctx, jobType, limit)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-s.config.StaleRunningAfter)
	views := make([]*JobLogView, 0, len(rows))
	for _, row := range rows {
		views = append(views, &JobLogView{
			SyncJobLog:   row,
			StaleRunning: row.Status == types.SyncJobStatusRunning && row.StartedAt.Before(cutoff),
		})
	}
	return views, nil
}

// ListAlerts returns alerts newest first, optionally filtered by
// resolution state
func (s *Service) ListAlerts(ctx context.Context, resolved *bool, limit int) ([]*types.Alert, error) {
	return s.alerts.List(ctx, resolved, limit)
}

// ResolveAlert marks an unresolved alert resolved, recording who did it
func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedBy string) error {
	if resolvedBy == "" {
		return errors.NewValidationError("resolved_by is required")
	}
	if err := s.alerts.Resolve(ctx, id, resolvedBy); err != nil {
		return err
	}
	s.logger.Info("Alert resolved", "alert_id", id.String(), "resolved_by", resolvedBy)
	return nil
}

// truncateError caps persisted error text at the configured byte limit,
// backing up to a rune boundary so the stored value stays valid UTF-8
func (s *Service) truncateError(msg string) string {
	max := s.config.ErrorMessageMaxLen
	if max <= 0 || len(msg) <= max {
		return msg
	}

	cut := max
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func latestTime(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		return candidate
	}
	return current
}
