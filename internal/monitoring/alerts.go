package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlxtypes "github.com/jmoiron/sqlx/types"

	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/types"
)

// evaluateCompletionAlerts runs the rules that react to a single terminal
// transition. Each rule failure is reported; the remaining rules still run.
func (s *Service) evaluateCompletionAlerts(ctx context.Context, log *types.SyncJobLog) error {
	var firstErr error

	if err := s.checkSyncFailure(ctx, log); err != nil {
		firstErr = err
	}
	if err := s.checkNoRecords(ctx, log); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.checkHighErrorRate(ctx, log); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// checkSyncFailure raises an alert for every failed run
func (s *Service) checkSyncFailure(ctx context.Context, log *types.SyncJobLog) error {
	if log.Status != types.SyncJobStatusFailed {
		return nil
	}

	duration := "unknown duration"
	if log.DurationMs != nil {
		duration = (time.Duration(*log.DurationMs) * time.Millisecond).String()
	}
	message := fmt.Sprintf("Sync job %s failed after %s", log.JobType, duration)
	if log.ErrorMessage != nil {
		message = fmt.Sprintf("Sync job %s failed after %s: %s", log.JobType, duration, *log.ErrorMessage)
	}

	details := map[string]interface{}{
		"job_id":            log.ID.String(),
		"records_processed": log.RecordsProcessed,
		"errors_count":      log.ErrorsCount,
	}
	if log.DurationMs != nil {
		details["duration_ms"] = *log.DurationMs
	}

	return s.createAlert(ctx, &types.Alert{
		AlertType: types.AlertTypeSyncFailure,
		Severity:  types.AlertSeverityError,
		JobType:   &log.JobType,
		TenantID:  log.TenantID,
		Title:     fmt.Sprintf("Sync failure: %s", log.JobType),
		Message:   message,
	}, details)
}

// checkNoRecords raises an alert when the configured number of
// consecutive completions all processed zero records. A failed run in
// between breaks the streak.
func (s *Service) checkNoRecords(ctx context.Context, log *types.SyncJobLog) error {
	if log.Status != types.SyncJobStatusCompleted || log.RecordsProcessed != 0 {
		return nil
	}

	window := s.config.ZeroRecordRuns
	recent, err := s.logs.ListFinished(ctx, log.JobType, window)
	if err != nil {
		return err
	}
	if len(recent) < window {
		return nil
	}
	for _, entry := range recent {
		if entry.Status != types.SyncJobStatusCompleted || entry.RecordsProcessed != 0 {
			return nil
		}
	}

	return s.createAlert(ctx, &types.Alert{
		AlertType: types.AlertTypeNoRecords,
		Severity:  types.AlertSeverityWarning,
		JobType:   &log.JobType,
		TenantID:  log.TenantID,
		Title:     fmt.Sprintf("No records synced: %s", log.JobType),
		Message: fmt.Sprintf("Sync job %s completed %d consecutive runs without processing any records",
			log.JobType, window),
	}, map[string]interface{}{
		"job_id":                log.ID.String(),
		"consecutive_zero_runs": window,
	})
}

// checkHighErrorRate raises an alert when the error/record ratio over the
// recent finished runs exceeds the configured threshold. The rule only
// applies when the window saw records at all.
func (s *Service) checkHighErrorRate(ctx context.Context, log *types.SyncJobLog) error {
	window := s.config.ErrorRateWindow
	recent, err := s.logs.ListFinished(ctx, log.JobType, window)
	if err != nil {
		return err
	}

	var totalRecords, totalErrors int64
	for _, entry := range recent {
		totalRecords += entry.RecordsProcessed
		totalErrors += entry.ErrorsCount
	}
	if totalRecords == 0 {
		return nil
	}

	rate := float64(totalErrors) / float64(totalRecords)
	if rate <= s.config.ErrorRateThreshold {
		return nil
	}

	return s.createAlert(ctx, &types.Alert{
		AlertType: types.AlertTypeHighErrorRate,
		Severity:  types.AlertSeverityWarning,
		JobType:   &log.JobType,
		TenantID:  log.TenantID,
		Title:     fmt.Sprintf("High error rate: %s", log.JobType),
		Message: fmt.Sprintf("Sync job %s error rate %.1f%% over the last %d runs exceeds %.1f%%",
			log.JobType, rate*100, len(recent), s.config.ErrorRateThreshold*100),
	}, map[string]interface{}{
		"error_rate":    rate,
		"threshold":     s.config.ErrorRateThreshold,
		"window_runs":   len(recent),
		"total_records": totalRecords,
		"total_errors":  totalErrors,
	})
}

// CheckStaleSyncs evaluates the stale_sync rule for every job type with a
// configured expected interval. A job type that has never run at all is
// reported immediately; one whose last run is older than the expected
// interval times the stale multiplier is reported as stale, escalating to
// error severity past the escalation multiplier. An existing unresolved
// stale_sync alert for the job type suppresses a duplicate.
func (s *Service) CheckStaleSyncs(ctx context.Context) error {
	var firstErr error
	now := time.Now().UTC()

	for jobType, intervalHours := range s.config.ExpectedIntervalHours {
		expected := time.Duration(intervalHours * float64(time.Hour))

		if err := s.checkStaleJobType(ctx, jobType, expected, now); err != nil {
			s.logger.Error("Stale sync check failed",
				"job_type", jobType, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (s *Service) checkStaleJobType(ctx context.Context, jobType string, expected time.Duration, now time.Time) error {
	metrics, err := s.metrics.GetByType(ctx, jobType)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	jt := jobType
	var alert *types.Alert
	details := map[string]interface{}{
		"expected_interval": expected.String(),
	}

	switch {
	case metrics == nil || metrics.LastRunAt == nil:
		alert = &types.Alert{
			AlertType: types.AlertTypeStaleSync,
			Severity:  types.AlertSeverityWarning,
			JobType:   &jt,
			Title:     fmt.Sprintf("Sync never ran: %s", jobType),
			Message:   fmt.Sprintf("Sync job %s has no recorded runs but is expected every %s", jobType, expected),
		}

	default:
		age := now.Sub(*metrics.LastRunAt)
		staleAfter := time.Duration(float64(expected) * s.config.StaleMultiplier)
		if age <= staleAfter {
			return nil
		}

		severity := types.AlertSeverityWarning
		escalateAfter := time.Duration(float64(expected) * s.config.StaleEscalateMultiplier)
		if age > escalateAfter {
			severity = types.AlertSeverityError
		}

		details["last_run_at"] = metrics.LastRunAt.Format(time.RFC3339)
		details["age"] = age.Round(time.Minute).String()
		alert = &types.Alert{
			AlertType: types.AlertTypeStaleSync,
			Severity:  severity,
			JobType:   &jt,
			Title:     fmt.Sprintf("Stale sync: %s", jobType),
			Message: fmt.Sprintf("Sync job %s last ran %s ago, expected every %s",
				jobType, age.Round(time.Minute), expected),
		}
	}

	exists, err := s.alerts.HasUnresolved(ctx, types.AlertTypeStaleSync, jobType)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return s.createAlert(ctx, alert, details)
}

// createAlert fills in the generated fields, marshals the rule details
// and persists the alert
func (s *Service) createAlert(ctx context.Context, alert *types.Alert, details map[string]interface{}) error {
	alert.ID = uuid.New()
	alert.CreatedAt = time.Now().UTC()

	if details != nil {
		raw, err := json.Marshal(details)
		if err == nil {
			alert.Details = sqlxtypes.JSONText(raw)
		}
	}

	if err := s.alerts.Create(ctx, alert); err != nil {
		return err
	}

	if s.prom != nil {
		s.prom.RecordAlert(string(alert.AlertType), string(alert.Severity))
	}

	s.logger.Warn("Alert raised",
		"alert_type", string(alert.AlertType),
		"severity", string(alert.Severity),
		"title", alert.Title)
	return nil
}
