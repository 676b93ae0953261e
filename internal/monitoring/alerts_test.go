package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prommetrics "github.com/stackwatch/stackwatch/pkg/metrics"
	"github.com/stackwatch/stackwatch/pkg/types"
)

// completeJob runs a full start/complete cycle through the service
func completeJob(t *testing.T, svc *Service, jobType string, status types.SyncJobStatus, errMsg string, counts ProgressCounts) {
	t.Helper()
	ctx := context.Background()

	log, err := svc.StartJob(ctx, jobType, nil)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteJob(ctx, log, status, errMsg, &counts))
}

func TestAlerts_SyncFailureOnEveryFailedRun(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeCostSync, types.SyncJobStatusFailed, "upstream timeout", ProgressCounts{})

	raised := alerts.byType(types.AlertTypeSyncFailure)
	require.Len(t, raised, 1)
	assert.Equal(t, types.AlertSeverityError, raised[0].Severity)
	require.NotNil(t, raised[0].JobType)
	assert.Equal(t, types.JobTypeCostSync, *raised[0].JobType)
	assert.Contains(t, raised[0].Message, "upstream timeout")

	completeJob(t, svc, types.JobTypeCostSync, types.SyncJobStatusFailed, "again", ProgressCounts{})
	assert.Len(t, alerts.byType(types.AlertTypeSyncFailure), 2)
}

func TestAlerts_RaisedAlertsAreCounted(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	prom := prommetrics.NewMetrics(prommetrics.DefaultConfig())
	svc.WithMetrics(prom)

	completeJob(t, svc, types.JobTypeCostSync, types.SyncJobStatusFailed, "upstream timeout", ProgressCounts{})

	counted := prom.AlertsTotal.WithLabelValues(
		string(types.AlertTypeSyncFailure), string(types.AlertSeverityError))
	assert.Equal(t, 1.0, testutil.ToFloat64(counted))
}

func TestAlerts_NoSyncFailureOnSuccess(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeCostSync, types.SyncJobStatusCompleted, "", ProgressCounts{Processed: 10})
	assert.Empty(t, alerts.byType(types.AlertTypeSyncFailure))
}

func TestAlerts_NoRecordsFiresOnThirdConsecutiveZeroRun(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})
	assert.Empty(t, alerts.byType(types.AlertTypeNoRecords), "first zero-record run must not alert")

	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})
	assert.Empty(t, alerts.byType(types.AlertTypeNoRecords), "second zero-record run must not alert")

	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})
	raised := alerts.byType(types.AlertTypeNoRecords)
	require.Len(t, raised, 1)
	assert.Equal(t, types.AlertSeverityWarning, raised[0].Severity)
}

func TestAlerts_NoRecordsStreakBrokenByNonZeroRun(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})
	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{Processed: 50})
	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})
	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})

	assert.Empty(t, alerts.byType(types.AlertTypeNoRecords))
}

func TestAlerts_NoRecordsStreakBrokenByFailure(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})
	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusFailed, "boom", ProgressCounts{})
	completeJob(t, svc, types.JobTypeResourceSync, types.SyncJobStatusCompleted, "", ProgressCounts{})

	assert.Empty(t, alerts.byType(types.AlertTypeNoRecords))
}

func TestAlerts_HighErrorRateAboveThreshold(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	// 40 errors over 100 records = 0.4 > 0.3
	completeJob(t, svc, types.JobTypeComplianceSync, types.SyncJobStatusCompleted, "", ProgressCounts{Processed: 100, Errors: 40})

	raised := alerts.byType(types.AlertTypeHighErrorRate)
	require.Len(t, raised, 1)
	assert.Equal(t, types.AlertSeverityWarning, raised[0].Severity)
}

func TestAlerts_HighErrorRateBelowThreshold(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeComplianceSync, types.SyncJobStatusCompleted, "", ProgressCounts{Processed: 100, Errors: 10})
	assert.Empty(t, alerts.byType(types.AlertTypeHighErrorRate))
}

func TestAlerts_HighErrorRateSkippedWithoutRecords(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	// Errors but no records at all: the ratio is undefined, not infinite
	completeJob(t, svc, types.JobTypeComplianceSync, types.SyncJobStatusFailed, "boom", ProgressCounts{Errors: 5})
	assert.Empty(t, alerts.byType(types.AlertTypeHighErrorRate))
}

func TestAlerts_HighErrorRateAggregatesWindow(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	// Each run alone is under the threshold, the window total is over it:
	// 4 runs x (50 records, 20 errors) = 80/200 = 0.4
	for i := 0; i < 4; i++ {
		completeJob(t, svc, types.JobTypeComplianceSync, types.SyncJobStatusCompleted, "", ProgressCounts{Processed: 50, Errors: 20})
	}

	assert.NotEmpty(t, alerts.byType(types.AlertTypeHighErrorRate))
}

func TestCheckStaleSyncs_FiresWhenOverdue(t *testing.T) {
	svc, _, metrics, alerts := newTestService(t)
	ctx := context.Background()

	// Last run 49h ago against a 24h interval with multiplier 2
	lastRun := time.Now().UTC().Add(-49 * time.Hour)
	require.NoError(t, metrics.Upsert(ctx, &types.SyncJobMetrics{
		JobType:   types.JobTypeCostSync,
		TotalRuns: 5,
		LastRunAt: &lastRun,
	}))

	require.NoError(t, svc.CheckStaleSyncs(ctx))

	raised := alerts.byType(types.AlertTypeStaleSync)
	require.Len(t, raised, 1)
	assert.Equal(t, types.AlertSeverityWarning, raised[0].Severity)
}

func TestCheckStaleSyncs_NotYetStale(t *testing.T) {
	svc, _, metrics, alerts := newTestService(t)
	ctx := context.Background()

	lastRun := time.Now().UTC().Add(-30 * time.Hour)
	require.NoError(t, metrics.Upsert(ctx, &types.SyncJobMetrics{
		JobType:   types.JobTypeCostSync,
		TotalRuns: 5,
		LastRunAt: &lastRun,
	}))

	require.NoError(t, svc.CheckStaleSyncs(ctx))
	assert.Empty(t, alerts.byType(types.AlertTypeStaleSync))
}

func TestCheckStaleSyncs_EscalatesToError(t *testing.T) {
	svc, _, metrics, alerts := newTestService(t)
	ctx := context.Background()

	// 80h > 24h x 3 escalation multiplier
	lastRun := time.Now().UTC().Add(-80 * time.Hour)
	require.NoError(t, metrics.Upsert(ctx, &types.SyncJobMetrics{
		JobType:   types.JobTypeCostSync,
		TotalRuns: 5,
		LastRunAt: &lastRun,
	}))

	require.NoError(t, svc.CheckStaleSyncs(ctx))

	raised := alerts.byType(types.AlertTypeStaleSync)
	require.Len(t, raised, 1)
	assert.Equal(t, types.AlertSeverityError, raised[0].Severity)
}

func TestCheckStaleSyncs_NeverRanFiresImmediately(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	require.NoError(t, svc.CheckStaleSyncs(context.Background()))

	raised := alerts.byType(types.AlertTypeStaleSync)
	require.Len(t, raised, 1)
	assert.Contains(t, raised[0].Message, "no recorded runs")
}

func TestCheckStaleSyncs_DeduplicatesWhileUnresolved(t *testing.T) {
	svc, _, metrics, alerts := newTestService(t)
	ctx := context.Background()

	lastRun := time.Now().UTC().Add(-60 * time.Hour)
	require.NoError(t, metrics.Upsert(ctx, &types.SyncJobMetrics{
		JobType:   types.JobTypeCostSync,
		TotalRuns: 5,
		LastRunAt: &lastRun,
	}))

	require.NoError(t, svc.CheckStaleSyncs(ctx))
	require.NoError(t, svc.CheckStaleSyncs(ctx))
	assert.Len(t, alerts.byType(types.AlertTypeStaleSync), 1)

	// Resolving the alert re-arms the rule
	raised := alerts.byType(types.AlertTypeStaleSync)
	require.NoError(t, svc.ResolveAlert(ctx, raised[0].ID, "ops"))

	require.NoError(t, svc.CheckStaleSyncs(ctx))
	assert.Len(t, alerts.byType(types.AlertTypeStaleSync), 2)
}

func TestAlerts_DetailsAreValidJSON(t *testing.T) {
	svc, _, _, alerts := newTestService(t)

	completeJob(t, svc, types.JobTypeCostSync, types.SyncJobStatusFailed, "boom", ProgressCounts{Processed: 3, Errors: 1})

	raised := alerts.byType(types.AlertTypeSyncFailure)
	require.Len(t, raised, 1)

	var details map[string]interface{}
	require.NoError(t, raised[0].Details.Unmarshal(&details))
	assert.Contains(t, details, "job_id")

	_, err := uuid.Parse(details["job_id"].(string))
	assert.NoError(t, err)
}
