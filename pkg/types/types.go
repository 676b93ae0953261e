package types

import (
	"time"

	"github.com/google/uuid"
	sqlxtypes "github.com/jmoiron/sqlx/types"
)

// SyncJobStatus represents the lifecycle state of one sync job execution
type SyncJobStatus string

const (
	SyncJobStatusRunning   SyncJobStatus = "running"
	SyncJobStatusCompleted SyncJobStatus = "completed"
	SyncJobStatusFailed    SyncJobStatus = "failed"
)

// IsTerminal reports whether the status is a final one
func (s SyncJobStatus) IsTerminal() bool {
	return s == SyncJobStatusCompleted || s == SyncJobStatusFailed
}

// Well-known sync job types. The monitoring engine does not restrict job
// types to this list; these are the recurring pulls the platform schedules.
const (
	JobTypeCostSync       = "cost_sync"
	JobTypeComplianceSync = "compliance_sync"
	JobTypeResourceSync   = "resource_sync"
	JobTypeIdentitySync   = "identity_sync"
	JobTypeSecuritySync   = "security_sync"
)

// SyncJobLog is one row per execution attempt of a named job type,
// optionally scoped to a single tenant (nil = all tenants)
type SyncJobLog struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	JobType          string        `json:"job_type" db:"job_type"`
	TenantID         *string       `json:"tenant_id,omitempty" db:"tenant_id"`
	Status           SyncJobStatus `json:"status" db:"status"`
	StartedAt        time.Time     `json:"started_at" db:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	DurationMs       *int64        `json:"duration_ms,omitempty" db:"duration_ms"`
	RecordsProcessed int64         `json:"records_processed" db:"records_processed"`
	RecordsCreated   int64         `json:"records_created" db:"records_created"`
	RecordsUpdated   int64         `json:"records_updated" db:"records_updated"`
	ErrorsCount      int64         `json:"errors_count" db:"errors_count"`
	ErrorMessage     *string       `json:"error_message,omitempty" db:"error_message"`
}

// SyncJobMetrics is one row per job type, recomputed from the full
// SyncJobLog history after every terminal transition
type SyncJobMetrics struct {
	JobType               string     `json:"job_type" db:"job_type"`
	TotalRuns             int64      `json:"total_runs" db:"total_runs"`
	SuccessfulRuns        int64      `json:"successful_runs" db:"successful_runs"`
	FailedRuns            int64      `json:"failed_runs" db:"failed_runs"`
	SuccessRate           *float64   `json:"success_rate,omitempty" db:"success_rate"`
	MinDurationMs         *int64     `json:"min_duration_ms,omitempty" db:"min_duration_ms"`
	AvgDurationMs         *float64   `json:"avg_duration_ms,omitempty" db:"avg_duration_ms"`
	MaxDurationMs         *int64     `json:"max_duration_ms,omitempty" db:"max_duration_ms"`
	TotalRecordsProcessed int64      `json:"total_records_processed" db:"total_records_processed"`
	AvgRecordsProcessed   *float64   `json:"avg_records_processed,omitempty" db:"avg_records_processed"`
	TotalErrors           int64      `json:"total_errors" db:"total_errors"`
	LastRunAt             *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	LastSuccessAt         *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	LastFailureAt         *time.Time `json:"last_failure_at,omitempty" db:"last_failure_at"`
	LastErrorMessage      *string    `json:"last_error_message,omitempty" db:"last_error_message"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// AlertType identifies the rule that created an alert
type AlertType string

const (
	AlertTypeSyncFailure   AlertType = "sync_failure"
	AlertTypeNoRecords     AlertType = "no_records"
	AlertTypeHighErrorRate AlertType = "high_error_rate"
	AlertTypeStaleSync     AlertType = "stale_sync"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is an operator-visible notification created by rule evaluation
// and resolved explicitly by an operator action
type Alert struct {
	ID         uuid.UUID          `json:"id" db:"id"`
	AlertType  AlertType          `json:"alert_type" db:"alert_type"`
	Severity   AlertSeverity      `json:"severity" db:"severity"`
	JobType    *string            `json:"job_type,omitempty" db:"job_type"`
	TenantID   *string            `json:"tenant_id,omitempty" db:"tenant_id"`
	Title      string             `json:"title" db:"title"`
	Message    string             `json:"message" db:"message"`
	Details    sqlxtypes.JSONText `json:"details,omitempty" db:"details"`
	IsResolved bool               `json:"is_resolved" db:"is_resolved"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy *string            `json:"resolved_by,omitempty" db:"resolved_by"`
}
