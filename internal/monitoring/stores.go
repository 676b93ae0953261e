package monitoring

import (
	"context"

	"github.com/google/uuid"

	"github.com/stackwatch/stackwatch/pkg/types"
)

// SyncLogStore is the persistence interface for sync job log rows,
// implemented by database.SyncJobLogRepository
type SyncLogStore interface {
	Create(ctx context.Context, log *types.SyncJobLog) error
	Update(ctx context.Context, log *types.SyncJobLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.SyncJobLog, error)
	ListByType(ctx context.Context, jobType string) ([]*types.SyncJobLog, error)
	ListRecent(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error)
	ListFinished(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error)
	JobTypes(ctx context.Context) ([]string, error)
}

// MetricsStore is the persistence interface for derived per-job-type
// metrics, implemented by database.SyncJobMetricsRepository
type MetricsStore interface {
	Upsert(ctx context.Context, metrics *types.SyncJobMetrics) error
	GetByType(ctx context.Context, jobType string) (*types.SyncJobMetrics, error)
	List(ctx context.Context) ([]*types.SyncJobMetrics, error)
	Delete(ctx context.Context, jobType string) error
}

// AlertStore is the persistence interface for alerts, implemented by
// database.AlertRepository
type AlertStore interface {
	Create(ctx context.Context, alert *types.Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.Alert, error)
	List(ctx context.Context, resolved *bool, limit int) ([]*types.Alert, error)
	HasUnresolved(ctx context.Context, alertType types.AlertType, jobType string) (bool, error)
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy string) error
}
