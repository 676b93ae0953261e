package monitoring

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/types"
)

// In-memory store fakes so the lifecycle and alert rules can be tested
// without a database.

type fakeLogStore struct {
	mu   sync.Mutex
	logs []*types.SyncJobLog
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{}
}

func (s *fakeLogStore) Create(ctx context.Context, log *types.SyncJobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	copied := *log
	s.logs = append(s.logs, &copied)
	return nil
}

func (s *fakeLogStore) Update(ctx context.Context, log *types.SyncJobLog) error {
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

func (s *fakeLogStore) GetByID(ctx context.Context, id uuid.UUID) (*types.SyncJobLog, error) {
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

func (s *fakeLogStore) ListByType(ctx context.Context, jobType string) ([]*types.SyncJobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.SyncJobLog
	for _, log := range s.logs {
		if log.JobType == jobType {
			copied := *log
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *fakeLogStore) ListRecent(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var out []*types.SyncJobLog
	for _, log := range s.logs {
		if jobType == "" || log.JobType == jobType {
			copied := *log
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeLogStore) ListFinished(ctx context.Context, jobType string, limit int) ([]*types.SyncJobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	var out []*types.SyncJobLog
	for _, log := range s.logs {
		if log.JobType == jobType && log.Status != types.SyncJobStatusRunning {
			copied := *log
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndedAt == nil || out[j].EndedAt == nil {
			return false
		}
		return out[i].EndedAt.After(*out[j].EndedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeLogStore) JobTypes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, log := range s.logs {
		if !seen[log.JobType] {
			seen[log.JobType] = true
			out = append(out, log.JobType)
		}
	}
	sort.Strings(out)
	return out, nil
}

type fakeMetricsStore struct {
	mu   sync.Mutex
	rows map[string]*types.SyncJobMetrics
}

func newFakeMetricsStore() *fakeMetricsStore {
	return &fakeMetricsStore{rows: make(map[string]*types.SyncJobMetrics)}
}

func (s *fakeMetricsStore) Upsert(ctx context.Context, metrics *types.SyncJobMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *metrics
	s.rows[metrics.JobType] = &copied
	return nil
}

func (s *fakeMetricsStore) GetByType(ctx context.Context, jobType string) (*types.SyncJobMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[jobType]
	if !ok {
		return nil, errors.NewNotFoundError("sync job metrics")
	}
	copied := *row
	return &copied, nil
}

func (s *fakeMetricsStore) List(ctx context.Context) ([]*types.SyncJobMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.SyncJobMetrics
	for _, row := range s.rows {
		copied := *row
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobType < out[j].JobType })
	return out, nil
}

func (s *fakeMetricsStore) Delete(ctx context.Context, jobType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, jobType)
	return nil
}

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []*types.Alert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{}
}

func (s *fakeAlertStore) Create(ctx context.Context, alert *types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	copied := *alert
	s.alerts = append(s.alerts, &copied)
	return nil
}

func (s *fakeAlertStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.ID == id {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, errors.NewNotFoundError("alert")
}

func (s *fakeAlertStore) List(ctx context.Context, resolved *bool, limit int) ([]*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var out []*types.Alert
	for _, alert := range s.alerts {
		if resolved != nil && alert.IsResolved != *resolved {
			continue
		}
		copied := *alert
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeAlertStore) HasUnresolved(ctx context.Context, alertType types.AlertType, jobType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.IsResolved || alert.AlertType != alertType {
			continue
		}
		if alert.JobType != nil && *alert.JobType == jobType {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAlertStore) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.ID == id && !alert.IsResolved {
			alert.IsResolved = true
			alert.ResolvedBy = &resolvedBy
			return nil
		}
	}
	return errors.NewNotFoundError("unresolved alert")
}

// byType counts alerts of one type, for assertions
func (s *fakeAlertStore) byType(alertType types.AlertType) []*types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Alert
	for _, alert := range s.alerts {
		if alert.AlertType == alertType {
			copied := *alert
			out = append(out, &copied)
		}
	}
	return out
}
