package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stackwatch/stackwatch/internal/cache"
	"github.com/stackwatch/stackwatch/internal/monitoring"
	"github.com/stackwatch/stackwatch/pkg/resilience"
)

// SyncHandler exposes sync job metrics, logs and alert operations
type SyncHandler struct {
	monitor *monitoring.Service
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(monitor *monitoring.Service) *SyncHandler {
	return &SyncHandler{monitor: monitor}
}

// ListMetrics returns stored metrics for every job type
func (h *SyncHandler) ListMetrics(c *gin.Context) {
	metrics, err := h.monitor.ListMetrics(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, metrics)
}

// GetMetrics returns stored metrics for one job type
func (h *SyncHandler) GetMetrics(c *gin.Context) {
	jobType := c.Param("job_type")

	metrics, err := h.monitor.GetMetrics(c.Request.Context(), jobType)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, metrics)
}

// ResetMetrics deletes the stored metrics row for a job type
func (h *SyncHandler) ResetMetrics(c *gin.Context) {
	jobType := c.Param("job_type")

	if err := h.monitor.ResetMetrics(c.Request.Context(), jobType); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, map[string]string{
		"job_type": jobType,
		"status":   "reset",
	})
}

// ListLogs returns recent sync job log rows, newest first
func (h *SyncHandler) ListLogs(c *gin.Context) {
	jobType := c.Query("job_type")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.monitor.RecentLogs(c.Request.Context(), jobType, limit)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, logs)
}

// ListAlerts returns alerts, optionally filtered by resolution state
func (h *SyncHandler) ListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	var resolved *bool
	if raw := c.Query("resolved"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			BadRequestResponse(c, "resolved must be true or false")
			return
		}
		resolved = &value
	}

	alerts, err := h.monitor.ListAlerts(c.Request.Context(), resolved, limit)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alerts)
}

// ResolveAlertRequest is the body for resolving an alert
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
}

// ResolveAlert marks an alert resolved
func (h *SyncHandler) ResolveAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid alert id")
		return
	}

	var req ResolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "resolved_by is required")
		return
	}

	if err := h.monitor.ResolveAlert(c.Request.Context(), id, req.ResolvedBy); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, map[string]string{
		"id":     id.String(),
		"status": "resolved",
	})
}

// CacheHandler exposes cache statistics and invalidation
type CacheHandler struct {
	cache *cache.Manager
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cacheManager *cache.Manager) *CacheHandler {
	return &CacheHandler{cache: cacheManager}
}

// GetStats returns cache hit/miss statistics
func (h *CacheHandler) GetStats(c *gin.Context) {
	SuccessResponse(c, h.cache.Stats())
}

// InvalidateRequest is the body for a cache invalidation call
type InvalidateRequest struct {
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	All      bool   `json:"all"`
}

// Invalidate drops cached entries by tenant, by data kind, or everything
func (h *CacheHandler) Invalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid invalidation request")
		return
	}

	var removed int
	var err error
	switch {
	case req.All:
		removed, err = h.cache.InvalidateAll(c.Request.Context())
	case req.TenantID != "":
		removed, err = h.cache.InvalidateTenant(c.Request.Context(), req.TenantID)
	case req.Kind != "":
		removed, err = h.cache.InvalidateKind(c.Request.Context(), cache.DataKind(req.Kind))
	default:
		BadRequestResponse(c, "one of tenant_id, kind or all is required")
		return
	}
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, map[string]interface{}{
		"entries_removed": removed,
	})
}

// ResilienceHandler exposes circuit breaker state
type ResilienceHandler struct {
	registry *resilience.Registry
}

// NewResilienceHandler creates a new resilience handler
func NewResilienceHandler(registry *resilience.Registry) *ResilienceHandler {
	return &ResilienceHandler{registry: registry}
}

// BreakerStatus describes one circuit breaker in API responses
type BreakerStatus struct {
	Service      string `json:"service"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

// ListBreakers returns the state of every registered circuit breaker
func (h *ResilienceHandler) ListBreakers(c *gin.Context) {
	services := h.registry.Services()
	statuses := make([]BreakerStatus, 0, len(services))
	for _, service := range services {
		breaker := h.registry.Breaker(service)
		statuses = append(statuses, BreakerStatus{
			Service:      service,
			State:        breaker.State().String(),
			FailureCount: breaker.FailureCount(),
		})
	}
	SuccessResponse(c, statuses)
}
