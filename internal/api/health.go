package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stackwatch/stackwatch/internal/cache"
	"github.com/stackwatch/stackwatch/internal/database"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db    *database.DB
	cache *cache.Manager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, cacheManager *cache.Manager) *HealthHandler {
	return &HealthHandler{
		db:    db,
		cache: cacheManager,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`
}

// ServeHTTP handles the health check request
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]HealthCheck),
	}

	dbStart := time.Now()
	dbErr := h.db.Health(ctx)
	dbLatency := time.Since(dbStart)

	if dbErr != nil {
		response.Status = "unhealthy"
		response.Checks["database"] = HealthCheck{
			Status:  "unhealthy",
			Message: dbErr.Error(),
			Latency: dbLatency,
		}
	} else {
		response.Checks["database"] = HealthCheck{
			Status:  "healthy",
			Latency: dbLatency,
		}
	}

	if h.cache != nil {
		cacheStart := time.Now()
		cacheErr := h.cache.Ping(ctx)
		cacheLatency := time.Since(cacheStart)

		// A degraded cache is not fatal: reads fall through to the source
		if cacheErr != nil {
			response.Checks["cache"] = HealthCheck{
				Status:  "unhealthy",
				Message: cacheErr.Error(),
				Latency: cacheLatency,
			}
		} else {
			response.Checks["cache"] = HealthCheck{
				Status:  "healthy",
				Message: h.cache.Backend(),
				Latency: cacheLatency,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
