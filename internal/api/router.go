package api

import (
	"github.com/gin-gonic/gin"

	"github.com/stackwatch/stackwatch/internal/cache"
	"github.com/stackwatch/stackwatch/internal/database"
	"github.com/stackwatch/stackwatch/internal/monitoring"
	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/logging"
	"github.com/stackwatch/stackwatch/pkg/metrics"
	"github.com/stackwatch/stackwatch/pkg/resilience"
)

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, db *database.DB, cacheManager *cache.Manager, monitor *monitoring.Service, registry *resilience.Registry, m *metrics.Metrics, logger *logging.Logger) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(ErrorHandlingMiddleware())
	router.Use(CORSMiddleware())
	router.Use(SecurityHeadersMiddleware())
	if m != nil {
		router.Use(m.PrometheusMiddleware())
	}

	// Health check endpoint
	healthHandler := NewHealthHandler(db, cacheManager)
	router.GET("/health", gin.WrapH(healthHandler))

	// Prometheus metrics endpoint
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	syncHandler := NewSyncHandler(monitor)
	cacheHandler := NewCacheHandler(cacheManager)
	resilienceHandler := NewResilienceHandler(registry)

	v1 := router.Group("/api/v1")
	{
		sync := v1.Group("/sync")
		{
			sync.GET("/metrics", syncHandler.ListMetrics)
			sync.GET("/metrics/:job_type", syncHandler.GetMetrics)
			sync.POST("/metrics/:job_type/reset", syncHandler.ResetMetrics)
			sync.GET("/logs", syncHandler.ListLogs)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", syncHandler.ListAlerts)
			alerts.POST("/:id/resolve", syncHandler.ResolveAlert)
		}

		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("/stats", cacheHandler.GetStats)
			cacheGroup.POST("/invalidate", cacheHandler.Invalidate)
		}

		resilienceGroup := v1.Group("/resilience")
		{
			resilienceGroup.GET("/breakers", resilienceHandler.ListBreakers)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
