package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/api/handlers"
	"github.com/pennine-ops/wms-alerting-go/internal/api/middleware"
	"github.com/pennine-ops/wms-alerting-go/internal/config"
	"github.com/pennine-ops/wms-alerting-go/internal/core/alerting"
	"github.com/pennine-ops/wms-alerting-go/internal/core/cache"
	"github.com/pennine-ops/wms-alerting-go/internal/core/metrics"
	"github.com/pennine-ops/wms-alerting-go/internal/database"
	"github.com/pennine-ops/wms-alerting-go/internal/websocket"
)

// RouterDeps bundles the services the HTTP layer exposes.
type RouterDeps struct {
	Config     *config.Config
	Repos      *database.Repositories
	Logger     *logrus.Logger
	DB         *sqlx.DB
	Cache      cache.Service
	Hub        *websocket.Hub
	Engine     *alerting.Engine
	State      *alerting.StateManager
	Evaluator  *alerting.Evaluator
	Dispatcher *alerting.Dispatcher
	Registry   *metrics.Registry
	Gauge      *metrics.GaugeProvider
}

// NewRouter creates and configures the main HTTP router
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config

	// Set gin mode based on config
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.ErrorHandlingMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security.AllowedOrigins))
	}

	// Rate limiting
	rateLimiter := middleware.NewRateLimiter(100, 200) // 100 requests/sec, burst 200
	router.Use(rateLimiter.RateLimitMiddleware())

	h := handlers.NewHandlers(
		cfg, deps.Repos, deps.Logger, deps.DB, deps.Cache, deps.Hub,
		deps.Engine, deps.State, deps.Evaluator, deps.Dispatcher,
		deps.Registry, deps.Gauge,
	)

	// Public routes
	router.GET("/health", h.Health)

	// WebSocket endpoint
	router.GET("/ws", websocket.HandleWebSocketGin(deps.Hub))

	// Prometheus scrape endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		path := cfg.Monitoring.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// API v1 routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Health)

		rules := api.Group("/rules")
		{
			rules.GET("", h.GetRules)
			rules.POST("", h.CreateRule)
			rules.POST("/reload", h.ReloadRules)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.PUT("/:id/enabled", h.SetRuleEnabled)
			rules.POST("/:id/test", h.TestRule)
			rules.GET("/:id/escalation", h.GetEscalationPolicy)
			rules.PUT("/:id/escalation", h.SetEscalationPolicy)
			rules.DELETE("/:id/escalation", h.DeleteEscalationPolicy)
		}

		alerts := api.Group("/alerts")
		{
			alerts.GET("", h.GetAlerts)
			alerts.GET("/stats", h.GetAlertStats)
			alerts.POST("/batch", h.BatchTransitionAlerts)
			alerts.GET("/:id", h.GetAlert)
			alerts.GET("/:id/transitions", h.GetAlertTransitions)
			alerts.GET("/:id/notifications", h.GetAlertNotifications)
			alerts.GET("/:id/escalations", h.GetAlertEscalations)
			alerts.POST("/:id/transition", h.TransitionAlert)
			alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
			alerts.POST("/:id/resolve", h.ResolveAlert)
			alerts.POST("/:id/silence", h.SilenceAlert)
		}

		suppressions := api.Group("/suppressions")
		{
			suppressions.GET("", h.GetSuppressions)
			suppressions.POST("", h.CreateSuppression)
			suppressions.DELETE("/:id", h.DeleteSuppression)
		}

		templates := api.Group("/templates")
		{
			templates.GET("", h.GetTemplates)
			templates.POST("", h.CreateTemplate)
			templates.POST("/preview", h.PreviewTemplate)
			templates.GET("/:id", h.GetTemplate)
			templates.PUT("/:id", h.UpdateTemplate)
			templates.DELETE("/:id", h.DeleteTemplate)
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("", h.GetNotifications)
			notifications.GET("/stats", h.GetNotificationStats)
			notifications.POST("/test", h.TestNotificationChannel)
		}

		metricsGroup := api.Group("/metrics")
		{
			metricsGroup.GET("", h.GetMetricNames)
			metricsGroup.POST("", h.PushMetric)
			metricsGroup.GET("/:name", h.GetMetricValue)
		}

		engine := api.Group("/engine")
		{
			engine.GET("/status", h.GetEngineStatus)
			engine.POST("/start", h.StartEngine)
			engine.POST("/stop", h.StopEngine)
		}
	}

	return router
}
