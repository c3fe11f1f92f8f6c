// Package http is the Gateway: the HTTP surface of spec.md §6, including
// the NDJSON run-streaming endpoint of §4.3. Thin adapter over the
// Repository — validates inputs, calls into internal/app, serializes
// responses — adapted from the reference delivery layer's router/handler
// split (internal/delivery/server/http/router.go,
// internal/delivery/server/http/api_handler_tasks.go), rebuilt on
// gin-gonic/gin instead of the reference's stdlib mux.
package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ember/internal/app"
	"ember/internal/logging"
)

// Handler holds the Gateway's dependencies and is the receiver for every
// route handler.
type Handler struct {
	repo            *app.Repository
	logger          *logging.Logger
	metrics         *gatewayMetrics
	defaultLeaseTTL time.Duration
}

// Config configures the router.
type Config struct {
	DefaultLeaseTTL time.Duration
	AllowedOrigins  []string
}

// NewRouter builds the Gateway's gin engine: middleware stack, route
// table, and a bound metrics registry.
func NewRouter(repo *app.Repository, cfg Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	logger := logging.NewComponentLogger("Gateway")
	leaseTTL := cfg.DefaultLeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}

	h := &Handler{
		repo:            repo,
		logger:          logger,
		metrics:         newGatewayMetrics(),
		defaultLeaseTTL: leaseTTL,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLoggingMiddleware(logger))
	engine.Use(tracingMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST"}
	corsConfig.AllowHeaders = []string{"Content-Type"}
	engine.Use(cors.New(corsConfig))

	engine.GET("/health", h.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{})))

	engine.POST("/tasks/queue", h.handleQueueTask)
	engine.POST("/tasks/run", h.handleRunTask)
	engine.GET("/tasks", h.handleListTasks)
	engine.GET("/tasks/:id", h.handleGetTask)
	engine.GET("/tasks/:id/attempts", h.handleListAttempts)
	engine.GET("/tasks/:id/events", h.handleListTaskEvents)
	engine.POST("/tasks/lease", h.handleLease)
	engine.POST("/tasks/:id/heartbeat", h.handleHeartbeat)
	engine.POST("/tasks/:id/events", h.handleAppendEvent)
	engine.POST("/tasks/:id/complete", h.handleComplete)
	engine.GET("/events", h.handleListAllEvents)
	engine.GET("/state/:key", h.handleGetState)
	engine.POST("/state/:key", h.handleSetState)

	return engine
}
