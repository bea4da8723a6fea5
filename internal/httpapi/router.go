package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	h := NewHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/jobs - List jobs awaiting payment
		v1.GET("/jobs", h.ListPendingJobs)

		// GET /api/v1/relays - Relay connection status
		v1.GET("/relays", h.ListRelays)
	}

	return r
}

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
