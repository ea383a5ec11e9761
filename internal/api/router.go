package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthChecker reports whether a backing store is reachable and how its
// connection pool is doing
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
}

// NewRouter creates and configures the Gin router. db may be nil.
func NewRouter(services *service.Services, db HealthChecker, gatherer prometheus.Gatherer, log zerolog.Logger) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())

	// Handlers
	posts := NewPostHandler(services, log)
	variants := NewVariantHandler(services, log)
	channels := NewChannelHandler(services, log)
	tasks := NewTaskHandler(services, log)

	router.GET("/health", healthCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1
	v1 := router.Group("/v1")
	{
		v1.POST("/groups", channels.CreateGroup)

		ch := v1.Group("/channels")
		{
			ch.POST("", channels.RegisterChannel)
			ch.GET("/:channel_id", channels.GetChannel)
			ch.POST("/:channel_id/sync", channels.SyncChannel)
		}

		p := v1.Group("/posts")
		{
			p.POST("", posts.CreatePost)
			p.GET("/:post_id", posts.GetPost)
			p.PATCH("/:post_id", posts.EditPost)
			p.GET("/:post_id/variants", posts.ListVariants)
			p.POST("/:post_id/fan-out", posts.FanOut)
			p.POST("/:post_id/translations", posts.RequestTranslations)
			p.POST("/:post_id/publish-all", posts.PublishAll)
			p.POST("/:post_id/publish-ready", posts.PublishReady)
			p.POST("/:post_id/mark-ready", posts.MarkReady)
			p.POST("/:post_id/retry-failed", posts.RetryFailed)
		}

		v := v1.Group("/variants")
		{
			v.GET("/:variant_id", variants.GetVariant)
			v.PATCH("/:variant_id", variants.EditVariant)
			v.POST("/:variant_id/publish", variants.Publish)
			v.POST("/:variant_id/translation", variants.RequestTranslation)
			v.POST("/:variant_id/convert", variants.Convert)
			v.POST("/:variant_id/retry", variants.Retry)
			v.DELETE("/:variant_id/message", variants.DeleteMessage)
		}

		v1.GET("/tasks/:task_id", tasks.GetTask)
	}

	return router
}

// healthCheck returns the health status
func healthCheck(db HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		body := gin.H{
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   "multichannel-posting-api",
		}
		if db != nil {
			ctx, cancel := contextWithTimeout(c, 2*time.Second)
			defer cancel()
			if err := db.HealthCheck(ctx); err != nil {
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
			stats := db.Stats()
			body["database"] = gin.H{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"wait_count":       stats.WaitCount,
			}
		}
		body["status"] = status
		c.JSON(code, body)
	}
}

// recoveryMiddleware handles panics
func recoveryMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Str("path", c.Request.URL.Path).Msg("Panic recovered")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs requests
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 400 {
			event = log.Warn()
		}
		if statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// contextWithTimeout creates a context with timeout for handlers
func contextWithTimeout(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}
