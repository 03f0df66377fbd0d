package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/interview-engine/internal/config"
	"github.com/stemsi/interview-engine/internal/handler"
	"github.com/stemsi/interview-engine/internal/middleware"
	"github.com/stemsi/interview-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups. limiter, Monitor and System
// are optional.
func SetupRouter(handlers *Handlers, limiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Session Group ──────────────────────────────────────────────
	sessions := router.Group("/api/v1/sessions/:session_id")
	{
		// Attach spins up an engine and calls the interview API; rate limited.
		if limiter != nil {
			sessions.POST("/attach", limiter.Middleware(), handlers.Session.AttachSession)
		} else {
			sessions.POST("/attach", handlers.Session.AttachSession)
		}
		sessions.GET("", handlers.Session.GetSession)
		sessions.DELETE("", handlers.Session.DetachSession)
		sessions.PUT("/questions/:question_id/answer", handlers.Session.SetAnswer)
		sessions.POST("/advance", handlers.Session.Advance)
		sessions.POST("/back", handlers.Session.Back)
		sessions.POST("/complete", handlers.Session.CompleteSession)
		sessions.POST("/complete/retry", handlers.Session.RetryCompletion)
		sessions.GET("/events", handlers.Session.ListEvents)

		if handlers.Monitor != nil {
			sessions.GET("/monitor", handlers.Monitor.MonitorSessionSSE)
		}
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. System ─────────────────────────────────────────────────────
	if handlers.System != nil {
		router.GET("/api/v1/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
