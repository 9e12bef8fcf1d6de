package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quadhls/calsync/internal/auth"
)

// RouteConfig holds the settings SetupRoutes needs beyond the handlers.
type RouteConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers, verifier auth.TokenVerifier, rc RouteConfig) {
	r.Use(CORS(rc.AllowedOrigins))

	// Health endpoints (no auth, no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	// Google redirects the browser here, so there is no bearer token.
	callbackRateLimiter := RateLimiter(5, 10)
	r.GET("/api/google/authorize-callback", callbackRateLimiter, h.APIAuthorizeCallback)

	apiRateLimiter := RateLimiter(rc.RPS, rc.Burst)
	protectedAPI := r.Group("/api")
	protectedAPI.Use(apiRateLimiter)
	protectedAPI.Use(auth.RequireIdentity(verifier))
	protectedAPI.Use(ValidateOrigin(rc.AllowedOrigins))
	protectedAPI.Use(RequireJSONContentType())
	{
		protectedAPI.GET("/google/authorize-start", h.APIAuthorizeStart)
		protectedAPI.DELETE("/google/connection", h.APIDisconnect)
		protectedAPI.GET("/calendar/status", h.APICalendarStatus)
		protectedAPI.GET("/calendar/events", h.APICalendarEvents)
		protectedAPI.GET("/calendar/activity", h.APICalendarActivity)
		protectedAPI.GET("/calendar/sync-logs", h.APISyncLogs)
		protectedAPI.PUT("/canvas/feed", h.APISetCanvasFeed)
	}

	// Operations that call Google or Canvas get a stricter limit.
	expensiveRateLimiter := RateLimiter(2, 5)
	expensiveAPI := r.Group("/api")
	expensiveAPI.Use(expensiveRateLimiter)
	expensiveAPI.Use(auth.RequireIdentity(verifier))
	expensiveAPI.Use(ValidateOrigin(rc.AllowedOrigins))
	expensiveAPI.Use(RequireJSONContentType())
	{
		expensiveAPI.POST("/google/sync", h.APISync)
		expensiveAPI.POST("/canvas/import", h.APICanvasImport)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Not found"})
	})
}
