package web

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	// Health endpoints (no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	// Read-mostly API routes with rate limiting
	apiRateLimiter := RateLimiter(30, 60) // 30 requests/sec, burst of 60
	apiGroup := r.Group("/api")
	apiGroup.Use(apiRateLimiter)
	apiGroup.Use(RequireJSONContentType())
	{
		apiGroup.GET("/accounts", h.APIListAccounts)
		apiGroup.GET("/accounts/:id", h.APIGetAccount)
		apiGroup.POST("/accounts/:id/default", h.APISetDefaultAccount)
		apiGroup.DELETE("/accounts/:id", h.APIDeleteAccount)

		apiGroup.GET("/calendars", h.APIListCalendars)
		apiGroup.PUT("/calendars/:id/visibility", h.APISetCalendarVisibility)

		apiGroup.GET("/events", h.APIListEvents)
		apiGroup.POST("/events", h.APICreateEvent)
		apiGroup.PUT("/events/:calendar_id/:uid", h.APIUpdateEvent)
		apiGroup.DELETE("/events/:calendar_id/:uid", h.APIDeleteEvent)
		apiGroup.POST("/quickadd", h.APIQuickAdd)

		apiGroup.GET("/sync/activity", h.APISyncActivity)
	}

	// Expensive operations with stricter rate limiting (network calls, credential testing)
	expensiveRateLimiter := RateLimiter(2, 5) // 2 requests/sec, burst of 5
	expensiveAPI := r.Group("/api")
	expensiveAPI.Use(expensiveRateLimiter)
	expensiveAPI.Use(RequireJSONContentType())
	{
		expensiveAPI.POST("/accounts", h.APICreateAccount)
		expensiveAPI.POST("/accounts/:id/rediscover", h.APIRediscoverAccount)
		expensiveAPI.POST("/sync", h.APISyncAll)
		expensiveAPI.POST("/sync/accounts/:id", h.APISyncAccount)
		expensiveAPI.POST("/sync/calendars/:id", h.APISyncCalendar)
	}
}
