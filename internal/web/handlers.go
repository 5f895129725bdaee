// Package web is the local HTTP API: accounts, calendars, events, sync
// control and quick capture. It is the surface the UI talks to; all state
// lives in the store and all protocol work happens in the caldav engine.
package web

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sundial-cal/sundial/internal/activity"
	"github.com/sundial-cal/sundial/internal/caldav"
	"github.com/sundial-cal/sundial/internal/scheduler"
	"github.com/sundial-cal/sundial/internal/secrets"
	"github.com/sundial-cal/sundial/internal/store"
	"github.com/sundial-cal/sundial/internal/validator"
)

// Handlers holds the collaborators every endpoint needs.
type Handlers struct {
	store     *store.Store
	engine    *caldav.Engine
	scheduler *scheduler.Scheduler
	vault     *secrets.Vault
	validator *validator.Validator
	tracker   *activity.Tracker
}

// NewHandlers creates the handler set.
func NewHandlers(st *store.Store, engine *caldav.Engine, sched *scheduler.Scheduler, vault *secrets.Vault, v *validator.Validator, tracker *activity.Tracker) *Handlers {
	return &Handlers{
		store:     st,
		engine:    engine,
		scheduler: sched,
		vault:     vault,
		validator: v,
		tracker:   tracker,
	}
}

// HealthCheck returns basic service health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "sundial",
	})
}

// Liveness is a minimal liveness probe.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness checks the database connection.
func (h *Handlers) Readiness(c *gin.Context) {
	if err := h.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// sanitizeError returns a user-safe error message without exposing internal details.
// Internal error details are logged but not returned to the client.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		// Log the full error for debugging (server-side only)
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// categorizeConnectionError returns a user-friendly message based on the
// engine's sentinel errors, falling back to common error patterns.
func categorizeConnectionError(err error) string {
	if err == nil {
		return "Connection failed"
	}

	switch {
	case errors.Is(err, caldav.ErrAuthFailed):
		return "Authentication failed. Please check your credentials."
	case errors.Is(err, caldav.ErrDiscoveryFailed):
		return "Could not discover a CalDAV endpoint on this server."
	case errors.Is(err, caldav.ErrNotFound):
		return "Calendar not found. Please check the URL."
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup"):
		return "Server not found. Please check the URL."
	case strings.Contains(errStr, "connection refused"):
		return "Connection refused. Please verify the server is running."
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "Connection timed out. Please try again."
	case strings.Contains(errStr, "certificate") || strings.Contains(errStr, "tls"):
		return "SSL/TLS error. Please verify the server certificate."
	default:
		return "Connection failed. Please check your settings."
	}
}
