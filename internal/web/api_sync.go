package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APISyncAll runs one synchronous sync pass over every server account.
func (h *Handlers) APISyncAll(c *gin.Context) {
	result := h.scheduler.RunAll(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// APISyncAccount runs one synchronous sync pass for one account.
func (h *Handlers) APISyncAccount(c *gin.Context) {
	result := h.scheduler.RunOnce(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, result)
}

// APISyncCalendar reconciles a single calendar immediately.
func (h *Handlers) APISyncCalendar(c *gin.Context) {
	result := h.engine.SyncCalendar(c.Request.Context(), c.Param("id"))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// APISyncActivity returns running and recently completed sync passes.
func (h *Handlers) APISyncActivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": h.tracker.Active(),
		"recent": h.tracker.Recent(),
	})
}
