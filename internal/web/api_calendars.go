package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sundial-cal/sundial/internal/store"
)

// APICalendar represents a calendar in JSON format for the API.
type APICalendar struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	ReadOnly  bool   `json:"read_only"`
	Visible   bool   `json:"visible"`
	SortOrder int    `json:"sort_order"`
	LastCTag  string `json:"last_ctag,omitempty"`
}

func toAPICalendar(cal *store.Calendar) APICalendar {
	return APICalendar{
		ID:        cal.ID,
		AccountID: cal.AccountID,
		Name:      cal.Name,
		Color:     cal.Color,
		ReadOnly:  cal.ReadOnly,
		Visible:   cal.Visible,
		SortOrder: cal.SortOrder,
		LastCTag:  cal.CTag,
	}
}

// APIListCalendars returns all calendars, optionally filtered by account.
func (h *Handlers) APIListCalendars(c *gin.Context) {
	var (
		cals []*store.Calendar
		err  error
	)
	if accountID := c.Query("account_id"); accountID != "" {
		cals, err = h.store.ListCalendarsByAccount(accountID)
	} else {
		cals, err = h.store.ListCalendars()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to list calendars")})
		return
	}

	out := make([]APICalendar, 0, len(cals))
	for _, cal := range cals {
		out = append(out, toAPICalendar(cal))
	}
	c.JSON(http.StatusOK, gin.H{"calendars": out})
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// APISetCalendarVisibility toggles whether a calendar participates in
// views and sync.
func (h *Handlers) APISetCalendarVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visible is required"})
		return
	}

	if err := h.store.SetCalendarVisible(c.Param("id"), *req.Visible); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Calendar not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update calendar")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
