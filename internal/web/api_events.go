package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sundial-cal/sundial/internal/quickadd"
	"github.com/sundial-cal/sundial/internal/recur"
	"github.com/sundial-cal/sundial/internal/store"
)

// APIEvent represents an event in JSON format for the API.
type APIEvent struct {
	UID         string           `json:"uid"`
	CalendarID  string           `json:"calendar_id"`
	Summary     string           `json:"summary"`
	Description string           `json:"description,omitempty"`
	Location    string           `json:"location,omitempty"`
	Start       time.Time        `json:"start"`
	End         *time.Time       `json:"end,omitempty"`
	AllDay      bool             `json:"all_day"`
	Timezone    string           `json:"timezone,omitempty"`
	RRule       string           `json:"rrule,omitempty"`
	Color       string           `json:"color,omitempty"`
	Organizer   string           `json:"organizer,omitempty"`
	Attendees   []store.Attendee `json:"attendees,omitempty"`
	Reminders   []store.Reminder `json:"reminders,omitempty"`
	Status      string           `json:"status"`
	SyncStatus  string           `json:"sync_status"`
}

// APIOccurrence is one concrete occurrence within a queried window.
// Recurring events appear once per expanded instance.
type APIOccurrence struct {
	APIEvent
	OccurrenceStart time.Time `json:"occurrence_start"`
	OccurrenceEnd   time.Time `json:"occurrence_end"`
}

func toAPIEvent(ev *store.Event) APIEvent {
	return APIEvent{
		UID:         ev.UID,
		CalendarID:  ev.CalendarID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.Start,
		End:         ev.End,
		AllDay:      ev.AllDay,
		Timezone:    ev.Timezone,
		RRule:       ev.RRule,
		Color:       ev.Color,
		Organizer:   ev.Organizer,
		Attendees:   ev.Attendees,
		Reminders:   ev.Reminders,
		Status:      string(ev.Status),
		SyncStatus:  string(ev.SyncStatus),
	}
}

// APIListEvents returns the occurrences of all visible events within a
// window. Recurring events are expanded.
func (h *Handlers) APIListEvents(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an RFC3339 timestamp"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an RFC3339 timestamp"})
		return
	}
	if !to.After(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}

	var calendarIDs []string
	if ids, ok := c.GetQueryArray("calendar_id"); ok {
		calendarIDs = ids
	}

	events, err := h.store.ListEventsInRange(from, to, calendarIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to query events")})
		return
	}

	occurrences := recur.Expand(events, from, to)
	out := make([]APIOccurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, APIOccurrence{
			APIEvent:        toAPIEvent(occ.Event),
			OccurrenceStart: occ.Start,
			OccurrenceEnd:   occ.End,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

type eventRequest struct {
	CalendarID  string           `json:"calendar_id" binding:"required"`
	Summary     string           `json:"summary" binding:"required"`
	Description string           `json:"description"`
	Location    string           `json:"location"`
	Start       time.Time        `json:"start" binding:"required"`
	End         *time.Time       `json:"end"`
	AllDay      bool             `json:"all_day"`
	Timezone    string           `json:"timezone"`
	RRule       string           `json:"rrule"`
	Color       string           `json:"color"`
	Attendees   []store.Attendee `json:"attendees"`
	Reminders   []store.Reminder `json:"reminders"`
	Status      string           `json:"status"`
}

// writableCalendar loads a calendar and rejects writes to read-only ones.
// The second return value reports whether the calendar's account is the
// local one, in which case edits need no upload and are stored as synced.
func (h *Handlers) writableCalendar(c *gin.Context, calendarID string) (*store.Calendar, bool, bool) {
	cal, err := h.store.GetCalendar(calendarID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Calendar not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendar")})
		}
		return nil, false, false
	}
	if cal.ReadOnly {
		c.JSON(http.StatusForbidden, gin.H{"error": "Calendar is read-only"})
		return nil, false, false
	}

	account, err := h.store.GetAccount(cal.AccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load account")})
		return nil, false, false
	}
	return cal, account.IsLocal(), true
}

// APICreateEvent stores a new event. On server calendars it is marked
// pending-create and uploaded on the next sync pass.
func (h *Handlers) APICreateEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "calendar_id, summary and start are required"})
		return
	}

	_, local, ok := h.writableCalendar(c, req.CalendarID)
	if !ok {
		return
	}

	ev := &store.Event{
		UID:         uuid.New().String(),
		CalendarID:  req.CalendarID,
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Start:       req.Start,
		End:         req.End,
		AllDay:      req.AllDay,
		Timezone:    req.Timezone,
		RRule:       req.RRule,
		Color:       req.Color,
		Attendees:   req.Attendees,
		Reminders:   req.Reminders,
		Status:      store.EventConfirmed,
		SyncStatus:  store.StatusPendingCreate,
	}
	if req.Status != "" {
		ev.Status = store.EventStatus(req.Status)
	}
	if local {
		ev.SyncStatus = store.StatusSynced
	}

	if err := h.store.UpsertEvent(ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create event")})
		return
	}
	c.JSON(http.StatusCreated, toAPIEvent(ev))
}

// APIUpdateEvent replaces an event's editable fields. Events still waiting
// for their first upload stay pending-create; everything else becomes
// pending-update.
func (h *Handlers) APIUpdateEvent(c *gin.Context) {
	calendarID := c.Param("calendar_id")
	uid := c.Param("uid")

	var req eventRequest
	req.CalendarID = calendarID
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary and start are required"})
		return
	}

	_, local, ok := h.writableCalendar(c, calendarID)
	if !ok {
		return
	}

	ev, err := h.store.GetEvent(calendarID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load event")})
		return
	}

	ev.Summary = req.Summary
	ev.Description = req.Description
	ev.Location = req.Location
	ev.Start = req.Start
	ev.End = req.End
	ev.AllDay = req.AllDay
	ev.Timezone = req.Timezone
	ev.RRule = req.RRule
	ev.Color = req.Color
	ev.Attendees = req.Attendees
	ev.Reminders = req.Reminders
	if req.Status != "" {
		ev.Status = store.EventStatus(req.Status)
	}

	switch {
	case local:
		ev.SyncStatus = store.StatusSynced
	case ev.SyncStatus == store.StatusPendingCreate:
		// Not on the server yet; the first upload carries the new state.
	default:
		ev.SyncStatus = store.StatusPendingUpdate
	}

	if err := h.store.UpsertEvent(ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update event")})
		return
	}
	c.JSON(http.StatusOK, toAPIEvent(ev))
}

// APIDeleteEvent removes an event. On server calendars the record becomes
// a pending-delete tombstone until the server confirms; an event that was
// never uploaded is dropped immediately.
func (h *Handlers) APIDeleteEvent(c *gin.Context) {
	calendarID := c.Param("calendar_id")
	uid := c.Param("uid")

	_, local, ok := h.writableCalendar(c, calendarID)
	if !ok {
		return
	}

	ev, err := h.store.GetEvent(calendarID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load event")})
		return
	}

	if local || ev.SyncStatus == store.StatusPendingCreate {
		if err := h.store.DeleteEvent(calendarID, uid); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete event")})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
		return
	}

	if err := h.store.SetEventSyncStatus(calendarID, uid, store.StatusPendingDelete, ev.ETag); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete event")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending_delete"})
}

type quickAddRequest struct {
	Text       string `json:"text" binding:"required"`
	CalendarID string `json:"calendar_id"`
}

// APIQuickAdd parses a capture line and either returns the draft or, when
// a calendar is given, stores it as a new event.
func (h *Handlers) APIQuickAdd(c *gin.Context) {
	var req quickAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	draft := quickadd.Parse(req.Text, time.Now())
	if draft.Summary == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not extract an event title"})
		return
	}

	if req.CalendarID == "" {
		c.JSON(http.StatusOK, gin.H{"draft": draft})
		return
	}

	_, local, ok := h.writableCalendar(c, req.CalendarID)
	if !ok {
		return
	}

	ev := &store.Event{
		UID:        uuid.New().String(),
		CalendarID: req.CalendarID,
		Summary:    draft.Summary,
		Location:   draft.Location,
		Start:      draft.Start,
		End:        draft.End,
		AllDay:     draft.AllDay,
		Status:     store.EventConfirmed,
		SyncStatus: store.StatusPendingCreate,
	}
	if draft.HasReminder {
		ev.Reminders = []store.Reminder{{
			MinutesBefore: draft.ReminderMinutes,
			Action:        store.ReminderDisplay,
		}}
	}
	if local {
		ev.SyncStatus = store.StatusSynced
	}

	if err := h.store.UpsertEvent(ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create event")})
		return
	}
	c.JSON(http.StatusCreated, toAPIEvent(ev))
}
