package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sundial-cal/sundial/internal/activity"
	"github.com/sundial-cal/sundial/internal/caldav"
	"github.com/sundial-cal/sundial/internal/ical"
	"github.com/sundial-cal/sundial/internal/scheduler"
	"github.com/sundial-cal/sundial/internal/secrets"
	"github.com/sundial-cal/sundial/internal/store"
	"github.com/sundial-cal/sundial/internal/validator"
)

type fixture struct {
	router *gin.Engine
	store  *store.Store
	local  *store.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	local, err := st.GetOrCreateLocalAccount()
	if err != nil {
		t.Fatal(err)
	}

	vault, err := secrets.New(st, bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatal(err)
	}

	engine := caldav.NewEngine(st, vault, ical.Parse, ical.Encode)
	tracker := activity.NewTracker()
	sched := scheduler.New(st, engine, nil, tracker, 0, false)
	v := validator.New(validator.WithAllowPrivateIPs())

	h := NewHandlers(st, engine, sched, vault, v, tracker)
	router := gin.New()
	SetupRoutes(router, h)

	return &fixture{router: router, store: st, local: local}
}

func (f *fixture) localCalendar(t *testing.T, name string) *store.Calendar {
	t.Helper()
	cal := &store.Calendar{
		ID:        store.CalendarID(f.local.ID, name),
		AccountID: f.local.ID,
		Name:      name,
		Visible:   true,
	}
	if err := f.store.CreateCalendar(cal); err != nil {
		t.Fatal(err)
	}
	return cal
}

func (f *fixture) serverCalendar(t *testing.T, name string, readOnly bool) *store.Calendar {
	t.Helper()
	account := &store.Account{Name: "Cloud " + name, ServerURL: "https://dav.example.com", Username: "alice"}
	if err := f.store.CreateAccount(account); err != nil {
		t.Fatal(err)
	}
	href := "https://dav.example.com/calendars/alice/" + name + "/"
	cal := &store.Calendar{
		ID:        store.CalendarID(account.ID, href),
		AccountID: account.ID,
		Name:      name,
		URL:       href,
		ReadOnly:  readOnly,
		Visible:   true,
	}
	if err := f.store.CreateCalendar(cal); err != nil {
		t.Fatal(err)
	}
	return cal
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("bad JSON response %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/health", "/healthz", "/ready"} {
		w := f.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, w.Code)
		}
	}
}

func TestContentTypeEnforcement(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/quickadd", bytes.NewReader([]byte("text=x")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415 for form payload, got %d", w.Code)
	}
}

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)
	localCal := f.localCalendar(t, "notebook")
	serverCal := f.serverCalendar(t, "personal", false)
	roCal := f.serverCalendar(t, "shared", true)

	body := func(calID string) gin.H {
		return gin.H{
			"calendar_id": calID,
			"summary":     "Dentist",
			"start":       "2026-09-15T10:00:00Z",
		}
	}

	t.Run("local calendar stores synced", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/events", body(localCal.ID))
		if w.Code != http.StatusCreated {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		var ev APIEvent
		decode(t, w, &ev)
		if ev.SyncStatus != string(store.StatusSynced) {
			t.Errorf("local event sync status = %s", ev.SyncStatus)
		}
	})

	t.Run("server calendar stores pending-create", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/events", body(serverCal.ID))
		if w.Code != http.StatusCreated {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		var ev APIEvent
		decode(t, w, &ev)
		if ev.SyncStatus != string(store.StatusPendingCreate) {
			t.Errorf("server event sync status = %s", ev.SyncStatus)
		}

		stored, err := f.store.GetEvent(serverCal.ID, ev.UID)
		if err != nil {
			t.Fatalf("event not stored: %v", err)
		}
		if stored.SyncStatus != store.StatusPendingCreate {
			t.Errorf("stored sync status = %s", stored.SyncStatus)
		}
	})

	t.Run("read-only calendar is rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/events", body(roCal.ID))
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("unknown calendar", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/events", body("nope"))
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/events", gin.H{"summary": "no calendar"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestUpdateEvent(t *testing.T) {
	f := newFixture(t)
	serverCal := f.serverCalendar(t, "personal", false)

	seed := func(uid string, status store.SyncStatus) {
		ev := &store.Event{UID: uid, CalendarID: serverCal.ID, Summary: "before",
			Start: time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC), SyncStatus: status}
		if err := f.store.UpsertEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	body := gin.H{"summary": "after", "start": "2026-09-15T11:00:00Z"}

	t.Run("synced becomes pending-update", func(t *testing.T) {
		seed("u1", store.StatusSynced)
		w := f.do(t, http.MethodPut, "/api/events/"+serverCal.ID+"/u1", body)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		stored, _ := f.store.GetEvent(serverCal.ID, "u1")
		if stored.SyncStatus != store.StatusPendingUpdate || stored.Summary != "after" {
			t.Errorf("unexpected stored event: %+v", stored)
		}
	})

	t.Run("pending-create stays pending-create", func(t *testing.T) {
		seed("u2", store.StatusPendingCreate)
		w := f.do(t, http.MethodPut, "/api/events/"+serverCal.ID+"/u2", body)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		stored, _ := f.store.GetEvent(serverCal.ID, "u2")
		if stored.SyncStatus != store.StatusPendingCreate {
			t.Errorf("first upload must carry the new state, got %s", stored.SyncStatus)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/events/"+serverCal.ID+"/nope", body)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestDeleteEvent(t *testing.T) {
	f := newFixture(t)
	localCal := f.localCalendar(t, "notebook")
	serverCal := f.serverCalendar(t, "personal", false)

	seed := func(calID, uid string, status store.SyncStatus) {
		ev := &store.Event{UID: uid, CalendarID: calID, Summary: "x",
			Start: time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC),
			ETag:  "e1", SyncStatus: status}
		if err := f.store.UpsertEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("synced server event becomes a tombstone", func(t *testing.T) {
		seed(serverCal.ID, "d1", store.StatusSynced)
		w := f.do(t, http.MethodDelete, "/api/events/"+serverCal.ID+"/d1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		stored, err := f.store.GetEvent(serverCal.ID, "d1")
		if err != nil {
			t.Fatalf("tombstone missing: %v", err)
		}
		if stored.SyncStatus != store.StatusPendingDelete {
			t.Errorf("expected pending-delete tombstone, got %s", stored.SyncStatus)
		}
	})

	t.Run("never-uploaded event is dropped immediately", func(t *testing.T) {
		seed(serverCal.ID, "d2", store.StatusPendingCreate)
		w := f.do(t, http.MethodDelete, "/api/events/"+serverCal.ID+"/d2", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		if _, err := f.store.GetEvent(serverCal.ID, "d2"); err == nil {
			t.Error("pending-create event should be hard-deleted")
		}
	})

	t.Run("local event is dropped immediately", func(t *testing.T) {
		seed(localCal.ID, "d3", store.StatusSynced)
		w := f.do(t, http.MethodDelete, "/api/events/"+localCal.ID+"/d3", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		if _, err := f.store.GetEvent(localCal.ID, "d3"); err == nil {
			t.Error("local event should be hard-deleted")
		}
	})
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	cal := f.localCalendar(t, "notebook")

	weekly := &store.Event{UID: "weekly", CalendarID: cal.ID, Summary: "Standup",
		Start:      time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		RRule:      "FREQ=WEEKLY",
		SyncStatus: store.StatusSynced}
	if err := f.store.UpsertEvent(weekly); err != nil {
		t.Fatal(err)
	}

	t.Run("expands recurring events", func(t *testing.T) {
		w := f.do(t, http.MethodGet,
			"/api/events?from=2026-09-07T00:00:00Z&to=2026-09-21T00:00:00Z", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Events []APIOccurrence `json:"events"`
		}
		decode(t, w, &resp)
		if len(resp.Events) != 2 {
			t.Fatalf("expected 2 occurrences, got %d", len(resp.Events))
		}
		if resp.Events[0].OccurrenceStart.Equal(resp.Events[1].OccurrenceStart) {
			t.Error("occurrences should differ")
		}
	})

	t.Run("validates the window", func(t *testing.T) {
		cases := []string{
			"/api/events",
			"/api/events?from=bogus&to=2026-09-21T00:00:00Z",
			"/api/events?from=2026-09-21T00:00:00Z&to=2026-09-07T00:00:00Z",
		}
		for _, path := range cases {
			if w := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", path, w.Code)
			}
		}
	})
}

func TestCalendarVisibility(t *testing.T) {
	f := newFixture(t)
	cal := f.localCalendar(t, "notebook")

	w := f.do(t, http.MethodPut, "/api/calendars/"+cal.ID+"/visibility", gin.H{"visible": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	stored, err := f.store.GetCalendar(cal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Visible {
		t.Error("visibility not applied")
	}

	if w := f.do(t, http.MethodPut, "/api/calendars/nope/visibility", gin.H{"visible": true}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown calendar, got %d", w.Code)
	}

	if w := f.do(t, http.MethodPut, "/api/calendars/"+cal.ID+"/visibility", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing field, got %d", w.Code)
	}
}

func TestListCalendars(t *testing.T) {
	f := newFixture(t)
	f.localCalendar(t, "notebook")
	cloud := f.serverCalendar(t, "personal", false)

	t.Run("all calendars", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/calendars", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		var resp struct {
			Calendars []APICalendar `json:"calendars"`
		}
		decode(t, w, &resp)
		if len(resp.Calendars) != 2 {
			t.Errorf("expected 2 calendars, got %d", len(resp.Calendars))
		}
	})

	t.Run("filtered by account", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/calendars?account_id="+cloud.AccountID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		var resp struct {
			Calendars []APICalendar `json:"calendars"`
		}
		decode(t, w, &resp)
		if len(resp.Calendars) != 1 || resp.Calendars[0].ID != cloud.ID {
			t.Errorf("unexpected calendars: %+v", resp.Calendars)
		}
	})
}

func TestQuickAdd(t *testing.T) {
	f := newFixture(t)
	cal := f.localCalendar(t, "notebook")

	t.Run("returns a draft without a calendar", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/quickadd", gin.H{"text": "Dentist tomorrow 14:30"})
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Draft struct {
				Summary string `json:"Summary"`
				AllDay  bool   `json:"AllDay"`
			} `json:"draft"`
		}
		decode(t, w, &resp)
		if resp.Draft.Summary != "Dentist" {
			t.Errorf("draft summary = %q", resp.Draft.Summary)
		}
		if resp.Draft.AllDay {
			t.Error("timed capture flagged all-day")
		}
	})

	t.Run("stores into a calendar", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/quickadd",
			gin.H{"text": "Dentist tomorrow 14:30 !30", "calendar_id": cal.ID})
		if w.Code != http.StatusCreated {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		var ev APIEvent
		decode(t, w, &ev)
		if ev.Summary != "Dentist" {
			t.Errorf("summary = %q", ev.Summary)
		}
		if len(ev.Reminders) != 1 || ev.Reminders[0].MinutesBefore != 30 {
			t.Errorf("reminder lost: %+v", ev.Reminders)
		}

		if _, err := f.store.GetEvent(cal.ID, ev.UID); err != nil {
			t.Errorf("event not stored: %v", err)
		}
	})

	t.Run("rejects captures without a title", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/quickadd", gin.H{"text": "tomorrow 14:30"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/quickadd", gin.H{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestSyncActivityEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/sync/activity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Active []activity.SyncRun `json:"active"`
		Recent []activity.SyncRun `json:"recent"`
	}
	decode(t, w, &resp)
	if len(resp.Active) != 0 || len(resp.Recent) != 0 {
		t.Errorf("expected empty activity, got %+v", resp)
	}
}
