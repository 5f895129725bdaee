package holidays

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sundial-cal/sundial/internal/store"
)

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//feed//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:xmas\r\nDTSTAMP:20260101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20261225\r\nSUMMARY:Christmas Day\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:newyear\r\nDTSTAMP:20260101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20270101\r\nSUMMARY:New Year\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// feedServer serves one mutable ICS body with ETag-based conditional GET.
type feedServer struct {
	mu   sync.Mutex
	body string
	etag string
	hits int
}

func (f *feedServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits++

		if r.Header.Get("If-None-Match") == f.etag && f.etag != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", f.etag)
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(f.body))
	})
}

func newTestManager(t *testing.T, feeds []Feed) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, feeds), st
}

func TestRefresh(t *testing.T) {
	fs := &feedServer{body: feedBody, etag: `"v1"`}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	feed := Feed{Name: "German Holidays", URL: srv.URL + "/holidays.ics", Color: "#D70015"}
	m, st := newTestManager(t, []Feed{feed})

	if err := m.Refresh(context.Background(), feed); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	account, err := st.GetOrCreateLocalAccount()
	if err != nil {
		t.Fatal(err)
	}
	calID := store.CalendarID(account.ID, feed.URL)

	cal, err := st.GetCalendar(calID)
	if err != nil {
		t.Fatalf("feed calendar not created: %v", err)
	}
	if !cal.ReadOnly || !cal.Visible {
		t.Errorf("feed calendar must be read-only and visible: %+v", cal)
	}
	if cal.Name != "German Holidays" || cal.Color != "#D70015" {
		t.Errorf("feed metadata wrong: %+v", cal)
	}
	if cal.CTag != `"v1"` {
		t.Errorf("etag validator not recorded, got %q", cal.CTag)
	}

	events, err := st.ListEventsByCalendar(calID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.SyncStatus != store.StatusSynced {
			t.Errorf("feed events must arrive synced: %+v", ev)
		}
	}

	t.Run("unchanged feed is a conditional no-op", func(t *testing.T) {
		hitsBefore := fs.hits
		if err := m.Refresh(context.Background(), feed); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if fs.hits != hitsBefore+1 {
			t.Errorf("expected exactly one conditional request")
		}

		events, err := st.ListEventsByCalendar(calID)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Errorf("304 must leave events untouched, got %d", len(events))
		}
	})

	t.Run("changed feed replaces removed entries", func(t *testing.T) {
		fs.mu.Lock()
		fs.body = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//feed//EN\r\n" +
			"BEGIN:VEVENT\r\nUID:xmas\r\nDTSTAMP:20260101T000000Z\r\n" +
			"DTSTART;VALUE=DATE:20261225\r\nSUMMARY:Christmas Day\r\nEND:VEVENT\r\n" +
			"END:VCALENDAR\r\n"
		fs.etag = `"v2"`
		fs.mu.Unlock()

		if err := m.Refresh(context.Background(), feed); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}

		if _, err := st.GetEvent(calID, "newyear"); !errors.Is(err, store.ErrNotFound) {
			t.Error("entry removed from the feed should be pruned")
		}
		if _, err := st.GetEvent(calID, "xmas"); err != nil {
			t.Errorf("surviving entry pruned: %v", err)
		}

		cal, err := st.GetCalendar(calID)
		if err != nil {
			t.Fatal(err)
		}
		if cal.CTag != `"v2"` {
			t.Errorf("validator not rotated, got %q", cal.CTag)
		}
	})
}

func TestRefreshDefaults(t *testing.T) {
	fs := &feedServer{body: feedBody}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	feed := Feed{Name: "Plain", URL: srv.URL + "/plain.ics"}
	m, st := newTestManager(t, []Feed{feed})

	if err := m.Refresh(context.Background(), feed); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	account, _ := st.GetOrCreateLocalAccount()
	cal, err := st.GetCalendar(store.CalendarID(account.ID, feed.URL))
	if err != nil {
		t.Fatal(err)
	}
	if cal.Color != defaultFeedTint {
		t.Errorf("expected default tint, got %q", cal.Color)
	}
}

func TestRefreshServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	feed := Feed{Name: "Broken", URL: srv.URL + "/broken.ics"}
	m, _ := newTestManager(t, []Feed{feed})

	if err := m.Refresh(context.Background(), feed); err == nil {
		t.Error("expected error for failing feed")
	}
}

func TestRefreshAllContinuesPastFailures(t *testing.T) {
	fs := &feedServer{body: feedBody}
	good := httptest.NewServer(fs.handler())
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	feeds := []Feed{
		{Name: "Bad", URL: bad.URL + "/gone.ics"},
		{Name: "Good", URL: good.URL + "/ok.ics"},
	}
	m, st := newTestManager(t, feeds)

	m.RefreshAll(context.Background())

	account, _ := st.GetOrCreateLocalAccount()
	calID := store.CalendarID(account.ID, feeds[1].URL)
	events, err := st.ListEventsByCalendar(calID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("good feed should refresh despite the bad one, got %d events", len(events))
	}
}
