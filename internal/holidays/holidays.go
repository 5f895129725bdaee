// Package holidays maintains read-only holiday overlay calendars fed by
// remote ICS subscriptions. Feeds live under the local account and are
// refreshed alongside regular sync.
package holidays

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sundial-cal/sundial/internal/ical"
	"github.com/sundial-cal/sundial/internal/store"
)

// Feed describes one ICS subscription.
type Feed struct {
	Name  string
	URL   string
	Color string
}

const (
	requestTimeout  = 30 * time.Second
	maxFeedBody     = 10 << 20
	feedSortOrder   = 100
	defaultFeedTint = "#8E8E93"
)

// Manager fetches feeds and mirrors them into the store.
type Manager struct {
	store  *store.Store
	client *http.Client
	feeds  []Feed
}

func New(st *store.Store, feeds []Feed) *Manager {
	return &Manager{
		store:  st,
		client: &http.Client{Timeout: requestTimeout},
		feeds:  feeds,
	}
}

// RefreshAll refreshes every configured feed. Feed failures are logged and
// do not stop the remaining feeds.
func (m *Manager) RefreshAll(ctx context.Context) {
	for _, feed := range m.feeds {
		if err := m.Refresh(ctx, feed); err != nil {
			log.Printf("Holiday feed %s failed: %v", feed.Name, err)
		}
	}
}

// Refresh fetches one feed and reconciles its calendar. A 304 reply leaves
// the calendar untouched.
func (m *Manager) Refresh(ctx context.Context, feed Feed) error {
	account, err := m.store.GetOrCreateLocalAccount()
	if err != nil {
		return fmt.Errorf("failed to resolve local account: %w", err)
	}

	cal, err := m.ensureCalendar(account.ID, feed)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return fmt.Errorf("invalid feed url %s: %w", feed.URL, err)
	}
	// The calendar's tag columns double as the feed's HTTP cache
	// validators.
	if cal.CTag != "" {
		req.Header.Set("If-None-Match", cal.CTag)
	}
	if cal.SyncToken != "" {
		req.Header.Set("If-Modified-Since", cal.SyncToken)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch feed %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed %s returned status %d", feed.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return fmt.Errorf("failed to read feed %s: %w", feed.Name, err)
	}

	events := ical.ParseAll(string(body), cal.ID)
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if err := m.store.UpsertEvent(ev); err != nil {
			return fmt.Errorf("failed to store feed event %s: %w", ev.UID, err)
		}
		seen[ev.UID] = true
	}
	if _, err := m.store.DeleteSyncedEventsNotIn(cal.ID, seen); err != nil {
		return fmt.Errorf("failed to prune feed %s: %w", feed.Name, err)
	}

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if err := m.store.UpdateCalendarTags(cal.ID, etag, lastModified); err != nil {
		return fmt.Errorf("failed to record feed validators: %w", err)
	}
	return nil
}

func (m *Manager) ensureCalendar(accountID string, feed Feed) (*store.Calendar, error) {
	id := store.CalendarID(accountID, feed.URL)
	cal, err := m.store.GetCalendar(id)
	if err == nil {
		return cal, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load feed calendar: %w", err)
	}

	color := feed.Color
	if color == "" {
		color = defaultFeedTint
	}
	cal = &store.Calendar{
		ID:        id,
		AccountID: accountID,
		Name:      feed.Name,
		Color:     color,
		URL:       feed.URL,
		ReadOnly:  true,
		Visible:   true,
		SortOrder: feedSortOrder,
	}
	if err := m.store.CreateCalendar(cal); err != nil {
		return nil, fmt.Errorf("failed to create feed calendar: %w", err)
	}
	return cal, nil
}
