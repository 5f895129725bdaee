package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const eventColumns = `uid, calendar_id, summary, description, location, start_at, end_at,
	all_day, timezone, rrule, color, organizer, attendees, reminders, status, etag, href,
	sync_status, created_at, updated_at`

// UpsertEvent inserts or fully replaces the event keyed by
// (CalendarID, UID). Created timestamps survive replacement.
func (s *Store) UpsertEvent(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEventLocked(ev)
}

func (s *Store) upsertEventLocked(ev *Event) error {
	now := time.Now().UTC()
	if ev.Status == "" {
		ev.Status = EventConfirmed
	}
	ev.UpdatedAt = now

	attendees, err := json.Marshal(ev.Attendees)
	if err != nil {
		return fmt.Errorf("failed to encode attendees: %w", err)
	}
	reminders, err := json.Marshal(ev.Reminders)
	if err != nil {
		return fmt.Errorf("failed to encode reminders: %w", err)
	}

	var end sql.NullTime
	if ev.End != nil {
		end = sql.NullTime{Time: *ev.End, Valid: true}
	}

	_, err = s.conn.Exec(`INSERT INTO events (
		uid, calendar_id, summary, description, location, start_at, end_at, all_day,
		timezone, rrule, color, organizer, attendees, reminders, status, etag, href,
		sync_status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(calendar_id, uid) DO UPDATE SET
		summary = excluded.summary,
		description = excluded.description,
		location = excluded.location,
		start_at = excluded.start_at,
		end_at = excluded.end_at,
		all_day = excluded.all_day,
		timezone = excluded.timezone,
		rrule = excluded.rrule,
		color = excluded.color,
		organizer = excluded.organizer,
		attendees = excluded.attendees,
		reminders = excluded.reminders,
		status = excluded.status,
		etag = excluded.etag,
		href = excluded.href,
		sync_status = excluded.sync_status,
		updated_at = excluded.updated_at`,
		ev.UID, ev.CalendarID, ev.Summary, ev.Description, ev.Location, ev.Start.UTC(), end,
		ev.AllDay, ev.Timezone, ev.RRule, ev.Color, ev.Organizer, string(attendees),
		string(reminders), ev.Status, ev.ETag, ev.Href, ev.SyncStatus, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	s.hub.notify(topicEvents)
	return nil
}

// GetEvent returns one event by its composite key.
func (s *Store) GetEvent(calendarID, uid string) (*Event, error) {
	row := s.conn.QueryRow(`SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? AND uid = ?`, calendarID, uid)
	return scanEvent(row)
}

// ListEventsByCalendar returns every event of one calendar.
func (s *Store) ListEventsByCalendar(calendarID string) ([]*Event, error) {
	return s.queryEvents(`SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? ORDER BY start_at`, calendarID)
}

// ListPendingEvents returns the events of one calendar carrying unconfirmed
// local mutations, in the order they were edited.
func (s *Store) ListPendingEvents(calendarID string) ([]*Event, error) {
	return s.queryEvents(`SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? AND sync_status IN (?, ?, ?) ORDER BY updated_at`,
		calendarID, StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete)
}

// ListEventsInRange returns events overlapping [from, to) plus recurring
// events that may produce occurrences there. With a nil calendar set the
// query covers all visible calendars; a widget renderer can call this
// synchronously without a subscription.
func (s *Store) ListEventsInRange(from, to time.Time, calendarIDs []string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE (
			(start_at < ? AND COALESCE(end_at, start_at) >= ?) OR
			(rrule != '' AND start_at < ?)
		) AND sync_status != ?`
	args := []any{to.UTC(), from.UTC(), to.UTC(), StatusPendingDelete}

	if len(calendarIDs) == 0 {
		query += ` AND calendar_id IN (SELECT id FROM calendars WHERE visible = 1)`
	} else {
		query += ` AND calendar_id IN (`
		for i, id := range calendarIDs {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, id)
		}
		query += `)`
	}
	query += ` ORDER BY start_at`

	return s.queryEvents(query, args...)
}

// SetEventSyncStatus transitions the sync status of one event, optionally
// recording a fresh etag from the server.
func (s *Store) SetEventSyncStatus(calendarID, uid string, status SyncStatus, etag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	var err error
	if etag != "" {
		res, err = s.conn.Exec(`UPDATE events SET sync_status = ?, etag = ?, updated_at = ?
			WHERE calendar_id = ? AND uid = ?`, status, etag, time.Now().UTC(), calendarID, uid)
	} else {
		res, err = s.conn.Exec(`UPDATE events SET sync_status = ?, updated_at = ?
			WHERE calendar_id = ? AND uid = ?`, status, time.Now().UTC(), calendarID, uid)
	}
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicEvents)
	return nil
}

// DeleteEvent removes an event record immediately.
func (s *Store) DeleteEvent(calendarID, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`DELETE FROM events WHERE calendar_id = ? AND uid = ?`, calendarID, uid)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicEvents)
	return nil
}

// DeleteSyncedEventsNotIn removes events of one calendar that the server no
// longer lists. Only records whose sync status is exactly synced are swept;
// pending local mutations survive a vanishing remote id. It returns the
// number of deleted rows.
func (s *Store) DeleteSyncedEventsNotIn(calendarID string, seenUIDs map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(`SELECT uid FROM events
		WHERE calendar_id = ? AND sync_status = ?`, calendarID, StatusSynced)
	if err != nil {
		return 0, fmt.Errorf("failed to query synced events: %w", err)
	}
	var stale []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan uid: %w", err)
		}
		if !seenUIDs[uid] {
			stale = append(stale, uid)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating uids: %w", err)
	}

	for _, uid := range stale {
		if _, err := s.conn.Exec(`DELETE FROM events WHERE calendar_id = ? AND uid = ?`,
			calendarID, uid); err != nil {
			return 0, fmt.Errorf("failed to delete stale event: %w", err)
		}
	}

	if len(stale) > 0 {
		s.hub.notify(topicEvents)
	}
	return len(stale), nil
}

func (s *Store) queryEvents(query string, args ...any) ([]*Event, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (*Event, error) {
	ev := &Event{}
	var end sql.NullTime
	var attendees, reminders string

	err := row.Scan(&ev.UID, &ev.CalendarID, &ev.Summary, &ev.Description, &ev.Location,
		&ev.Start, &end, &ev.AllDay, &ev.Timezone, &ev.RRule, &ev.Color, &ev.Organizer,
		&attendees, &reminders, &ev.Status, &ev.ETag, &ev.Href, &ev.SyncStatus,
		&ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if end.Valid {
		t := end.Time
		ev.End = &t
	}
	if err := json.Unmarshal([]byte(attendees), &ev.Attendees); err != nil {
		return nil, fmt.Errorf("failed to decode attendees: %w", err)
	}
	if err := json.Unmarshal([]byte(reminders), &ev.Reminders); err != nil {
		return nil, fmt.Errorf("failed to decode reminders: %w", err)
	}
	return ev, nil
}
