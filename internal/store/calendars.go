package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const calendarColumns = `id, account_id, name, color, url, ctag, sync_token,
	read_only, visible, sort_order, created_at, updated_at`

// CreateCalendar inserts a new calendar. The id must already be derived via
// CalendarID so that repeated discovery of the same server calendar is
// idempotent.
func (s *Store) CreateCalendar(cal *Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cal.CreatedAt = now
	cal.UpdatedAt = now

	_, err := s.conn.Exec(`INSERT INTO calendars (
		id, account_id, name, color, url, ctag, sync_token, read_only, visible, sort_order, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ID, cal.AccountID, cal.Name, cal.Color, cal.URL, cal.CTag, cal.SyncToken,
		cal.ReadOnly, cal.Visible, cal.SortOrder, cal.CreatedAt, cal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create calendar: %w", err)
	}

	s.hub.notify(topicCalendars)
	return nil
}

// GetCalendar returns a calendar by id.
func (s *Store) GetCalendar(id string) (*Calendar, error) {
	row := s.conn.QueryRow(`SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id)
	return scanCalendar(row)
}

// ListCalendars returns all calendars ordered by sort order then name.
func (s *Store) ListCalendars() ([]*Calendar, error) {
	return s.queryCalendars(`SELECT ` + calendarColumns + ` FROM calendars ORDER BY sort_order, name`)
}

// ListCalendarsByAccount returns the calendars of one account.
func (s *Store) ListCalendarsByAccount(accountID string) ([]*Calendar, error) {
	return s.queryCalendars(`SELECT `+calendarColumns+` FROM calendars
		WHERE account_id = ? ORDER BY sort_order, name`, accountID)
}

// ListVisibleCalendars returns the calendars currently shown to the user.
// These are the calendars a sync pass covers.
func (s *Store) ListVisibleCalendars() ([]*Calendar, error) {
	return s.queryCalendars(`SELECT ` + calendarColumns + ` FROM calendars
		WHERE visible = 1 ORDER BY sort_order, name`)
}

func (s *Store) queryCalendars(query string, args ...any) ([]*Calendar, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}
	defer rows.Close()

	var cals []*Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendars: %w", err)
	}
	return cals, nil
}

// UpdateCalendarMeta refreshes the server-provided display properties.
func (s *Store) UpdateCalendarMeta(id, name, color string, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`UPDATE calendars SET name = ?, color = ?, read_only = ?, updated_at = ?
		WHERE id = ?`, name, color, readOnly, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicCalendars)
	return nil
}

// UpdateCalendarTags persists the change-tag and sync-token observed after
// a successful reconciliation cycle.
func (s *Store) UpdateCalendarTags(id, ctag, syncToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`UPDATE calendars SET ctag = ?, sync_token = ?, updated_at = ?
		WHERE id = ?`, ctag, syncToken, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update calendar tags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicCalendars)
	return nil
}

// SetCalendarVisible toggles whether a calendar shows up in the UI and is
// covered by sync passes.
func (s *Store) SetCalendarVisible(id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`UPDATE calendars SET visible = ?, updated_at = ? WHERE id = ?`,
		visible, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update calendar visibility: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicCalendars, topicEvents)
	return nil
}

// DeleteCalendar removes a calendar and, by cascade, its events.
func (s *Store) DeleteCalendar(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`DELETE FROM calendars WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicCalendars, topicEvents)
	return nil
}

func scanCalendar(row rowScanner) (*Calendar, error) {
	cal := &Calendar{}
	err := row.Scan(&cal.ID, &cal.AccountID, &cal.Name, &cal.Color, &cal.URL,
		&cal.CTag, &cal.SyncToken, &cal.ReadOnly, &cal.Visible, &cal.SortOrder,
		&cal.CreatedAt, &cal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan calendar: %w", err)
	}
	return cal, nil
}
