package store

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a local event record matches server state.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pending_create"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusPendingDelete SyncStatus = "pending_delete"
	StatusConflict      SyncStatus = "conflict"
)

// IsPending reports whether the record carries a local mutation the server
// has not confirmed yet.
func (s SyncStatus) IsPending() bool {
	switch s {
	case StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete:
		return true
	}
	return false
}

// EventStatus is the scheduling status of an event.
type EventStatus string

const (
	EventTentative EventStatus = "TENTATIVE"
	EventConfirmed EventStatus = "CONFIRMED"
	EventCancelled EventStatus = "CANCELLED"
)

// ReminderAction is the kind of alarm attached to an event.
type ReminderAction string

const (
	ReminderDisplay ReminderAction = "DISPLAY"
	ReminderEmail   ReminderAction = "EMAIL"
	ReminderAudio   ReminderAction = "AUDIO"
)

// Account is one registered CalDAV server identity. An account with an
// empty ServerURL is the synthetic local account used for standalone
// operation and is never synced.
type Account struct {
	ID           string
	Name         string
	ServerURL    string
	Username     string
	PrincipalURL string
	HomeSetURL   string
	IsDefault    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsLocal reports whether the account is the offline-only account.
func (a *Account) IsLocal() bool {
	return a.ServerURL == ""
}

// Calendar is one event collection on one account.
type Calendar struct {
	ID        string
	AccountID string
	Name      string
	Color     string
	URL       string
	CTag      string
	SyncToken string
	ReadOnly  bool
	Visible   bool
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attendee is one event participant.
type Attendee struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	PartStat string `json:"part_stat,omitempty"`
}

// Reminder is one alarm trigger. Either MinutesBefore is set (relative
// trigger) or Absolute is non-nil (fixed instant).
type Reminder struct {
	MinutesBefore int            `json:"minutes_before,omitempty"`
	Absolute      *time.Time     `json:"absolute,omitempty"`
	Action        ReminderAction `json:"action,omitempty"`
}

// Event is one calendar entry keyed by (CalendarID, UID).
type Event struct {
	UID         string
	CalendarID  string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         *time.Time
	AllDay      bool
	Timezone    string
	RRule       string
	Color       string
	Organizer   string
	Attendees   []Attendee
	Reminders   []Reminder
	Status      EventStatus
	ETag        string
	Href        string
	SyncStatus  SyncStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CalendarID derives the stable local identifier for a calendar from its
// account and server href. The same server calendar always maps to the
// same id, which keeps discovery inserts idempotent.
func CalendarID(accountID, href string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(accountID+"\x00"+href)).String()
}
