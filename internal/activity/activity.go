// Package activity keeps an in-memory record of sync passes so the API can
// show what the engine is doing right now and what it did recently.
package activity

import (
	"sync"
	"time"

	"github.com/sundial-cal/sundial/internal/caldav"
)

// SyncRun represents one sync pass for one account.
type SyncRun struct {
	AccountID       string     `json:"account_id"`
	Status          string     `json:"status"` // "running", "success", "retry", "failure", "skipped"
	CalendarsSynced int        `json:"calendars_synced"`
	CalendarsFailed int        `json:"calendars_failed"`
	EventsAdded     int        `json:"events_added"`
	EventsUpdated   int        `json:"events_updated"`
	EventsDeleted   int        `json:"events_deleted"`
	EventsPushed    int        `json:"events_pushed"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Duration        string     `json:"duration,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
}

// Tracker tracks sync passes across all accounts.
type Tracker struct {
	mu        sync.RWMutex
	active    map[string]*SyncRun // accountID -> run
	recent    []*SyncRun          // Recently completed runs, newest first
	maxRecent int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[string]*SyncRun),
		recent:    make([]*SyncRun, 0),
		maxRecent: 20, // Keep last 20 completed runs
	}
}

// Start begins tracking a sync pass for an account.
func (t *Tracker) Start(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[accountID] = &SyncRun{
		AccountID: accountID,
		Status:    "running",
		StartedAt: time.Now(),
	}
}

// Finish completes the active run for an account with the pass outcome and
// the engine's report. A Finish without a matching Start is ignored.
func (t *Tracker) Finish(accountID, outcome string, report *caldav.SyncReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.active[accountID]
	if !ok {
		return
	}
	delete(t.active, accountID)

	now := time.Now()
	run.Status = outcome
	run.CompletedAt = &now
	run.Duration = now.Sub(run.StartedAt).Round(time.Millisecond).String()

	if report != nil {
		for _, res := range report.Results {
			if res.Success {
				run.CalendarsSynced++
				run.EventsAdded += res.Added
				run.EventsUpdated += res.Updated
				run.EventsDeleted += res.Deleted
				run.EventsPushed += res.Pushed
			} else {
				run.CalendarsFailed++
				if res.Err != nil {
					run.Errors = append(run.Errors, res.CalendarName+": "+res.Err.Error())
				}
			}
		}
		for _, skip := range report.DiscoverySkips {
			run.Errors = append(run.Errors, "discovery: "+skip.Reason)
		}
	}

	t.recent = append([]*SyncRun{run}, t.recent...)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[:t.maxRecent]
	}
}

// Active returns the currently running syncs.
func (t *Tracker) Active() []*SyncRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*SyncRun, 0, len(t.active))
	for _, run := range t.active {
		copied := *run
		out = append(out, &copied)
	}
	return out
}

// Recent returns recently completed syncs, newest first.
func (t *Tracker) Recent() []*SyncRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*SyncRun, len(t.recent))
	for i, run := range t.recent {
		copied := *run
		out[i] = &copied
	}
	return out
}
