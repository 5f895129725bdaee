package caldav

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sundial-cal/sundial/internal/store"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = time.Second

	// The reconciliation fetch covers a bounded window rather than the
	// whole collection: 3 months back through 12 months ahead.
	pastWindowMonths   = 3
	futureWindowMonths = 12
)

// CredentialSource looks up the stored secret for an account. The engine
// only reads; write access belongs to account management.
type CredentialSource interface {
	GetPassword(accountID string) (string, bool)
}

// PayloadParser converts one iCalendar payload into a storable event
// record. A false return means "skip this entry", not a cycle failure.
type PayloadParser func(raw, calendarID, etag string) (*store.Event, bool)

// PayloadEncoder renders a local event record back into an iCalendar
// payload for upload.
type PayloadEncoder func(ev *store.Event) (string, error)

// SyncStats counts the record changes of one reconciliation cycle.
type SyncStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Pushed  int `json:"pushed"`
}

// CalendarResult is the per-calendar outcome of a sync pass.
type CalendarResult struct {
	CalendarID   string `json:"calendar_id"`
	CalendarName string `json:"calendar_name"`
	Success      bool   `json:"success"`
	Attempts     int    `json:"attempts"`
	SyncStats
	Err error `json:"-"`
}

// DiscoverySkip records a best-effort discovery pass that did not run to
// completion. Skips are observable but never abort the primary sync.
type DiscoverySkip struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

// SyncReport aggregates a full sync pass across all visible calendars.
type SyncReport struct {
	Results        []*CalendarResult `json:"results"`
	DiscoverySkips []DiscoverySkip   `json:"discovery_skips,omitempty"`
}

// AuthFailed reports whether any calendar in the batch failed with an
// authentication error.
func (r *SyncReport) AuthFailed() bool {
	for _, res := range r.Results {
		if res.Err != nil && errors.Is(res.Err, ErrAuthFailed) {
			return true
		}
	}
	return false
}

// AllFailed reports whether every attempted calendar failed.
func (r *SyncReport) AllFailed() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Success {
			return false
		}
	}
	return true
}

// Engine is the change detection and reconciliation core. It compares a
// calendar's last-known change-tag against the server's, fetches the event
// window on mismatch, and merges the result into the local store without
// ever discarding an unconfirmed local mutation.
type Engine struct {
	store  *store.Store
	creds  CredentialSource
	parse  PayloadParser
	encode PayloadEncoder

	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
}

// NewEngine creates a reconciliation engine. All collaborators are explicit
// so tests can substitute fakes.
func NewEngine(st *store.Store, creds CredentialSource, parse PayloadParser, encode PayloadEncoder) *Engine {
	return &Engine{
		store:       st,
		creds:       creds,
		parse:       parse,
		encode:      encode,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		now:         time.Now,
	}
}

// DiscoverCalendars resolves the server topology for one account and
// stores the calendars found there. Calendars already known locally keep
// their visibility and ordering; only server-owned properties are
// refreshed. Freshly inserted calendars carry an empty change-tag so the
// first reconciliation cycle fetches their events.
func (e *Engine) DiscoverCalendars(ctx context.Context, accountID string) ([]*store.Calendar, error) {
	account, err := e.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account.IsLocal() {
		return nil, fmt.Errorf("account %q is local-only and has no server", accountID)
	}

	t, err := e.transportFor(account)
	if err != nil {
		return nil, err
	}

	result, err := Discover(ctx, t)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdateAccountURLs(accountID, result.PrincipalURL, result.CalendarHomeURL); err != nil {
		return nil, err
	}

	for i, desc := range result.Calendars {
		if !desc.SupportsEvents {
			continue
		}
		id := store.CalendarID(accountID, desc.Href)
		_, err := e.store.GetCalendar(id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cal := &store.Calendar{
				ID:        id,
				AccountID: accountID,
				Name:      desc.Name,
				Color:     desc.Color,
				URL:       desc.Href,
				ReadOnly:  desc.ReadOnly,
				Visible:   true,
				SortOrder: i,
			}
			if err := e.store.CreateCalendar(cal); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			if err := e.store.UpdateCalendarMeta(id, desc.Name, desc.Color, desc.ReadOnly); err != nil {
				return nil, err
			}
		}
	}

	return e.store.ListCalendarsByAccount(accountID)
}

// SyncCalendar runs one reconciliation cycle for a calendar, retrying
// transient failures with exponential backoff. Terminal failures (auth,
// bad argument) abort after the first attempt.
func (e *Engine) SyncCalendar(ctx context.Context, calendarID string) *CalendarResult {
	result := &CalendarResult{CalendarID: calendarID}

	cal, err := e.store.GetCalendar(calendarID)
	if err != nil {
		result.Err = err
		return result
	}
	result.CalendarName = cal.Name

	account, err := e.store.GetAccount(cal.AccountID)
	if err != nil {
		result.Err = err
		return result
	}
	if account.IsLocal() || cal.URL == "" {
		// Nothing to reconcile against.
		result.Success = true
		result.Attempts = 0
		return result
	}

	t, err := e.transportFor(account)
	if err != nil {
		result.Err = err
		return result
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result.Attempts = attempt

		stats, err := e.attemptSync(ctx, cal, t)
		if err == nil {
			result.SyncStats = stats
			result.Success = true
			return result
		}
		result.Err = err

		if !Retryable(err) || attempt == e.maxAttempts {
			return result
		}

		delay := e.retryBase << (attempt - 1)
		log.Printf("sync %s attempt %d failed (%v), retrying in %v", cal.Name, attempt, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		}
	}
	return result
}

// SyncAccount runs a full pass for one account: a best-effort discovery to
// pick up calendars created remotely, then one sequential reconciliation
// cycle per visible calendar. One calendar's failure never stops the rest.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) *SyncReport {
	report := &SyncReport{}

	account, err := e.store.GetAccount(accountID)
	if err != nil {
		report.Results = append(report.Results, &CalendarResult{Err: err})
		return report
	}
	if account.IsLocal() {
		return report
	}

	if _, err := e.DiscoverCalendars(ctx, account.ID); err != nil {
		report.DiscoverySkips = append(report.DiscoverySkips, DiscoverySkip{
			AccountID: account.ID,
			Reason:    err.Error(),
		})
	}

	cals, err := e.store.ListCalendarsByAccount(account.ID)
	if err != nil {
		report.Results = append(report.Results, &CalendarResult{Err: err})
		return report
	}

	for _, cal := range cals {
		if !cal.Visible || cal.URL == "" {
			continue
		}
		report.Results = append(report.Results, e.SyncCalendar(ctx, cal.ID))
	}
	return report
}

// SyncAll runs SyncAccount for every server account.
func (e *Engine) SyncAll(ctx context.Context) *SyncReport {
	report := &SyncReport{}

	accounts, err := e.store.ListAccounts()
	if err != nil {
		report.Results = append(report.Results, &CalendarResult{Err: err})
		return report
	}

	for _, account := range accounts {
		if account.IsLocal() {
			continue
		}
		partial := e.SyncAccount(ctx, account.ID)
		report.Results = append(report.Results, partial.Results...)
		report.DiscoverySkips = append(report.DiscoverySkips, partial.DiscoverySkips...)
	}
	return report
}

// attemptSync is one pass of the per-calendar state machine: push pending
// local edits, check the change-tag, fetch the window on mismatch, merge,
// then persist the newly observed tag. The tag is written only after a
// complete merge, so an interrupted cycle simply repeats in full.
func (e *Engine) attemptSync(ctx context.Context, cal *store.Calendar, t *Transport) (SyncStats, error) {
	var stats SyncStats

	if !cal.ReadOnly {
		pushed, err := e.pushPending(ctx, t, cal)
		if err != nil {
			return stats, err
		}
		stats.Pushed = pushed
	}

	raw, err := t.Propfind(ctx, cal.URL, 0, propfindCollectionState)
	if err != nil {
		return stats, fmt.Errorf("change-tag check failed: %w", err)
	}
	state := ParseCollectionState(raw)

	// An empty tag from a malformed reply means "assume changed": an extra
	// fetch is cheaper than a missed update.
	if state.CTag != "" && state.CTag == cal.CTag {
		return stats, nil
	}

	now := e.now()
	start := now.AddDate(0, -pastWindowMonths, 0)
	end := now.AddDate(0, futureWindowMonths, 0)

	raw, err = t.Report(ctx, cal.URL, reportTimeRange(start, end))
	if err != nil {
		return stats, fmt.Errorf("event fetch failed: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range ParseEventEntries(raw) {
		ev, ok := e.parse(entry.Data, cal.ID, entry.ETag)
		if !ok {
			log.Printf("sync %s: skipping unparseable entry %s", cal.Name, entry.Href)
			// The entry still exists on the server. Marking its uid as
			// seen keeps the sweep below from deleting the local copy.
			if uid := uidFromHref(entry.Href); uid != "" {
				seen[uid] = true
			}
			continue
		}
		ev.Href = entry.Href
		seen[ev.UID] = true

		local, err := e.store.GetEvent(cal.ID, ev.UID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			ev.SyncStatus = store.StatusSynced
			if err := e.store.UpsertEvent(ev); err != nil {
				return stats, err
			}
			stats.Added++
		case err != nil:
			return stats, err
		case local.SyncStatus == store.StatusSynced:
			if local.ETag != entry.ETag {
				ev.SyncStatus = store.StatusSynced
				if err := e.store.UpsertEvent(ev); err != nil {
					return stats, err
				}
				stats.Updated++
			}
		default:
			// The local copy carries an unconfirmed mutation. Server data
			// never overwrites it; if the server moved too, the record is
			// flagged for explicit resolution.
			if local.ETag != entry.ETag && local.SyncStatus != store.StatusConflict {
				if err := e.store.SetEventSyncStatus(cal.ID, ev.UID, store.StatusConflict, ""); err != nil {
					return stats, err
				}
			}
		}
	}

	deleted, err := e.store.DeleteSyncedEventsNotIn(cal.ID, seen)
	if err != nil {
		return stats, err
	}
	stats.Deleted = deleted

	if err := e.store.UpdateCalendarTags(cal.ID, state.CTag, state.SyncToken); err != nil {
		return stats, err
	}
	cal.CTag = state.CTag
	cal.SyncToken = state.SyncToken

	return stats, nil
}

// pushPending uploads unconfirmed local mutations before the fetch so the
// merge sees its own writes reflected in server state. A precondition
// failure flags the record as a conflict and moves on; transport failures
// abort the cycle.
func (e *Engine) pushPending(ctx context.Context, t *Transport, cal *store.Calendar) (int, error) {
	pending, err := e.store.ListPendingEvents(cal.ID)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, ev := range pending {
		switch ev.SyncStatus {
		case store.StatusPendingCreate, store.StatusPendingUpdate:
			data, err := e.encode(ev)
			if err != nil {
				log.Printf("sync %s: cannot encode %s: %v", cal.Name, ev.UID, err)
				continue
			}

			href := ev.Href
			if href == "" {
				href = eventHref(cal.URL, ev.UID)
			}

			var etag string
			if ev.SyncStatus == store.StatusPendingCreate {
				etag, err = t.Put(ctx, href, data, "", "*")
			} else {
				etag, err = t.Put(ctx, href, data, ev.ETag, "")
			}
			if errors.Is(err, ErrPreconditionFailed) {
				if err := e.store.SetEventSyncStatus(cal.ID, ev.UID, store.StatusConflict, ""); err != nil {
					return pushed, err
				}
				continue
			}
			if err != nil {
				return pushed, fmt.Errorf("push %s failed: %w", ev.UID, err)
			}

			ev.Href = href
			if etag != "" {
				ev.ETag = etag
			}
			ev.SyncStatus = store.StatusSynced
			if err := e.store.UpsertEvent(ev); err != nil {
				return pushed, err
			}
			pushed++

		case store.StatusPendingDelete:
			err := t.Delete(ctx, ev.Href, ev.ETag)
			if errors.Is(err, ErrPreconditionFailed) {
				if err := e.store.SetEventSyncStatus(cal.ID, ev.UID, store.StatusConflict, ""); err != nil {
					return pushed, err
				}
				continue
			}
			if err != nil {
				return pushed, fmt.Errorf("delete %s failed: %w", ev.UID, err)
			}
			if err := e.store.DeleteEvent(cal.ID, ev.UID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return pushed, err
			}
			pushed++
		}
	}
	return pushed, nil
}

func (e *Engine) transportFor(account *store.Account) (*Transport, error) {
	password, ok := e.creds.GetPassword(account.ID)
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrMissingCredentials, account.ID)
	}
	return NewTransport(account.ServerURL, account.Username, password)
}

func eventHref(calendarURL, uid string) string {
	return strings.TrimSuffix(calendarURL, "/") + "/" + uid + ".ics"
}

// uidFromHref recovers the object uid from a collection member path,
// inverting the naming scheme of eventHref.
func uidFromHref(href string) string {
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return strings.TrimSuffix(href, ".ics")
}
