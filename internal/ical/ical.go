// Package ical converts between raw iCalendar payloads and store event
// records. Parsing is lenient: anything unreadable yields "no record" and
// the caller skips the entry.
package ical

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/sundial-cal/sundial/internal/store"
)

const prodID = "-//sundial//sundial-core//EN"

// Parse converts one iCalendar payload into an event record for the given
// calendar. It returns false when the payload has no usable VEVENT.
func Parse(raw, calendarID, etag string) (*store.Event, bool) {
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		return nil, false
	}

	evt := pickEvent(cal)
	if evt == nil {
		return nil, false
	}
	return toRecord(evt, calendarID, etag)
}

// ParseAll converts a whole iCalendar stream (for example a subscription
// feed) into event records, skipping unusable entries and recurrence
// overrides.
func ParseAll(raw, calendarID string) []*store.Event {
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		return nil
	}

	events := cal.Events()
	var out []*store.Event
	for i := range events {
		if events[i].Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		if record, ok := toRecord(&events[i], calendarID, ""); ok {
			out = append(out, record)
		}
	}
	return out
}

func toRecord(evt *ical.Event, calendarID, etag string) (*store.Event, bool) {
	uid, err := evt.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return nil, false
	}

	record := &store.Event{
		UID:        uid,
		CalendarID: calendarID,
		ETag:       etag,
		SyncStatus: store.StatusSynced,
		Status:     store.EventConfirmed,
	}

	if summary, err := evt.Props.Text(ical.PropSummary); err == nil {
		record.Summary = summary
	}
	if desc, err := evt.Props.Text(ical.PropDescription); err == nil {
		record.Description = desc
	}
	if loc, err := evt.Props.Text(ical.PropLocation); err == nil {
		record.Location = loc
	}
	if color, err := evt.Props.Text(ical.PropColor); err == nil {
		record.Color = color
	}
	if rrule := evt.Props.Get(ical.PropRecurrenceRule); rrule != nil {
		record.RRule = rrule.Value
	}
	if status, err := evt.Props.Text(ical.PropStatus); err == nil && status != "" {
		record.Status = store.EventStatus(strings.ToUpper(status))
	}

	dtstart := evt.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, false
	}
	start, allDay, tzid, ok := decodeDateTime(dtstart)
	if !ok {
		return nil, false
	}
	record.Start = start
	record.AllDay = allDay
	record.Timezone = tzid

	if dtend := evt.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if end, _, _, ok := decodeDateTime(dtend); ok {
			record.End = &end
		}
	}

	if org := evt.Props.Get(ical.PropOrganizer); org != nil {
		record.Organizer = stripMailto(org.Value)
	}
	for _, att := range evt.Props.Values(ical.PropAttendee) {
		record.Attendees = append(record.Attendees, store.Attendee{
			Email:    stripMailto(att.Value),
			Name:     att.Params.Get("CN"),
			Role:     att.Params.Get("ROLE"),
			PartStat: att.Params.Get("PARTSTAT"),
		})
	}

	for _, child := range evt.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		if reminder, ok := decodeAlarm(child); ok {
			record.Reminders = append(record.Reminders, reminder)
		}
	}

	return record, true
}

// Encode renders a local event record as an iCalendar payload for upload.
func Encode(ev *store.Event) (string, error) {
	if ev.UID == "" {
		return "", fmt.Errorf("event has no uid")
	}
	if ev.Start.IsZero() {
		return "", fmt.Errorf("event %s has no start", ev.UID)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, ev.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	setDateTime(event.Props, ical.PropDateTimeStart, ev.Start, ev.AllDay)
	if ev.End != nil {
		setDateTime(event.Props, ical.PropDateTimeEnd, *ev.End, ev.AllDay)
	}
	if ev.Summary != "" {
		event.Props.SetText(ical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Color != "" {
		event.Props.SetText(ical.PropColor, ev.Color)
	}
	if ev.Status != "" {
		event.Props.SetText(ical.PropStatus, string(ev.Status))
	}
	if ev.RRule != "" {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = ev.RRule
		event.Props.Set(prop)
	}
	if ev.Organizer != "" {
		event.Props.SetText(ical.PropOrganizer, "mailto:"+ev.Organizer)
	}
	for _, att := range ev.Attendees {
		prop := ical.NewProp(ical.PropAttendee)
		prop.Value = "mailto:" + att.Email
		if att.Name != "" {
			prop.Params.Set("CN", att.Name)
		}
		if att.Role != "" {
			prop.Params.Set("ROLE", att.Role)
		}
		if att.PartStat != "" {
			prop.Params.Set("PARTSTAT", att.PartStat)
		}
		event.Props.Add(prop)
	}
	for _, reminder := range ev.Reminders {
		event.Children = append(event.Children, encodeAlarm(reminder))
	}

	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode event %s: %w", ev.UID, err)
	}
	return buf.String(), nil
}

// pickEvent chooses the main VEVENT: the first one without a RECURRENCE-ID,
// falling back to the first event. Recurrence overrides stay opaque to the
// core.
func pickEvent(cal *ical.Calendar) *ical.Event {
	events := cal.Events()
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].Props.Get(ical.PropRecurrenceID) == nil {
			return &events[i]
		}
	}
	return &events[0]
}

func decodeDateTime(prop *ical.Prop) (t time.Time, allDay bool, tzid string, ok bool) {
	value := prop.Value
	tzid = prop.Params.Get("TZID")

	// DATE values mark all-day events.
	if prop.Params.Get("VALUE") == "DATE" || len(value) == 8 {
		t, err := time.Parse("20060102", value)
		if err != nil {
			return time.Time{}, false, "", false
		}
		return t, true, tzid, true
	}

	loc := time.UTC
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := prop.DateTime(loc)
	if err != nil {
		return time.Time{}, false, "", false
	}
	return t.UTC(), false, tzid, true
}

func setDateTime(props ical.Props, name string, t time.Time, allDay bool) {
	if allDay {
		prop := ical.NewProp(name)
		prop.SetValueType(ical.ValueDate)
		prop.Value = t.Format("20060102")
		props.Set(prop)
		return
	}
	props.SetDateTime(name, t.UTC())
}

// durationPattern matches the RFC 5545 duration subset alarms use,
// e.g. -PT15M, -PT1H30M, -P1D.
var durationPattern = regexp.MustCompile(`^(-)?P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

func decodeAlarm(comp *ical.Component) (store.Reminder, bool) {
	reminder := store.Reminder{Action: store.ReminderDisplay}
	if action, err := comp.Props.Text(ical.PropAction); err == nil && action != "" {
		reminder.Action = store.ReminderAction(strings.ToUpper(action))
	}

	trigger := comp.Props.Get(ical.PropTrigger)
	if trigger == nil {
		return store.Reminder{}, false
	}

	if trigger.Params.Get("VALUE") == "DATE-TIME" {
		t, err := trigger.DateTime(time.UTC)
		if err != nil {
			return store.Reminder{}, false
		}
		utc := t.UTC()
		reminder.Absolute = &utc
		return reminder, true
	}

	m := durationPattern.FindStringSubmatch(strings.TrimSpace(trigger.Value))
	if m == nil {
		return store.Reminder{}, false
	}
	minutes := atoi(m[2])*24*60 + atoi(m[3])*60 + atoi(m[4])
	if atoi(m[5]) > 0 {
		minutes++ // round sub-minute triggers up
	}
	if m[1] != "-" {
		// Triggers after the start are not representable as a
		// minutes-before reminder; clamp to "at start".
		minutes = 0
	}
	reminder.MinutesBefore = minutes
	return reminder, true
}

func encodeAlarm(reminder store.Reminder) *ical.Component {
	comp := ical.NewComponent(ical.CompAlarm)
	action := reminder.Action
	if action == "" {
		action = store.ReminderDisplay
	}
	comp.Props.SetText(ical.PropAction, string(action))

	prop := ical.NewProp(ical.PropTrigger)
	if reminder.Absolute != nil {
		prop.SetValueType(ical.ValueDateTime)
		prop.Value = reminder.Absolute.UTC().Format("20060102T150405Z")
	} else {
		prop.Value = fmt.Sprintf("-PT%dM", reminder.MinutesBefore)
	}
	comp.Props.Set(prop)
	return comp
}

func stripMailto(value string) string {
	return strings.TrimPrefix(strings.TrimPrefix(value, "mailto:"), "MAILTO:")
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
