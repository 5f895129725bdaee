// Package recur expands stored events into concrete occurrences within a
// time window. The sync core keeps recurrence rules opaque; expansion only
// happens on the read path feeding agenda views and widgets.
package recur

import (
	"log"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/sundial-cal/sundial/internal/store"
)

// maxOccurrencesPerEvent caps runaway rules so one event cannot flood an
// agenda query.
const maxOccurrencesPerEvent = 1000

// Occurrence is one concrete instance of an event.
type Occurrence struct {
	Event *store.Event
	Start time.Time
	End   time.Time
}

// Expand returns the occurrences of events overlapping [from, to), sorted
// by start. Non-recurring events pass through when they overlap the window;
// recurring events are expanded via their RRULE. An unparseable rule
// degrades to the base occurrence rather than dropping the event.
func Expand(events []*store.Event, from, to time.Time) []Occurrence {
	var out []Occurrence
	for _, ev := range events {
		duration := eventDuration(ev)

		if ev.RRule == "" {
			if ev.Start.Before(to) && ev.Start.Add(duration).After(from) {
				out = append(out, Occurrence{Event: ev, Start: ev.Start, End: ev.Start.Add(duration)})
			}
			continue
		}

		rule, err := rrule.StrToRRule(ev.RRule)
		if err != nil {
			log.Printf("recur: bad rule on %s (%q): %v", ev.UID, ev.RRule, err)
			if ev.Start.Before(to) && ev.Start.Add(duration).After(from) {
				out = append(out, Occurrence{Event: ev, Start: ev.Start, End: ev.Start.Add(duration)})
			}
			continue
		}
		rule.DTStart(ev.Start)

		starts := rule.Between(from.Add(-duration), to, true)
		if len(starts) > maxOccurrencesPerEvent {
			starts = starts[:maxOccurrencesPerEvent]
		}
		for _, start := range starts {
			end := start.Add(duration)
			if start.Before(to) && end.After(from) {
				out = append(out, Occurrence{Event: ev, Start: start, End: end})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Event.UID < out[j].Event.UID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func eventDuration(ev *store.Event) time.Duration {
	if ev.End != nil && ev.End.After(ev.Start) {
		return ev.End.Sub(ev.Start)
	}
	if ev.AllDay {
		return 24 * time.Hour
	}
	return time.Hour
}
