// Package quickadd turns a short free-text line such as
// "Dentist tomorrow 14:30 at Main St 5 !30" into an event draft.
// Parsing is deterministic: the same input and reference time always
// produce the same draft.
package quickadd

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Draft is the structured result of parsing one capture line. Start is
// always set; End is set only when an explicit end time was given.
type Draft struct {
	Summary         string
	Location        string
	Start           time.Time
	End             *time.Time
	AllDay          bool
	ReminderMinutes int
	HasReminder     bool
}

const defaultDuration = time.Hour

var (
	timeRangePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?:-(\d{1,2}):(\d{2}))?$`)
	numericPattern   = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})(?:\.(\d{4})|\.)?$`)
	isoPattern       = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reminderPattern  = regexp.MustCompile(`^!(\d{1,5})$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse interprets text relative to now. Unrecognized words become the
// summary; a line with no date words falls back to today (or tomorrow when
// the given time of day has already passed).
func Parse(text string, now time.Time) Draft {
	draft := Draft{AllDay: true}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dateGiven := false
	var startHour, startMin int
	var endHour, endMin int
	timeGiven := false
	endGiven := false

	var summary []string
	var location []string
	inLocation := false

	for _, token := range strings.Fields(text) {
		lower := strings.ToLower(token)

		if m := reminderPattern.FindStringSubmatch(token); m != nil {
			draft.ReminderMinutes, _ = strconv.Atoi(m[1])
			draft.HasReminder = true
			inLocation = false
			continue
		}

		if m := timeRangePattern.FindStringSubmatch(token); m != nil {
			h, _ := strconv.Atoi(m[1])
			min, _ := strconv.Atoi(m[2])
			if h < 24 && min < 60 {
				startHour, startMin = h, min
				timeGiven = true
				if m[3] != "" {
					eh, _ := strconv.Atoi(m[3])
					em, _ := strconv.Atoi(m[4])
					if eh < 24 && em < 60 {
						endHour, endMin = eh, em
						endGiven = true
					}
				}
				inLocation = false
				continue
			}
		}

		if d, ok := parseDateToken(lower, now); ok {
			day = d
			dateGiven = true
			inLocation = false
			continue
		}

		if lower == "at" && !inLocation {
			inLocation = true
			continue
		}

		if inLocation {
			location = append(location, token)
		} else {
			summary = append(summary, token)
		}
	}

	draft.Summary = strings.Join(summary, " ")
	draft.Location = strings.Join(location, " ")

	if !timeGiven {
		draft.Start = day
		return draft
	}

	draft.AllDay = false
	draft.Start = day.Add(time.Duration(startHour)*time.Hour + time.Duration(startMin)*time.Minute)
	if !dateGiven && draft.Start.Before(now) {
		draft.Start = draft.Start.AddDate(0, 0, 1)
	}
	end := draft.Start.Add(defaultDuration)
	if endGiven {
		end = time.Date(draft.Start.Year(), draft.Start.Month(), draft.Start.Day(),
			endHour, endMin, 0, 0, draft.Start.Location())
		if !end.After(draft.Start) {
			end = end.AddDate(0, 0, 1)
		}
	}
	draft.End = &end
	return draft
}

// parseDateToken recognizes today/tomorrow, weekday names, day.month
// forms and ISO dates. Dates without a year resolve to the next upcoming
// occurrence.
func parseDateToken(token string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch token {
	case "today":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	}

	if wd, ok := weekdays[token]; ok {
		days := int(wd-today.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days), true
	}

	if m := numericPattern.FindStringSubmatch(token); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if d < 1 || d > 31 || mo < 1 || mo > 12 {
			return time.Time{}, false
		}
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		date := time.Date(year, time.Month(mo), d, 0, 0, 0, 0, now.Location())
		if date.Day() != d {
			return time.Time{}, false
		}
		if m[3] == "" && date.Before(today) {
			date = date.AddDate(1, 0, 0)
		}
		return date, true
	}

	if m := isoPattern.FindStringSubmatch(token); m != nil {
		year, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo < 1 || mo > 12 || d < 1 || d > 31 {
			return time.Time{}, false
		}
		date := time.Date(year, time.Month(mo), d, 0, 0, 0, 0, now.Location())
		if date.Day() != d {
			return time.Time{}, false
		}
		return date, true
	}

	return time.Time{}, false
}
