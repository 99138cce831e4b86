package timeline

import (
	"fmt"
	"strings"
	"time"
)

const calendarLayout = "2006-01-02"

// calendarDate extracts the YYYY-MM-DD part of a date or timestamp string.
// The time-of-day and any offset are discarded on purpose: "2024-11-21T23:00:00-08:00"
// is Nov 21, whatever zone the caller is in.
func calendarDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	datePart, _, _ := strings.Cut(s, "T")
	datePart, _, _ = strings.Cut(datePart, " ")
	d, err := time.Parse(calendarLayout, datePart)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// ParseCalendarDate returns midnight in loc of the calendar date named by s.
// Empty or malformed input yields midnight of the current day in loc.
func ParseCalendarDate(s string, loc *time.Location) time.Time {
	loc = locOrLocal(loc)
	d, ok := calendarDate(s)
	if !ok {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// CalendarDateString formats t's date in its own location as YYYY-MM-DD.
func CalendarDateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(calendarLayout)
}

// daysBetween counts whole calendar days from a to b using only their
// year/month/day fields, so DST transitions cannot skew the result.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// EventDayCount returns the inclusive number of calendar days between start and
// end. A single-day event is 1. A missing or malformed date yields 1.
func EventDayCount(start, end string) int {
	s, ok := calendarDate(start)
	if !ok {
		return 1
	}
	e, ok := calendarDate(end)
	if !ok {
		return 1
	}
	n := daysBetween(s, e)
	if n < 0 {
		n = -n
	}
	return n + 1
}

// DayDate returns midnight in loc of day n (0-based) of an event starting on start.
func DayDate(start string, n int, loc *time.Location) time.Time {
	return ParseCalendarDate(start, loc).AddDate(0, 0, n)
}

// DayLabel returns a label like "Day 2 (Nov 22)" for day n (0-based).
func DayLabel(start string, n int, loc *time.Location) string {
	if _, ok := calendarDate(start); !ok {
		return fmt.Sprintf("Day %d", n+1)
	}
	return fmt.Sprintf("Day %d (%s)", n+1, DayDate(start, n, loc).Format("Jan 2"))
}

// DayLabels returns one label per event day. Without a start date there is a
// single "Day 1".
func DayLabels(start string, days int, loc *time.Location) []string {
	if _, ok := calendarDate(start); !ok || days < 1 {
		return []string{"Day 1"}
	}
	labels := make([]string, days)
	for i := range labels {
		labels[i] = DayLabel(start, i, loc)
	}
	return labels
}

// MatchDayIndex returns the 0-based day of the event on which a match started.
// The match instant is converted to loc and only its calendar date is compared
// with the event's first calendar date. The result is never negative; missing
// inputs map to day 0.
func MatchDayIndex(started time.Time, eventStart string, loc *time.Location) int {
	if started.IsZero() {
		return 0
	}
	ev, ok := calendarDate(eventStart)
	if !ok {
		return 0
	}
	local := started.In(locOrLocal(loc))
	idx := daysBetween(ev, local)
	if idx < 0 {
		return 0
	}
	return idx
}
