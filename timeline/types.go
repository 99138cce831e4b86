// Package timeline correlates livestream start times with match timestamps.
//
// Everything in this package is a pure function of its inputs: matches, streams,
// epochs and a time zone. Callers own all state; nothing here performs I/O.
package timeline

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by seek planning.
var (
	// ErrUnsynced indicates the stream has no resolved start epoch.
	ErrUnsynced = errors.New("timeline: stream start time unknown")
	// ErrNoMatchTime indicates the match has neither a started nor a scheduled time.
	ErrNoMatchTime = errors.New("timeline: match has no timestamp")
	// ErrMatchBeforeStream indicates the match predates the stream start.
	// It is a soft error: surface a warning and do not seek.
	ErrMatchBeforeStream = errors.New("timeline: match happened before the stream started")
)

// Unassigned is the AssignedStreamIndex of a match with no stream.
const Unassigned = -1

// Match is a single competition match as seen by the assignment engine.
// DayIndex, AssignedStreamIndex, GrayedOut and GrayReason are derived by Assign
// and are never treated as input.
type Match struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Division  string     `json:"division,omitempty"`
	Scheduled *time.Time `json:"scheduled,omitempty"`
	Started   *time.Time `json:"started,omitempty"`
	// Alliances is upstream alliance/team data, passed through untouched.
	Alliances json.RawMessage `json:"alliances,omitempty"`

	DayIndex            int    `json:"dayIndex"`
	AssignedStreamIndex int    `json:"assignedStreamIndex"`
	GrayedOut           bool   `json:"grayedOut"`
	GrayReason          string `json:"grayReason,omitempty"`
}

// Time returns the best known real-world time of the match: started if set,
// otherwise scheduled.
func (m Match) Time() (time.Time, bool) {
	if m.Started != nil {
		return *m.Started, true
	}
	if m.Scheduled != nil {
		return *m.Scheduled, true
	}
	return time.Time{}, false
}

// StartSource records how a stream's start epoch was obtained.
type StartSource string

const (
	SourceNone   StartSource = ""
	SourceAuto   StartSource = "auto"
	SourceManual StartSource = "manual"
)

// Stream is one livestream slot. By convention there is one slot per event day,
// but nothing here enforces it.
type Stream struct {
	Index   int    `json:"index"`
	URL     string `json:"url"`
	VideoID string `json:"videoId,omitempty"`
	// StartEpoch is the real-world start of the stream in Unix milliseconds.
	// Nil until resolved or set manually.
	StartEpoch *int64      `json:"startEpoch,omitempty"`
	Source     StartSource `json:"source,omitempty"`
}

// Synced reports whether the stream has a start epoch.
func (s Stream) Synced() bool { return s.StartEpoch != nil }

// SetStart records a start epoch and where it came from.
func (s *Stream) SetStart(ms int64, src StartSource) {
	v := ms
	s.StartEpoch = &v
	s.Source = src
}

// ClearStart forgets the start epoch.
func (s *Stream) ClearStart() {
	s.StartEpoch = nil
	s.Source = SourceNone
}

// Event is a competition event. Dates are calendar dates; no time-of-day
// reliability is assumed.
type Event struct {
	ID        int        `json:"id"`
	SKU       string     `json:"sku"`
	Name      string     `json:"name"`
	Start     string     `json:"start,omitempty"`
	End       string     `json:"end,omitempty"`
	Divisions []Division `json:"divisions,omitempty"`
	Webcast   string     `json:"webcast,omitempty"`
	// Description may contain webcast links.
	Description string `json:"description,omitempty"`
}

// Division is an event division.
type Division struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Days returns the inclusive number of calendar days the event spans.
func (e Event) Days() int {
	return EventDayCount(e.Start, e.End)
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
