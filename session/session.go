// Package session holds the state of one viewing session: the loaded event,
// its matches, the livestream slots and their start times. It ties the
// competition client, the start-time resolver, the selection cache and the
// player together.
//
// All state lives in a serializable State value; Snapshot and Restore move it
// in and out as JSON.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"matchjumper/history"
	"matchjumper/player"
	"matchjumper/robotevents"
	"matchjumper/timeline"
	"matchjumper/youtube"
)

var (
	ErrNoEvent          = errors.New("session: no event loaded")
	ErrNoSlot           = errors.New("session: no such stream slot")
	ErrMatchNotFound    = errors.New("session: match not found")
	ErrStartUnavailable = errors.New("session: stream start time unavailable")
)

// GrayedError is returned by Watch for a match that cannot be watched.
type GrayedError struct {
	MatchID int
	Reason  string
}

func (e *GrayedError) Error() string {
	return fmt.Sprintf("match %d unavailable: %s", e.MatchID, e.Reason)
}

// EventSource is the competition data the session reads.
type EventSource interface {
	EventBySKU(ctx context.Context, sku string) (*robotevents.Event, error)
	TeamByNumber(ctx context.Context, number string) (*robotevents.Team, error)
	MatchesForEvent(ctx context.Context, ev *robotevents.Event) ([]timeline.Match, error)
	MatchesForEventAndTeam(ctx context.Context, eventID, teamID int) ([]timeline.Match, error)
}

// StartResolver looks up when a livestream started.
type StartResolver interface {
	StreamStart(ctx context.Context, videoID string) (int64, bool)
}

// Jumper plays a video from an offset.
type Jumper interface {
	Jump(ctx context.Context, videoID string, target float64) *player.SeekTask
}

// SyncMode selects whether new streams are timed automatically.
type SyncMode string

const (
	SyncAuto   SyncMode = "auto"
	SyncManual SyncMode = "manual"
)

// Team is the team a session is filtered to.
type Team struct {
	ID     int    `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// State is everything a session knows. It round-trips through JSON.
type State struct {
	ID       string            `json:"id"`
	SKU      string            `json:"sku,omitempty"`
	Event    *timeline.Event   `json:"event,omitempty"`
	Team     *Team             `json:"team,omitempty"`
	Matches  []timeline.Match  `json:"matches,omitempty"`
	Streams  []timeline.Stream `json:"streams,omitempty"`
	Policy   string            `json:"policy"`
	SyncMode SyncMode          `json:"syncMode"`
	// SelectedMatch is the id of the match last watched, or 0.
	SelectedMatch int `json:"selectedMatch,omitempty"`
	// ActiveStream is the slot playing, or timeline.Unassigned.
	ActiveStream int `json:"activeStream"`
}

// Options wires a Session.
type Options struct {
	Events  EventSource
	Starts  StartResolver
	History *history.Cache
	// Player is optional; without it Watch only plans the seek.
	Player Jumper
	Assign timeline.AssignOptions
	Log    logrus.FieldLogger
}

// Session is safe for concurrent use. Mutations are serialized.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	mu sync.Mutex
	st State
}

// New returns an empty session.
func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Session{opts: opts}
	s.st = State{
		ID:           uuid.NewString(),
		Policy:       opts.Assign.Policy.String(),
		SyncMode:     SyncAuto,
		ActiveStream: timeline.Unassigned,
	}
	s.log = log.WithFields(logrus.Fields{"component": "session", "session": s.st.ID})
	return s
}

// LoadEvent fetches the event and its matches, sizes the stream slots to the
// event's day count, and restores streams and starts cached for the event.
// sku may be a bare SKU or any text containing one.
func (s *Session) LoadEvent(ctx context.Context, sku string) (*timeline.Event, error) {
	if found := robotevents.ExtractSKU(sku); found != "" {
		sku = found
	}
	sku = strings.ToUpper(strings.TrimSpace(sku))

	ev, err := s.opts.Events.EventBySKU(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", sku, err)
	}
	matches, err := s.opts.Events.MatchesForEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("load matches for %s: %w", sku, err)
	}

	tev := ev.Timeline()
	streams := make([]timeline.Stream, tev.Days())
	for i := range streams {
		streams[i].Index = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.SKU = sku
	s.st.Event = &tev
	s.st.Team = nil
	s.st.Matches = matches
	s.st.Streams = streams
	s.st.SelectedMatch = 0
	s.st.ActiveStream = timeline.Unassigned
	s.restoreStreams(ctx)

	s.log.WithFields(logrus.Fields{"sku": sku, "matches": len(matches), "days": len(streams)}).Info("event loaded")
	return &tev, nil
}

// restoreStreams fills slots from the selection cache. mu must be held.
func (s *Session) restoreStreams(ctx context.Context) {
	if s.opts.History == nil {
		return
	}
	eventID := s.st.Event.ID
	for idx, saved := range s.opts.History.Starts(ctx, eventID) {
		if idx >= len(s.st.Streams) {
			continue
		}
		st := &s.st.Streams[idx]
		st.VideoID = saved.VideoID
		st.URL = youtube.WatchURL(saved.VideoID)
		st.SetStart(saved.Epoch, saved.Source)
	}

	sel := s.opts.History.Current(ctx, eventID)
	if sel == nil || len(s.st.Streams) == 0 || s.st.Streams[0].VideoID != "" {
		return
	}
	first := &s.st.Streams[0]
	first.VideoID = sel.VideoID
	first.URL = sel.URL
	if first.URL == "" {
		first.URL = youtube.WatchURL(sel.VideoID)
	}
	if s.st.SyncMode == SyncAuto {
		s.resolve(ctx, 0)
	}
}

// LoadTeamMatches narrows the session to one team's matches.
func (s *Session) LoadTeamMatches(ctx context.Context, number string) (*Team, error) {
	s.mu.Lock()
	ev := s.st.Event
	s.mu.Unlock()
	if ev == nil {
		return nil, ErrNoEvent
	}

	team, err := s.opts.Events.TeamByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, fmt.Errorf("team %s: %w", number, err)
	}
	matches, err := s.opts.Events.MatchesForEventAndTeam(ctx, ev.ID, team.ID)
	if err != nil {
		return nil, fmt.Errorf("matches for team %s: %w", team.Number, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Event == nil || s.st.Event.ID != ev.ID {
		return nil, fmt.Errorf("event changed while loading team %s", team.Number)
	}
	t := &Team{ID: team.ID, Number: team.Number, Name: team.TeamName}
	s.st.Team = t
	s.st.Matches = matches
	s.st.SelectedMatch = 0
	return t, nil
}

// SetStream puts a video in slot idx. A start previously saved for the same
// video is restored; otherwise in auto mode the start is resolved from the
// platform. The choice is recorded in the selection cache.
func (s *Session) SetStream(ctx context.Context, idx int, url, method string) (timeline.Stream, error) {
	videoID := youtube.ExtractVideoID(url)
	if videoID == "" {
		return timeline.Stream{}, fmt.Errorf("%w: %q", youtube.ErrInvalidURL, url)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSlot(idx); err != nil {
		return timeline.Stream{}, err
	}
	st := &s.st.Streams[idx]
	*st = timeline.Stream{Index: idx, URL: strings.TrimSpace(url), VideoID: videoID}

	restored := false
	if s.opts.History != nil {
		if saved, ok := s.opts.History.StreamStart(ctx, s.st.Event.ID, idx, videoID); ok {
			st.SetStart(saved.Epoch, saved.Source)
			restored = true
		}
		if method == "" {
			method = history.MethodUserSelected
		}
		s.opts.History.RecordSelection(ctx, s.st.Event.ID, videoID, st.URL, method)
	}
	if !restored && s.st.SyncMode == SyncAuto {
		s.resolve(ctx, idx)
	}
	return *st, nil
}

// Resync discards the slot's start, manual or not, and resolves it again.
func (s *Session) Resync(ctx context.Context, idx int) (timeline.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSlot(idx); err != nil {
		return timeline.Stream{}, err
	}
	st := &s.st.Streams[idx]
	if st.VideoID == "" {
		return *st, fmt.Errorf("%w: slot %d has no video", ErrStartUnavailable, idx)
	}
	st.ClearStart()
	if !s.resolve(ctx, idx) {
		return *st, ErrStartUnavailable
	}
	return *st, nil
}

// resolve fetches the platform start of slot idx. mu must be held.
func (s *Session) resolve(ctx context.Context, idx int) bool {
	if s.opts.Starts == nil {
		return false
	}
	st := &s.st.Streams[idx]
	ms, ok := s.opts.Starts.StreamStart(ctx, st.VideoID)
	if !ok {
		s.log.WithFields(logrus.Fields{"slot": idx, "video": st.VideoID}).Warn("stream start unknown; calibrate manually")
		return false
	}
	st.SetStart(ms, timeline.SourceAuto)
	s.persistStart(ctx, idx)
	return true
}

// Calibrate sets slot idx's start so that the match begins at playbackSec
// into the video.
func (s *Session) Calibrate(ctx context.Context, idx, matchID int, playbackSec float64) (timeline.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSlot(idx); err != nil {
		return timeline.Stream{}, err
	}
	m, ok := s.match(matchID)
	if !ok {
		return timeline.Stream{}, fmt.Errorf("%w: %d", ErrMatchNotFound, matchID)
	}
	t, ok := m.Time()
	if !ok {
		return timeline.Stream{}, timeline.ErrNoMatchTime
	}

	st := &s.st.Streams[idx]
	st.SetStart(timeline.Calibrate(timeline.Millis(t), playbackSec), timeline.SourceManual)
	s.persistStart(ctx, idx)
	s.note(ctx, history.ActionCalibrated, idx, map[string]string{
		"match":    m.Name,
		"position": strconv.FormatFloat(playbackSec, 'f', -1, 64),
	})
	return *st, nil
}

// Adjust shifts slot idx's start by deltaSec seconds. The result is manual.
func (s *Session) Adjust(ctx context.Context, idx int, deltaSec float64) (timeline.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSlot(idx); err != nil {
		return timeline.Stream{}, err
	}
	st := &s.st.Streams[idx]
	if !st.Synced() {
		return *st, timeline.ErrUnsynced
	}
	st.SetStart(timeline.Adjust(*st.StartEpoch, deltaSec), timeline.SourceManual)
	s.persistStart(ctx, idx)
	s.note(ctx, history.ActionAdjusted, idx, map[string]string{
		"by": strconv.FormatFloat(deltaSec, 'f', -1, 64),
	})
	return *st, nil
}

// note adds a history entry for slot idx carrying its video and new start.
func (s *Session) note(ctx context.Context, action string, idx int, meta map[string]string) {
	st := s.st.Streams[idx]
	if s.opts.History == nil || st.StartEpoch == nil {
		return
	}
	meta["slot"] = strconv.Itoa(idx)
	meta["video"] = st.VideoID
	meta["start"] = strconv.FormatInt(*st.StartEpoch, 10)
	s.opts.History.AddEntry(ctx, s.st.Event.ID, action, meta)
}

func (s *Session) persistStart(ctx context.Context, idx int) {
	st := s.st.Streams[idx]
	if s.opts.History == nil || st.StartEpoch == nil || st.VideoID == "" {
		return
	}
	s.opts.History.SaveStreamStart(ctx, s.st.Event.ID, idx, st.VideoID, *st.StartEpoch, st.Source)
}

// SetPolicy changes the assignment policy.
func (s *Session) SetPolicy(p timeline.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Policy = p.String()
}

// SetSyncMode changes how new streams are timed.
func (s *Session) SetSyncMode(m SyncMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.SyncMode = m
}

// Matches returns the session's matches annotated with day, stream and gray
// status.
func (s *Session) Matches() []timeline.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned()
}

func (s *Session) assigned() []timeline.Match {
	if s.st.Event == nil {
		return nil
	}
	opts := s.opts.Assign
	if p, err := timeline.ParsePolicy(s.st.Policy); err == nil {
		opts.Policy = p
	}
	return timeline.Assign(s.st.Matches, s.st.Streams, s.st.Event.Start, opts)
}

// DayGroups returns the annotated matches bucketed into labelled event days.
func (s *Session) DayGroups() []timeline.DayGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.Event == nil {
		return nil
	}
	labels := timeline.DayLabels(s.st.Event.Start, len(s.st.Streams), s.opts.Assign.Location)
	return timeline.GroupByDay(s.assigned(), labels)
}

// Watch is the result of a Watch call.
type Watch struct {
	Match  timeline.Match
	Stream timeline.Stream
	// Offset is the planned playback position in seconds.
	Offset float64
	// Task is the running seek, nil without a player.
	Task *player.SeekTask
}

// Watch plans the seek for a match and, with a player attached, starts it.
// A grayed match yields *GrayedError; a match that predates its stream yields
// timeline.ErrMatchBeforeStream and nothing is played.
func (s *Session) Watch(ctx context.Context, matchID int) (Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st.Event == nil {
		return Watch{}, ErrNoEvent
	}
	var m *timeline.Match
	annotated := s.assigned()
	for i := range annotated {
		if annotated[i].ID == matchID {
			m = &annotated[i]
			break
		}
	}
	if m == nil {
		return Watch{}, fmt.Errorf("%w: %d", ErrMatchNotFound, matchID)
	}
	if m.GrayedOut {
		return Watch{Match: *m}, &GrayedError{MatchID: m.ID, Reason: m.GrayReason}
	}

	stream := s.st.Streams[m.AssignedStreamIndex]
	offset, err := timeline.PlanSeek(stream, *m)
	if err != nil {
		return Watch{Match: *m, Stream: stream}, err
	}

	w := Watch{Match: *m, Stream: stream, Offset: offset}
	s.st.SelectedMatch = m.ID
	s.st.ActiveStream = stream.Index
	if s.opts.Player != nil {
		w.Task = s.opts.Player.Jump(ctx, stream.VideoID, offset)
	}
	s.log.WithFields(logrus.Fields{
		"match":  m.Name,
		"slot":   stream.Index,
		"offset": time.Duration(offset * float64(time.Second)).Round(time.Second).String(),
	}).Info("watching match")
	return w, nil
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	st.Matches = append([]timeline.Match(nil), s.st.Matches...)
	st.Streams = append([]timeline.Stream(nil), s.st.Streams...)
	return st
}

// Snapshot serializes the session state.
func (s *Session) Snapshot() ([]byte, error) {
	return json.Marshal(s.State())
}

// Restore replaces the session state with a snapshot.
func (s *Session) Restore(blob []byte) error {
	var st State
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.SyncMode == "" {
		st.SyncMode = SyncAuto
	}
	for i := range st.Streams {
		st.Streams[i].Index = i
	}
	if st.ActiveStream >= len(st.Streams) {
		st.ActiveStream = timeline.Unassigned
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
	return nil
}

func (s *Session) checkSlot(idx int) error {
	if s.st.Event == nil {
		return ErrNoEvent
	}
	if idx < 0 || idx >= len(s.st.Streams) {
		return fmt.Errorf("%w: %d of %d", ErrNoSlot, idx, len(s.st.Streams))
	}
	return nil
}

func (s *Session) match(id int) (timeline.Match, bool) {
	for _, m := range s.st.Matches {
		if m.ID == id {
			return m, true
		}
	}
	return timeline.Match{}, false
}
