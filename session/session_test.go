package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"matchjumper/history"
	"matchjumper/player"
	"matchjumper/robotevents"
	"matchjumper/storage"
	"matchjumper/timeline"
	"matchjumper/youtube"
)

const (
	vidA = "aaaaaaaaaaa"
	vidB = "bbbbbbbbbbb"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

type fakeEvents struct {
	event   *robotevents.Event
	matches []timeline.Match
	team    *robotevents.Team
	teamMs  []timeline.Match
	skus    []string
}

func (f *fakeEvents) EventBySKU(ctx context.Context, sku string) (*robotevents.Event, error) {
	f.skus = append(f.skus, sku)
	if f.event == nil || f.event.SKU != sku {
		return nil, robotevents.ErrEventNotFound
	}
	return f.event, nil
}

func (f *fakeEvents) TeamByNumber(ctx context.Context, number string) (*robotevents.Team, error) {
	if f.team == nil || f.team.Number != number {
		return nil, robotevents.ErrTeamNotFound
	}
	return f.team, nil
}

func (f *fakeEvents) MatchesForEvent(ctx context.Context, ev *robotevents.Event) ([]timeline.Match, error) {
	return f.matches, nil
}

func (f *fakeEvents) MatchesForEventAndTeam(ctx context.Context, eventID, teamID int) ([]timeline.Match, error) {
	return f.teamMs, nil
}

type fakeStarts struct {
	mu     sync.Mutex
	starts map[string]int64
	calls  int
}

func (f *fakeStarts) StreamStart(ctx context.Context, videoID string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ms, ok := f.starts[videoID]
	return ms, ok
}

type fakeJumper struct {
	videoID string
	target  float64
	jumps   int
}

func (f *fakeJumper) Jump(ctx context.Context, videoID string, target float64) *player.SeekTask {
	f.videoID, f.target = videoID, target
	f.jumps++
	return nil
}

type fixture struct {
	events *fakeEvents
	starts *fakeStarts
	jumper *fakeJumper
	cache  *history.Cache
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		events: &fakeEvents{
			event: &robotevents.Event{ID: 51, SKU: "RE-VRC-23-1234", Name: "Worlds", Start: "2024-04-25T00:00:00-05:00", End: "2024-04-27T00:00:00-05:00"},
			matches: []timeline.Match{
				{ID: 1, Name: "Q1", Started: at("2024-04-25T09:00:00Z")},
				{ID: 2, Name: "Q2", Scheduled: at("2024-04-25T09:10:00Z")},
				{ID: 3, Name: "P1", Started: at("2024-04-25T07:00:00Z")},
				{ID: 4, Name: "Q40", Started: at("2024-04-26T10:00:00Z")},
			},
		},
		starts: &fakeStarts{starts: map[string]int64{
			vidA: timeline.Millis(*at("2024-04-25T08:00:00Z")),
			vidB: timeline.Millis(*at("2024-04-26T08:00:00Z")),
		}},
		jumper: &fakeJumper{},
		cache:  history.New(storage.Safe(storage.NewMemoryBackend(), log), log),
	}
	f.opts = Options{
		Events:  f.events,
		Starts:  f.starts,
		History: f.cache,
		Player:  f.jumper,
		Assign:  timeline.AssignOptions{Location: time.UTC},
		Log:     log,
	}
	return f
}

func (f *fixture) loaded(t *testing.T) *Session {
	t.Helper()
	s := New(f.opts)
	if _, err := s.LoadEvent(context.Background(), "https://www.robotevents.com/robot-competitions/vex-robotics-competition/RE-VRC-23-1234.html"); err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	return s
}

func TestLoadEventSizesSlots(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)

	st := s.State()
	if st.SKU != "RE-VRC-23-1234" || f.events.skus[0] != "RE-VRC-23-1234" {
		t.Errorf("sku = %q, requested %v", st.SKU, f.events.skus)
	}
	if len(st.Streams) != 3 {
		t.Fatalf("slots = %d, want 3", len(st.Streams))
	}
	for i, str := range st.Streams {
		if str.Index != i || str.VideoID != "" {
			t.Errorf("slot %d = %+v", i, str)
		}
	}
	if st.ID == "" || st.ActiveStream != timeline.Unassigned {
		t.Errorf("state = %+v", st)
	}
}

func TestLoadEventUnknown(t *testing.T) {
	f := newFixture(t)
	s := New(f.opts)
	if _, err := s.LoadEvent(context.Background(), "RE-VRC-23-9999"); !errors.Is(err, robotevents.ErrEventNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := s.SetStream(context.Background(), 0, youtube.WatchURL(vidA), ""); !errors.Is(err, ErrNoEvent) {
		t.Errorf("SetStream without event: %v", err)
	}
}

func TestSetStreamResolvesAndRecords(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()

	str, err := s.SetStream(ctx, 0, "https://youtu.be/"+vidA, history.MethodPasted)
	if err != nil {
		t.Fatalf("SetStream: %v", err)
	}
	if str.VideoID != vidA || !str.Synced() || str.Source != timeline.SourceAuto {
		t.Errorf("stream = %+v", str)
	}

	sel := f.cache.Current(ctx, 51)
	if sel == nil || sel.VideoID != vidA || sel.Method != history.MethodPasted {
		t.Errorf("selection = %+v", sel)
	}
	if saved, ok := f.cache.StreamStart(ctx, 51, 0, vidA); !ok || saved.Epoch != *str.StartEpoch {
		t.Errorf("saved start = %+v %v", saved, ok)
	}

	if _, err := s.SetStream(ctx, 0, "https://example.com/video", ""); !errors.Is(err, youtube.ErrInvalidURL) {
		t.Errorf("bad url err = %v", err)
	}
	if _, err := s.SetStream(ctx, 7, youtube.WatchURL(vidA), ""); !errors.Is(err, ErrNoSlot) {
		t.Errorf("bad slot err = %v", err)
	}
}

func TestSetStreamManualModeLeavesUnsynced(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	s.SetSyncMode(SyncManual)

	str, err := s.SetStream(context.Background(), 0, youtube.WatchURL(vidA), "")
	if err != nil {
		t.Fatalf("SetStream: %v", err)
	}
	if str.Synced() || f.starts.calls != 0 {
		t.Errorf("manual mode resolved: %+v, calls %d", str, f.starts.calls)
	}
}

func TestManualStartSurvivesReselection(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()

	s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")
	cal, err := s.Calibrate(ctx, 0, 1, 120)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	want := timeline.Millis(*at("2024-04-25T09:00:00Z")) - 120_000
	if *cal.StartEpoch != want || cal.Source != timeline.SourceManual {
		t.Fatalf("calibrated = %+v", cal)
	}
	entries := f.cache.History(ctx, 51)
	if last := entries[len(entries)-1]; last.Action != history.ActionCalibrated || last.Meta["match"] != "Q1" || last.Meta["position"] != "120" {
		t.Errorf("calibration entry = %+v", last)
	}

	calls := f.starts.calls
	again, _ := s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")
	if *again.StartEpoch != want || again.Source != timeline.SourceManual {
		t.Errorf("manual start replaced: %+v", again)
	}
	if f.starts.calls != calls {
		t.Error("resolver called for a stream with a saved start")
	}

	re, err := s.Resync(ctx, 0)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if re.Source != timeline.SourceAuto || *re.StartEpoch != f.starts.starts[vidA] {
		t.Errorf("resync = %+v", re)
	}
}

func TestLoadEventRestoresCachedStreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.loaded(t)
	first.SetStream(ctx, 0, youtube.WatchURL(vidA), "")
	first.SetStream(ctx, 1, youtube.WatchURL(vidB), "")
	first.Adjust(ctx, 1, 30)

	second := f.loaded(t)
	st := second.State()
	if st.Streams[0].VideoID != vidA || !st.Streams[0].Synced() {
		t.Errorf("slot 0 = %+v", st.Streams[0])
	}
	b := st.Streams[1]
	if b.VideoID != vidB || b.Source != timeline.SourceManual || *b.StartEpoch != f.starts.starts[vidB]+30_000 {
		t.Errorf("slot 1 = %+v", b)
	}
	if st.Streams[2].VideoID != "" {
		t.Errorf("slot 2 = %+v", st.Streams[2])
	}
}

func TestAdjust(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()

	if _, err := s.Adjust(ctx, 0, 5); !errors.Is(err, timeline.ErrUnsynced) {
		t.Errorf("adjust unsynced err = %v", err)
	}
	s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")
	got, err := s.Adjust(ctx, 0, -2.5)
	if err != nil {
		t.Fatal(err)
	}
	if *got.StartEpoch != f.starts.starts[vidA]-2500 || got.Source != timeline.SourceManual {
		t.Errorf("adjusted = %+v", got)
	}

	entries := f.cache.History(ctx, 51)
	last := entries[len(entries)-1]
	if last.Action != history.ActionAdjusted || last.Meta["by"] != "-2.5" || last.Meta["video"] != vidA ||
		last.Meta["start"] != strconv.FormatInt(*got.StartEpoch, 10) {
		t.Errorf("last entry = %+v", last)
	}
	if sel := f.cache.Current(ctx, 51); sel == nil || sel.VideoID != vidA {
		t.Errorf("adjust changed the selection: %+v", sel)
	}
}

func TestResyncFailure(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()

	if _, err := s.Resync(ctx, 0); !errors.Is(err, ErrStartUnavailable) {
		t.Errorf("empty slot err = %v", err)
	}
	s.SetStream(ctx, 2, youtube.WatchURL("ccccccccccc"), "")
	str, err := s.Resync(ctx, 2)
	if !errors.Is(err, ErrStartUnavailable) || str.Synced() {
		t.Errorf("unknown video: %+v %v", str, err)
	}
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()
	s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")

	w, err := s.Watch(ctx, 1)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if w.Offset != 3600 || w.Stream.VideoID != vidA {
		t.Errorf("watch = %+v", w)
	}
	if f.jumper.jumps != 1 || f.jumper.videoID != vidA || f.jumper.target != 3600 {
		t.Errorf("jumper = %+v", f.jumper)
	}
	if st := s.State(); st.SelectedMatch != 1 || st.ActiveStream != 0 {
		t.Errorf("state = %+v", st)
	}

	var gray *GrayedError
	if _, err := s.Watch(ctx, 2); !errors.As(err, &gray) || gray.Reason != timeline.ReasonNotPlayed {
		t.Errorf("unplayed err = %v", err)
	}
	if _, err := s.Watch(ctx, 3); !errors.As(err, &gray) || gray.Reason != timeline.ReasonBeforeStreams {
		t.Errorf("early match err = %v", err)
	}
	if _, err := s.Watch(ctx, 99); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("unknown match err = %v", err)
	}
	if f.jumper.jumps != 1 {
		t.Errorf("grayed matches must not play, jumps = %d", f.jumper.jumps)
	}
}

func TestWatchWithoutPlayerOnlyPlans(t *testing.T) {
	f := newFixture(t)
	f.opts.Player = nil
	s := f.loaded(t)
	ctx := context.Background()
	s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")

	w, err := s.Watch(ctx, 4)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if w.Task != nil || w.Offset != 26*3600 {
		t.Errorf("watch = %+v", w)
	}
}

func TestStrictPolicyUsesDaySlots(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()
	s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")
	s.SetPolicy(timeline.PolicyStrictDay)

	var q40 timeline.Match
	for _, m := range s.Matches() {
		if m.ID == 4 {
			q40 = m
		}
	}
	if !q40.GrayedOut || q40.DayIndex != 1 {
		t.Errorf("Q40 = %+v", q40)
	}
}

func TestDayGroups(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)

	groups := s.DayGroups()
	if len(groups) != 3 {
		t.Fatalf("groups = %d", len(groups))
	}
	if groups[0].Label != "Day 1 (Apr 25)" || groups[2].Label != "Day 3 (Apr 27)" {
		t.Errorf("labels = %q, %q", groups[0].Label, groups[2].Label)
	}
	if len(groups[0].Matches) != 3 || len(groups[1].Matches) != 1 {
		t.Errorf("day sizes = %d, %d", len(groups[0].Matches), len(groups[1].Matches))
	}
}

func TestLoadTeamMatches(t *testing.T) {
	f := newFixture(t)
	f.events.team = &robotevents.Team{ID: 77, Number: "1234A", TeamName: "Gears"}
	f.events.teamMs = f.events.matches[:1]
	s := f.loaded(t)

	team, err := s.LoadTeamMatches(context.Background(), " 1234A ")
	if err != nil {
		t.Fatalf("LoadTeamMatches: %v", err)
	}
	if team.ID != 77 || len(s.Matches()) != 1 {
		t.Errorf("team = %+v, matches = %d", team, len(s.Matches()))
	}
	if _, err := s.LoadTeamMatches(context.Background(), "9999Z"); !errors.Is(err, robotevents.ErrTeamNotFound) {
		t.Errorf("unknown team err = %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	s := f.loaded(t)
	ctx := context.Background()
	s.SetStream(ctx, 0, youtube.WatchURL(vidA), "")
	s.Watch(ctx, 1)

	blob, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	other := New(f.opts)
	if err := other.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, want := other.State(), s.State()
	if got.ID != want.ID || got.SKU != want.SKU || got.SelectedMatch != 1 || len(got.Streams) != 3 {
		t.Errorf("restored = %+v", got)
	}
	if *got.Streams[0].StartEpoch != *want.Streams[0].StartEpoch {
		t.Error("stream start lost")
	}
	if w, err := other.Watch(ctx, 1); err != nil || w.Offset != 3600 {
		t.Errorf("watch after restore: %+v %v", w, err)
	}

	if err := other.Restore([]byte("{")); err == nil {
		t.Error("truncated snapshot accepted")
	}
}
