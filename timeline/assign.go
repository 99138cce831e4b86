package timeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Policy selects how matches are assigned to streams.
type Policy int

const (
	// PolicyNearestPreceding assigns each match to the most recently started
	// stream that began before it, ignoring calendar days. This handles streams
	// that run past midnight or do not line up 1:1 with event days.
	PolicyNearestPreceding Policy = iota
	// PolicyStrictDay requires the stream in the slot matching the match's day
	// index to be present and synced.
	PolicyStrictDay
)

// String returns the config name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyStrictDay:
		return "strict"
	default:
		return "nearest"
	}
}

// ParsePolicy maps a config name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest", "nearest-preceding":
		return PolicyNearestPreceding, nil
	case "strict", "strict-day", "day":
		return PolicyStrictDay, nil
	default:
		return PolicyNearestPreceding, fmt.Errorf("unknown assignment policy %q", s)
	}
}

// Gray reasons.
const (
	ReasonNotPlayed     = "Match hasn't been played yet"
	ReasonNoStreams     = "No livestreams loaded. Add a stream URL above."
	ReasonBeforeStreams = "This match occurred before any of the loaded streams started."
)

// StreamStart pairs a stream index with its start epoch in milliseconds.
type StreamStart struct {
	Index   int
	StartMs int64
}

// StreamStarts collects the synced streams of a list.
func StreamStarts(streams []Stream) []StreamStart {
	var out []StreamStart
	for _, s := range streams {
		if s.StartEpoch == nil {
			continue
		}
		out = append(out, StreamStart{Index: s.Index, StartMs: *s.StartEpoch})
	}
	return out
}

// BestStream picks the stream for a match at matchMs: among streams that started
// strictly before the match, the one that started last. When two streams share a
// start epoch the lower index wins. ok is false when no stream qualifies.
func BestStream(matchMs int64, starts []StreamStart) (index int, ok bool) {
	index = Unassigned
	var best int64
	for _, s := range starts {
		if s.StartMs >= matchMs {
			continue
		}
		switch {
		case !ok, s.StartMs > best:
			index, best, ok = s.Index, s.StartMs, true
		case s.StartMs == best && s.Index < index:
			index = s.Index
		}
	}
	return index, ok
}

// AssignOptions configures Assign.
type AssignOptions struct {
	Policy Policy
	// Location is the viewer's time zone for day bucketing. Nil means time.Local.
	Location *time.Location
}

// Assign annotates each match with its day index, assigned stream and gray
// status. The input slice is not modified; matches are handled independently.
func Assign(matches []Match, streams []Stream, eventStart string, opts AssignOptions) []Match {
	out := make([]Match, len(matches))
	starts := StreamStarts(streams)
	for i, m := range matches {
		m.DayIndex = 0
		if m.Started != nil {
			m.DayIndex = MatchDayIndex(*m.Started, eventStart, opts.Location)
		}
		m.AssignedStreamIndex = Unassigned
		m.GrayedOut = false
		m.GrayReason = ""

		switch {
		case m.Started == nil:
			m.GrayedOut = true
			m.GrayReason = ReasonNotPlayed
		case opts.Policy == PolicyStrictDay:
			assignStrict(&m, streams, eventStart, opts.Location)
		default:
			assignNearest(&m, starts)
		}
		out[i] = m
	}
	return out
}

func assignNearest(m *Match, starts []StreamStart) {
	idx, ok := BestStream(Millis(*m.Started), starts)
	if ok {
		m.AssignedStreamIndex = idx
		return
	}
	m.GrayedOut = true
	if len(starts) == 0 {
		m.GrayReason = ReasonNoStreams
	} else {
		m.GrayReason = ReasonBeforeStreams
	}
}

func assignStrict(m *Match, streams []Stream, eventStart string, loc *time.Location) {
	label := DayLabel(eventStart, m.DayIndex, loc)

	var stream *Stream
	for i := range streams {
		if streams[i].Index == m.DayIndex {
			stream = &streams[i]
			break
		}
	}
	if stream == nil || stream.VideoID == "" {
		m.GrayedOut = true
		m.GrayReason = fmt.Sprintf("No livestream provided for %s. Add a stream URL above.", label)
		return
	}
	if stream.StartEpoch == nil {
		m.GrayedOut = true
		m.GrayReason = fmt.Sprintf("Livestream for %s hasn't been synced yet.", label)
		return
	}
	if Millis(*m.Started) < *stream.StartEpoch {
		startedAt := time.UnixMilli(*stream.StartEpoch).In(locOrLocal(loc))
		m.GrayedOut = true
		m.GrayReason = fmt.Sprintf("Stream started at %s. This match occurred before the stream began.",
			startedAt.Format("3:04 PM"))
		return
	}
	m.AssignedStreamIndex = stream.Index
}

// DayGroup is the set of matches bucketed into one event day.
type DayGroup struct {
	Label   string
	Matches []Match
}

// GroupByDay buckets annotated matches by DayIndex, one group per label.
// Matches whose day has no label are dropped.
func GroupByDay(matches []Match, labels []string) []DayGroup {
	groups := make([]DayGroup, len(labels))
	for i, l := range labels {
		groups[i].Label = l
	}
	for _, m := range matches {
		if m.DayIndex >= 0 && m.DayIndex < len(groups) {
			groups[m.DayIndex].Matches = append(groups[m.DayIndex].Matches, m)
		}
	}
	return groups
}

// SortMatches orders matches by started time, then scheduled time. Matches with
// neither go last, in natural name order ("Q2" before "Q10").
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		ti, oki := matches[i].Time()
		tj, okj := matches[j].Time()
		switch {
		case oki && okj:
			return ti.Before(tj)
		case oki != okj:
			return oki
		default:
			return naturalLess(matches[i].Name, matches[j].Name)
		}
	})
}

// naturalLess compares strings treating digit runs as numbers.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := rune(a[0]), rune(b[0])
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			na, ra := leadingDigits(a)
			nb, rb := leadingDigits(b)
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		la, lb := unicode.ToLower(ca), unicode.ToLower(cb)
		if la != lb {
			return la < lb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (uint64, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, _ := strconv.ParseUint(s[:i], 10, 64)
	return n, s[i:]
}
