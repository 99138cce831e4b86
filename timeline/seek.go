package timeline

import "math"

// SeekSeconds returns the playback offset of matchMs within a stream that
// started at startMs. It never returns a negative value.
func SeekSeconds(startMs, matchMs int64) float64 {
	d := float64(matchMs-startMs) / 1000
	if d < 0 {
		return 0
	}
	return d
}

// PlanSeek computes where to seek in stream to watch m. The match's started
// time is preferred over its scheduled time. A match that predates the stream
// yields ErrMatchBeforeStream with a zero offset; callers should warn rather
// than seek.
func PlanSeek(stream Stream, m Match) (float64, error) {
	if stream.StartEpoch == nil {
		return 0, ErrUnsynced
	}
	t, ok := m.Time()
	if !ok {
		return 0, ErrNoMatchTime
	}
	matchMs := Millis(t)
	if matchMs < *stream.StartEpoch {
		return 0, ErrMatchBeforeStream
	}
	return SeekSeconds(*stream.StartEpoch, matchMs), nil
}

// Calibrate derives a stream start epoch from a match whose real start is known
// and the playback offset (seconds) at which the user says that match begins.
func Calibrate(matchRealStartMs int64, playbackOffsetSec float64) int64 {
	return matchRealStartMs - int64(math.Round(playbackOffsetSec*1000))
}

// Adjust shifts a start epoch by deltaSec seconds. A positive delta moves the
// stream start later, so every match lands earlier in the video.
func Adjust(startMs int64, deltaSec float64) int64 {
	return startMs + int64(math.Round(deltaSec*1000))
}
