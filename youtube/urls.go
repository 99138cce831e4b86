package youtube

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// videoIDRegex matches the path or query forms that carry a video id.
	videoIDRegex    = regexp.MustCompile(`(?:youtu\.be/|/v/|/u/\w/|/embed/|/live/|/shorts/|[?&]v=)([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`)
	bareVideoID     = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	channelIDRegex  = regexp.MustCompile(`UC[A-Za-z0-9_-]{22}`)
	playlistIDRegex = regexp.MustCompile(`[?&]list=([A-Za-z0-9_-]+)`)

	channelPatterns = []struct {
		re   *regexp.Regexp
		kind ChannelRefKind
	}{
		{regexp.MustCompile(`youtube\.com/channel/([A-Za-z0-9_-]+)`), ChannelByID},
		{regexp.MustCompile(`youtube\.com/@([A-Za-z0-9_.-]+)`), ChannelByName},
		{regexp.MustCompile(`youtube\.com/c/([A-Za-z0-9_-]+)`), ChannelByName},
		{regexp.MustCompile(`youtube\.com/user/([A-Za-z0-9_-]+)`), ChannelByName},
	}
)

// ExtractVideoID returns the 11-character video id carried by a YouTube URL
// (watch?v=, &v=, youtu.be/, /live/, /embed/, /v/, /shorts/), or "" when the
// URL has none. A bare 11-character id is accepted as-is.
func ExtractVideoID(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	if bareVideoID.MatchString(url) {
		return url
	}
	if m := videoIDRegex.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// WatchURL is the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ChannelRefKind says how a channel reference must be resolved.
type ChannelRefKind int

const (
	// ChannelByID is a UC... id usable directly.
	ChannelByID ChannelRefKind = iota
	// ChannelByName is a handle, custom URL or legacy username that needs a search.
	ChannelByName
)

// ChannelRef is a channel reference parsed from a URL.
type ChannelRef struct {
	Value string
	Kind  ChannelRefKind
}

// ExtractChannel parses /channel/, /@handle, /c/ and /user/ URLs.
func ExtractChannel(url string) (ChannelRef, error) {
	for _, p := range channelPatterns {
		if m := p.re.FindStringSubmatch(url); m != nil {
			return ChannelRef{Value: m[1], Kind: p.kind}, nil
		}
	}
	if strings.HasPrefix(url, "@") && len(url) > 1 {
		return ChannelRef{Value: url[1:], Kind: ChannelByName}, nil
	}
	if id := channelIDRegex.FindString(url); id != "" && id == url {
		return ChannelRef{Value: id, Kind: ChannelByID}, nil
	}
	return ChannelRef{}, fmt.Errorf("%w: no channel in %q", ErrInvalidURL, url)
}

// ExtractPlaylistID returns the list= parameter of a playlist URL, or "".
func ExtractPlaylistID(url string) string {
	if m := playlistIDRegex.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}
