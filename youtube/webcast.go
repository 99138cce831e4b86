package youtube

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// LinkType is the shape of a webcast link.
type LinkType string

const (
	LinkDirectVideo LinkType = "direct-video"
	LinkChannel     LinkType = "channel"
	LinkPlaylist    LinkType = "playlist"
	LinkOther       LinkType = "other"
)

// Platform is the host family of a webcast link.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTwitch  Platform = "twitch"
	PlatformOther   Platform = "other"
	PlatformUnknown Platform = "unknown"
)

// CandidateSource says where a webcast link was found, in priority order.
type CandidateSource int

const (
	SourceWebcastField CandidateSource = iota + 1
	SourceWebcastSection
	SourceDescription
)

func (s CandidateSource) String() string {
	switch s {
	case SourceWebcastField:
		return "api-webcast-field"
	case SourceWebcastSection:
		return "description-webcast-section"
	case SourceDescription:
		return "description-general"
	default:
		return "unknown"
	}
}

// Classification is the result of ClassifyURL.
type Classification struct {
	Type     LinkType
	Platform Platform
	VideoID  string
}

// Candidate is a possible webcast link for an event.
type Candidate struct {
	URL            string
	Source         CandidateSource
	Classification Classification
}

var (
	urlRegex            = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
	webcastSectionRegex = regexp.MustCompile(`(?i)webcast[:\s]*([^\n]*)`)
	trailingPunct       = ".,;:!?)'"
)

// ExtractURLs returns the distinct http(s) URLs in text, in order of appearance.
func ExtractURLs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range urlRegex.FindAllString(text, -1) {
		m = strings.TrimRight(m, trailingPunct)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ClassifyURL decides what kind of link raw is. Non-YouTube platforms are only
// classified, never fetched.
func ClassifyURL(raw string) Classification {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Classification{Type: LinkOther, Platform: PlatformUnknown}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	path := u.Path

	switch {
	case host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		if id := ExtractVideoID(raw); id != "" {
			return Classification{Type: LinkDirectVideo, Platform: PlatformYouTube, VideoID: id}
		}
		if u.Query().Get("list") != "" || strings.HasPrefix(path, "/playlist") {
			return Classification{Type: LinkPlaylist, Platform: PlatformYouTube}
		}
		if strings.HasPrefix(path, "/channel/") || strings.HasPrefix(path, "/@") ||
			strings.HasPrefix(path, "/c/") || strings.HasPrefix(path, "/user/") {
			return Classification{Type: LinkChannel, Platform: PlatformYouTube}
		}
		return Classification{Type: LinkOther, Platform: PlatformYouTube}

	case host == "twitch.tv" || strings.HasSuffix(host, ".twitch.tv"):
		if strings.Contains(path, "/videos/") {
			return Classification{Type: LinkDirectVideo, Platform: PlatformTwitch}
		}
		return Classification{Type: LinkChannel, Platform: PlatformTwitch}

	case host == "vimeo.com" || strings.HasSuffix(host, ".vimeo.com"),
		host == "dailymotion.com" || strings.HasSuffix(host, ".dailymotion.com"):
		return Classification{Type: LinkDirectVideo, Platform: PlatformOther}
	}

	return Classification{Type: LinkOther, Platform: PlatformUnknown}
}

// IsProbablyLivestream reports whether a classified link could carry the
// event's stream.
func IsProbablyLivestream(c Classification) bool {
	return c.Type == LinkDirectVideo || c.Type == LinkChannel
}

// FindWebcastCandidates gathers webcast links from the event's webcast field
// and description. Results are ordered by source priority and unique by URL.
func FindWebcastCandidates(webcastField, description string) []Candidate {
	var all []Candidate
	add := func(urls []string, src CandidateSource) {
		for _, u := range urls {
			all = append(all, Candidate{URL: u, Source: src, Classification: ClassifyURL(u)})
		}
	}

	add(ExtractURLs(webcastField), SourceWebcastField)

	for _, m := range webcastSectionRegex.FindAllStringSubmatch(description, -1) {
		add(ExtractURLs(m[1]), SourceWebcastSection)
	}

	var general []string
	for _, u := range ExtractURLs(description) {
		lower := strings.ToLower(u)
		if strings.Contains(lower, "robotevents.com") || strings.Contains(lower, "vexrobotics.com") {
			continue
		}
		general = append(general, u)
	}
	add(general, SourceDescription)

	sort.SliceStable(all, func(i, j int) bool { return all[i].Source < all[j].Source })

	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, c := range all {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}
