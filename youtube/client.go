// Package youtube resolves livestream metadata through the YouTube Data API v3:
// stream start times, channel broadcasts, playlist contents and video
// validation. It also classifies webcast links found in event descriptions.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	mjhttp "matchjumper/http"
	"matchjumper/internal/retry"
)

const (
	// dailyQuota is the default Data API allowance in units.
	dailyQuota  = 10000
	searchCost  = 100
	listCost    = 1
	channelHits = 10
)

// Options configures a Client.
type Options struct {
	// APIKey may be empty; lookups then degrade instead of failing hard.
	APIKey string
	// Endpoint overrides the Data API base URL (tests).
	Endpoint string
	HTTP     *mjhttp.Client
	Retry    *retry.Config
	Log      logrus.FieldLogger
}

// Client talks to the YouTube Data API v3.
type Client struct {
	service *youtube.Service
	hasKey  bool
	retry   retry.Config
	log     logrus.FieldLogger

	mu             sync.Mutex
	estimatedQuota int
	lastQuotaReset time.Time
	quotaExhausted bool
}

// New builds a Client. Requests go through the project HTTP transport so they
// share its rate limiter and circuit breaker.
func New(ctx context.Context, opts Options) (*Client, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	var base http.RoundTripper = http.DefaultTransport
	timeout := 20 * time.Second
	if opts.HTTP != nil {
		hc := opts.HTTP.HTTPClient()
		base = hc.Transport
		timeout = hc.Timeout
	}
	// option.WithAPIKey is ignored once WithHTTPClient is set.
	if opts.APIKey != "" {
		base = &transport.APIKey{Key: opts.APIKey, Transport: base}
	}

	clientOpts := []option.ClientOption{
		option.WithHTTPClient(&http.Client{Transport: base, Timeout: timeout}),
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	service, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	cfg := retry.DefaultConfig()
	if opts.Retry != nil {
		cfg = *opts.Retry
	}

	return &Client{
		service:        service,
		hasKey:         opts.APIKey != "",
		retry:          cfg,
		log:            log.WithField("component", "youtube"),
		estimatedQuota: dailyQuota,
		lastQuotaReset: time.Now(),
	}, nil
}

// HasKey reports whether an API key was configured.
func (c *Client) HasKey() bool { return c.hasKey }

// StreamStart returns the start of a broadcast in epoch milliseconds, taken
// from the actual start, else the scheduled start, else the publish time.
// Every failure is logged and reported as (0, false).
func (c *Client) StreamStart(ctx context.Context, videoID string) (int64, bool) {
	if videoID == "" || !c.hasKey {
		return 0, false
	}

	v, err := c.video(ctx, videoID, "liveStreamingDetails", "snippet")
	if err != nil {
		c.log.WithError(err).WithField("video_id", videoID).Warn("could not resolve stream start")
		return 0, false
	}

	ms, ok := startFromVideo(v)
	if !ok {
		c.log.WithField("video_id", videoID).Debug("video has no usable start time")
	}
	return ms, ok
}

func startFromVideo(v *youtube.Video) (int64, bool) {
	var candidates []string
	if d := v.LiveStreamingDetails; d != nil {
		candidates = append(candidates, d.ActualStartTime, d.ScheduledStartTime)
	}
	if v.Snippet != nil {
		candidates = append(candidates, v.Snippet.PublishedAt)
	}
	for _, s := range candidates {
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			continue
		}
		return t.UnixMilli(), true
	}
	return 0, false
}

// Validation is the outcome of ValidateVideo.
type Validation struct {
	Valid     bool
	VideoID   string
	Title     string
	Thumbnail string
	IsLive    bool
	Reason    string
}

// Reasons reported by ValidateVideo.
const (
	ReasonNoAPIKey   = "No API key"
	ReasonInvalidURL = "Invalid URL"
	ReasonNotFound   = "Video not found"
	ReasonAPIError   = "API error"
)

// ValidateVideo checks that a URL points at an existing video and reports
// whether it is currently live.
func (c *Client) ValidateVideo(ctx context.Context, url string) Validation {
	if !c.hasKey {
		return Validation{Reason: ReasonNoAPIKey}
	}
	id := ExtractVideoID(url)
	if id == "" {
		return Validation{Reason: ReasonInvalidURL}
	}

	v, err := c.video(ctx, id, "snippet", "liveStreamingDetails")
	switch {
	case err == nil:
	case errors.Is(err, ErrVideoNotFound):
		return Validation{VideoID: id, Reason: ReasonNotFound}
	default:
		c.log.WithError(err).WithField("video_id", id).Warn("video validation failed")
		return Validation{VideoID: id, Reason: ReasonAPIError}
	}

	out := Validation{Valid: true, VideoID: id}
	if v.Snippet != nil {
		out.Title = v.Snippet.Title
		out.IsLive = v.Snippet.LiveBroadcastContent == "live"
		if th := v.Snippet.Thumbnails; th != nil {
			switch {
			case th.Medium != nil:
				out.Thumbnail = th.Medium.Url
			case th.Default != nil:
				out.Thumbnail = th.Default.Url
			}
		}
	}
	if d := v.LiveStreamingDetails; d != nil && d.ActualStartTime != "" && d.ActualEndTime == "" {
		out.IsLive = true
	}
	return out
}

func (c *Client) video(ctx context.Context, id string, parts ...string) (*youtube.Video, error) {
	var out *youtube.Video
	err := retry.Do(ctx, c.retry, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := c.service.Videos.List(parts).Id(id).Context(ctx).Do()
		if err != nil {
			return err
		}
		c.trackQuotaUsage(listCost)
		if len(resp.Items) == 0 {
			return ErrVideoNotFound
		}
		out = resp.Items[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Broadcast is a live or upcoming video found on a channel or playlist.
type Broadcast struct {
	VideoID     string
	Title       string
	URL         string
	Thumbnail   string
	Status      string // "live", "upcoming" or "none"
	PublishedAt time.Time
}

// ChannelBroadcasts lists the live and upcoming broadcasts of a channel URL
// (/channel/, /@handle, /c/, /user/). Live broadcasts come first.
func (c *Client) ChannelBroadcasts(ctx context.Context, channelURL string) ([]Broadcast, error) {
	if !c.hasKey {
		return nil, ErrNoAPIKey
	}
	ref, err := ExtractChannel(channelURL)
	if err != nil {
		return nil, err
	}

	channelID := ref.Value
	if ref.Kind == ChannelByName {
		channelID, err = c.resolveChannelID(ctx, ref.Value)
		if err != nil {
			return nil, err
		}
	}

	var out []Broadcast
	for _, eventType := range []string{"live", "upcoming"} {
		found, err := c.searchBroadcasts(ctx, channelID, eventType)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	c.log.WithFields(logrus.Fields{"channel_id": channelID, "count": len(out)}).Debug("channel broadcasts")
	return out, nil
}

func (c *Client) resolveChannelID(ctx context.Context, name string) (string, error) {
	var channelID string
	err := retry.Do(ctx, c.retry, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := c.service.Search.List([]string{"snippet"}).
			Q(name).
			Type("channel").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		c.trackQuotaUsage(searchCost)
		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return ErrChannelNotFound
		}
		channelID = resp.Items[0].Snippet.ChannelId
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve channel %q: %w", name, err)
	}
	return channelID, nil
}

func (c *Client) searchBroadcasts(ctx context.Context, channelID, eventType string) ([]Broadcast, error) {
	var out []Broadcast
	err := retry.Do(ctx, c.retry, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := c.service.Search.List([]string{"snippet"}).
			ChannelId(channelID).
			EventType(eventType).
			Type("video").
			MaxResults(channelHits).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		c.trackQuotaUsage(searchCost)

		out = out[:0]
		for _, item := range resp.Items {
			if item.Id == nil || item.Id.VideoId == "" {
				continue
			}
			b := Broadcast{
				VideoID: item.Id.VideoId,
				URL:     WatchURL(item.Id.VideoId),
				Status:  eventType,
			}
			if s := item.Snippet; s != nil {
				b.Title = s.Title
				b.PublishedAt, _ = time.Parse(time.RFC3339, s.PublishedAt)
				if s.Thumbnails != nil && s.Thumbnails.Medium != nil {
					b.Thumbnail = s.Thumbnails.Medium.Url
				}
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s broadcasts: %w", eventType, err)
	}
	return out, nil
}

// PlaylistVideos lists the videos of a playlist URL. When eventStart is
// non-zero only videos published from the day before the event to three days
// after it are kept.
func (c *Client) PlaylistVideos(ctx context.Context, playlistURL string, eventStart time.Time) ([]Broadcast, error) {
	if !c.hasKey {
		return nil, ErrNoAPIKey
	}
	id := ExtractPlaylistID(playlistURL)
	if id == "" {
		return nil, fmt.Errorf("%w: no playlist in %q", ErrInvalidURL, playlistURL)
	}

	var out []Broadcast
	err := retry.Do(ctx, c.retry, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := c.service.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(id).
			MaxResults(50).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		c.trackQuotaUsage(listCost)

		out = out[:0]
		for _, item := range resp.Items {
			s := item.Snippet
			if s == nil || s.ResourceId == nil || s.ResourceId.VideoId == "" {
				continue
			}
			b := Broadcast{
				VideoID: s.ResourceId.VideoId,
				Title:   s.Title,
				URL:     WatchURL(s.ResourceId.VideoId),
				Status:  "none",
			}
			b.PublishedAt, _ = time.Parse(time.RFC3339, s.PublishedAt)
			if s.Thumbnails != nil && s.Thumbnails.Medium != nil {
				b.Thumbnail = s.Thumbnails.Medium.Url
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list playlist %s: %w", id, err)
	}

	if eventStart.IsZero() {
		return out, nil
	}
	from := eventStart.AddDate(0, 0, -1)
	to := eventStart.AddDate(0, 0, 3)
	filtered := out[:0]
	for _, b := range out {
		if b.PublishedAt.IsZero() || (!b.PublishedAt.Before(from) && !b.PublishedAt.After(to)) {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

// trackQuotaUsage updates the estimated quota and logs once it runs out.
func (c *Client) trackQuotaUsage(units int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastQuotaReset) > 24*time.Hour {
		c.estimatedQuota = dailyQuota
		c.lastQuotaReset = time.Now()
		c.quotaExhausted = false
		c.log.Debug("quota reset (new day)")
	}

	c.estimatedQuota -= units
	if c.estimatedQuota <= 0 {
		if !c.quotaExhausted {
			c.log.WithField("remaining", c.estimatedQuota).Warn("estimated quota exhausted")
			c.quotaExhausted = true
		}
		return
	}
	c.log.WithField("remaining", c.estimatedQuota).Trace("quota usage")
}

// EstimatedQuota returns the estimated remaining quota units.
func (c *Client) EstimatedQuota() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimatedQuota
}

// QuotaExhausted reports whether the estimated quota has run out.
func (c *Client) QuotaExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotaExhausted
}
