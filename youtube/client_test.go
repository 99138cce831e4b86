package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	mjhttp "matchjumper/http"
	"matchjumper/internal/retry"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, key string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, _ := test.NewNullLogger()
	c, err := New(context.Background(), Options{
		APIKey:   key,
		Endpoint: srv.URL + "/",
		Retry:    fastRetry(),
		Log:      log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func videoResponse(live map[string]string, publishedAt string) map[string]any {
	item := map[string]any{
		"id":      "dQw4w9WgXcQ",
		"snippet": map[string]any{"publishedAt": publishedAt, "title": "Worlds Day 1"},
	}
	if live != nil {
		item["liveStreamingDetails"] = live
	}
	return map[string]any{"items": []any{item}}
}

func TestStreamStartFallbackOrder(t *testing.T) {
	tests := []struct {
		name      string
		live      map[string]string
		published string
		want      string
		ok        bool
	}{
		{
			name:      "actual start wins",
			live:      map[string]string{"actualStartTime": "2024-04-25T13:00:00Z", "scheduledStartTime": "2024-04-25T12:30:00Z"},
			published: "2024-04-20T00:00:00Z",
			want:      "2024-04-25T13:00:00Z",
			ok:        true,
		},
		{
			name:      "scheduled when not started",
			live:      map[string]string{"scheduledStartTime": "2024-04-25T12:30:00Z"},
			published: "2024-04-20T00:00:00Z",
			want:      "2024-04-25T12:30:00Z",
			ok:        true,
		},
		{
			name:      "published for plain uploads",
			published: "2024-04-20T00:00:00Z",
			want:      "2024-04-20T00:00:00Z",
			ok:        true,
		},
		{
			name:      "nothing parsable",
			live:      map[string]string{"actualStartTime": "yesterday"},
			published: "",
			ok:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/youtube/v3/videos" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("key"); got != "test-key" {
					t.Errorf("key = %q", got)
				}
				if got := r.URL.Query().Get("id"); got != "dQw4w9WgXcQ" {
					t.Errorf("id = %q", got)
				}
				writeJSON(t, w, videoResponse(tt.live, tt.published))
			}, "test-key")

			got, ok := c.StreamStart(context.Background(), "dQw4w9WgXcQ")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				if got != 0 {
					t.Errorf("got %d, want 0", got)
				}
				return
			}
			want, _ := time.Parse(time.RFC3339, tt.want)
			if got != want.UnixMilli() {
				t.Errorf("got %d, want %d", got, want.UnixMilli())
			}
		})
	}
}

func TestStreamStartFailuresAreSilent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
	}, "test-key")

	if _, ok := c.StreamStart(context.Background(), "dQw4w9WgXcQ"); ok {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", got)
	}

	if _, ok := c.StreamStart(context.Background(), ""); ok {
		t.Error("empty id should not resolve")
	}
}

func TestStreamStartNoItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"items": []any{}})
	}, "test-key")

	if ms, ok := c.StreamStart(context.Background(), "dQw4w9WgXcQ"); ok || ms != 0 {
		t.Errorf("got (%d, %v), want (0, false)", ms, ok)
	}
}

func TestClientWithoutKey(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, "")

	ctx := context.Background()
	if _, ok := c.StreamStart(ctx, "dQw4w9WgXcQ"); ok {
		t.Error("StreamStart should fail without key")
	}
	if v := c.ValidateVideo(ctx, "https://youtu.be/dQw4w9WgXcQ"); v.Reason != ReasonNoAPIKey {
		t.Errorf("reason = %q", v.Reason)
	}
	if _, err := c.ChannelBroadcasts(ctx, "https://www.youtube.com/@vex"); err != ErrNoAPIKey {
		t.Errorf("ChannelBroadcasts err = %v", err)
	}
	if _, err := c.PlaylistVideos(ctx, "https://www.youtube.com/playlist?list=PL1", time.Time{}); err != ErrNoAPIKey {
		t.Errorf("PlaylistVideos err = %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("made %d requests without a key", n)
	}
}

func TestValidateVideo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "dQw4w9WgXcQ":
			writeJSON(t, w, map[string]any{"items": []any{map[string]any{
				"id": "dQw4w9WgXcQ",
				"snippet": map[string]any{
					"title":                "Finals",
					"liveBroadcastContent": "live",
					"thumbnails":           map[string]any{"medium": map[string]any{"url": "https://i.ytimg.com/m.jpg"}},
				},
			}}})
		case "missingvid1":
			writeJSON(t, w, map[string]any{"items": []any{}})
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"bad"}}`))
		}
	}, "test-key")

	ctx := context.Background()
	v := c.ValidateVideo(ctx, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if !v.Valid || !v.IsLive || v.Title != "Finals" || v.Thumbnail != "https://i.ytimg.com/m.jpg" {
		t.Errorf("unexpected validation %+v", v)
	}

	tests := []struct {
		url    string
		reason string
	}{
		{"https://example.com/nothing", ReasonInvalidURL},
		{"https://youtu.be/missingvid1", ReasonNotFound},
		{"https://youtu.be/badrequest1", ReasonAPIError},
	}
	for _, tt := range tests {
		if got := c.ValidateVideo(ctx, tt.url); got.Valid || got.Reason != tt.reason {
			t.Errorf("ValidateVideo(%q) = %+v, want reason %q", tt.url, got, tt.reason)
		}
	}
}

func TestChannelBroadcastsResolvesHandle(t *testing.T) {
	var searches []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube/v3/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") == "channel" {
			if q.Get("q") != "vexworlds" {
				t.Errorf("q = %q", q.Get("q"))
			}
			writeJSON(t, w, map[string]any{"items": []any{
				map[string]any{"snippet": map[string]any{"channelId": "UCabcdefghijklmnopqrstuv"}},
			}})
			return
		}
		if q.Get("channelId") != "UCabcdefghijklmnopqrstuv" {
			t.Errorf("channelId = %q", q.Get("channelId"))
		}
		searches = append(searches, q.Get("eventType"))
		id := "live0000001"
		if q.Get("eventType") == "upcoming" {
			id = "upcoming001"
		}
		writeJSON(t, w, map[string]any{"items": []any{
			map[string]any{
				"id":      map[string]any{"videoId": id},
				"snippet": map[string]any{"title": q.Get("eventType"), "publishedAt": "2024-04-25T12:00:00Z"},
			},
		}})
	}, "test-key")

	got, err := c.ChannelBroadcasts(context.Background(), "https://www.youtube.com/@vexworlds")
	if err != nil {
		t.Fatalf("ChannelBroadcasts: %v", err)
	}
	if len(got) != 2 || got[0].Status != "live" || got[1].Status != "upcoming" {
		t.Fatalf("unexpected broadcasts %+v", got)
	}
	if got[0].URL != "https://www.youtube.com/watch?v=live0000001" {
		t.Errorf("url = %q", got[0].URL)
	}
	if len(searches) != 2 {
		t.Errorf("searches = %v", searches)
	}
	if c.EstimatedQuota() != dailyQuota-3*searchCost {
		t.Errorf("quota = %d", c.EstimatedQuota())
	}
}

func TestChannelBroadcastsUnknownHandle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"items": []any{}})
	}, "test-key")

	_, err := c.ChannelBroadcasts(context.Background(), "https://www.youtube.com/c/nobody")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}

func TestPlaylistVideosDateWindow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube/v3/playlistItems" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("playlistId") != "PLworlds" {
			t.Errorf("playlistId = %q", r.URL.Query().Get("playlistId"))
		}
		item := func(id, published string) map[string]any {
			return map[string]any{"snippet": map[string]any{
				"title":       id,
				"publishedAt": published,
				"resourceId":  map[string]any{"videoId": id},
			}}
		}
		writeJSON(t, w, map[string]any{"items": []any{
			item("tooearly001", "2024-04-20T10:00:00Z"),
			item("daybefore01", "2024-04-24T10:00:00Z"),
			item("dayone00001", "2024-04-25T10:00:00Z"),
			item("toolate0001", "2024-05-01T10:00:00Z"),
		}})
	}, "test-key")

	ctx := context.Background()
	url := "https://www.youtube.com/playlist?list=PLworlds"

	all, err := c.PlaylistVideos(ctx, url, time.Time{})
	if err != nil {
		t.Fatalf("PlaylistVideos: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("unfiltered len = %d, want 4", len(all))
	}

	start := time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC)
	windowed, err := c.PlaylistVideos(ctx, url, start)
	if err != nil {
		t.Fatalf("PlaylistVideos: %v", err)
	}
	if len(windowed) != 2 || windowed[0].VideoID != "daybefore01" || windowed[1].VideoID != "dayone00001" {
		t.Errorf("windowed = %+v", windowed)
	}

	if _, err := c.PlaylistVideos(ctx, "https://www.youtube.com/@vex", start); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestClientUsesProjectTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, videoResponse(map[string]string{"actualStartTime": "2024-04-25T13:00:00Z"}, ""))
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	cfg := mjhttp.DefaultConfig()
	cfg.RateLimiter = mjhttp.RateLimiterConfig{CustomRates: map[string]float64{"127.0.0.1": 1000}}
	hc := mjhttp.New(cfg, log)
	defer hc.Close()

	c, err := New(context.Background(), Options{APIKey: "k", Endpoint: srv.URL + "/", HTTP: hc, Retry: fastRetry(), Log: log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.StreamStart(context.Background(), "dQw4w9WgXcQ"); !ok {
		t.Fatal("expected start")
	}
	if _, ok := hc.RateLimiter().Stats()["127.0.0.1"]; !ok {
		t.Errorf("request bypassed the project rate limiter: %v", hc.RateLimiter().Stats())
	}
}

func TestQuotaExhaustion(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := &Client{log: log, estimatedQuota: 150, lastQuotaReset: time.Now()}

	c.trackQuotaUsage(searchCost)
	if c.QuotaExhausted() {
		t.Fatal("exhausted too early")
	}
	c.trackQuotaUsage(searchCost)
	if !c.QuotaExhausted() {
		t.Fatal("expected exhaustion")
	}

	c.lastQuotaReset = time.Now().Add(-25 * time.Hour)
	c.trackQuotaUsage(listCost)
	if c.QuotaExhausted() || c.EstimatedQuota() != dailyQuota-listCost {
		t.Errorf("quota not reset: %d", c.EstimatedQuota())
	}
}
