package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"matchjumper/config"
	"matchjumper/history"
	mjhttp "matchjumper/http"
	"matchjumper/navlinks"
	"matchjumper/prefs"
	"matchjumper/robotevents"
	"matchjumper/session"
	"matchjumper/storage"
	"matchjumper/youtube"
)

// sessionKey holds the snapshot of the last session listed by `matches`.
const sessionKey = "session.last"

// app is everything a command may need, built from the loaded config.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   storage.Backend
	kv      storage.KV
	http    *mjhttp.Client
	keys    *prefs.Keys
	youtube *youtube.Client
	events  *robotevents.Client
	history *history.Cache
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Config file (default: matchjumper.yaml or ~/.config/matchjumper/)")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func newApp(ctx context.Context, configPath string) *app {
	cfg, err := config.Load(configPath)
	if err != nil {
		fail("loading config: %v", err)
	}
	log := config.NewLogger(cfg.Log)

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fail("opening storage: %v", err)
	}
	kv := storage.Safe(store, log)
	keys := prefs.NewKeys(kv)
	httpc := mjhttp.New(cfg.HTTPClientConfig(), log)

	yt, err := youtube.New(ctx, youtube.Options{
		APIKey:   keys.Effective(ctx, prefs.YouTubeKey, cfg.YouTubeAPIKey),
		Endpoint: cfg.YouTubeEndpoint,
		HTTP:     httpc,
		Log:      log,
	})
	if err != nil {
		fail("creating YouTube client: %v", err)
	}
	if !yt.HasKey() {
		log.Warn("no YouTube API key configured; stream start times must be calibrated manually")
	}

	events := robotevents.New(robotevents.Options{
		BaseURL: cfg.RobotEventsBaseURL,
		Token:   keys.Effective(ctx, prefs.RobotEventsKey, cfg.RobotEventsToken),
		HTTP:    httpc,
		Log:     log,
	})

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		kv:      kv,
		http:    httpc,
		keys:    keys,
		youtube: yt,
		events:  events,
		history: history.New(kv, log),
	}
}

func (a *app) Close() {
	a.http.Close()
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("closing storage")
	}
}

func (a *app) session(opts ...func(*session.Options)) *session.Session {
	o := session.Options{
		Events:  a.events,
		Starts:  a.youtube,
		History: a.history,
		Assign:  a.cfg.Sync.AssignOptions(),
		Log:     a.log,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return session.New(o)
}

func (a *app) saveSession(ctx context.Context, s *session.Session) {
	blob, err := s.Snapshot()
	if err != nil {
		a.log.WithError(err).Warn("could not save session")
		return
	}
	a.kv.Set(ctx, sessionKey, blob)
}

func (a *app) nav() *navlinks.Fetcher {
	url := a.cfg.NavURL
	if url == "" {
		url = navlinks.DefaultURL
	}
	return navlinks.New(navlinks.Options{
		URL:      url,
		Keywords: navlinks.DefaultKeywords,
		Fallback: navlinks.DefaultFallback(url),
		HTTP:     a.http,
		KV:       a.kv,
		Log:      a.log,
	})
}

// streamFlags collects repeated --stream values.
type streamFlags []string

func (s *streamFlags) String() string { return strings.Join(*s, ",") }

func (s *streamFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}
