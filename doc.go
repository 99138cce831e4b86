// Package matchjumper maps competition matches onto the livestreams that
// recorded them, so a viewer can jump straight to the moment a match began.
//
// # Overview
//
// An event (a RobotEvents SKU) spans one or more calendar days and usually has
// one YouTube livestream per day. For each stream the real-world start time is
// resolved from the YouTube Data API or calibrated by hand from a match whose
// position in the video is known. Every played match is then assigned to a
// stream and its playback offset is the match start minus the stream start.
//
// The sub-packages do the work:
//
//   - timeline: pure date math, stream assignment and seek arithmetic
//   - youtube: video start times, webcast link detection, channel and playlist lookup
//   - robotevents: events, teams, divisions and matches
//   - session: one viewing session tying the above together
//   - player: the seek-and-verify loop and an mpv driver
//   - history: per-event selection cache with export and import
//   - prefs, navlinks: small persisted preferences and the site header cache
//   - storage: file, memory, redis, sqlite and postgres key-value backends
//   - config: YAML file, .env and MATCHJUMPER_* environment configuration
//
// # Quick Start
//
//	cfg, _ := config.Load("")
//	log := config.NewLogger(cfg.Log)
//	httpc := mjhttp.New(cfg.HTTPClientConfig(), log)
//	yt, _ := youtube.New(ctx, youtube.Options{APIKey: cfg.YouTubeAPIKey, HTTP: httpc, Log: log})
//	re := robotevents.New(robotevents.Options{Token: cfg.RobotEventsToken, HTTP: httpc, Log: log})
//
//	s := session.New(session.Options{Events: re, Starts: yt, Assign: cfg.Sync.AssignOptions(), Log: log})
//	if _, err := s.LoadEvent(ctx, "RE-VRC-23-1234"); err != nil {
//		log.Fatal(err)
//	}
//	s.SetStream(ctx, 0, "https://www.youtube.com/watch?v=xxxxxxxxxxx", history.MethodPasted)
//	for _, m := range s.Matches() {
//		fmt.Println(m.Name, m.AssignedStreamIndex, m.GrayReason)
//	}
//
// # Configuration
//
// Settings load from, highest priority first:
//
//  1. Environment variables (MATCHJUMPER_YOUTUBE_API_KEY, MATCHJUMPER_ROBOTEVENTS_TOKEN,
//     MATCHJUMPER_STORAGE_BACKEND, MATCHJUMPER_SEEK_MAX_ATTEMPTS, ...), also read from .env
//  2. Config file (matchjumper.yaml or ~/.config/matchjumper/matchjumper.yaml)
//  3. Default values
//
// # Error Handling
//
// Operations return wrapped errors that work with errors.Is and errors.As:
//
//	if errors.Is(err, matchjumper.ErrEventNotFound) {
//		fmt.Println("No such event")
//	}
//
//	var gray *session.GrayedError
//	if errors.As(err, &gray) {
//		fmt.Println(gray.Reason)
//	}
package matchjumper
