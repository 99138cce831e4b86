package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"matchjumper/timeline"
	"matchjumper/youtube"
)

func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper start [flags] <video-url>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing video-url\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	v := a.youtube.ValidateVideo(ctx, fs.Arg(0))
	if !v.Valid {
		fail("%s", v.Reason)
	}
	fmt.Printf("Video ID:  %s\n", v.VideoID)
	fmt.Printf("Title:     %s\n", v.Title)
	fmt.Printf("Live now:  %v\n", v.IsLive)

	ms, ok := a.youtube.StreamStart(ctx, v.VideoID)
	if !ok {
		fmt.Println("Start:     unknown (calibrate manually)")
		return
	}
	fmt.Printf("Start:     %s (%d)\n", time.UnixMilli(ms).Local().Format(time.RFC3339), ms)
}

func cmdSeek(args []string) {
	fs := flag.NewFlagSet("seek", flag.ExitOnError)
	start := fs.String("start", "", "Stream start: RFC3339 time or Unix milliseconds")
	match := fs.String("match", "", "Match start: RFC3339 time or Unix milliseconds")
	video := fs.String("video", "", "Optional video URL to print a timestamped link for")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper seek --start <time> --match <time>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	startMs, err := parseInstant(*start)
	if err != nil {
		fail("--start: %v", err)
	}
	matchMs, err := parseInstant(*match)
	if err != nil {
		fail("--match: %v", err)
	}
	if matchMs < startMs {
		fmt.Fprintln(os.Stderr, "Warning: the match happened before the stream started.")
		os.Exit(1)
	}

	sec := timeline.SeekSeconds(startMs, matchMs)
	fmt.Printf("Offset: %s (%.1fs)\n", formatOffset(sec), sec)
	if id := youtube.ExtractVideoID(*video); id != "" {
		fmt.Printf("%s&t=%ds\n", youtube.WatchURL(id), int(sec))
	}
}

func cmdCalibrate(args []string) {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	cfgPath := configFlag(fs)
	match := fs.String("match", "", "Match start time (RFC3339 or Unix ms), or a match name from the last listed event")
	offset := fs.String("offset", "", "Where the match begins in the video: seconds or h:mm:ss")
	slot := fs.Int("slot", 1, "Stream slot to calibrate when --match names a match")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper calibrate --match <time|name> --offset <position>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	sec, err := parseOffset(*offset)
	if err != nil {
		fail("--offset: %v", err)
	}

	if matchMs, err := parseInstant(*match); err == nil {
		epoch := timeline.Calibrate(matchMs, sec)
		fmt.Printf("Stream start: %s (%d)\n", time.UnixMilli(epoch).Local().Format(time.RFC3339), epoch)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	s := a.session()
	if err := restoreSession(ctx, a, s); err != nil {
		fail("%v", err)
	}
	id, ok := findMatch(s.Matches(), *match)
	if !ok {
		fail("no match %q in the last listed event", *match)
	}
	st, err := s.Calibrate(ctx, *slot-1, id, sec)
	if err != nil {
		fail("%v", err)
	}
	a.saveSession(ctx, s)
	printStreams([]timeline.Stream{st})
}

func cmdWebcasts(args []string) {
	fs := flag.NewFlagSet("webcasts", flag.ExitOnError)
	cfgPath := configFlag(fs)
	sku := fs.String("sku", "", "Read the webcast field and description of this event")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper webcasts [--sku <sku>] [text]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	var webcast, description string
	if *sku != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a := newApp(ctx, *cfgPath)
		defer a.Close()
		ev, err := a.events.EventBySKU(ctx, skuArg(*sku))
		if err != nil {
			fail("fetching event: %v", err)
		}
		webcast, description = ev.Webcast, ev.Description
	}
	if fs.NArg() > 0 {
		description = strings.TrimSpace(description + "\n" + strings.Join(fs.Args(), " "))
	}
	if webcast == "" && description == "" {
		fmt.Fprintf(os.Stderr, "Error: give --sku or some text\n")
		fs.Usage()
		os.Exit(1)
	}

	candidates := youtube.FindWebcastCandidates(webcast, description)
	if len(candidates) == 0 {
		fmt.Println("No webcast links found.")
		return
	}
	printCandidates(candidates)
}

func printCandidates(candidates []youtube.Candidate) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTYPE\tPLATFORM\tLIVE?\tURL")
	for _, c := range candidates {
		live := ""
		if youtube.IsProbablyLivestream(c.Classification) {
			live = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Source, c.Classification.Type, c.Classification.Platform, live, c.URL)
	}
	w.Flush()
}

func cmdChannel(args []string) {
	fs := flag.NewFlagSet("channel", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper channel [flags] <channel-url>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing channel-url\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	broadcasts, err := a.youtube.ChannelBroadcasts(ctx, fs.Arg(0))
	if err != nil {
		fail("%v", err)
	}
	printBroadcasts(broadcasts)
	fmt.Fprintf(os.Stderr, "\nEstimated API quota used: %d units\n", a.youtube.EstimatedQuota())
}

func cmdPlaylist(args []string) {
	fs := flag.NewFlagSet("playlist", flag.ExitOnError)
	cfgPath := configFlag(fs)
	eventStart := fs.String("event-start", "", "Only videos from a day before to three days after this date (YYYY-MM-DD)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper playlist [flags] <playlist-url>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing playlist-url\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	var start time.Time
	if *eventStart != "" {
		start = timeline.ParseCalendarDate(*eventStart, a.cfg.Sync.AssignOptions().Location)
	}
	videos, err := a.youtube.PlaylistVideos(ctx, fs.Arg(0), start)
	if err != nil {
		fail("%v", err)
	}
	printBroadcasts(videos)
}

func printBroadcasts(bs []youtube.Broadcast) {
	if len(bs) == 0 {
		fmt.Println("No broadcasts found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tSTATUS\tPUBLISHED\tTITLE")
	for _, b := range bs {
		published := ""
		if !b.PublishedAt.IsZero() {
			published = b.PublishedAt.Local().Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.VideoID, b.Status, published, truncate(b.Title, 60))
	}
	w.Flush()
}

// parseInstant accepts RFC3339 or Unix milliseconds.
func parseInstant(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing time")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("use RFC3339 or Unix milliseconds: %w", err)
	}
	return t.UnixMilli(), nil
}

// parseOffset accepts seconds ("754.5") or a clock position ("12:34", "1:02:03").
func parseOffset(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing offset")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("bad position %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("bad position %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

func formatOffset(seconds float64) string {
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
