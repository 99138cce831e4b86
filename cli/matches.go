package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"matchjumper/history"
	"matchjumper/player"
	"matchjumper/prefs"
	"matchjumper/robotevents"
	"matchjumper/session"
	"matchjumper/timeline"
	"matchjumper/youtube"
)

func cmdEvent(args []string) {
	fs := flag.NewFlagSet("event", flag.ExitOnError)
	cfgPath := configFlag(fs)
	teams := fs.Bool("teams", false, "List registered teams")
	rankings := fs.Bool("rankings", false, "List qualification rankings")
	skills := fs.Bool("skills", false, "List skills results")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper event [flags] <sku|url>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing sku\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	ev, err := a.events.EventBySKU(ctx, skuArg(fs.Arg(0)))
	if err != nil {
		fail("fetching event: %v", err)
	}
	tev := ev.Timeline()
	loc := a.cfg.Sync.AssignOptions().Location

	fmt.Printf("Event:     %s\n", ev.Name)
	fmt.Printf("SKU:       %s (id %d)\n", ev.SKU, ev.ID)
	fmt.Printf("Season:    %s\n", ev.Season.Name)
	fmt.Printf("Location:  %s\n", strings.Trim(strings.Join([]string{ev.Location.Venue, ev.Location.City, ev.Location.Region}, ", "), ", "))
	fmt.Printf("Days:      %s\n", strings.Join(timeline.DayLabels(tev.Start, tev.Days(), loc), ", "))
	for _, d := range ev.Divisions {
		fmt.Printf("Division:  %s (id %d)\n", d.Name, d.ID)
	}

	if sel := a.history.Current(ctx, ev.ID); sel != nil {
		fmt.Printf("Selected:  %s (%s, %s)\n", sel.URL, sel.Method, sel.SelectedAt.Local().Format(time.DateTime))
	}

	candidates := youtube.FindWebcastCandidates(ev.Webcast, ev.Description)
	if len(candidates) == 0 {
		fmt.Println("\nNo webcast links found.")
	} else {
		fmt.Println()
		printCandidates(candidates)
	}

	if *teams {
		list, err := a.events.TeamsForEvent(ctx, ev.ID)
		if err != nil {
			fail("fetching teams: %v", err)
		}
		fmt.Println()
		printTeams(list)
	}
	if *rankings {
		list, err := a.events.RankingsForEvent(ctx, ev.ID, ev.Divisions)
		if err != nil {
			fail("fetching rankings: %v", err)
		}
		fmt.Println()
		printRankings(list)
	}
	if *skills {
		list, err := a.events.SkillsForEvent(ctx, ev.ID)
		if err != nil {
			fail("fetching skills: %v", err)
		}
		fmt.Println()
		printSkills(list)
	}
}

func printTeams(teams []robotevents.Team) {
	if len(teams) == 0 {
		fmt.Println("No teams registered.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tNAME\tORGANIZATION\tCITY")
	for _, t := range teams {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Number, truncate(t.TeamName, 30), truncate(t.Organization, 30), t.Location.City)
	}
	w.Flush()
}

func printRankings(rankings []robotevents.Ranking) {
	if len(rankings) == 0 {
		fmt.Println("No rankings yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIVISION\tRANK\tTEAM\tW-L-T\tWP\tAP\tSP")
	for _, r := range rankings {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d-%d-%d\t%d\t%d\t%d\n", r.Division.Name, r.Rank, r.Team.Name, r.Wins, r.Losses, r.Ties, r.WP, r.AP, r.SP)
	}
	w.Flush()
}

func printSkills(skills []robotevents.Skill) {
	if len(skills) == 0 {
		fmt.Println("No skills results.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tTEAM\tTYPE\tSCORE\tATTEMPTS")
	for _, sk := range skills {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", sk.Rank, sk.Team.Name, sk.Type, sk.Score, sk.Attempts)
	}
	w.Flush()
}

func skuArg(s string) string {
	if sku := robotevents.ExtractSKU(s); sku != "" {
		return sku
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func cmdMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	cfgPath := configFlag(fs)
	team := fs.String("team", "", "Only matches of this team number")
	policy := fs.String("policy", "", "Assignment policy: nearest or strict (default from config)")
	manual := fs.Bool("manual", false, "Do not resolve stream start times automatically")
	var streams streamFlags
	fs.Var(&streams, "stream", "Livestream URL for the next day slot (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper matches [flags] <sku|url>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing sku\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	s := a.session()
	if *manual {
		s.SetSyncMode(session.SyncManual)
	}
	if *policy != "" {
		p, err := timeline.ParsePolicy(*policy)
		if err != nil {
			fail("%v", err)
		}
		s.SetPolicy(p)
	}

	fmt.Fprintf(os.Stderr, "Loading %s...\n", fs.Arg(0))
	if _, err := s.LoadEvent(ctx, fs.Arg(0)); err != nil {
		fail("%v", err)
	}
	if *team != "" {
		if _, err := s.LoadTeamMatches(ctx, *team); err != nil {
			fail("%v", err)
		}
	}
	for i, url := range streams {
		if _, err := s.SetStream(ctx, i, url, history.MethodUserSelected); err != nil {
			fail("stream %d: %v", i+1, err)
		}
	}

	printStreams(s.State().Streams)
	printDayGroups(s)
	a.saveSession(ctx, s)
}

func printStreams(streams []timeline.Stream) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tVIDEO\tSTART\tSOURCE")
	for _, st := range streams {
		start := "-"
		if st.StartEpoch != nil {
			start = time.UnixMilli(*st.StartEpoch).Local().Format(time.DateTime)
		}
		video := st.VideoID
		if video == "" {
			video = "-"
		}
		source := string(st.Source)
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Index+1, video, start, source)
	}
	w.Flush()
	fmt.Fprintln(os.Stderr)
}

func printDayGroups(s *session.Session) {
	streams := s.State().Streams
	total := 0
	for _, g := range s.DayGroups() {
		if len(g.Matches) == 0 {
			continue
		}
		fmt.Printf("%s\n", g.Label)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  MATCH\tSTARTED\tSTREAM\tOFFSET\tSTATUS")
		for _, m := range g.Matches {
			started := "-"
			if m.Started != nil {
				started = m.Started.Local().Format("15:04")
			}
			stream, offset, status := "-", "-", "ok"
			if m.GrayedOut {
				status = m.GrayReason
			} else {
				stream = strconv.Itoa(m.AssignedStreamIndex + 1)
				if sec, err := timeline.PlanSeek(streams[m.AssignedStreamIndex], m); err == nil {
					offset = formatOffset(sec)
				} else {
					status = err.Error()
				}
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", m.Name, started, stream, offset, status)
			total++
		}
		w.Flush()
		fmt.Println()
	}
	fmt.Fprintf(os.Stderr, "Total: %d matches\n", total)
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := configFlag(fs)
	socket := fs.String("mpv", "", "mpv IPC socket to drive (mpv --idle --input-ipc-server=<path>)")
	timeout := fs.Duration("timeout", time.Minute, "How long to wait for playback to settle")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper watch [flags] <match-name|match-id>\n\n")
		fmt.Fprintf(os.Stderr, "Plays a match from the event last listed with `matchjumper matches`.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing match\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	var jumper *player.Jumper
	if *socket != "" {
		mpv, err := player.DialMPV(ctx, *socket, a.log)
		if err != nil {
			fail("%v", err)
		}
		defer mpv.Close()
		jumper = player.NewJumper(mpv, a.cfg.Seek, a.log)
		defer jumper.Close()
	}

	s := a.session(func(o *session.Options) {
		if jumper != nil {
			o.Player = jumper
		}
	})
	if err := restoreSession(ctx, a, s); err != nil {
		fail("%v", err)
	}

	id, ok := findMatch(s.Matches(), fs.Arg(0))
	if !ok {
		fail("no match %q in the last listed event", fs.Arg(0))
	}

	w, err := s.Watch(ctx, id)
	var gray *session.GrayedError
	switch {
	case errors.As(err, &gray):
		fail("%s: %s", w.Match.Name, gray.Reason)
	case errors.Is(err, timeline.ErrMatchBeforeStream):
		fmt.Fprintf(os.Stderr, "Warning: %s happened before stream %d started; calibrate the stream first.\n", w.Match.Name, w.Stream.Index+1)
		os.Exit(1)
	case err != nil:
		fail("%v", err)
	}
	a.saveSession(ctx, s)

	fmt.Printf("%s: stream %d at %s\n", w.Match.Name, w.Stream.Index+1, formatOffset(w.Offset))
	if w.Task == nil {
		fmt.Printf("%s&t=%ds\n", youtube.WatchURL(w.Stream.VideoID), int(w.Offset))
	} else {
		res := w.Task.Wait()
		switch {
		case res.Err != nil:
			fail("%v", res.Err)
		case res.Converged:
			fmt.Fprintf(os.Stderr, "Playing at %s\n", formatOffset(res.Position))
		default:
			fmt.Fprintf(os.Stderr, "Playback did not settle after %d checks; it may still be buffering.\n", res.Attempts)
		}
	}

	if prefs.NewHintQuota(a.kv).Consume(ctx) {
		fmt.Fprintln(os.Stderr, "Tip: press f in the player to go fullscreen.")
	}
}

func restoreSession(ctx context.Context, a *app, s *session.Session) error {
	blob, ok := a.kv.Get(ctx, sessionKey)
	if !ok {
		return errors.New("no event listed yet; run `matchjumper matches <sku>` first")
	}
	return s.Restore(blob)
}

// findMatch accepts a match name (case-insensitive) or numeric id.
func findMatch(matches []timeline.Match, ref string) (int, bool) {
	ref = strings.TrimSpace(ref)
	for _, m := range matches {
		if strings.EqualFold(m.Name, ref) {
			return m.ID, true
		}
	}
	if id, err := strconv.Atoi(ref); err == nil {
		for _, m := range matches {
			if m.ID == id {
				return id, true
			}
		}
	}
	return 0, false
}

func cmdAdjust(args []string) {
	fs := flag.NewFlagSet("adjust", flag.ExitOnError)
	cfgPath := configFlag(fs)
	slot := fs.Int("slot", 1, "Stream slot (1-based)")
	by := fs.Float64("by", 0, "Seconds to shift the stream start; positive moves matches earlier in the video")
	resync := fs.Bool("resync", false, "Discard the start and resolve it from YouTube again")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper adjust [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	s := a.session()
	if err := restoreSession(ctx, a, s); err != nil {
		fail("%v", err)
	}

	var (
		st  timeline.Stream
		err error
	)
	if *resync {
		st, err = s.Resync(ctx, *slot-1)
	} else {
		st, err = s.Adjust(ctx, *slot-1, *by)
	}
	if err != nil {
		fail("%v", err)
	}
	a.saveSession(ctx, s)
	printStreams([]timeline.Stream{st})
}
