package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"matchjumper/prefs"
)

func eventIDArg(fs *flag.FlagSet) int {
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing event-id\n")
		fs.Usage()
		os.Exit(1)
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fail("event-id must be a number, got %q", fs.Arg(0))
	}
	return id
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper history [flags] [event-id]\n\nWithout an event id, lists cached events.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	ctx := context.Background()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	if fs.NArg() == 0 {
		ids := a.history.Events(ctx)
		if len(ids) == 0 {
			fmt.Println("No cached events.")
			return
		}
		sort.Ints(ids)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tVIDEO\tMETHOD\tSELECTED")
		for _, id := range ids {
			video, method, at := "-", "-", "-"
			if sel := a.history.Current(ctx, id); sel != nil {
				video, method = sel.VideoID, sel.Method
				at = sel.SelectedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, video, method, at)
		}
		w.Flush()
		return
	}

	id := eventIDArg(fs)
	entries := a.history.History(ctx, id)
	if entries == nil {
		fmt.Println("No history for this event.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tVIDEO\tMETHOD\tURL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Action, e.VideoID, e.Method, e.URL)
	}
	w.Flush()

	starts := a.history.Starts(ctx, id)
	if len(starts) == 0 {
		return
	}
	slots := make([]int, 0, len(starts))
	for idx := range starts {
		slots = append(slots, idx)
	}
	sort.Ints(slots)
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tVIDEO\tSTART\tSOURCE")
	for _, idx := range slots {
		s := starts[idx]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", idx+1, s.VideoID, time.UnixMilli(s.Epoch).Local().Format(time.DateTime), s.Source)
	}
	w.Flush()
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := configFlag(fs)
	out := fs.String("out", "", "Write to this file instead of stdout")
	fs.Parse(args)

	ctx := context.Background()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	blob, err := a.history.Export(ctx)
	if err != nil {
		fail("exporting cache: %v", err)
	}
	if *out == "" {
		os.Stdout.Write(append(blob, '\n'))
		return
	}
	if err := os.WriteFile(*out, blob, 0644); err != nil {
		fail("writing %s: %v", *out, err)
	}
	fmt.Fprintf(os.Stderr, "Cache exported to: %s\n", *out)
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper import [flags] <file>\n\nReplaces the whole selection cache.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing file\n")
		fs.Usage()
		os.Exit(1)
	}

	blob, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fail("%v", err)
	}

	ctx := context.Background()
	a := newApp(ctx, *cfgPath)
	defer a.Close()
	if err := a.history.Import(ctx, blob); err != nil {
		fail("%v", err)
	}
	fmt.Fprintf(os.Stderr, "Imported %d events\n", len(a.history.Events(ctx)))
}

func cmdClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper clear [flags] <event-id>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	id := eventIDArg(fs)

	ctx := context.Background()
	a := newApp(ctx, *cfgPath)
	defer a.Close()
	a.history.Clear(ctx, id)
	fmt.Fprintf(os.Stderr, "Cleared event %d\n", id)
}

func cmdNav(args []string) {
	fs := flag.NewFlagSet("nav", flag.ExitOnError)
	cfgPath := configFlag(fs)
	refresh := fs.Bool("refresh", false, "Fetch even if today's copy is cached")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	f := a.nav()
	nav := f.Get(ctx)
	if *refresh {
		fresh, err := f.Fetch(ctx)
		if err != nil {
			fail("%v", err)
		}
		nav = fresh
	}

	if nav.Logo != "" {
		fmt.Printf("Logo: %s\n\n", nav.Logo)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, l := range nav.Links {
		fmt.Fprintf(w, "%s\t%s\n", l.Text, l.Href)
	}
	w.Flush()
}

func cmdKeys(args []string) {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: matchjumper keys [flags] [set <youtube|robotevents> <value> | clear <youtube|robotevents>]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	ctx := context.Background()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	kindArg := func() prefs.KeyKind {
		if fs.NArg() < 2 {
			fs.Usage()
			os.Exit(1)
		}
		switch k := prefs.KeyKind(fs.Arg(1)); k {
		case prefs.YouTubeKey, prefs.RobotEventsKey:
			return k
		default:
			fail("unknown key %q", fs.Arg(1))
			return ""
		}
	}

	switch fs.Arg(0) {
	case "":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "API\tOVERRIDE\tCONFIGURED")
		fmt.Fprintf(w, "%s\t%s\t%s\n", prefs.YouTubeKey, mask(a.keys.Key(ctx, prefs.YouTubeKey)), mask(a.cfg.YouTubeAPIKey))
		fmt.Fprintf(w, "%s\t%s\t%s\n", prefs.RobotEventsKey, mask(a.keys.Key(ctx, prefs.RobotEventsKey)), mask(a.cfg.RobotEventsToken))
		w.Flush()
	case "set":
		kind := kindArg()
		if fs.NArg() < 3 {
			fail("missing key value")
		}
		a.keys.SetKey(ctx, kind, fs.Arg(2))
		fmt.Fprintf(os.Stderr, "Saved %s key\n", kind)
	case "clear":
		kind := kindArg()
		a.keys.ClearKey(ctx, kind)
		fmt.Fprintf(os.Stderr, "Cleared %s key\n", kind)
	default:
		fs.Usage()
		os.Exit(1)
	}
}

func mask(s string) string {
	switch {
	case s == "":
		return "-"
	case len(s) <= 6:
		return "******"
	default:
		return s[:3] + "..." + s[len(s)-3:]
	}
}

var stepHelp = map[prefs.Step]string{
	prefs.StepPickPreset:      "Pick an event: matchjumper matches <sku>",
	prefs.StepSelectTeam:      "Narrow to your team: matchjumper matches --team <number> <sku>",
	prefs.StepOpenMatch:       "Open a match: matchjumper watch <match>",
	prefs.StepEnterFullscreen: "Go fullscreen: press f in the player",
	prefs.StepExitFullscreen:  "Leave fullscreen: press f or Esc again",
}

func cmdTour(args []string) {
	fs := flag.NewFlagSet("tour", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(args)

	ctx := context.Background()
	a := newApp(ctx, *cfgPath)
	defer a.Close()

	tour := prefs.NewOnboarding(a.kv)
	p := tour.Load(ctx)

	switch fs.Arg(0) {
	case "next":
		if next := p.Step.Next(); next != "" && !p.Completed {
			tour.SetStep(ctx, next)
		} else {
			tour.Complete(ctx, false)
		}
	case "skip":
		tour.Complete(ctx, true)
	case "reset":
		tour.Reset(ctx)
		prefs.NewHintQuota(a.kv).Reset(ctx)
	case "":
	default:
		fail("unknown tour action %q", fs.Arg(0))
	}

	p = tour.Load(ctx)
	if p.Completed {
		fmt.Println("Tour complete. Run `matchjumper tour reset` to see it again.")
		return
	}
	for i, st := range prefs.Steps {
		marker := "  "
		if st == p.Step {
			marker = "->"
		}
		fmt.Printf("%s %d. %s\n", marker, i+1, stepHelp[st])
	}
}
