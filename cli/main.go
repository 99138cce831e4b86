package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "event":
		cmdEvent(args)
	case "matches":
		cmdMatches(args)
	case "watch":
		cmdWatch(args)
	case "start":
		cmdStart(args)
	case "seek":
		cmdSeek(args)
	case "calibrate":
		cmdCalibrate(args)
	case "adjust":
		cmdAdjust(args)
	case "webcasts":
		cmdWebcasts(args)
	case "channel":
		cmdChannel(args)
	case "playlist":
		cmdPlaylist(args)
	case "history":
		cmdHistory(args)
	case "export":
		cmdExport(args)
	case "import":
		cmdImport(args)
	case "clear":
		cmdClear(args)
	case "nav":
		cmdNav(args)
	case "keys":
		cmdKeys(args)
	case "tour":
		cmdTour(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `matchjumper - jump from a competition match to the moment it happened on the livestream

Usage:
  matchjumper event [--teams|--rankings|--skills] <sku|url>
                                                      Show an event, its days and webcast links
  matchjumper matches [flags] <sku|url>               List matches with their stream and offset
  matchjumper watch [flags] <match>                   Play a match from the last listed event
  matchjumper start <video-url>                       Resolve when a livestream started
  matchjumper seek --start <time> --match <time>      Compute a playback offset
  matchjumper calibrate --match <time|name> --offset <pos>
                                                      Derive a stream start from a known match
  matchjumper adjust [--slot N] [--by <s>|--resync]   Shift or re-resolve a listed stream's start
  matchjumper webcasts [--sku <sku>] [text]           Find livestream links in text or an event
  matchjumper channel <channel-url>                   List live and upcoming broadcasts
  matchjumper playlist [--event-start <date>] <url>   List playlist videos near an event
  matchjumper history [event-id]                      Show cached webcast selections
  matchjumper export [--out <file>]                   Export the selection cache
  matchjumper import <file>                           Replace the selection cache
  matchjumper clear <event-id>                        Forget an event's cached selection
  matchjumper nav                                     Show the site navigation links
  matchjumper keys [set|clear] [youtube|robotevents] [value]
  matchjumper tour [next|skip|reset]                  Walk through the basics
  matchjumper help                                    Show this help message

Examples:
  matchjumper matches --stream https://youtu.be/xxxxxxxxxxx RE-VRC-23-1234
  matchjumper matches --team 1234A --policy strict \
      --stream https://youtu.be/aaaaaaaaaaa --stream https://youtu.be/bbbbbbbbbbb RE-VRC-23-1234
  matchjumper watch --mpv /tmp/mpv.sock Q12
  matchjumper seek --start 2024-04-25T08:00:00-05:00 --match 2024-04-25T09:12:30-05:00

Every command accepts --config <file>. Settings can be overridden with
MATCHJUMPER_* environment variables.

For help on specific command: matchjumper <command> -h
`)
}
