// Command portal-trace views and analyzes trace files written by
// portal-web and portal-logs with the -trace flag.
//
// Usage:
//
//	portal-trace <command> [flags] <file.plog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSON lines or CSV
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	portal-trace view client.plog
//
//	# View only reconnect and state events
//	portal-trace view --category state client.plog
//
//	# Export tunnel events to CSV
//	portal-trace export --format csv --layer tunnel web.plog
//
//	# Keep one connection
//	portal-trace filter --conn-id abc12345 -o conn.plog client.plog
//
//	# Show statistics
//	portal-trace stats client.plog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/instance-portal/portal-go/cmd/portal-trace/commands"
)

const usage = `portal-trace - Portal Trace Analyzer

Usage:
  portal-trace <command> [flags] <file.plog>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSON lines or CSV
  filter   Filter trace file and write to new file
  stats    Show statistics about the trace file

Use "portal-trace <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates the flag set of a command with the shared filter flags.
func newFlagSet(name, synopsis string) (*flag.FlagSet, *commands.FilterOptions) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "portal-trace %s - %s\n\nUsage:\n  portal-trace %s [flags] <file.plog>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}

	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.Target, "target", "", "Filter by target URL substring")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, stream, tunnel)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error, probe)")
	return fs, opts
}

// tracePath returns the single positional argument or exits.
func tracePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs, opts := newFlagSet("view", "View trace file in human-readable format")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := commands.RunView(tracePath(fs), *opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs, opts := newFlagSet("export", "Export trace file to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := commands.RunExport(tracePath(fs), *format, *output, *opts); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs, opts := newFlagSet("filter", "Filter trace file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := tracePath(fs)
	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	count, err := commands.RunFilter(path, *output, *opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "portal-trace stats - Show statistics about the trace file\n\nUsage:\n  portal-trace stats <file.plog>\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := commands.RunStats(tracePath(fs), os.Stdout); err != nil {
		fail(err)
	}
}
