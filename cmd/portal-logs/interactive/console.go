// Package interactive provides the interactive command-line interface
// for portal-logs.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/instance-portal/portal-go/pkg/connection"
	"github.com/instance-portal/portal-go/pkg/logbuffer"
	"github.com/instance-portal/portal-go/pkg/tunnel"
)

// Defaults for console commands.
const (
	DefaultTailLines    = 20
	DefaultProbeTimeout = 15 * time.Second
	defaultProbePoll    = 500 * time.Millisecond
	tunnelListTimeout   = 10 * time.Second
)

// Stream is the log stream controlled by the console.
type Stream interface {
	Status() connection.Status
	SetPaused(paused bool)
	Reconnect() error
	Foreground() error
}

// TunnelLister lists the tunnels known to the tunnel manager.
type TunnelLister interface {
	NamedTunnels(ctx context.Context) ([]tunnel.Record, error)
	QuickTunnels(ctx context.Context) ([]tunnel.Record, error)
}

// Config wires the console to the client's components. Only Stream is
// required.
type Config struct {
	Stream  Stream
	Buffer  *logbuffer.Ring
	Prober  tunnel.Prober
	Tunnels TunnelLister

	// ProbeTimeout bounds the probe command.
	ProbeTimeout time.Duration
}

// Console handles interactive mode for portal-logs.
type Console struct {
	config Config
	rl     *readline.Instance
	out    io.Writer
}

// New creates a console reading commands from rl. The caller closes rl.
func New(rl *readline.Instance, cfg Config) *Console {
	c := newConsole(rl.Stdout(), cfg)
	c.rl = rl
	return c
}

func newConsole(out io.Writer, cfg Config) *Console {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Console{config: cfg, out: out}
}

// NewReadline creates the line editor shared by the console and the log
// output.
func NewReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "logs> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the console should
// exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "status", "s":
		c.cmdStatus()

	case "pause", "p":
		c.config.Stream.SetPaused(true)
		fmt.Fprintln(c.out, "Output paused")

	case "resume", "r":
		c.config.Stream.SetPaused(false)
		fmt.Fprintln(c.out, "Output resumed")

	case "reconnect":
		if err := c.config.Stream.Reconnect(); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "Reconnecting...")

	case "focus":
		if err := c.config.Stream.Foreground(); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, "Connection checked")

	case "tail", "t":
		c.cmdTail(args)

	case "probe":
		c.cmdProbe(ctx, args)

	case "tunnels":
		c.cmdTunnels(ctx)

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Portal Log Commands:
  Stream:
    status             - Show connection status
    pause              - Stop printing lines (the stream stays open)
    resume             - Print lines again
    reconnect          - Reconnect now and reset the attempt budget
    focus              - Reconnect if the last heartbeat is too old
    tail [n]           - Show the last n buffered lines (default 20)

  Tunnels:
    tunnels            - List named and quick tunnels
    probe <url>        - Check whether a URL is reachable

  General:
    help               - Show this help
    quit               - Exit`)
}

func (c *Console) cmdStatus() {
	st := c.config.Stream.Status()
	fmt.Fprintf(c.out, "State:      %s\n", st.State)
	if st.URL != "" {
		fmt.Fprintf(c.out, "URL:        %s\n", st.URL)
	}
	if st.ConnectionID != "" {
		fmt.Fprintf(c.out, "Connection: %s\n", st.ConnectionID)
	}
	fmt.Fprintf(c.out, "Attempts:   %d/%d\n", st.Attempts, st.MaxAttempts)
	if st.GaveUp {
		fmt.Fprintln(c.out, "Gave up:    yes (type 'reconnect' to try again)")
	}
	if st.Paused {
		fmt.Fprintln(c.out, "Output:     paused")
	}
	if !st.LastHeartbeat.IsZero() {
		fmt.Fprintf(c.out, "Heartbeat:  %s ago\n", time.Since(st.LastHeartbeat).Round(time.Second))
	}
	if c.config.Buffer != nil {
		fmt.Fprintf(c.out, "Buffered:   %d/%d lines\n", c.config.Buffer.Len(), c.config.Buffer.Cap())
	}
}

func (c *Console) cmdTail(args []string) {
	if c.config.Buffer == nil {
		fmt.Fprintln(c.out, "No line buffer configured")
		return
	}
	n := DefaultTailLines
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintln(c.out, "Usage: tail [n]")
			return
		}
		n = v
	}
	for _, line := range c.config.Buffer.Tail(n) {
		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) cmdProbe(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: probe <url>")
		fmt.Fprintln(c.out, "  Example: probe https://example.trycloudflare.com")
		return
	}
	if c.config.Prober == nil {
		fmt.Fprintln(c.out, "Probing is not available")
		return
	}

	start := time.Now()
	reachable, err := c.config.Prober.ProbeWithin(ctx, args[0], c.config.ProbeTimeout, defaultProbePoll)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if reachable {
		fmt.Fprintf(c.out, "%s is reachable (%s)\n", args[0], time.Since(start).Round(time.Millisecond))
		return
	}
	fmt.Fprintf(c.out, "%s is not reachable\n", args[0])
}

func (c *Console) cmdTunnels(ctx context.Context) {
	if c.config.Tunnels == nil {
		fmt.Fprintln(c.out, "No tunnel manager configured")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, tunnelListTimeout)
	defer cancel()

	c.printTunnels(ctx, "Named", c.config.Tunnels.NamedTunnels)
	c.printTunnels(ctx, "Quick", c.config.Tunnels.QuickTunnels)
}

func (c *Console) printTunnels(ctx context.Context, title string, list func(context.Context) ([]tunnel.Record, error)) {
	records, err := list(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "%s tunnels: error: %v\n", title, err)
		return
	}
	fmt.Fprintf(c.out, "%s tunnels (%d):\n", title, len(records))
	for _, r := range records {
		fmt.Fprintf(c.out, "  %s -> %s\n", r.TargetURL, r.TunnelURL)
	}
}
