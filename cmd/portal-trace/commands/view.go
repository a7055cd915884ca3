package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	portallog "github.com/instance-portal/portal-go/pkg/log"
)

// RunView prints the matching events of the trace file at path.
func RunView(path string, opts FilterOptions, output io.Writer) error {
	filter, err := opts.Build()
	if err != nil {
		return err
	}

	reader, err := portallog.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event portallog.Event) {
	ts := event.Timestamp.UTC().Format(timestampLayout)

	layer := event.Layer.String()
	if event.Category == portallog.CategoryControl {
		layer = "CTRL"
	}

	header := ts
	if event.ConnectionID != "" {
		header += " [conn:" + shortenConnID(event.ConnectionID) + "]"
	}
	fmt.Fprintf(w, "%s %-3s %s %s\n", header, event.Direction, layer, eventType(event))
	if event.Target != "" {
		fmt.Fprintf(w, "  Target: %s\n", event.Target)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		if event.ControlMsg.CloseReason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", event.ControlMsg.CloseReason)
		}
	case event.Reconnect != nil:
		formatReconnectDetails(w, event.Reconnect)
	case event.Probe != nil:
		formatProbeDetails(w, event.Probe)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func formatFrameDetails(w io.Writer, frame *portallog.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", strconv.Quote(string(frame.Data)))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
	if frame.Dropped {
		fmt.Fprintln(w, "  Dropped: paused")
	}
}

func formatStateChangeDetails(w io.Writer, sc *portallog.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatReconnectDetails(w io.Writer, r *portallog.ReconnectEvent) {
	if r.GaveUp {
		fmt.Fprintf(w, "  Gave up after %d/%d attempts\n", r.Attempt, r.MaxAttempts)
		return
	}
	fmt.Fprintf(w, "  Attempt: %d/%d\n", r.Attempt+1, r.MaxAttempts)
	fmt.Fprintf(w, "  Delay: %s\n", formatDuration(r.Delay))
}

func formatProbeDetails(w io.Writer, p *portallog.ProbeEvent) {
	fmt.Fprintf(w, "  Reachable: %t\n", p.Reachable)
	fmt.Fprintf(w, "  Polls: %d\n", p.Polls)
	fmt.Fprintf(w, "  Duration: %s\n", formatDuration(p.Duration))
	if p.TimedOut {
		fmt.Fprintln(w, "  Timed out")
	}
}

func formatErrorDetails(w io.Writer, err *portallog.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
