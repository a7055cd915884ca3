package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	portallog "github.com/instance-portal/portal-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[portallog.Layer]int
	EventsByCategory  map[portallog.Category]int
	EventsByDirection map[portallog.Direction]int
	Connections       map[string]*ConnectionStats
	Tunnels           map[string]*TunnelStats
	Errors            int
	Reconnects        int
	GiveUps           int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single stream connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Lines     int
	Dropped   int
	Pongs     int
}

// TunnelStats holds probe and status statistics for one target.
type TunnelStats struct {
	Probes      int
	Reachable   int
	Transitions int
	LastState   string
}

// CollectStats reads the trace file at path.
func CollectStats(path string) (*Stats, error) {
	reader, err := portallog.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[portallog.Layer]int),
		EventsByCategory:  make(map[portallog.Category]int),
		EventsByDirection: make(map[portallog.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Tunnels:           make(map[string]*TunnelStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event portallog.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.Error != nil {
		s.Errors++
	}
	if event.Reconnect != nil {
		if event.Reconnect.GaveUp {
			s.GiveUps++
		} else {
			s.Reconnects++
		}
	}

	if event.Layer == portallog.LayerTunnel {
		s.addTunnel(event)
		return
	}
	if event.ConnectionID == "" {
		return
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.Frame != nil {
		conn.Lines++
		if event.Frame.Dropped {
			conn.Dropped++
		}
	}
	if event.ControlMsg != nil && event.ControlMsg.Type == portallog.ControlMsgPong {
		conn.Pongs++
	}
}

func (s *Stats) addTunnel(event portallog.Event) {
	if event.Target == "" {
		return
	}
	t, ok := s.Tunnels[event.Target]
	if !ok {
		t = &TunnelStats{}
		s.Tunnels[event.Target] = t
	}
	if event.Probe != nil {
		t.Probes++
		if event.Probe.Reachable {
			t.Reachable++
		}
	}
	if event.StateChange != nil {
		t.Transitions++
		t.LastState = event.StateChange.NewState
	}
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Portal Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []portallog.Layer{portallog.LayerTransport, portallog.LayerStream, portallog.LayerTunnel} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []portallog.Category{portallog.CategoryMessage, portallog.CategoryControl, portallog.CategoryState, portallog.CategoryError, portallog.CategoryProbe} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		ids := make([]string, 0, len(stats.Connections))
		for id := range stats.Connections {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return stats.Connections[ids[i]].FirstSeen.Before(stats.Connections[ids[j]].FirstSeen)
		})

		fmt.Fprintln(w)
		for _, id := range ids {
			c := stats.Connections[id]
			duration := c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(id), c.Events, duration)
			fmt.Fprintf(w, "           Lines: %d (dropped %d), pongs: %d\n", c.Lines, c.Dropped, c.Pongs)
		}
	}

	if stats.Reconnects > 0 || stats.GiveUps > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Reconnects: %d\n", stats.Reconnects)
		if stats.GiveUps > 0 {
			fmt.Fprintf(w, "Gave up:    %d\n", stats.GiveUps)
		}
	}

	if len(stats.Tunnels) > 0 {
		targets := make([]string, 0, len(stats.Tunnels))
		for target := range stats.Tunnels {
			targets = append(targets, target)
		}
		sort.Strings(targets)

		fmt.Fprintln(w)
		fmt.Fprintf(w, "Tunnels: %d\n", len(targets))
		for _, target := range targets {
			t := stats.Tunnels[target]
			fmt.Fprintf(w, "  %s\n", target)
			if t.Probes > 0 {
				fmt.Fprintf(w, "           Probes: %d (reachable %d)\n", t.Probes, t.Reachable)
			}
			if t.Transitions > 0 {
				fmt.Fprintf(w, "           Transitions: %d (last: %s)\n", t.Transitions, t.LastState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
