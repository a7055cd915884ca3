package commands

import (
	"path/filepath"
	"testing"
	"time"

	portallog "github.com/instance-portal/portal-go/pkg/log"
)

var baseTime = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func createTestTraceFile(t *testing.T, events []portallog.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.plog")
	logger, err := portallog.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// sessionEvents is a short client session: a line, a pong, a loss with a
// scheduled reconnect and a tunnel probe.
func sessionEvents() []portallog.Event {
	return []portallog.Event{
		{
			Timestamp:    baseTime,
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Layer:        portallog.LayerTransport,
			Category:     portallog.CategoryMessage,
			Target:       "ws://portal.local/ws-logs?_=1",
			Frame:        portallog.NewFrameEvent("model loaded", false),
		},
		{
			Timestamp:    baseTime.Add(time.Second),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Layer:        portallog.LayerTransport,
			Category:     portallog.CategoryControl,
			ControlMsg:   &portallog.ControlMsgEvent{Type: portallog.ControlMsgPong},
		},
		{
			Timestamp:    baseTime.Add(2 * time.Second),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Layer:        portallog.LayerStream,
			Category:     portallog.CategoryState,
			StateChange: &portallog.StateChangeEvent{
				Entity:   portallog.StateEntityConnection,
				OldState: "CONNECTED",
				NewState: "RECONNECTING",
				Reason:   "no heartbeat",
			},
		},
		{
			Timestamp:    baseTime.Add(2 * time.Second),
			ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
			Layer:        portallog.LayerStream,
			Category:     portallog.CategoryState,
			Reconnect:    &portallog.ReconnectEvent{Attempt: 0, MaxAttempts: 10, Delay: 1100 * time.Millisecond},
		},
		{
			Timestamp: baseTime.Add(5 * time.Second),
			Layer:     portallog.LayerTunnel,
			Category:  portallog.CategoryProbe,
			Target:    "https://quick.example.com",
			Probe:     &portallog.ProbeEvent{Reachable: true, Polls: 3, Duration: 1200 * time.Millisecond},
		},
		{
			Timestamp: baseTime.Add(6 * time.Second),
			Layer:     portallog.LayerTunnel,
			Category:  portallog.CategoryState,
			Target:    "https://quick.example.com",
			StateChange: &portallog.StateChangeEvent{
				Entity:   portallog.StateEntityTunnel,
				OldState: "pending",
				NewState: "active",
			},
		},
	}
}
