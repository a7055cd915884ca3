package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func captureSlog(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return entry
}

func TestSlogAdapterLogsFrameEvent(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame:        NewFrameEvent("INFO started", true),
	})

	if entry["msg"] != "trace" {
		t.Errorf("msg: got %v", entry["msg"])
	}
	if entry["conn_id"] != "conn-123" {
		t.Errorf("conn_id: got %v", entry["conn_id"])
	}
	if entry["layer"] != "TRANSPORT" {
		t.Errorf("layer: got %v", entry["layer"])
	}
	if entry["frame_size"] != float64(12) {
		t.Errorf("frame_size: got %v", entry["frame_size"])
	}
	if entry["dropped"] != true {
		t.Errorf("dropped: got %v", entry["dropped"])
	}
}

func TestSlogAdapterLogsReconnectEvent(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp: time.Now(),
		Layer:     LayerStream,
		Category:  CategoryState,
		Reconnect: &ReconnectEvent{Attempt: 10, MaxAttempts: 10, GaveUp: true},
	})

	if entry["gave_up"] != true {
		t.Errorf("gave_up: got %v", entry["gave_up"])
	}
	if entry["attempt"] != float64(10) {
		t.Errorf("attempt: got %v", entry["attempt"])
	}
	if _, ok := entry["conn_id"]; ok {
		t.Error("conn_id should be omitted when empty")
	}
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp: time.Now(),
		Layer:     LayerTunnel,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityTunnel,
			OldState: "starting",
			NewState: "active",
		},
	})

	if entry["entity"] != "TUNNEL" {
		t.Errorf("entity: got %v", entry["entity"])
	}
	if entry["new_state"] != "active" {
		t.Errorf("new_state: got %v", entry["new_state"])
	}
}
