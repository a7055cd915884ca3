package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	portallog "github.com/instance-portal/portal-go/pkg/log"
)

func TestFormatFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[0])
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z",
		"[conn:abc12345]",
		"IN  TRANSPORT Frame",
		"Target: ws://portal.local/ws-logs?_=1",
		"Size: 12 bytes",
		`Data: "model loaded"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatDroppedTruncatedFrame(t *testing.T) {
	event := portallog.Event{
		Timestamp: baseTime,
		Category:  portallog.CategoryMessage,
		Frame:     portallog.NewFrameEvent(strings.Repeat("x", portallog.MaxFrameData+10), true),
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "(truncated)") {
		t.Errorf("expected truncation marker, got: %s", output)
	}
	if !strings.Contains(output, "Dropped: paused") {
		t.Errorf("expected dropped marker, got: %s", output)
	}
	if strings.Contains(output, "[conn:") {
		t.Errorf("expected no connection tag, got: %s", output)
	}
}

func TestFormatControlUsesCtrlLayer(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[1])
	if !strings.Contains(buf.String(), "CTRL PONG") {
		t.Errorf("expected CTRL PONG header, got: %s", buf.String())
	}
}

func TestFormatStateAndReconnect(t *testing.T) {
	events := sessionEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[2])
	formatEvent(&buf, events[3])
	output := buf.String()

	for _, want := range []string{
		"Entity: CONNECTION",
		"CONNECTED -> RECONNECTING",
		"Reason: no heartbeat",
		"Attempt: 1/10",
		"Delay: 1.100s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}

	buf.Reset()
	formatEvent(&buf, portallog.Event{
		Timestamp: baseTime,
		Reconnect: &portallog.ReconnectEvent{Attempt: 10, MaxAttempts: 10, GaveUp: true},
	})
	if !strings.Contains(buf.String(), "Gave up after 10/10 attempts") {
		t.Errorf("expected give up line, got: %s", buf.String())
	}
}

func TestFormatProbeAndError(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[4])
	formatEvent(&buf, portallog.Event{
		Timestamp: baseTime,
		Layer:     portallog.LayerTunnel,
		Category:  portallog.CategoryError,
		Error:     &portallog.ErrorEventData{Layer: portallog.LayerTunnel, Message: "timeout", Context: "probe"},
	})
	output := buf.String()

	for _, want := range []string{
		"TUNNEL Probe",
		"Reachable: true",
		"Polls: 3",
		"Duration: 1.200s",
		"Message: timeout",
		"Context: probe",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Nanosecond, "0.500us"},
		{1500 * time.Microsecond, "1.500ms"},
		{2500 * time.Millisecond, "2.500s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRunViewFiltersByLayer(t *testing.T) {
	path := createTestTraceFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{Layer: "tunnel"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if strings.Contains(output, "TRANSPORT") || strings.Contains(output, "STREAM") {
		t.Errorf("expected only tunnel events, got:\n%s", output)
	}
	var headers []string
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line != "" && !strings.HasPrefix(line, " ") {
			headers = append(headers, line)
		}
	}
	if len(headers) != 2 {
		t.Fatalf("expected 2 tunnel events, got %d:\n%s", len(headers), output)
	}
	for _, h := range headers {
		if !strings.Contains(h, " TUNNEL ") {
			t.Errorf("header %q is not a tunnel event", h)
		}
	}
	if !strings.Contains(output, "  Entity: TUNNEL") {
		t.Errorf("expected tunnel state details, got:\n%s", output)
	}
}

func TestRunViewErrors(t *testing.T) {
	path := createTestTraceFile(t, sessionEvents())

	if err := RunView(path, FilterOptions{Layer: "wire"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid layer")
	}
	if err := RunView(path, FilterOptions{TimeStart: "yesterday"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid time")
	}
	if err := RunView("/nonexistent/trace.plog", FilterOptions{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayer("STREAM"); err != nil || l != portallog.LayerStream {
		t.Errorf("ParseLayer(STREAM) = %v, %v", l, err)
	}
	if d, err := ParseDirection("out"); err != nil || d != portallog.DirectionOut {
		t.Errorf("ParseDirection(out) = %v, %v", d, err)
	}
	if c, err := ParseCategory("Probe"); err != nil || c != portallog.CategoryProbe {
		t.Errorf("ParseCategory(Probe) = %v, %v", c, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("expected error for invalid direction")
	}
	if _, err := ParseCategory("snapshot"); err == nil {
		t.Error("expected error for invalid category")
	}
}
