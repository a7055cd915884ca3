package commands

import (
	"path/filepath"
	"testing"
	"time"

	portallog "github.com/instance-portal/portal-go/pkg/log"
)

func readTrace(t *testing.T, path string) []portallog.Event {
	t.Helper()
	reader, err := portallog.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()
	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	return events
}

func TestFilterByConnectionID(t *testing.T) {
	events := []portallog.Event{
		{Timestamp: baseTime, ConnectionID: "conn-1", Category: portallog.CategoryMessage},
		{Timestamp: baseTime, ConnectionID: "conn-2", Category: portallog.CategoryMessage},
		{Timestamp: baseTime, ConnectionID: "conn-1", Category: portallog.CategoryControl},
	}
	path := createTestTraceFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.plog")

	count, err := RunFilter(path, outPath, FilterOptions{ConnID: "conn-1"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
	for _, e := range readTrace(t, outPath) {
		if e.ConnectionID != "conn-1" {
			t.Errorf("expected conn-1, got %s", e.ConnectionID)
		}
	}
}

func TestFilterByTimeRangeAndTarget(t *testing.T) {
	path := createTestTraceFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.plog")

	count, err := RunFilter(path, outPath, FilterOptions{
		TimeStart: baseTime.Add(time.Second).Format(time.RFC3339),
		TimeEnd:   baseTime.Add(10 * time.Second).Format(time.RFC3339),
		Target:    "quick.example.com",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}

	events := readTrace(t, outPath)
	if events[0].Probe == nil || events[1].StateChange == nil {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestFilterByCategoryAndDirection(t *testing.T) {
	path := createTestTraceFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.plog")

	count, err := RunFilter(path, outPath, FilterOptions{Category: "state", Direction: "in"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 state events, got %d", count)
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestTraceFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.plog")

	if _, err := RunFilter(path, outPath, FilterOptions{TimeEnd: "never"}); err == nil {
		t.Error("expected error for invalid time-end")
	}
	if _, err := RunFilter(path, outPath, FilterOptions{Layer: "service"}); err == nil {
		t.Error("expected error for invalid layer")
	}
}
