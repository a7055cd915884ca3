package api

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRecordAndList(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []Transition{
		{Kind: "quick", TargetURL: "http://localhost:8080", TunnelURL: "https://a.example.com", NewStatus: "pending", At: base},
		{Kind: "quick", TargetURL: "http://localhost:8080", TunnelURL: "https://a.example.com", OldStatus: "pending", NewStatus: "active", At: base.Add(time.Second)},
		{Kind: "named", TargetURL: "http://localhost:1111", TunnelURL: "https://portal.example.com", OldStatus: "pending", NewStatus: "error", At: base.Add(2 * time.Second)},
	}
	for i := range records {
		if err := store.RecordTransition(&records[i]); err != nil {
			t.Fatalf("Failed to record transition: %v", err)
		}
		if records[i].ID == 0 {
			t.Errorf("Expected ID to be set for record %d", i)
		}
	}

	all, err := store.ListTransitions("", 0, 0)
	if err != nil {
		t.Fatalf("Failed to list transitions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 transitions, got %d", len(all))
	}
	if all[0].TargetURL != "http://localhost:1111" {
		t.Errorf("Expected most recent first, got %q", all[0].TargetURL)
	}
	if !all[0].At.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Expected time %v, got %v", base.Add(2*time.Second), all[0].At)
	}
	if all[2].OldStatus != "" {
		t.Errorf("Expected empty old status, got %q", all[2].OldStatus)
	}

	filtered, err := store.ListTransitions("http://localhost:8080", 1, 0)
	if err != nil {
		t.Fatalf("Failed to list transitions: %v", err)
	}
	if len(filtered) != 1 || filtered[0].NewStatus != "active" {
		t.Errorf("Expected the latest transition of the target, got %+v", filtered)
	}

	count, err := store.CountTransitions()
	if err != nil {
		t.Fatalf("Failed to count transitions: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3, got %d", count)
	}
}

func TestStoreRecordDefaultsTime(t *testing.T) {
	store := newTestStore(t)

	tr := Transition{Kind: "quick", TargetURL: "t", TunnelURL: "u", NewStatus: "pending"}
	if err := store.RecordTransition(&tr); err != nil {
		t.Fatalf("Failed to record transition: %v", err)
	}
	if tr.At.IsZero() {
		t.Error("Expected At to be set")
	}
}

func TestStorePrune(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		tr := Transition{Kind: "quick", TargetURL: "t", TunnelURL: "u", NewStatus: "active", At: base.Add(time.Duration(i) * time.Hour)}
		if err := store.RecordTransition(&tr); err != nil {
			t.Fatalf("Failed to record transition: %v", err)
		}
	}

	removed, err := store.PruneBefore(base.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	count, _ := store.CountTransitions()
	if count != 2 {
		t.Errorf("Expected 2 remaining, got %d", count)
	}
}
