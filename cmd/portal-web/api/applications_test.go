package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/instance-portal/portal-go/pkg/portal"
	"github.com/instance-portal/portal-go/pkg/tunnel"
)

type staticSnapshot struct {
	snap portal.Snapshot
}

func (s staticSnapshot) Snapshot() portal.Snapshot { return s.snap }

func testApplicationsAPI() *ApplicationsAPI {
	apps := []portal.Application{
		{Name: "Jupyter", InternalPort: 18080, ExternalPort: 8080, OpenPath: "/lab"},
		{Name: "Orphan", InternalPort: 9999, ExternalPort: 9999},
	}
	tunnels := []tunnel.Info{
		{Kind: tunnel.KindQuick, TargetURL: "http://localhost:18080", TunnelURL: "https://lab.example.com", Status: tunnel.StatusActive},
	}
	return NewApplicationsAPI(staticSnapshot{portal.NewSnapshot(apps, tunnels, nil)})
}

func TestApplicationsList(t *testing.T) {
	a := testApplicationsAPI()

	w := httptest.NewRecorder()
	a.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp ApplicationListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("Expected 2 applications, got %d", resp.Total)
	}
	if resp.Applications[0].QuickTunnelURL != "https://lab.example.com/lab" {
		t.Errorf("Unexpected quick tunnel url %q", resp.Applications[0].QuickTunnelURL)
	}
}

func TestApplicationsLaunch(t *testing.T) {
	a := testApplicationsAPI()

	tests := []struct {
		path string
		want int
		url  string
	}{
		{"/api/v1/applications/Jupyter/launch", http.StatusOK, "https://lab.example.com/lab"},
		{"/api/v1/applications/Orphan/launch", http.StatusNotFound, ""},
		{"/api/v1/applications/Missing/launch", http.StatusNotFound, ""},
		{"/api/v1/applications/Jupyter", http.StatusNotFound, ""},
		{"/api/v1/applications//launch", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			a.HandleLaunch(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.want {
				t.Fatalf("Expected status %d, got %d", tt.want, w.Code)
			}
			if tt.url == "" {
				return
			}
			var resp LaunchResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if resp.URL != tt.url {
				t.Errorf("Expected url %q, got %q", tt.url, resp.URL)
			}
		})
	}
}
