package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/instance-portal/portal-go/pkg/portal"
)

const applicationsPrefix = "/api/v1/applications/"

// SnapshotSource provides the current applications view.
type SnapshotSource interface {
	Snapshot() portal.Snapshot
}

// ApplicationsAPI handles application endpoints.
type ApplicationsAPI struct {
	source SnapshotSource
}

// NewApplicationsAPI creates a new applications API handler.
func NewApplicationsAPI(source SnapshotSource) *ApplicationsAPI {
	return &ApplicationsAPI{source: source}
}

// HandleList handles GET /api/v1/applications.
func (a *ApplicationsAPI) HandleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	views := a.source.Snapshot().Views()
	writeJSONResponse(w, http.StatusOK, ApplicationListResponse{Applications: views, Total: len(views)})
}

// HandleLaunch handles GET /api/v1/applications/{name}/launch.
func (a *ApplicationsAPI) HandleLaunch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(req.URL.EscapedPath(), applicationsPrefix)
	if !strings.HasSuffix(rest, "/launch") {
		writeJSONError(w, http.StatusNotFound, "Not found", "")
		return
	}
	name, err := url.PathUnescape(strings.TrimSuffix(rest, "/launch"))
	if err != nil || name == "" {
		writeJSONError(w, http.StatusBadRequest, "Application name is required", "")
		return
	}

	snap := a.source.Snapshot()
	app, ok := snap.Application(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Application not found", name)
		return
	}
	u, err := snap.LaunchURL(app)
	if errors.Is(err, portal.ErrNoURL) {
		writeJSONError(w, http.StatusNotFound, "No URL is available", name)
		return
	}
	writeJSONResponse(w, http.StatusOK, LaunchResponse{Name: name, URL: u})
}
