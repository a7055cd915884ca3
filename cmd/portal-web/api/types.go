// Package api provides the HTTP API handlers of the portal web server.
package api

import (
	"time"

	"github.com/instance-portal/portal-go/pkg/portal"
	"github.com/instance-portal/portal-go/pkg/tunnel"
)

// Transition is one recorded tunnel status change.
type Transition struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	TargetURL string    `json:"target_url"`
	TunnelURL string    `json:"tunnel_url"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	At        time.Time `json:"at"`
}

// TunnelListResponse is the response for GET /api/v1/tunnels.
type TunnelListResponse struct {
	Tunnels []tunnel.Info `json:"tunnels"`
	Total   int           `json:"total"`
}

// HistoryResponse is the response for GET /api/v1/tunnels/history.
type HistoryResponse struct {
	Transitions []Transition `json:"transitions"`
	Total       int          `json:"total"`
}

// ApplicationListResponse is the response for GET /api/v1/applications.
type ApplicationListResponse struct {
	Applications []portal.View `json:"applications"`
	Total        int           `json:"total"`
}

// LaunchResponse is the response for GET /api/v1/applications/{name}/launch.
type LaunchResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
