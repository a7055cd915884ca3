package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/instance-portal/portal-go/pkg/tunnel"
)

const quickPrefix = "/api/v1/tunnels/quick/"

// TunnelRegistry is the part of tunnel.Registry the API uses.
type TunnelRegistry interface {
	Infos() []tunnel.Info
	CreateQuick(ctx context.Context, target string) (*tunnel.Handle, error)
	StopQuick(ctx context.Context, target string) error
	RefreshQuick(ctx context.Context, target string) (*tunnel.Handle, error)
}

// TunnelsAPI handles tunnel endpoints.
type TunnelsAPI struct {
	registry TunnelRegistry
	store    *Store
}

// NewTunnelsAPI creates a new tunnels API handler.
func NewTunnelsAPI(registry TunnelRegistry, store *Store) *TunnelsAPI {
	return &TunnelsAPI{registry: registry, store: store}
}

// HandleList handles GET /api/v1/tunnels.
func (a *TunnelsAPI) HandleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := a.registry.Infos()
	writeJSONResponse(w, http.StatusOK, TunnelListResponse{Tunnels: infos, Total: len(infos)})
}

// HandleHistory handles GET /api/v1/tunnels/history?target=&limit=&offset=.
func (a *TunnelsAPI) HandleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := req.URL.Query()
	limit, err := intParam(q, "limit", 100)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid limit", err.Error())
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid offset", err.Error())
		return
	}

	transitions, err := a.store.ListTransitions(q.Get("target"), limit, offset)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to list history", err.Error())
		return
	}
	if transitions == nil {
		transitions = []Transition{}
	}
	writeJSONResponse(w, http.StatusOK, HistoryResponse{Transitions: transitions, Total: len(transitions)})
}

// HandleQuick handles quick tunnel operations on
// /api/v1/tunnels/quick/{target}: POST starts, DELETE stops and
// POST .../refresh replaces the tunnel URL. target is path-escaped.
func (a *TunnelsAPI) HandleQuick(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.EscapedPath(), quickPrefix)
	refresh := strings.HasSuffix(rest, "/refresh")
	rest = strings.TrimSuffix(rest, "/refresh")

	target, err := url.PathUnescape(rest)
	if err != nil || target == "" {
		writeJSONError(w, http.StatusBadRequest, "Target is required", "")
		return
	}

	switch {
	case req.Method == http.MethodPost && refresh:
		h, err := a.registry.RefreshQuick(req.Context(), target)
		if err != nil {
			writeTunnelError(w, "Failed to refresh quick tunnel", err)
			return
		}
		writeJSONResponse(w, http.StatusOK, h.Info())
	case req.Method == http.MethodPost:
		h, err := a.registry.CreateQuick(req.Context(), target)
		if err != nil {
			writeTunnelError(w, "Failed to start quick tunnel", err)
			return
		}
		writeJSONResponse(w, http.StatusCreated, h.Info())
	case req.Method == http.MethodDelete && !refresh:
		if err := a.registry.StopQuick(req.Context(), target); err != nil {
			writeTunnelError(w, "Failed to stop quick tunnel", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeTunnelError(w http.ResponseWriter, message string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, tunnel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tunnel.ErrNotQuick):
		status = http.StatusConflict
	}
	writeJSONError(w, status, message, err.Error())
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSONResponse(w, status, ErrorResponse{Error: message, Details: details})
}
