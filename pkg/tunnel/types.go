package tunnel

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Tunnel errors.
var (
	ErrNotFound = errors.New("tunnel not found")
	ErrNotQuick = errors.New("only quick tunnels can be stopped or refreshed")
)

// Kind distinguishes configured tunnels from on-demand ones.
type Kind string

const (
	// KindNamed is a tunnel configured ahead of time.
	KindNamed Kind = "named"

	// KindQuick is a tunnel created on demand with a random URL.
	KindQuick Kind = "quick"
)

// Status is the reachability of a tunnel as last observed.
type Status string

const (
	// StatusPending means the tunnel has not been confirmed reachable yet.
	StatusPending Status = "pending"

	// StatusActive means the last probe got a response.
	StatusActive Status = "active"

	// StatusError means the tunnel could not be reached.
	StatusError Status = "error"
)

// Handle is one tunnel. Kind, target and creation time are fixed; the
// tunnel URL changes on refresh and the status changes on every probe.
type Handle struct {
	kind      Kind
	targetURL string
	createdAt time.Time

	mu        sync.RWMutex
	tunnelURL string
	status    Status
}

// NewHandle creates a pending handle.
func NewHandle(kind Kind, targetURL, tunnelURL string, createdAt time.Time) *Handle {
	return &Handle{
		kind:      kind,
		targetURL: targetURL,
		createdAt: createdAt,
		tunnelURL: tunnelURL,
		status:    StatusPending,
	}
}

// Kind returns the tunnel kind.
func (h *Handle) Kind() Kind { return h.kind }

// TargetURL returns the local URL being tunnelled.
func (h *Handle) TargetURL() string { return h.targetURL }

// CreatedAt returns when the handle was created.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// TunnelURL returns the public tunnel URL.
func (h *Handle) TunnelURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tunnelURL
}

// Status returns the last observed status.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// IsActive reports whether the last probe succeeded.
func (h *Handle) IsActive() bool {
	return h.Status() == StatusActive
}

// setStatus stores status and returns the previous one.
func (h *Handle) setStatus(status Status) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.status
	h.status = status
	return old
}

// setStatusIf stores status only while the tunnel URL is still tunnelURL.
func (h *Handle) setStatusIf(tunnelURL string, status Status) (Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tunnelURL != tunnelURL {
		return h.status, false
	}
	old := h.status
	h.status = status
	return old, true
}

// replaceURL points the handle at a new tunnel URL and resets it to pending.
func (h *Handle) replaceURL(tunnelURL string) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.status
	h.tunnelURL = tunnelURL
	h.status = StatusPending
	return old
}

// Info is a serialisable snapshot of a Handle.
type Info struct {
	Kind      Kind      `json:"type"`
	TargetURL string    `json:"targetUrl"`
	TunnelURL string    `json:"tunnelUrl"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Info{
		Kind:      h.kind,
		TargetURL: h.targetURL,
		TunnelURL: h.tunnelURL,
		Status:    h.status,
		CreatedAt: h.createdAt,
	}
}

// String renders the handle for logs and the console.
func (h *Handle) String() string {
	info := h.Info()
	return fmt.Sprintf("%s tunnel: %s → %s (%s)", info.Kind, info.TargetURL, info.TunnelURL, info.Status)
}
