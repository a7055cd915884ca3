package portal

import (
	"context"
	"log/slog"
	"time"

	"github.com/instance-portal/portal-go/pkg/tunnel"
)

// Redirect defaults.
const (
	// DefaultRedirectBudget bounds the quick tunnel probe before redirecting.
	DefaultRedirectBudget = 15 * time.Second

	// DefaultRedirectPoll is the pause between polls of that probe.
	DefaultRedirectPoll = 500 * time.Millisecond
)

// Action is the outcome of a redirect decision.
type Action int

const (
	// Stay keeps the visitor where they are.
	Stay Action = iota

	// Redirect sends the visitor to Decision.URL.
	Redirect
)

// String returns the action name.
func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "stay"
}

// Decision tells the portal page where to go.
type Decision struct {
	Action Action `json:"-"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason"`
}

// Redirector moves visitors of the insecure direct address to a tunnel.
type Redirector struct {
	Prober       tunnel.Prober
	Budget       time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Decide picks the redirect for a visitor of the portal. secure is true for
// TLS requests; optOut is true when the visitor asked for redir=false.
//
// A named tunnel is trusted without probing. A quick tunnel is used only
// when it answers within the budget. Otherwise the visitor is sent to the
// direct URL, which carries the opt-out flag, or stays when there is none.
func (r *Redirector) Decide(ctx context.Context, snap Snapshot, secure, optOut bool) Decision {
	if secure {
		return Decision{Action: Stay, Reason: "secure context"}
	}
	if optOut {
		return Decision{Action: Stay, Reason: "redirect disabled"}
	}
	apps := snap.FindByPort(PortalPort)
	if len(apps) == 0 {
		return Decision{Action: Stay, Reason: "portal application not configured"}
	}
	app := apps[0]

	if _, ok := snap.NamedTunnel(app); ok {
		if u := snap.NamedTunnelURL(app); u != "" {
			return Decision{Action: Redirect, URL: u, Reason: "named tunnel"}
		}
	}

	if t, ok := snap.QuickTunnel(app); ok && t.TunnelURL != "" && r.Prober != nil {
		budget := r.Budget
		if budget <= 0 {
			budget = DefaultRedirectBudget
		}
		poll := r.PollInterval
		if poll <= 0 {
			poll = DefaultRedirectPoll
		}
		reachable, err := r.Prober.ProbeWithin(ctx, t.TunnelURL, budget, poll)
		if err != nil {
			r.logger().Warn("quick tunnel cannot be probed", slog.String("tunnel", t.TunnelURL), slog.Any("error", err))
		}
		if reachable {
			return Decision{Action: Redirect, URL: snap.QuickTunnelURL(app), Reason: "quick tunnel reachable"}
		}
	}

	if u := snap.DirectURLFull(app); u != "" {
		return Decision{Action: Redirect, URL: u, Reason: "direct url"}
	}
	return Decision{Action: Stay, Reason: "no tunnel available"}
}

func (r *Redirector) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
