package tunnel

import (
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
)

// StatusChangeFunc is called after a handle's status changed.
type StatusChangeFunc func(h *Handle, old, status Status)

// statusSink publishes status transitions to traces, metrics and the
// registered callback. Shared by a Registry and its Waiter.
type statusSink struct {
	clock   clock.Clock
	logger  *slog.Logger
	events  portallog.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	onChange StatusChangeFunc
}

func newStatusSink(clk clock.Clock, logger *slog.Logger, events portallog.Logger, m *metrics.Collector) *statusSink {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &statusSink{
		clock:   clk,
		logger:  logger,
		events:  portallog.OrNoop(events),
		metrics: m,
	}
}

func (s *statusSink) setCallback(fn StatusChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// update writes status to h if its tunnel URL is still tunnelURL.
func (s *statusSink) update(h *Handle, tunnelURL string, status Status, reason string) bool {
	old, ok := h.setStatusIf(tunnelURL, status)
	if !ok {
		return false
	}
	s.changed(h, old, status, reason)
	return true
}

// changed publishes a transition that already happened.
func (s *statusSink) changed(h *Handle, old, status Status, reason string) {
	s.metrics.SetTunnelStatus(string(h.Kind()), h.TargetURL(), string(status))
	if old == status {
		return
	}

	s.events.Log(portallog.Event{
		Timestamp: s.clock.Now(),
		Direction: portallog.DirectionIn,
		Layer:     portallog.LayerTunnel,
		Category:  portallog.CategoryState,
		Target:    h.TunnelURL(),
		StateChange: &portallog.StateChangeEvent{
			Entity:   portallog.StateEntityTunnel,
			OldState: string(old),
			NewState: string(status),
			Reason:   reason,
		},
	})

	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(h, old, status)
	}
}

// removed forgets a handle in metrics.
func (s *statusSink) removed(h *Handle) {
	s.metrics.RemoveTunnel(string(h.Kind()), h.TargetURL())
}
