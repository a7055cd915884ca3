package tunnel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
)

// Waiter defaults.
const (
	DefaultWaitAttempts = 10
	DefaultWaitInterval = 1500 * time.Millisecond
	DefaultWaitBudget   = 5 * time.Second
	DefaultWaitPoll     = 500 * time.Millisecond
)

// Prober decides whether a URL answers within a time budget.
// Implemented by probe.Prober.
type Prober interface {
	ProbeWithin(ctx context.Context, target string, maxDuration, pollInterval time.Duration) (bool, error)
}

// WaiterConfig configures a Waiter.
type WaiterConfig struct {
	// MaxAttempts is the number of probe sessions before giving up.
	MaxAttempts int

	// Interval is the pause between failed sessions.
	Interval time.Duration

	// Budget is the time budget of one probe session.
	Budget time.Duration

	// PollInterval is the pause between polls inside a session.
	PollInterval time.Duration

	// OnFailure is called when all attempts failed.
	OnFailure func(h *Handle, attempts int)

	Clock       clock.Clock
	Logger      *slog.Logger
	EventLogger portallog.Logger
	Metrics     *metrics.Collector
}

func (c WaiterConfig) withDefaults() WaiterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultWaitAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultWaitInterval
	}
	if c.Budget <= 0 {
		c.Budget = DefaultWaitBudget
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultWaitPoll
	}
	return c
}

// Waiter confirms that freshly created tunnels answer.
type Waiter struct {
	config WaiterConfig
	prober Prober
	sink   *statusSink

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWaiter creates a Waiter probing through prober.
func NewWaiter(prober Prober, config WaiterConfig) *Waiter {
	config = config.withDefaults()
	sink := newStatusSink(config.Clock, config.Logger, config.EventLogger, config.Metrics)
	return newWaiter(prober, config, sink)
}

func newWaiter(prober Prober, config WaiterConfig, sink *statusSink) *Waiter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Waiter{
		config: config.withDefaults(),
		prober: prober,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnStatusChange sets the callback for status transitions made by the waiter.
func (w *Waiter) OnStatusChange(fn StatusChangeFunc) {
	w.sink.setCallback(fn)
}

// WaitForActive confirms h in the background. It is a no-op after Close.
func (w *Waiter) WaitForActive(h *Handle) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.sink.logger.Debug("waiter closed, not confirming tunnel", slog.String("target", h.TargetURL()))
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.Wait(w.ctx, h)
	}()
}

// Wait probes h until it answers or the attempts are exhausted and returns
// the resulting status. The status stays pending between attempts. When ctx
// is cancelled or h is refreshed meanwhile, Wait returns without touching
// the status.
func (w *Waiter) Wait(ctx context.Context, h *Handle) Status {
	tunnelURL := h.TunnelURL()
	logger := w.sink.logger.With(slog.String("target", h.TargetURL()), slog.String("tunnel", tunnelURL))

	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		ok, err := w.prober.ProbeWithin(ctx, tunnelURL, w.config.Budget, w.config.PollInterval)
		if err != nil {
			logger.Warn("tunnel url cannot be probed", slog.Any("error", err))
			w.fail(h, tunnelURL, attempt, err.Error())
			return h.Status()
		}
		if ctx.Err() != nil || h.TunnelURL() != tunnelURL {
			return h.Status()
		}
		if ok {
			w.sink.update(h, tunnelURL, StatusActive, "reachable")
			logger.Info("tunnel is active", slog.Int("attempt", attempt))
			return h.Status()
		}
		logger.Debug("tunnel not reachable yet", slog.Int("attempt", attempt), slog.Int("max_attempts", w.config.MaxAttempts))
		if attempt == w.config.MaxAttempts {
			break
		}

		timer := w.sink.clock.Timer(w.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return h.Status()
		case <-timer.C:
		}
	}

	logger.Warn("tunnel did not become active", slog.Int("attempts", w.config.MaxAttempts))
	w.fail(h, tunnelURL, w.config.MaxAttempts, "not reachable")
	return h.Status()
}

func (w *Waiter) fail(h *Handle, tunnelURL string, attempts int, reason string) {
	if !w.sink.update(h, tunnelURL, StatusError, reason) {
		return
	}
	if w.config.OnFailure != nil {
		w.config.OnFailure(h, attempts)
	}
}

// Close cancels background waits and blocks until they returned.
func (w *Waiter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}
