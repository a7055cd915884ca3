package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Watchdog constants.
const (
	// DefaultPingInterval is the interval between client pings.
	DefaultPingInterval = 5 * time.Second

	// DefaultCheckInterval is the interval between staleness checks.
	DefaultCheckInterval = 5 * time.Second

	// DefaultStaleAfter is the silence after which an open connection is stale.
	DefaultStaleAfter = 30 * time.Second
)

// WatchdogConfig configures heartbeat monitoring.
type WatchdogConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// CheckInterval is the interval between staleness checks.
	CheckInterval time.Duration

	// StaleAfter is the maximum silence tolerated on an open connection.
	StaleAfter time.Duration

	// Clock drives the tickers. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives debug output. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultWatchdogConfig returns the default heartbeat configuration.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		PingInterval:  DefaultPingInterval,
		CheckInterval: DefaultCheckInterval,
		StaleAfter:    DefaultStaleAfter,
	}
}

// Watchdog detects connections that are open but silently dead.
//
// It never closes the connection itself: on staleness it reports once
// through onStale and stops, leaving recovery to its owner.
type Watchdog struct {
	config WatchdogConfig
	clock  clock.Clock
	logger *slog.Logger

	// Callbacks
	sendPing func() error
	isOpen   func() bool
	onStale  func(elapsed time.Duration)

	mu            sync.Mutex
	lastHeartbeat time.Time
	running       bool
	stopCh        chan struct{}
}

// NewWatchdog creates a watchdog. sendPing emits an application-level ping,
// isOpen reports whether the transport considers itself open, and onStale is
// invoked at most once per Start.
func NewWatchdog(config WatchdogConfig, sendPing func() error, isOpen func() bool, onStale func(elapsed time.Duration)) *Watchdog {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watchdog{
		config:   config,
		clock:    clk,
		logger:   logger,
		sendPing: sendPing,
		isOpen:   isOpen,
		onStale:  onStale,
	}
}

// Start records a heartbeat and begins pinging and staleness checks.
// Calling Start on a running watchdog is a no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.lastHeartbeat = w.clock.Now()
	stopCh := make(chan struct{})
	w.stopCh = stopCh

	// Tickers are created before returning so that a caller advancing a
	// mock clock right after Start observes them.
	pingTicker := w.clock.Ticker(w.config.PingInterval)
	checkTicker := w.clock.Ticker(w.config.CheckInterval)
	w.mu.Unlock()

	go w.loop(stopCh, pingTicker, checkTicker)
}

// Stop cancels pinging and staleness checks. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
}

// Touch records liveness evidence. Any inbound frame counts.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.mu.Unlock()
}

// LastHeartbeat returns the time of the last recorded liveness evidence.
func (w *Watchdog) LastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHeartbeat
}

// Elapsed returns the time since the last recorded liveness evidence.
func (w *Watchdog) Elapsed() time.Duration {
	return w.clock.Since(w.LastHeartbeat())
}

// IsRunning returns true if monitoring is active.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// loop is the monitoring loop of one Start cycle.
func (w *Watchdog) loop(stopCh chan struct{}, pingTicker, checkTicker *clock.Ticker) {
	defer pingTicker.Stop()
	defer checkTicker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-pingTicker.C:
			w.ping()
		case <-checkTicker.C:
			if w.check(stopCh) {
				return
			}
		}
	}
}

// ping sends a ping if the transport is open. Failures are left to the
// staleness check.
func (w *Watchdog) ping() {
	if !w.isOpen() {
		return
	}
	if err := w.sendPing(); err != nil {
		w.logger.Debug("ping failed", slog.Any("error", err))
	}
}

// check evaluates staleness for the cycle owning stopCh and reports whether
// the cycle is over.
func (w *Watchdog) check(stopCh chan struct{}) bool {
	if !w.isOpen() {
		return false
	}

	w.mu.Lock()
	if !w.running || w.stopCh != stopCh {
		w.mu.Unlock()
		return true
	}
	elapsed := w.clock.Since(w.lastHeartbeat)
	if elapsed <= w.config.StaleAfter {
		w.mu.Unlock()
		return false
	}
	w.running = false
	close(stopCh)
	w.mu.Unlock()

	w.logger.Warn("no heartbeat, connection stale", slog.Duration("elapsed", elapsed))
	if w.onStale != nil {
		w.onStale(elapsed)
	}
	return true
}
