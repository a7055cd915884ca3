package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
	"github.com/instance-portal/portal-go/pkg/transport"
)

// Manager errors.
var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrNoOrigin         = errors.New("no origin or URL function configured")
)

// Defaults for the manager.
const (
	// DefaultForegroundStaleAfter is the heartbeat age that forces a
	// reconnect when the client returns to the foreground.
	DefaultForegroundStaleAfter = 10 * time.Second

	// DefaultDialTimeout bounds a single dial.
	DefaultDialTimeout = 15 * time.Second
)

// State represents the stream connection state.
type State uint8

const (
	// StateDisconnected indicates no connection and no pending reconnect.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates an open stream.
	StateConnected

	// StateReconnecting indicates the connection was lost and a reconnect is
	// pending, or the reconnect budget is exhausted.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Manager.
type Config struct {
	// Origin is the page origin the stream URL is derived from.
	Origin *url.URL

	// URLFunc overrides the stream URL. It is called on every dial.
	URLFunc func(now time.Time) string

	// Dialer opens the transport. Nil uses a websocket dialer.
	Dialer transport.Dialer

	// Policy computes reconnect delays.
	Policy BackoffPolicy

	// MaxAttempts is the reconnect budget. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// Watchdog configures heartbeat monitoring. Clock and Logger are
	// inherited from the manager when unset.
	Watchdog transport.WatchdogConfig

	// ForegroundStaleAfter is the heartbeat age checked by Foreground.
	ForegroundStaleAfter time.Duration

	// DialTimeout bounds a single dial.
	DialTimeout time.Duration

	// Clock drives timers. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives operational logs. Nil uses slog.Default().
	Logger *slog.Logger

	// EventLogger receives trace events. Nil disables tracing.
	EventLogger portallog.Logger

	// Metrics records stream metrics. Nil disables metrics.
	Metrics *metrics.Collector
}

// Status is a point-in-time view of the manager.
type Status struct {
	State         State
	ConnectionID  string
	URL           string
	Attempts      int
	MaxAttempts   int
	GaveUp        bool
	Paused        bool
	LastHeartbeat time.Time
}

// Manager owns the single log stream connection and recovers it after
// loss with jittered exponential backoff.
//
// All state is guarded by one mutex. Callbacks run outside the lock. Every
// connection gets a new generation; goroutines and timers started for an
// older generation become no-ops.
type Manager struct {
	config      Config
	clock       clock.Clock
	logger      *slog.Logger
	events      portallog.Logger
	metrics     *metrics.Collector
	dialer      transport.Dialer
	urlFunc     func(now time.Time) string
	policy      BackoffPolicy
	maxAttempts int

	mu         sync.Mutex
	state      State
	generation uint64
	conn       transport.Conn
	connID     string
	currentURL string
	watchdog   *transport.Watchdog
	timer      *clock.Timer
	dialCancel context.CancelFunc
	attempts   int
	gaveUp     bool
	paused     bool
	closed     bool

	wg sync.WaitGroup

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func(reason string)
	onLine         func(line string)
	onGiveUp       func()
	onReconnecting func(attempt int, delay time.Duration)
	onStale        func(elapsed time.Duration)
}

// NewManager creates a manager in the DISCONNECTED state.
func NewManager(config Config) (*Manager, error) {
	if config.URLFunc == nil && config.Origin == nil {
		return nil, ErrNoOrigin
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = transport.NewWebsocketDialer()
	}
	urlFunc := config.URLFunc
	if urlFunc == nil {
		origin := config.Origin
		urlFunc = func(now time.Time) string {
			return transport.StreamURL(origin, now)
		}
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if config.ForegroundStaleAfter <= 0 {
		config.ForegroundStaleAfter = DefaultForegroundStaleAfter
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Watchdog.Clock == nil {
		config.Watchdog.Clock = clk
	}
	if config.Watchdog.Logger == nil {
		config.Watchdog.Logger = logger
	}

	return &Manager{
		config:      config,
		clock:       clk,
		logger:      logger,
		events:      portallog.OrNoop(config.EventLogger),
		metrics:     config.Metrics,
		dialer:      dialer,
		urlFunc:     urlFunc,
		policy:      config.Policy.withDefaults(),
		maxAttempts: maxAttempts,
		state:       StateDisconnected,
	}, nil
}

// actions are deferred side effects run after the lock is released.
type actions []func()

func (a *actions) add(fn func()) {
	*a = append(*a, fn)
}

func (a actions) run() {
	for _, fn := range a {
		fn()
	}
}

// Connect starts a connection attempt. The dial completes asynchronously.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	acts := m.beginConnectLocked()
	m.mu.Unlock()

	acts.run()
	return nil
}

// Reconnect drops the current connection, resets the reconnect budget and
// dials immediately.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.attempts = 0
	m.gaveUp = false
	acts := m.beginConnectLocked()
	m.mu.Unlock()

	m.logger.Info("manual reconnect")
	acts.run()
	return nil
}

// Foreground is called when the client becomes visible again. It reconnects
// unless the stream is connected with a recent heartbeat, or a dial is
// already in progress.
func (m *Manager) Foreground() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	state := m.state
	wd := m.watchdog
	m.mu.Unlock()

	switch {
	case state == StateConnecting:
		return nil
	case state == StateConnected && wd != nil && wd.Elapsed() <= m.config.ForegroundStaleAfter:
		return nil
	}
	m.logger.Debug("foreground check forces reconnect", slog.String("state", state.String()))
	return m.Reconnect()
}

// Disconnect closes the connection and cancels every pending timer. No
// reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	acts := m.disconnectLocked("disconnected by client")
	m.mu.Unlock()

	acts.run()
}

// Close disconnects and waits for the manager's goroutines. The manager is
// unusable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	acts := m.disconnectLocked("manager closed")
	m.closed = true
	m.mu.Unlock()

	acts.run()
	m.wg.Wait()
	return nil
}

// SetPaused controls whether lines are forwarded to OnLine. Lines received
// while paused are dropped.
func (m *Manager) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true if the stream is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the number of reconnects scheduled since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:        m.state,
		ConnectionID: m.connID,
		URL:          m.currentURL,
		Attempts:     m.attempts,
		MaxAttempts:  m.maxAttempts,
		GaveUp:       m.gaveUp,
		Paused:       m.paused,
	}
	if m.watchdog != nil {
		s.LastHeartbeat = m.watchdog.LastHeartbeat()
	}
	return s
}

// beginConnectLocked tears down whatever is current and starts a dial for a
// new generation.
func (m *Manager) beginConnectLocked() actions {
	acts := m.teardownLocked()

	m.generation++
	gen := m.generation
	m.connID = uuid.NewString()
	m.currentURL = m.urlFunc(m.clock.Now())
	acts = append(acts, m.setStateLocked(StateConnecting, "")...)

	ctx, cancel := m.clock.WithTimeout(context.Background(), m.config.DialTimeout)
	m.dialCancel = cancel

	connID, target := m.connID, m.currentURL
	m.wg.Add(1)
	acts.add(func() {
		m.logger.Info("connecting", slog.String("url", target), slog.String("conn_id", connID))
		go m.dial(ctx, cancel, gen, connID, target)
	})
	return acts
}

// teardownLocked cancels timers, the watchdog, any dial in flight and closes
// the transport. The close runs after unlock.
func (m *Manager) teardownLocked() actions {
	var acts actions

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if conn := m.conn; conn != nil {
		m.conn = nil
		acts.add(func() {
			if err := conn.Close(); err != nil {
				m.logger.Debug("close transport", slog.Any("error", err))
			}
		})
	}
	return acts
}

func (m *Manager) disconnectLocked(reason string) actions {
	acts := m.teardownLocked()
	m.generation++

	wasConnected := m.state == StateConnected
	m.attempts = 0
	m.gaveUp = false
	acts = append(acts, m.setStateLocked(StateDisconnected, reason)...)

	if wasConnected {
		if fn := m.onDisconnected; fn != nil {
			acts.add(func() { fn(reason) })
		}
	}
	return acts
}

// setStateLocked changes state and returns the notifications for it.
func (m *Manager) setStateLocked(newState State, reason string) actions {
	var acts actions
	oldState := m.state
	if oldState == newState {
		return acts
	}
	m.state = newState

	event := m.eventLocked(portallog.CategoryState)
	event.StateChange = &portallog.StateChangeEvent{
		Entity:   portallog.StateEntityConnection,
		OldState: oldState.String(),
		NewState: newState.String(),
		Reason:   reason,
	}
	fn := m.onStateChange
	acts.add(func() {
		m.events.Log(event)
		m.metrics.SetStreamState(newState.String())
		if fn != nil {
			fn(oldState, newState)
		}
	})
	return acts
}

func (m *Manager) eventLocked(category portallog.Category) portallog.Event {
	return portallog.Event{
		Timestamp:    m.clock.Now(),
		ConnectionID: m.connID,
		Layer:        portallog.LayerStream,
		Category:     category,
		Target:       m.currentURL,
	}
}

// dial runs the dial for gen and, on success, becomes its reader.
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, connID, target string) {
	defer m.wg.Done()

	conn, err := m.dialer.Dial(ctx, target)
	cancel()
	if err != nil {
		m.handleLoss(gen, fmt.Sprintf("dial failed: %v", err))
		return
	}

	m.mu.Lock()
	if m.generation != gen || m.state != StateConnecting {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.dialCancel = nil
	m.attempts = 0
	m.gaveUp = false

	wd := transport.NewWatchdog(m.config.Watchdog,
		func() error { return m.sendPing(conn, connID, target) },
		conn.IsOpen,
		func(elapsed time.Duration) { m.handleStale(gen, elapsed) },
	)
	m.watchdog = wd
	wd.Start()

	acts := m.setStateLocked(StateConnected, "")
	if fn := m.onConnected; fn != nil {
		acts.add(fn)
	}
	m.mu.Unlock()

	m.logger.Info("stream connected", slog.String("url", target), slog.String("conn_id", connID))
	acts.run()

	m.readLoop(gen, conn, wd, connID, target)
}

func (m *Manager) sendPing(conn transport.Conn, connID, target string) error {
	err := conn.WriteText(transport.FramePing)
	if err == nil {
		m.events.Log(portallog.Event{
			Timestamp:    m.clock.Now(),
			ConnectionID: connID,
			Direction:    portallog.DirectionOut,
			Layer:        portallog.LayerTransport,
			Category:     portallog.CategoryControl,
			Target:       target,
			ControlMsg:   &portallog.ControlMsgEvent{Type: portallog.ControlMsgPing},
		})
	}
	return err
}

// readLoop delivers the lines of one connection in transport order.
func (m *Manager) readLoop(gen uint64, conn transport.Conn, wd *transport.Watchdog, connID, target string) {
	for {
		payload, err := conn.ReadText()
		if err != nil {
			m.handleLoss(gen, transport.CloseReason(err))
			return
		}
		wd.Touch()

		event := portallog.Event{
			Timestamp:    m.clock.Now(),
			ConnectionID: connID,
			Direction:    portallog.DirectionIn,
			Layer:        portallog.LayerTransport,
			Target:       target,
		}

		if transport.IsControlFrame(payload) {
			event.Category = portallog.CategoryControl
			event.ControlMsg = &portallog.ControlMsgEvent{Type: portallog.ControlMsgPong}
			if payload == transport.FrameHeartbeat {
				event.ControlMsg.Type = portallog.ControlMsgHeartbeat
			}
			m.events.Log(event)
			continue
		}
		if payload == "" {
			continue
		}

		m.mu.Lock()
		current := m.generation == gen
		paused := m.paused
		onLine := m.onLine
		m.mu.Unlock()
		if !current {
			return
		}

		event.Category = portallog.CategoryMessage
		event.Frame = portallog.NewFrameEvent(payload, paused)
		m.events.Log(event)
		m.metrics.IncLine(paused)

		if paused || onLine == nil {
			continue
		}
		onLine(payload)
	}
}

// handleStale treats a silent connection as lost.
func (m *Manager) handleStale(gen uint64, elapsed time.Duration) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	onStale := m.onStale
	event := m.eventLocked(portallog.CategoryError)
	event.Error = &portallog.ErrorEventData{
		Layer:   portallog.LayerStream,
		Message: fmt.Sprintf("no heartbeat for %s", elapsed),
		Context: "heartbeat watchdog",
	}
	acts := m.lossLocked(fmt.Sprintf("stale: no heartbeat for %s", elapsed.Round(time.Second)))
	m.mu.Unlock()

	m.events.Log(event)
	m.metrics.IncStale()
	if onStale != nil {
		onStale(elapsed)
	}
	acts.run()
}

// handleLoss is the single path for close, error and dial failure of gen.
func (m *Manager) handleLoss(gen uint64, reason string) {
	m.mu.Lock()
	if m.closed || m.generation != gen || (m.state != StateConnected && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}
	acts := m.lossLocked(reason)
	m.mu.Unlock()

	acts.run()
}

// lossLocked moves to RECONNECTING and schedules at most one reconnect timer,
// or gives up when the budget is exhausted.
func (m *Manager) lossLocked(reason string) actions {
	acts := m.teardownLocked()

	// Moving to a new generation silences the old reader and watchdog.
	m.generation++
	gen := m.generation
	acts = append(acts, m.setStateLocked(StateReconnecting, reason)...)

	if fn := m.onDisconnected; fn != nil {
		acts.add(func() { fn(reason) })
	}

	event := m.eventLocked(portallog.CategoryState)
	if m.attempts >= m.maxAttempts {
		m.gaveUp = true
		event.Reconnect = &portallog.ReconnectEvent{
			Attempt:     m.attempts,
			MaxAttempts: m.maxAttempts,
			GaveUp:      true,
		}
		attempts := m.attempts
		onGiveUp := m.onGiveUp
		acts.add(func() {
			m.logger.Warn("reconnect budget exhausted", slog.Int("attempts", attempts), slog.String("reason", reason))
			m.events.Log(event)
			m.metrics.IncGiveUp()
			if onGiveUp != nil {
				onGiveUp()
			}
		})
		return acts
	}

	attempt := m.attempts
	delay := m.policy.NextDelay(attempt)
	m.attempts++
	m.timer = m.clock.AfterFunc(delay, func() { m.fireReconnect(gen) })

	event.Reconnect = &portallog.ReconnectEvent{
		Attempt:     attempt,
		MaxAttempts: m.maxAttempts,
		Delay:       delay,
	}
	onReconnecting := m.onReconnecting
	acts.add(func() {
		m.logger.Info("connection lost, reconnect scheduled",
			slog.String("reason", reason),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", m.maxAttempts),
			slog.Duration("delay", delay))
		m.events.Log(event)
		m.metrics.IncReconnect()
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}
	})
	return acts
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || m.generation != gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	acts := m.beginConnectLocked()
	m.mu.Unlock()

	acts.run()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for an opened stream.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for a lost or closed stream.
func (m *Manager) OnDisconnected(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnLine sets a callback for each log line, called in arrival order.
func (m *Manager) OnLine(fn func(line string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLine = fn
}

// OnGiveUp sets a callback for an exhausted reconnect budget.
func (m *Manager) OnGiveUp(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGiveUp = fn
}

// OnReconnecting sets a callback for scheduled reconnects. attempt is zero-based.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnStale sets a callback for connections declared stale by the watchdog.
func (m *Manager) OnStale(fn func(elapsed time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStale = fn
}
