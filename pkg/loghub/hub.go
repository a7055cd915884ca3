package loghub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/instance-portal/portal-go/pkg/logbuffer"
	"github.com/instance-portal/portal-go/pkg/metrics"
)

// Hub defaults.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultSendBuffer        = 256
	DefaultWriteTimeout      = 10 * time.Second

	// LogExtension selects the files that are tailed.
	LogExtension = ".log"

	frameHeartbeat = "heartbeat"
	framePing      = "ping"
	framePong      = "pong"
)

// ErrHubClosed is returned by Start after Close.
var ErrHubClosed = errors.New("log hub closed")

// Config configures a Hub.
type Config struct {
	// Directory holds the *.log files. Empty disables tailing; lines can
	// still be published directly.
	Directory string

	// HistoryLines bounds the replayed history.
	HistoryLines int

	// HeartbeatInterval is the period of "heartbeat" frames.
	HeartbeatInterval time.Duration

	// SendBuffer is the per-subscriber queue length.
	SendBuffer int

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// Format turns raw lines into payloads. Nil uses FormatHTML.
	Format Formatter

	// Poll makes tails poll instead of using inotify.
	Poll bool

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Hub fans log lines out to websocket subscribers.
type Hub struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector
	upgrader websocket.Upgrader

	mu          sync.Mutex
	history     *logbuffer.Ring
	subscribers map[string]*subscriber
	files       map[string]*follower
	watcher     *fsnotify.Watcher
	started     bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Hub. Call Start to begin tailing.
func New(config Config) *Hub {
	if config.HistoryLines <= 0 {
		config.HistoryLines = logbuffer.DefaultHubLines
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultSendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Format == nil {
		config.Format = FormatHTML
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:      config,
		clock:       clk,
		logger:      logger,
		metrics:     config.Metrics,
		history:     logbuffer.New(config.HistoryLines),
		subscribers: make(map[string]*subscriber),
		files:       make(map[string]*follower),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start tails the existing log files and watches the directory for new
// ones. It returns once watching is set up.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if h.started || h.config.Directory == "" {
		h.started = true
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.config.Directory); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", h.config.Directory, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = watcher.Close()
		return ErrHubClosed
	}
	h.watcher = watcher
	h.wg.Add(1)
	h.mu.Unlock()
	go h.watchLoop(watcher)

	entries, err := os.ReadDir(h.config.Directory)
	if err != nil {
		return fmt.Errorf("read %s: %w", h.config.Directory, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		h.follow(filepath.Join(h.config.Directory, entry.Name()))
	}
	return nil
}

func isLogFile(name string) bool {
	return strings.HasSuffix(name, LogExtension)
}

func (h *Hub) watchLoop(watcher *fsnotify.Watcher) {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isLogFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				h.follow(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				h.unfollow(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("log directory watch error", slog.Any("error", err))
		}
	}
}

// Files returns the paths currently tailed.
func (h *Hub) Files() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.files))
	for path := range h.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Publish formats line, appends it to the history and queues it for every
// subscriber. Blank lines are ignored.
func (h *Hub) Publish(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	payload := h.config.Format(line)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.history.Append(payload)
	var slow []*subscriber
	for _, s := range h.subscribers {
		if !s.enqueue(payload) {
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	h.metrics.IncHubLine()
	for _, s := range slow {
		h.logger.Warn("dropping slow log subscriber", slog.String("subscriber", s.id))
		h.drop(s, websocket.ClosePolicyViolation, "too slow")
	}
}

// History returns the buffered payloads, oldest first.
func (h *Hub) History() []string {
	return h.history.Lines()
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and streams log lines until either side
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "log hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	s := newSubscriber(conn, h.config.SendBuffer)
	backlog := h.history.Lines()
	h.subscribers[s.id] = s
	n := len(h.subscribers)
	heartbeat := h.clock.Ticker(h.config.HeartbeatInterval)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.logger.Info("log subscriber connected", slog.String("subscriber", s.id), slog.String("remote", r.RemoteAddr))

	go h.writeLoop(s, backlog, heartbeat)
	go h.readLoop(s)
}

func (h *Hub) writeLoop(s *subscriber, backlog []string, heartbeat *clock.Ticker) {
	defer h.wg.Done()
	defer heartbeat.Stop()

	for _, payload := range backlog {
		if err := h.write(s, payload); err != nil {
			h.drop(s, 0, "")
			return
		}
	}

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if err := h.write(s, payload); err != nil {
				h.drop(s, 0, "")
				return
			}
		case <-heartbeat.C:
			if err := h.write(s, frameHeartbeat); err != nil {
				h.drop(s, 0, "")
				return
			}
		}
	}
}

func (h *Hub) write(s *subscriber, payload string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (h *Hub) readLoop(s *subscriber) {
	defer h.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			h.drop(s, 0, "")
			return
		}
		if string(data) == framePing && !s.enqueue(framePong) {
			h.drop(s, websocket.ClosePolicyViolation, "too slow")
			return
		}
	}
}

// drop unregisters s and closes its connection, sending a close frame
// when code is non-zero.
func (h *Hub) drop(s *subscriber, code int, reason string) {
	h.mu.Lock()
	_, ok := h.subscribers[s.id]
	delete(h.subscribers, s.id)
	n := len(h.subscribers)
	h.mu.Unlock()

	if !s.close(code, reason) {
		return
	}
	if ok {
		h.metrics.SetSubscribers(n)
		h.logger.Info("log subscriber disconnected", slog.String("subscriber", s.id))
	}
}

// Close stops tailing, disconnects all subscribers and waits for the hub's
// goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	watcher := h.watcher
	followers := make([]*follower, 0, len(h.files))
	for _, f := range h.files {
		followers = append(followers, f)
	}
	h.files = make(map[string]*follower)
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()

	h.cancel()

	var err error
	if watcher != nil {
		err = multierr.Append(err, watcher.Close())
	}
	for _, f := range followers {
		err = multierr.Append(err, f.stop())
	}
	for _, s := range subs {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
	h.metrics.SetSubscribers(0)

	h.wg.Wait()
	return err
}
