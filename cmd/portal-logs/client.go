package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/instance-portal/portal-go/pkg/config"
	"github.com/instance-portal/portal-go/pkg/connection"
	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/logbuffer"
	"github.com/instance-portal/portal-go/pkg/loghub"
	"github.com/instance-portal/portal-go/pkg/metrics"
	"github.com/instance-portal/portal-go/pkg/transport"
)

// clientConfig wires a log stream client.
type clientConfig struct {
	Origin      *url.URL
	Stream      config.StreamConfig
	Dialer      transport.Dialer
	Out         io.Writer
	Clock       clock.Clock
	Logger      *slog.Logger
	EventLogger portallog.Logger
	Metrics     *metrics.Collector
}

// client prints the portal's log stream and keeps the last lines for the
// console.
type client struct {
	manager *connection.Manager
	buffer  *logbuffer.Ring
	logger  *slog.Logger
	clock   clock.Clock

	mu  sync.Mutex
	out io.Writer
}

func newClient(cfg clientConfig) (*client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	m, err := connection.NewManager(connection.Config{
		Origin:               cfg.Origin,
		Dialer:               cfg.Dialer,
		Policy:               cfg.Stream.BackoffPolicy(),
		MaxAttempts:          cfg.Stream.MaxAttempts,
		Watchdog:             cfg.Stream.WatchdogConfig(),
		ForegroundStaleAfter: cfg.Stream.ForegroundStaleAfter,
		DialTimeout:          cfg.Stream.DialTimeout,
		Clock:                cfg.Clock,
		Logger:               cfg.Logger,
		EventLogger:          cfg.EventLogger,
		Metrics:              cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c := &client{
		manager: m,
		buffer:  logbuffer.New(cfg.Stream.BufferLines),
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		out:     cfg.Out,
	}

	m.OnLine(c.handleLine)
	m.OnStateChange(func(oldState, newState connection.State) {
		c.logger.Debug("stream state changed",
			slog.String("from", oldState.String()),
			slog.String("to", newState.String()))
	})
	m.OnConnected(func() {
		c.printf("[portal-logs] connected at %s\n", c.clock.Now().Format(time.TimeOnly))
	})
	m.OnStale(func(elapsed time.Duration) {
		c.printf("[portal-logs] connection stale (no heartbeat for %s), reconnecting\n", elapsed.Round(time.Second))
	})
	m.OnDisconnected(func(reason string) {
		c.printf("[portal-logs] disconnected: %s\n", reason)
	})
	m.OnReconnecting(func(attempt int, delay time.Duration) {
		c.printf("[portal-logs] retrying in %s (attempt %d)\n", delay.Round(time.Millisecond), attempt+1)
	})
	m.OnGiveUp(func() {
		c.printf("[portal-logs] gave up after %d attempts; type 'reconnect' to try again\n", m.Attempts())
	})
	return c, nil
}

func (c *client) handleLine(line string) {
	text := loghub.StripMarkup(line)
	c.buffer.Append(text)
	c.printf("%s\n", text)
}

func (c *client) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *client) start() error {
	return c.manager.Connect()
}

func (c *client) close() error {
	return c.manager.Close()
}
