// Command portal-logs follows the instance log stream of a portal from a
// terminal. It reconnects with backoff after connection loss and detects
// silently dead connections through heartbeats.
//
// Usage:
//
//	portal-logs [flags] <origin>
//
// Flags:
//
//	-config string      Portal configuration file for stream tuning
//	-manager string     Tunnel manager base URL for the tunnels command
//	-trace string       Write trace events to this .plog file
//	-metrics string     Serve Prometheus metrics on this address
//	-lines int          Lines kept for the tail command (default 300)
//	-i                  Start the interactive console
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-log-format string  Log format: text, json (default "text")
//
// Send SIGCONT to force a heartbeat check, as after resuming a suspended
// session.
//
// Examples:
//
//	# Follow a local portal
//	portal-logs localhost:11111
//
//	# Follow through a tunnel with the interactive console
//	portal-logs -i https://portal.example.com
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/instance-portal/portal-go/cmd/portal-logs/interactive"
	"github.com/instance-portal/portal-go/internal/logging"
	"github.com/instance-portal/portal-go/pkg/config"
	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
	"github.com/instance-portal/portal-go/pkg/probe"
	"github.com/instance-portal/portal-go/pkg/transport"
	"github.com/instance-portal/portal-go/pkg/tunnel"
)

var (
	configPath  = flag.String("config", "", "Portal configuration file for stream tuning")
	managerURL  = flag.String("manager", "", "Tunnel manager base URL for the tunnels command")
	tracePath   = flag.String("trace", "", "Write trace events to this .plog file")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
	lines       = flag.Int("lines", 0, "Lines kept for the tail command")
	interact    = flag.Bool("i", false, "Start the interactive console")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "text", "Log format: text, json")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: portal-logs [flags] <origin>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	conf := config.Default()
	if *configPath != "" {
		var err error
		conf, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *lines > 0 {
		conf.Stream.BufferLines = *lines
	}
	if *managerURL != "" {
		conf.Tunnels.ManagerURL = *managerURL
	}

	rawOrigin := flag.Arg(0)
	if rawOrigin == "" {
		rawOrigin = conf.Stream.Origin
	}
	if rawOrigin == "" {
		flag.Usage()
		return 2
	}
	origin, err := transport.ParseOrigin(rawOrigin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid origin: %v\n", err)
		return 1
	}

	var out, logOut io.Writer = os.Stdout, os.Stderr
	var rl *readline.Instance
	if *interact {
		rl, err = interactive.NewReadline()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer rl.Close()
		out, logOut = rl.Stdout(), rl.Stderr()
	}

	logger, err := logging.New(logOut, *logLevel, *logFormat, "portal-logs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	collector := metrics.NewCollector()

	var events portallog.Logger
	if *tracePath != "" {
		fileLogger, err := portallog.NewFileLogger(*tracePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open trace file: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		events = fileLogger
		logger.Info("tracing enabled", slog.String("path", fileLogger.Path()))
	}

	c, err := newClient(clientConfig{
		Origin:      origin,
		Stream:      conf.Stream,
		Out:         out,
		Logger:      logger,
		EventLogger: events,
		Metrics:     collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		srv, err := serveMetrics(*metricsAddr, collector, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer srv.Close()
	}

	go foregroundOnResume(ctx, c, logger)

	if err := c.start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger.Info("following log stream", slog.String("origin", origin.String()))

	if rl == nil {
		<-ctx.Done()
		return 0
	}

	cfg := interactive.Config{
		Stream: c.manager,
		Buffer: c.buffer,
		Prober: probe.New(probe.Config{
			MaxDuration:  conf.Probe.MaxDuration,
			PollInterval: conf.Probe.PollInterval,
			Logger:       logger,
			EventLogger:  events,
			Metrics:      collector,
		}),
		ProbeTimeout: conf.Probe.RedirectBudget,
	}
	if backend, err := tunnel.NewClient(conf.Tunnels.ManagerURL, nil); err == nil {
		cfg.Tunnels = backend
	} else {
		logger.Warn("tunnels command disabled", slog.Any("error", err))
	}
	interactive.New(rl, cfg).Run(ctx, cancel)
	return 0
}

// foregroundOnResume runs a heartbeat check each time the process is
// continued after a stop.
func foregroundOnResume(ctx context.Context, c *client, logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGCONT)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := c.manager.Foreground(); err != nil {
				logger.Debug("foreground check failed", slog.Any("error", err))
			}
		}
	}
}

// serveMetrics exposes the collector on addr until the returned server is
// closed.
func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) (*http.Server, error) {
	handler, err := collector.Handler()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv, nil
}
