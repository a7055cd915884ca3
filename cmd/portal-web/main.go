// Command portal-web serves the instance portal: it streams the instance
// log files to browsers, tracks the tunnels exposed by the tunnel manager
// and sends insecure visitors to a secure tunnel.
//
// It offers:
//   - /ws-logs websocket with backlog replay and heartbeats
//   - REST API for tunnels, tunnel history and applications
//   - SQLite persistence for tunnel status history
//   - Prometheus metrics on /metrics
//
// Usage:
//
//	portal-web [flags]
//
// Flags:
//
//	-addr string        HTTP listen address (default ":11111")
//	-config string      Portal configuration file (default "/etc/portal.yaml")
//	-logs string        Directory of *.log files to stream
//	-manager string     Tunnel manager base URL
//	-db string          SQLite database path (default "./portal-web.db")
//	-trace string       Write trace events to this .plog file
//	-plain              Stream plain text instead of HTML
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-log-format string  Log format: text, json (default "text")
//
// Examples:
//
//	# Serve with the default configuration
//	portal-web
//
//	# Use an in-memory database and a local log directory
//	portal-web -db :memory: -logs ./logs
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/instance-portal/portal-go/internal/logging"
	"github.com/instance-portal/portal-go/pkg/config"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	addr        = flag.String("addr", ":11111", "HTTP listen address")
	configPath  = flag.String("config", config.DefaultPath, "Portal configuration file")
	logDir      = flag.String("logs", "", "Directory of *.log files to stream (overrides config)")
	managerURL  = flag.String("manager", "", "Tunnel manager base URL (overrides config)")
	dbPath      = flag.String("db", "./portal-web.db", "SQLite database path")
	tracePath   = flag.String("trace", "", "Write trace events to this .plog file")
	plain       = flag.Bool("plain", false, "Stream plain text instead of HTML")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "text", "Log format: text, json")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("portal-web %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	logger, err := logging.New(os.Stderr, *logLevel, *logFormat, "portal-web")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	conf, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *logDir != "" {
		conf.Logs.Directory = *logDir
	}
	if *managerURL != "" {
		conf.Tunnels.ManagerURL = *managerURL
	}

	srv, err := NewServer(ServerConfig{
		Addr:      *addr,
		Config:    conf,
		DBPath:    *dbPath,
		TracePath: *tracePath,
		PlainLogs: *plain,
		Version:   Version,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create server: %v\n", err)
		return 1
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting portal web",
		slog.String("addr", *addr),
		slog.String("logs", conf.Logs.Directory),
		slog.String("manager", conf.Tunnels.ManagerURL),
		slog.Int("applications", len(conf.Applications)))

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		return 1
	}
	return 0
}
