package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/instance-portal/portal-go/cmd/portal-web/api"
	"github.com/instance-portal/portal-go/pkg/config"
	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/loghub"
	"github.com/instance-portal/portal-go/pkg/metrics"
	"github.com/instance-portal/portal-go/pkg/portal"
	"github.com/instance-portal/portal-go/pkg/probe"
	"github.com/instance-portal/portal-go/pkg/tunnel"
)

const (
	shutdownTimeout  = 5 * time.Second
	historyRetention = 7 * 24 * time.Hour
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr      string
	Config    *config.Config
	DBPath    string
	TracePath string
	PlainLogs bool
	Version   string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Server is the portal web server: the /ws-logs hub, tunnel tracking and
// the application URLs.
type Server struct {
	config  ServerConfig
	clock   clock.Clock
	logger  *slog.Logger
	mux     *http.ServeMux
	server  *http.Server
	store   *api.Store
	metrics *metrics.Collector
	trace   *portallog.FileLogger

	hub        *loghub.Hub
	backend    *tunnel.Client
	registry   *tunnel.Registry
	redirector *portal.Redirector

	tunnelsAPI *api.TunnelsAPI
	appsAPI    *api.ApplicationsAPI

	mu     sync.RWMutex
	direct map[int]string
}

// NewServer creates a new server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	conf := cfg.Config

	store, err := api.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	s := &Server{
		config:  cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
		store:   store,
		metrics: metrics.NewCollector(),
		direct:  make(map[int]string),
	}

	var events portallog.Logger = portallog.NoopLogger{}
	if cfg.TracePath != "" {
		s.trace, err = portallog.NewFileLogger(cfg.TracePath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		events = portallog.NewMultiLogger(s.trace, portallog.NewSlogAdapter(s.logger))
	}

	format := loghub.FormatHTML
	if cfg.PlainLogs {
		format = loghub.FormatPlain
	}
	s.hub = loghub.New(loghub.Config{
		Directory:         conf.Logs.Directory,
		HistoryLines:      conf.Logs.HistoryLines,
		HeartbeatInterval: conf.Logs.HeartbeatInterval,
		Format:            format,
		Clock:             s.clock,
		Logger:            s.logger.With(slog.String("component", "loghub")),
		Metrics:           s.metrics,
	})

	s.backend, err = tunnel.NewClient(conf.Tunnels.ManagerURL, nil)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	prober := probe.New(probe.Config{
		MaxDuration:  conf.Probe.MaxDuration,
		PollInterval: conf.Probe.PollInterval,
		Clock:        s.clock,
		Logger:       s.logger.With(slog.String("component", "probe")),
		EventLogger:  events,
		Metrics:      s.metrics,
	})

	waiter := conf.Tunnels.WaiterConfig()
	waiter.PollInterval = conf.Probe.PollInterval
	waiter.Clock = s.clock
	waiter.OnFailure = func(h *tunnel.Handle, attempts int) {
		s.hub.Publish(fmt.Sprintf("[portal] ERROR %s tunnel for %s did not become reachable after %d attempts", h.Kind(), h.TargetURL(), attempts))
	}
	s.registry, err = tunnel.NewRegistry(tunnel.RegistryConfig{
		API:         s.backend,
		Prober:      prober,
		Waiter:      waiter,
		CheckBudget: conf.Probe.MaxDuration,
		Clock:       s.clock,
		Logger:      s.logger.With(slog.String("component", "tunnel")),
		EventLogger: events,
		Metrics:     s.metrics,
	})
	if err != nil {
		s.closeResources()
		return nil, err
	}
	s.registry.OnStatusChange(s.recordTransition)

	s.redirector = &portal.Redirector{
		Prober:       prober,
		Budget:       conf.Probe.RedirectBudget,
		PollInterval: conf.Probe.PollInterval,
		Logger:       s.logger,
	}

	s.tunnelsAPI = api.NewTunnelsAPI(s.registry, store)
	s.appsAPI = api.NewApplicationsAPI(s)

	if err := s.registerRoutes(); err != nil {
		s.closeResources()
		return nil, err
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() error {
	metricsHandler, err := s.metrics.Handler()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	s.mux.Handle("/ws-logs", s.hub)
	s.mux.HandleFunc("/health.ico", s.handleHealthIcon)
	s.mux.Handle("/metrics", metricsHandler)

	s.mux.HandleFunc("/api/v1/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/info", s.handleInfo)
	s.mux.HandleFunc("/api/v1/redirect", s.handleRedirect)

	s.mux.HandleFunc("/api/v1/tunnels", s.tunnelsAPI.HandleList)
	s.mux.HandleFunc("/api/v1/tunnels/history", s.tunnelsAPI.HandleHistory)
	s.mux.HandleFunc("/api/v1/tunnels/quick/", s.tunnelsAPI.HandleQuick)

	s.mux.HandleFunc("/api/v1/applications", s.appsAPI.HandleList)
	s.mux.HandleFunc("/api/v1/applications/", s.appsAPI.HandleLaunch)

	s.mux.HandleFunc("/", s.handleRoot)
	return nil
}

// Snapshot returns the applications with the current tunnels and direct
// URLs.
func (s *Server) Snapshot() portal.Snapshot {
	s.mu.RLock()
	direct := make(map[int]string, len(s.direct))
	for port, u := range s.direct {
		direct[port] = u
	}
	s.mu.RUnlock()
	return portal.NewSnapshot(s.config.Config.ApplicationList(), s.registry.Infos(), direct)
}

// Refresh reloads tunnels and direct URLs from the tunnel manager.
func (s *Server) Refresh(ctx context.Context) error {
	err := s.registry.Fetch(ctx)

	direct, derr := portal.FetchDirectURLs(ctx, s.backend, s.config.Config.ApplicationList())
	s.mu.Lock()
	for port, u := range direct {
		s.direct[port] = u
	}
	s.mu.Unlock()

	return multierr.Append(err, derr)
}

// recordTransition persists and announces tunnel status changes.
func (s *Server) recordTransition(h *tunnel.Handle, old, status tunnel.Status) {
	t := &api.Transition{
		Kind:      string(h.Kind()),
		TargetURL: h.TargetURL(),
		TunnelURL: h.TunnelURL(),
		OldStatus: string(old),
		NewStatus: string(status),
		At:        s.clock.Now(),
	}
	if err := s.store.RecordTransition(t); err != nil {
		s.logger.Warn("failed to record tunnel transition", slog.Any("error", err))
	}
	if old != "" {
		s.hub.Publish(fmt.Sprintf("[portal] %s tunnel %s → %s is %s", h.Kind(), h.TargetURL(), h.TunnelURL(), status))
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.hub.Start(); err != nil {
		s.logger.Warn("log tailing disabled", slog.Any("error", err))
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.refreshLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-s.registry.StartStatusChecks(gctx, s.config.Config.Tunnels.StatusInterval)
		return nil
	})

	return g.Wait()
}

func (s *Server) refreshLoop(ctx context.Context) {
	interval := s.config.Config.Tunnels.StatusInterval
	if interval <= 0 {
		interval = tunnel.DefaultStatusInterval
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	refresh := func() {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("tunnel refresh incomplete", slog.Any("error", err))
		}
		if _, err := s.store.PruneBefore(s.clock.Now().Add(-historyRetention)); err != nil {
			s.logger.Warn("failed to prune tunnel history", slog.Any("error", err))
		}
	}

	refresh()
	if err := s.registry.CheckAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("initial status check failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// handleHealthIcon answers reachability probes.
func (s *Server) handleHealthIcon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/x-icon")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	version := s.config.Version
	if version == "" {
		version = "dev"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version,
	})
}

// handleInfo returns server information.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transitions, _ := s.store.CountTransitions()
	writeJSON(w, http.StatusOK, map[string]int{
		"application_count": len(s.config.Config.Applications),
		"tunnel_count":      len(s.registry.All()),
		"subscriber_count":  s.hub.Subscribers(),
		"transition_count":  transitions,
	})
}

// handleRedirect returns the redirect decision for the requesting client.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d := s.decide(r)
	writeJSON(w, http.StatusOK, map[string]string{
		"action": d.Action.String(),
		"url":    d.URL,
		"reason": d.Reason,
	})
}

// handleRoot redirects insecure visitors to a tunnel and otherwise lists
// the applications.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d := s.decide(r); d.Action == portal.Redirect {
		http.Redirect(w, r, d.URL, http.StatusTemporaryRedirect)
		return
	}
	s.appsAPI.HandleList(w, r)
}

func (s *Server) decide(r *http.Request) portal.Decision {
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	optOut := r.URL.Query().Get("redir") == "false"
	return s.redirector.Decide(r.Context(), s.Snapshot(), secure, optOut)
}

// Close stops background work and releases the store and trace file.
func (s *Server) Close() error {
	return s.closeResources()
}

func (s *Server) closeResources() error {
	var err error
	if s.registry != nil {
		s.registry.Close()
	}
	if s.hub != nil {
		err = multierr.Append(err, s.hub.Close())
	}
	if s.store != nil {
		err = multierr.Append(err, s.store.Close())
	}
	if s.trace != nil {
		err = multierr.Append(err, s.trace.Close())
	}
	return err
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
