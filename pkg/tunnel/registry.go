package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
)

// Registry defaults.
const (
	DefaultStatusInterval   = 30 * time.Second
	DefaultCheckBudget      = 5 * time.Second
	DefaultCheckConcurrency = 8
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// API is the tunnel manager backend.
	API API

	// Prober checks tunnel reachability.
	Prober Prober

	// Waiter configures activation of new and refreshed quick tunnels.
	// Its observability fields are taken from this config.
	Waiter WaiterConfig

	// CheckBudget is the probe budget of a status check.
	CheckBudget time.Duration

	// CheckConcurrency bounds concurrent probes in CheckAll.
	CheckConcurrency int

	Clock       clock.Clock
	Logger      *slog.Logger
	EventLogger portallog.Logger
	Metrics     *metrics.Collector
}

// Registry holds the known tunnels keyed by target URL.
type Registry struct {
	api         API
	prober      Prober
	waiter      *Waiter
	sink        *statusSink
	checkBudget time.Duration
	concurrency int

	mu    sync.RWMutex
	named map[string]*Handle
	quick map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.API == nil {
		return nil, fmt.Errorf("tunnel registry: API is required")
	}
	if config.Prober == nil {
		return nil, fmt.Errorf("tunnel registry: Prober is required")
	}
	if config.CheckBudget <= 0 {
		config.CheckBudget = DefaultCheckBudget
	}
	if config.CheckConcurrency <= 0 {
		config.CheckConcurrency = DefaultCheckConcurrency
	}

	sink := newStatusSink(config.Clock, config.Logger, config.EventLogger, config.Metrics)
	return &Registry{
		api:         config.API,
		prober:      config.Prober,
		waiter:      newWaiter(config.Prober, config.Waiter, sink),
		sink:        sink,
		checkBudget: config.CheckBudget,
		concurrency: config.CheckConcurrency,
		named:       make(map[string]*Handle),
		quick:       make(map[string]*Handle),
	}, nil
}

// OnStatusChange sets the callback for every status transition.
func (r *Registry) OnStatusChange(fn StatusChangeFunc) {
	r.sink.setCallback(fn)
}

// Waiter returns the waiter activating quick tunnels.
func (r *Registry) Waiter() *Waiter {
	return r.waiter
}

// Fetch reloads both tunnel lists from the backend. Handles whose tunnel URL
// did not change keep their status. Each list is replaced only when it was
// fetched successfully; failures of both are combined.
func (r *Registry) Fetch(ctx context.Context) error {
	var named, quick []Record
	var namedErr, quickErr error

	var g errgroup.Group
	g.Go(func() error {
		named, namedErr = r.api.NamedTunnels(ctx)
		return nil
	})
	g.Go(func() error {
		quick, quickErr = r.api.QuickTunnels(ctx)
		return nil
	})
	_ = g.Wait()

	if namedErr != nil {
		namedErr = fmt.Errorf("fetch named tunnels: %w", namedErr)
		r.sink.logger.Warn("named tunnels unavailable", slog.Any("error", namedErr))
	} else {
		r.merge(KindNamed, named)
	}
	if quickErr != nil {
		quickErr = fmt.Errorf("fetch quick tunnels: %w", quickErr)
		r.sink.logger.Warn("quick tunnels unavailable", slog.Any("error", quickErr))
	} else {
		r.merge(KindQuick, quick)
	}
	return multierr.Combine(namedErr, quickErr)
}

func (r *Registry) merge(kind Kind, records []Record) {
	now := r.sink.clock.Now()
	next := make(map[string]*Handle, len(records))

	r.mu.Lock()
	current := r.mapFor(kind)
	var added, removed []*Handle
	for _, rec := range records {
		if rec.TargetURL == "" {
			continue
		}
		if h, ok := current[rec.TargetURL]; ok && h.TunnelURL() == rec.TunnelURL {
			next[rec.TargetURL] = h
			continue
		}
		h := NewHandle(kind, rec.TargetURL, rec.TunnelURL, now)
		next[rec.TargetURL] = h
		added = append(added, h)
	}
	for target, h := range current {
		if _, ok := next[target]; !ok {
			removed = append(removed, h)
		}
	}
	if kind == KindNamed {
		r.named = next
	} else {
		r.quick = next
	}
	r.mu.Unlock()

	for _, h := range removed {
		r.sink.removed(h)
	}
	for _, h := range added {
		r.sink.changed(h, "", StatusPending, "listed")
	}
}

func (r *Registry) mapFor(kind Kind) map[string]*Handle {
	if kind == KindNamed {
		return r.named
	}
	return r.quick
}

// FindByTargetURL returns the tunnel of the given kind for target.
func (r *Registry) FindByTargetURL(kind Kind, target string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.mapFor(kind)[target]
	return h, ok
}

// FindByTunnelURL returns the tunnel whose public URL is tunnelURL.
func (r *Registry) FindByTunnelURL(tunnelURL string) (*Handle, bool) {
	for _, h := range r.All() {
		if h.TunnelURL() == tunnelURL {
			return h, true
		}
	}
	return nil, false
}

// All returns the named tunnels followed by the quick tunnels, each sorted
// by target URL.
func (r *Registry) All() []*Handle {
	r.mu.RLock()
	named := sortedHandles(r.named)
	quick := sortedHandles(r.quick)
	r.mu.RUnlock()
	return append(named, quick...)
}

// Named returns the named tunnels sorted by target URL.
func (r *Registry) Named() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedHandles(r.named)
}

// Quick returns the quick tunnels sorted by target URL.
func (r *Registry) Quick() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedHandles(r.quick)
}

func sortedHandles(m map[string]*Handle) []*Handle {
	out := make([]*Handle, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetURL() < out[j].TargetURL() })
	return out
}

// Check probes h once and records active or error.
func (r *Registry) Check(ctx context.Context, h *Handle) Status {
	tunnelURL := h.TunnelURL()
	ok, err := r.prober.ProbeWithin(ctx, tunnelURL, r.checkBudget, 0)
	if ctx.Err() != nil {
		return h.Status()
	}
	switch {
	case err != nil:
		r.sink.update(h, tunnelURL, StatusError, err.Error())
	case ok:
		r.sink.update(h, tunnelURL, StatusActive, "reachable")
	default:
		r.sink.update(h, tunnelURL, StatusError, "not reachable")
	}
	return h.Status()
}

// CheckAll probes every tunnel concurrently.
func (r *Registry) CheckAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, h := range r.All() {
		g.Go(func() error {
			r.Check(gctx, h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// StartStatusChecks runs CheckAll every interval until ctx is done. The
// returned channel is closed when the loop exited.
func (r *Registry) StartStatusChecks(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ticker := r.sink.clock.Ticker(interval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.CheckAll(ctx); err != nil && ctx.Err() == nil {
					r.sink.logger.Warn("status check failed", slog.Any("error", err))
				}
			}
		}
	}()
	return done
}

// CreateQuick starts a quick tunnel for target, registers it as pending
// and starts waiting for it to become active.
func (r *Registry) CreateQuick(ctx context.Context, target string) (*Handle, error) {
	target, err := ValidateTarget(target)
	if err != nil {
		return nil, err
	}
	tunnelURL, err := r.api.StartQuick(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("start quick tunnel for %s: %w", target, err)
	}

	h := NewHandle(KindQuick, target, tunnelURL, r.sink.clock.Now())
	r.mu.Lock()
	r.quick[target] = h
	r.mu.Unlock()

	r.sink.changed(h, "", StatusPending, "created")
	r.sink.logger.Info("quick tunnel created", slog.String("target", target), slog.String("tunnel", tunnelURL))
	r.waiter.WaitForActive(h)
	return h, nil
}

// StopQuick stops the quick tunnel for target and forgets it.
func (r *Registry) StopQuick(ctx context.Context, target string) error {
	h, err := r.quickHandle(target)
	if err != nil {
		return err
	}
	if err := r.api.StopQuick(ctx, h.TargetURL()); err != nil {
		return fmt.Errorf("stop quick tunnel for %s: %w", h.TargetURL(), err)
	}

	r.mu.Lock()
	if r.quick[h.TargetURL()] == h {
		delete(r.quick, h.TargetURL())
	}
	r.mu.Unlock()

	r.sink.removed(h)
	r.sink.logger.Info("quick tunnel stopped", slog.String("target", h.TargetURL()))
	return nil
}

// RefreshQuick replaces the public URL of the quick tunnel for target,
// resets it to pending and probes it once.
func (r *Registry) RefreshQuick(ctx context.Context, target string) (*Handle, error) {
	h, err := r.quickHandle(target)
	if err != nil {
		return nil, err
	}
	tunnelURL, err := r.api.RefreshQuick(ctx, h.TargetURL())
	if err != nil {
		return nil, fmt.Errorf("refresh quick tunnel for %s: %w", h.TargetURL(), err)
	}

	old := h.replaceURL(tunnelURL)
	r.sink.changed(h, old, StatusPending, "refreshed")
	r.sink.logger.Info("quick tunnel refreshed", slog.String("target", h.TargetURL()), slog.String("tunnel", tunnelURL))
	r.Check(ctx, h)
	return h, nil
}

// quickHandle resolves target to a quick tunnel. Named tunnels yield
// ErrNotQuick.
func (r *Registry) quickHandle(target string) (*Handle, error) {
	target, err := ValidateTarget(target)
	if err != nil {
		return nil, err
	}
	if h, ok := r.FindByTargetURL(KindQuick, target); ok {
		return h, nil
	}
	if _, ok := r.FindByTargetURL(KindNamed, target); ok {
		return nil, ErrNotQuick
	}
	return nil, fmt.Errorf("%s: %w", target, ErrNotFound)
}

// Infos returns snapshots of all tunnels.
func (r *Registry) Infos() []Info {
	handles := r.All()
	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Info())
	}
	return out
}

// Close stops background activation waits.
func (r *Registry) Close() {
	r.waiter.Close()
}
