package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
)

// Probe defaults.
const (
	// DefaultMaxDuration is the time budget of a probe session.
	DefaultMaxDuration = 5 * time.Second

	// DefaultPollInterval is the pause between failed polls.
	DefaultPollInterval = 500 * time.Millisecond

	// HealthPath is the resource requested on the target.
	HealthPath = "/health.ico"

	// maxDiscard bounds how much of a response body is drained.
	maxDiscard = 4096
)

// Probe errors. They signal invalid input, never an unreachable target.
var (
	ErrEmptyURL   = errors.New("empty url")
	ErrInvalidURL = errors.New("invalid url")
)

// Config configures a Prober.
type Config struct {
	// Client performs the polls. Nil uses NewHTTPClient().
	Client *http.Client

	// MaxDuration is the default session budget.
	MaxDuration time.Duration

	// PollInterval is the default pause between failed polls.
	PollInterval time.Duration

	// Clock drives the deadline and poll timers. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives operational logs. Nil uses slog.Default().
	Logger *slog.Logger

	// EventLogger receives one trace event per session. Nil disables tracing.
	EventLogger portallog.Logger

	// Metrics records session outcomes. Nil disables metrics.
	Metrics *metrics.Collector
}

// Prober runs reachability probe sessions. It is safe for concurrent use.
type Prober struct {
	client       *http.Client
	maxDuration  time.Duration
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	events       portallog.Logger
	metrics      *metrics.Collector
}

// NewHTTPClient returns the client used for polls: no cookie jar and no
// connection reuse between sporadic probes.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			// A redirect is already an answer.
			return http.ErrUseLastResponse
		},
	}
}

// New creates a Prober.
func New(config Config) *Prober {
	p := &Prober{
		client:       config.Client,
		maxDuration:  config.MaxDuration,
		pollInterval: config.PollInterval,
		clock:        config.Clock,
		logger:       config.Logger,
		events:       portallog.OrNoop(config.EventLogger),
		metrics:      config.Metrics,
	}
	if p.client == nil {
		p.client = NewHTTPClient()
	}
	if p.maxDuration <= 0 {
		p.maxDuration = DefaultMaxDuration
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Probe runs a session with the configured budget and interval.
func (p *Prober) Probe(ctx context.Context, target string) (bool, error) {
	return p.ProbeWithin(ctx, target, p.maxDuration, p.pollInterval)
}

// ProbeWithin polls target until it answers or maxDuration elapses.
// The error is non-nil only for an empty or malformed target, in which case
// no request is made. Cancelling ctx settles the session as unreachable.
func (p *Prober) ProbeWithin(ctx context.Context, target string, maxDuration, pollInterval time.Duration) (bool, error) {
	base, err := ParseTarget(target)
	if err != nil {
		return false, err
	}
	if maxDuration <= 0 {
		maxDuration = p.maxDuration
	}
	if pollInterval <= 0 {
		pollInterval = p.pollInterval
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newSession(base.String(), p.clock.Now(), cancel)
	deadline := p.clock.AfterFunc(maxDuration, func() { s.settle(false, true) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.pollLoop(pollCtx, s, base, maxDuration, pollInterval)
	}()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.settle(false, false)
	}
	deadline.Stop()
	wg.Wait()

	p.report(s)
	return s.reachable, nil
}

// ParseTarget validates a probe target. The scheme must be http or https.
func ParseTarget(target string) (*url.URL, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrEmptyURL
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// HealthURL returns the cache-busted health resource of base for now.
func HealthURL(base *url.URL, now time.Time) string {
	u := *base
	u.User = nil
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/") + HealthPath
	u.RawPath = ""
	u.RawQuery = "t=" + strconv.FormatInt(now.UnixMilli(), 10)
	return u.String()
}

func (p *Prober) pollLoop(ctx context.Context, s *session, base *url.URL, maxDuration, pollInterval time.Duration) {
	for {
		s.polls.Add(1)
		if p.poll(ctx, base) {
			s.settle(true, false)
			return
		}
		if s.isSettled() || p.clock.Since(s.start) >= maxDuration {
			return
		}

		t := p.clock.Timer(pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// poll issues one request and reports whether any response arrived.
func (p *Prober) poll(ctx context.Context, base *url.URL) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, HealthURL(base, p.clock.Now()), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("probe poll failed", slog.String("url", base.String()), slog.Any("error", err))
		}
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscard))
	_ = resp.Body.Close()
	return true
}

func (p *Prober) report(s *session) {
	elapsed := p.clock.Since(s.start)
	polls := int(s.polls.Load())

	p.logger.Debug("probe settled",
		slog.String("url", s.target),
		slog.Bool("reachable", s.reachable),
		slog.Int("polls", polls),
		slog.Duration("elapsed", elapsed))

	p.events.Log(portallog.Event{
		Timestamp: p.clock.Now(),
		Layer:     portallog.LayerTunnel,
		Category:  portallog.CategoryProbe,
		Target:    s.target,
		Probe: &portallog.ProbeEvent{
			Reachable: s.reachable,
			Polls:     polls,
			Duration:  elapsed,
			TimedOut:  s.timedOut,
		},
	})
	p.metrics.ObserveProbe(s.reachable, elapsed)
}
