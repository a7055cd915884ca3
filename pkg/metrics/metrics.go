// Package metrics exposes Prometheus instrumentation for the log stream,
// the reachability prober, tunnels and the log hub.
//
// All recording methods are safe on a nil *Collector, so components take an
// optional collector without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "portal"

// Collector is a prometheus.Collector for portal components.
type Collector struct {
	streamState     *prometheus.GaugeVec
	reconnects      prometheus.Counter
	staleDetections prometheus.Counter
	giveUps         prometheus.Counter
	lines           *prometheus.CounterVec
	probes          *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	tunnelStatus    *prometheus.GaugeVec
	hubSubscribers  prometheus.Gauge
	hubLines        prometheus.Counter
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		streamState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "state",
				Help:      "Current log stream connection state (1 for the active state).",
			}, []string{"state"},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "The number of scheduled reconnect attempts.",
			},
		),
		staleDetections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "stale_total",
				Help:      "The number of connections declared stale by the heartbeat watchdog.",
			},
		),
		giveUps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "give_ups_total",
				Help:      "The number of times the reconnect budget was exhausted.",
			},
		),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "lines_total",
				Help:      "The number of log lines received.",
			}, []string{"outcome"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "probe",
				Name:      "sessions_total",
				Help:      "The number of reachability probe sessions by result.",
			}, []string{"result"},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "probe",
				Name:      "duration_seconds",
				Help:      "The time until a probe session settled.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
		),
		tunnelStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "tunnel",
				Name:      "status",
				Help:      "Tunnel status by kind and target (1 for the current status).",
			}, []string{"kind", "target", "status"},
		),
		hubSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "hub",
				Name:      "subscribers",
				Help:      "The number of connected log stream subscribers.",
			},
		),
		hubLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "hub",
				Name:      "lines_total",
				Help:      "The number of log lines broadcast by the hub.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.streamState.Describe(ch)
	c.reconnects.Describe(ch)
	c.staleDetections.Describe(ch)
	c.giveUps.Describe(ch)
	c.lines.Describe(ch)
	c.probes.Describe(ch)
	c.probeDuration.Describe(ch)
	c.tunnelStatus.Describe(ch)
	c.hubSubscribers.Describe(ch)
	c.hubLines.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.streamState.Collect(ch)
	c.reconnects.Collect(ch)
	c.staleDetections.Collect(ch)
	c.giveUps.Collect(ch)
	c.lines.Collect(ch)
	c.probes.Collect(ch)
	c.probeDuration.Collect(ch)
	c.tunnelStatus.Collect(ch)
	c.hubSubscribers.Collect(ch)
	c.hubLines.Collect(ch)
}

// Handler returns an HTTP handler serving a registry that holds only c.
func (c *Collector) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// SetStreamState marks state as the current stream state.
func (c *Collector) SetStreamState(state string) {
	if c == nil {
		return
	}
	c.streamState.Reset()
	c.streamState.WithLabelValues(state).Set(1)
}

// IncReconnect counts a scheduled reconnect.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// IncStale counts a stale connection.
func (c *Collector) IncStale() {
	if c == nil {
		return
	}
	c.staleDetections.Inc()
}

// IncGiveUp counts an exhausted reconnect budget.
func (c *Collector) IncGiveUp() {
	if c == nil {
		return
	}
	c.giveUps.Inc()
}

// IncLine counts a received log line.
func (c *Collector) IncLine(dropped bool) {
	if c == nil {
		return
	}
	outcome := "delivered"
	if dropped {
		outcome = "dropped"
	}
	c.lines.WithLabelValues(outcome).Inc()
}

// ObserveProbe records a settled probe session.
func (c *Collector) ObserveProbe(reachable bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "unreachable"
	if reachable {
		result = "reachable"
	}
	c.probes.WithLabelValues(result).Inc()
	c.probeDuration.Observe(d.Seconds())
}

// SetTunnelStatus records the current status of a tunnel, replacing the previous one.
func (c *Collector) SetTunnelStatus(kind, target, status string) {
	if c == nil {
		return
	}
	c.tunnelStatus.DeletePartialMatch(prometheus.Labels{"kind": kind, "target": target})
	c.tunnelStatus.WithLabelValues(kind, target, status).Set(1)
}

// RemoveTunnel drops all series of a tunnel.
func (c *Collector) RemoveTunnel(kind, target string) {
	if c == nil {
		return
	}
	c.tunnelStatus.DeletePartialMatch(prometheus.Labels{"kind": kind, "target": target})
}

// SetSubscribers records the number of hub subscribers.
func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.hubSubscribers.Set(float64(n))
}

// IncHubLine counts a broadcast line.
func (c *Collector) IncHubLine() {
	if c == nil {
		return
	}
	c.hubLines.Inc()
}
