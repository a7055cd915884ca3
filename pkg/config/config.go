// Package config loads portal.yaml.
//
// The file keeps the applications section of the original portal layout and
// adds optional sections for the log stream, the prober, tunnels and the log
// hub. Durations are written as Go duration strings ("1500ms", "30s").
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/instance-portal/portal-go/pkg/connection"
	"github.com/instance-portal/portal-go/pkg/logbuffer"
	"github.com/instance-portal/portal-go/pkg/portal"
	"github.com/instance-portal/portal-go/pkg/probe"
	"github.com/instance-portal/portal-go/pkg/transport"
	"github.com/instance-portal/portal-go/pkg/tunnel"
)

// Default locations.
const (
	DefaultPath          = "/etc/portal.yaml"
	DefaultManagerURL    = "http://localhost:11112"
	DefaultLogDirectory  = "/var/log/portal"
	DefaultHubHeartbeat  = 10 * time.Second
	PortalConfigEnv      = "PORTAL_CONFIG"
	portalConfigFieldSep = ":"
	portalConfigEntrySep = "|"
)

// Config is the parsed portal.yaml.
type Config struct {
	Applications map[string]portal.Application `yaml:"applications"`
	Stream       StreamConfig                  `yaml:"stream"`
	Probe        ProbeConfig                   `yaml:"probe"`
	Tunnels      TunnelsConfig                 `yaml:"tunnels"`
	Logs         LogsConfig                    `yaml:"logs"`
}

// StreamConfig tunes the log stream client.
type StreamConfig struct {
	Origin               string        `yaml:"origin,omitempty"`
	MaxAttempts          int           `yaml:"max_attempts"`
	InitialBackoff       time.Duration `yaml:"initial_backoff"`
	MaxBackoff           time.Duration `yaml:"max_backoff"`
	Multiplier           float64       `yaml:"multiplier"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	StaleAfter           time.Duration `yaml:"stale_after"`
	ForegroundStaleAfter time.Duration `yaml:"foreground_stale_after"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	BufferLines          int           `yaml:"buffer_lines"`
}

// ProbeConfig tunes reachability probing.
type ProbeConfig struct {
	MaxDuration    time.Duration `yaml:"max_duration"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RedirectBudget time.Duration `yaml:"redirect_budget"`
}

// TunnelsConfig points at the tunnel manager and tunes status checks.
type TunnelsConfig struct {
	ManagerURL     string        `yaml:"manager_url"`
	StatusInterval time.Duration `yaml:"status_interval"`
	WaitAttempts   int           `yaml:"wait_attempts"`
	WaitInterval   time.Duration `yaml:"wait_interval"`
	WaitBudget     time.Duration `yaml:"wait_budget"`
}

// LogsConfig configures the log hub.
type LogsConfig struct {
	Directory         string        `yaml:"directory"`
	HistoryLines      int           `yaml:"history_lines"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Default returns the configuration used when portal.yaml omits a value.
func Default() *Config {
	return &Config{
		Applications: map[string]portal.Application{},
		Stream: StreamConfig{
			MaxAttempts:          connection.DefaultMaxAttempts,
			InitialBackoff:       connection.InitialBackoff,
			MaxBackoff:           connection.MaxBackoff,
			Multiplier:           connection.BackoffMultiplier,
			PingInterval:         transport.DefaultPingInterval,
			CheckInterval:        transport.DefaultCheckInterval,
			StaleAfter:           transport.DefaultStaleAfter,
			ForegroundStaleAfter: connection.DefaultForegroundStaleAfter,
			DialTimeout:          connection.DefaultDialTimeout,
			BufferLines:          logbuffer.DefaultClientLines,
		},
		Probe: ProbeConfig{
			MaxDuration:    probe.DefaultMaxDuration,
			PollInterval:   probe.DefaultPollInterval,
			RedirectBudget: portal.DefaultRedirectBudget,
		},
		Tunnels: TunnelsConfig{
			ManagerURL:     DefaultManagerURL,
			StatusInterval: tunnel.DefaultStatusInterval,
			WaitAttempts:   tunnel.DefaultWaitAttempts,
			WaitInterval:   tunnel.DefaultWaitInterval,
			WaitBudget:     tunnel.DefaultWaitBudget,
		},
		Logs: LogsConfig{
			Directory:         DefaultLogDirectory,
			HistoryLines:      logbuffer.DefaultHubLines,
			HeartbeatInterval: DefaultHubHeartbeat,
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if cfg.Applications == nil {
		cfg.Applications = map[string]portal.Application{}
	}
	for key, app := range cfg.Applications {
		if app.Name == "" {
			app.Name = key
			cfg.Applications[key] = app
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads path. When the file does not exist and PORTAL_CONFIG is set,
// the applications are taken from the environment instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if env := os.Getenv(PortalConfigEnv); env != "" {
				apps, perr := ParsePortalConfig(env)
				if perr != nil {
					return nil, &LoadError{File: PortalConfigEnv, Message: "failed to parse", Cause: perr}
				}
				cfg := Default()
				cfg.Applications = apps
				if verr := cfg.Validate(); verr != nil {
					return nil, &LoadError{File: PortalConfigEnv, Message: "invalid configuration", Cause: verr}
				}
				return cfg, nil
			}
		}
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return cfg, nil
}

// ParsePortalConfig parses the compact application list
// "hostname:external:internal:path:name|...".
func ParsePortalConfig(s string) (map[string]portal.Application, error) {
	apps := make(map[string]portal.Application)
	for _, entry := range strings.Split(s, portalConfigEntrySep) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.SplitN(entry, portalConfigFieldSep, 5)
		if len(fields) != 5 {
			return nil, fmt.Errorf("entry %q: want hostname:external_port:internal_port:path:name", entry)
		}
		ext, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("entry %q: external port: %w", entry, err)
		}
		internal, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("entry %q: internal port: %w", entry, err)
		}
		name := fields[4]
		apps[name] = portal.Application{
			Name:         name,
			Hostname:     fields[0],
			ExternalPort: ext,
			InternalPort: internal,
			OpenPath:     fields[3],
		}
	}
	return apps, nil
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	for _, app := range c.ApplicationList() {
		if err := app.Validate(); err != nil {
			return err
		}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"stream.initial_backoff", c.Stream.InitialBackoff},
		{"stream.max_backoff", c.Stream.MaxBackoff},
		{"stream.ping_interval", c.Stream.PingInterval},
		{"stream.check_interval", c.Stream.CheckInterval},
		{"stream.stale_after", c.Stream.StaleAfter},
		{"stream.foreground_stale_after", c.Stream.ForegroundStaleAfter},
		{"stream.dial_timeout", c.Stream.DialTimeout},
		{"probe.max_duration", c.Probe.MaxDuration},
		{"probe.poll_interval", c.Probe.PollInterval},
		{"probe.redirect_budget", c.Probe.RedirectBudget},
		{"tunnels.status_interval", c.Tunnels.StatusInterval},
		{"tunnels.wait_interval", c.Tunnels.WaitInterval},
		{"tunnels.wait_budget", c.Tunnels.WaitBudget},
		{"logs.heartbeat_interval", c.Logs.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}

	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("stream.max_attempts must not be negative")
	}
	if c.Stream.Multiplier != 0 && c.Stream.Multiplier < 1 {
		return fmt.Errorf("stream.multiplier must be at least 1")
	}
	if c.Stream.BufferLines < 0 || c.Logs.HistoryLines < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.Tunnels.WaitAttempts < 0 {
		return fmt.Errorf("tunnels.wait_attempts must not be negative")
	}
	return nil
}

// ApplicationList returns the applications sorted by name.
func (c *Config) ApplicationList() []portal.Application {
	out := make([]portal.Application, 0, len(c.Applications))
	for _, app := range c.Applications {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BackoffPolicy returns the reconnect policy.
func (s StreamConfig) BackoffPolicy() connection.BackoffPolicy {
	p := connection.DefaultBackoffPolicy()
	if s.InitialBackoff > 0 {
		p.Initial = s.InitialBackoff
	}
	if s.MaxBackoff > 0 {
		p.Max = s.MaxBackoff
	}
	if s.Multiplier >= 1 {
		p.Multiplier = s.Multiplier
	}
	return p
}

// WatchdogConfig returns the heartbeat settings.
func (s StreamConfig) WatchdogConfig() transport.WatchdogConfig {
	return transport.WatchdogConfig{
		PingInterval:  s.PingInterval,
		CheckInterval: s.CheckInterval,
		StaleAfter:    s.StaleAfter,
	}
}

// WaiterConfig returns the tunnel activation settings.
func (t TunnelsConfig) WaiterConfig() tunnel.WaiterConfig {
	return tunnel.WaiterConfig{
		MaxAttempts: t.WaitAttempts,
		Interval:    t.WaitInterval,
		Budget:      t.WaitBudget,
	}
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
