// Package portal derives the URLs under which instance applications can be
// opened and decides where the portal itself should redirect.
package portal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/instance-portal/portal-go/pkg/tunnel"
)

// PortalPort is the external port of the portal application.
const PortalPort = 1111

// ErrNoURL is returned when an application has no usable URL.
var ErrNoURL = errors.New("no URL is available")

// Application is one entry of the applications section of portal.yaml.
type Application struct {
	Name         string `yaml:"name" json:"name"`
	Hostname     string `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	TargetURL    string `yaml:"target_url,omitempty" json:"target_url,omitempty"`
	InternalPort int    `yaml:"internal_port" json:"internal_port"`
	ExternalPort int    `yaml:"external_port" json:"external_port"`
	OpenPath     string `yaml:"open_path,omitempty" json:"open_path,omitempty"`
}

// Target returns the local URL tunnels for this application point at.
// Without an explicit target_url it is http://localhost:{internal_port}.
func (a Application) Target() string {
	if a.TargetURL != "" {
		return a.TargetURL
	}
	return "http://localhost:" + strconv.Itoa(a.InternalPort)
}

// IsProxied reports whether the application sits behind the reverse proxy.
func (a Application) IsProxied() bool {
	return a.ExternalPort != a.InternalPort
}

// Validate checks the fields needed to derive URLs.
func (a Application) Validate() error {
	if a.Name == "" {
		return errors.New("application name is empty")
	}
	if a.ExternalPort <= 0 || a.ExternalPort > 65535 {
		return fmt.Errorf("application %s: invalid external_port %d", a.Name, a.ExternalPort)
	}
	if a.TargetURL == "" && (a.InternalPort <= 0 || a.InternalPort > 65535) {
		return fmt.Errorf("application %s: invalid internal_port %d", a.Name, a.InternalPort)
	}
	return nil
}

// Snapshot is a consistent view of applications, tunnels and direct URLs.
// All derived URLs are pure functions of it.
type Snapshot struct {
	apps   []Application
	named  map[string]tunnel.Info
	quick  map[string]tunnel.Info
	direct map[int]string
}

// NewSnapshot builds a snapshot. tunnels are keyed by target URL; direct
// maps external ports to public base URLs.
func NewSnapshot(apps []Application, tunnels []tunnel.Info, direct map[int]string) Snapshot {
	s := Snapshot{
		apps:   append([]Application(nil), apps...),
		named:  make(map[string]tunnel.Info),
		quick:  make(map[string]tunnel.Info),
		direct: make(map[int]string, len(direct)),
	}
	sort.SliceStable(s.apps, func(i, j int) bool { return s.apps[i].Name < s.apps[j].Name })
	for _, t := range tunnels {
		if t.Kind == tunnel.KindNamed {
			s.named[t.TargetURL] = t
		} else {
			s.quick[t.TargetURL] = t
		}
	}
	for port, u := range direct {
		s.direct[port] = u
	}
	return s
}

// Applications returns the applications sorted by name.
func (s Snapshot) Applications() []Application {
	return append([]Application(nil), s.apps...)
}

// Application returns the application with the given name.
func (s Snapshot) Application(name string) (Application, bool) {
	for _, a := range s.apps {
		if a.Name == name {
			return a, true
		}
	}
	return Application{}, false
}

// FindByPort returns applications whose external or internal port is port.
func (s Snapshot) FindByPort(port int) []Application {
	var out []Application
	for _, a := range s.apps {
		if a.ExternalPort == port || a.InternalPort == port {
			out = append(out, a)
		}
	}
	return out
}

// FindByTargetURL returns applications tunnelled through target.
func (s Snapshot) FindByTargetURL(target string) []Application {
	var out []Application
	for _, a := range s.apps {
		if a.Target() == target {
			out = append(out, a)
		}
	}
	return out
}

// NamedTunnel returns the named tunnel of a.
func (s Snapshot) NamedTunnel(a Application) (tunnel.Info, bool) {
	t, ok := s.named[a.Target()]
	return t, ok
}

// QuickTunnel returns the quick tunnel of a.
func (s Snapshot) QuickTunnel(a Application) (tunnel.Info, bool) {
	t, ok := s.quick[a.Target()]
	return t, ok
}

// NamedTunnelURL returns the named tunnel URL plus open path, or "".
func (s Snapshot) NamedTunnelURL(a Application) string {
	if t, ok := s.NamedTunnel(a); ok && t.TunnelURL != "" {
		return t.TunnelURL + a.OpenPath
	}
	return ""
}

// QuickTunnelURL returns the quick tunnel URL plus open path, or "".
func (s Snapshot) QuickTunnelURL(a Application) string {
	if t, ok := s.QuickTunnel(a); ok && t.TunnelURL != "" {
		return t.TunnelURL + a.OpenPath
	}
	return ""
}

// DirectURL returns the direct URL plus open path, or "".
func (s Snapshot) DirectURL(a Application) string {
	if base := s.direct[a.ExternalPort]; base != "" {
		return base + a.OpenPath
	}
	return ""
}

// DirectURLFull is DirectURL with redir=false added for the portal itself,
// so opening it does not bounce back to a tunnel.
func (s Snapshot) DirectURLFull(a Application) string {
	u := s.DirectURL(a)
	if u == "" || a.ExternalPort != PortalPort {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&redir=false"
	}
	return u + "?redir=false"
}

// LaunchURL picks the URL to open a: an active named tunnel, then an active
// quick tunnel, then the direct URL.
func (s Snapshot) LaunchURL(a Application) (string, error) {
	if t, ok := s.NamedTunnel(a); ok && t.Status == tunnel.StatusActive {
		if u := s.NamedTunnelURL(a); u != "" {
			return u, nil
		}
	}
	if t, ok := s.QuickTunnel(a); ok && t.Status == tunnel.StatusActive {
		if u := s.QuickTunnelURL(a); u != "" {
			return u, nil
		}
	}
	if u := s.DirectURLFull(a); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("%s: %w", a.Name, ErrNoURL)
}

// View is the serialisable form of an application with its derived URLs.
type View struct {
	Application
	Target         string `json:"target"`
	Proxied        bool   `json:"proxied"`
	NamedTunnelURL string `json:"named_tunnel_url,omitempty"`
	QuickTunnelURL string `json:"quick_tunnel_url,omitempty"`
	DirectURL      string `json:"direct_url,omitempty"`
	DirectURLFull  string `json:"direct_url_full,omitempty"`
	LaunchURL      string `json:"launch_url,omitempty"`
}

// Views returns the derived URLs of every application.
func (s Snapshot) Views() []View {
	out := make([]View, 0, len(s.apps))
	for _, a := range s.apps {
		launch, _ := s.LaunchURL(a)
		out = append(out, View{
			Application:    a,
			Target:         a.Target(),
			Proxied:        a.IsProxied(),
			NamedTunnelURL: s.NamedTunnelURL(a),
			QuickTunnelURL: s.QuickTunnelURL(a),
			DirectURL:      s.DirectURL(a),
			DirectURLFull:  s.DirectURLFull(a),
			LaunchURL:      launch,
		})
	}
	return out
}
