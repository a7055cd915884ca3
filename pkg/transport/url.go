package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StreamPath is the log stream endpoint on the portal.
const StreamPath = "/ws-logs"

// StreamURL derives the log stream URL from the portal origin. A secure
// origin (https) yields a secure scheme (wss). The "_" query parameter
// carries now in Unix milliseconds so that intermediaries never reuse a
// cached handshake.
func StreamURL(origin *url.URL, now time.Time) string {
	scheme := "ws"
	if origin.Scheme == "https" || origin.Scheme == "wss" {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     origin.Host,
		Path:     StreamPath,
		RawQuery: "_=" + strconv.FormatInt(now.UnixMilli(), 10),
	}
	return u.String()
}

// ParseOrigin parses a portal origin such as "https://host:1111". A bare
// host gets the http scheme.
func ParseOrigin(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q has no host", raw)
	}
	return u, nil
}
