package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/multierr"

	"github.com/instance-portal/portal-go/pkg/tunnel"
)

// DirectURLSource resolves external ports to public base URLs.
// Implemented by tunnel.Client.
type DirectURLSource interface {
	DirectURL(ctx context.Context, port int) (string, error)
}

// FetchDirectURLs resolves the direct URL of every application. Ports
// without a mapping are left out silently; other failures are combined.
func FetchDirectURLs(ctx context.Context, src DirectURLSource, apps []Application) (map[int]string, error) {
	out := make(map[int]string, len(apps))
	var errs error
	for _, a := range apps {
		if _, done := out[a.ExternalPort]; done {
			continue
		}
		u, err := src.DirectURL(ctx, a.ExternalPort)
		if err != nil {
			var apiErr *tunnel.APIError
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("direct url for %s: %w", a.Name, err))
			continue
		}
		if u != "" {
			out[a.ExternalPort] = u
		}
	}
	return out, errs
}
