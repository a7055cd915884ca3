package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Backend endpoints of the tunnel manager.
const (
	pathNamedTunnels = "/get-named-tunnels"
	pathQuickTunnels = "/get-all-quick-tunnels"
	pathStartQuick   = "/start-quick-tunnel/"
	pathStopQuick    = "/stop-quick-tunnel/"
	pathRefreshQuick = "/refresh-quick-tunnel/"
	pathDirectURL    = "/get-direct-url/"

	// DefaultRequestTimeout bounds a backend call. Starting a quick tunnel
	// waits for the tunnel process to print its URL.
	DefaultRequestTimeout = 60 * time.Second
)

// Record is a tunnel as listed by the backend.
type Record struct {
	TargetURL string `json:"targetUrl"`
	TunnelURL string `json:"tunnelUrl"`
}

type directURLResponse struct {
	Result string `json:"result"`
}

type tunnelURLResponse struct {
	TunnelURL string `json:"tunnel_url"`
}

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	Method string
	Path   string
	Code   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// API is the tunnel manager backend.
// Implemented by Client.
type API interface {
	NamedTunnels(ctx context.Context) ([]Record, error)
	QuickTunnels(ctx context.Context) ([]Record, error)
	StartQuick(ctx context.Context, targetURL string) (string, error)
	StopQuick(ctx context.Context, targetURL string) error
	RefreshQuick(ctx context.Context, targetURL string) (string, error)
}

// Client talks to the tunnel manager REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. A nil httpClient
// uses one with DefaultRequestTimeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		http:    httpClient,
	}, nil
}

// ValidateTarget normalises a target URL, adding http:// when no scheme is
// given. Empty input is rejected.
func ValidateTarget(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", fmt.Errorf("target url not defined")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "http://" + target
	}
	return target, nil
}

// NamedTunnels lists the configured tunnels.
func (c *Client) NamedTunnels(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := c.do(ctx, http.MethodGet, pathNamedTunnels, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// QuickTunnels lists the running quick tunnels.
func (c *Client) QuickTunnels(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := c.do(ctx, http.MethodGet, pathQuickTunnels, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// StartQuick creates (or returns the existing) quick tunnel for targetURL
// and returns its public URL.
func (c *Client) StartQuick(ctx context.Context, targetURL string) (string, error) {
	return c.tunnelURL(ctx, pathStartQuick, targetURL)
}

// StopQuick stops the quick tunnel for targetURL.
func (c *Client) StopQuick(ctx context.Context, targetURL string) error {
	target, err := ValidateTarget(targetURL)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, pathStopQuick+url.PathEscape(target), nil)
}

// RefreshQuick replaces the quick tunnel for targetURL and returns the new
// public URL.
func (c *Client) RefreshQuick(ctx context.Context, targetURL string) (string, error) {
	return c.tunnelURL(ctx, pathRefreshQuick, targetURL)
}

// DirectURL returns the public base URL (scheme, address and mapped port)
// of the given external port. A port without a mapping yields a
// *APIError with code 404.
func (c *Client) DirectURL(ctx context.Context, port int) (string, error) {
	var resp directURLResponse
	if err := c.do(ctx, http.MethodGet, pathDirectURL+strconv.Itoa(port), &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

func (c *Client) tunnelURL(ctx context.Context, path, targetURL string) (string, error) {
	target, err := ValidateTarget(targetURL)
	if err != nil {
		return "", err
	}
	var resp tunnelURLResponse
	if err := c.do(ctx, http.MethodPost, path+url.PathEscape(target), &resp); err != nil {
		return "", err
	}
	if resp.TunnelURL == "" {
		return "", fmt.Errorf("POST %s: response has no tunnel_url", path)
	}
	return resp.TunnelURL, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

var _ API = (*Client)(nil)
