package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultProbeTimeout bounds a single store URL probe
const DefaultProbeTimeout = 5 * time.Second

// HTTPChecker performs an HTTP GET against a store URL
type HTTPChecker struct {
	// URL is the externally visible store URL (e.g., "http://ab12cd34.apps.local")
	URL string

	// Address, when set, is dialed instead of the URL host. The URL host is
	// still sent as the Host header so the ingress controller can route it.
	Address string

	// ExpectedStatus is the only status code treated as healthy (default: 200)
	ExpectedStatus int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP checker for a store URL
func NewHTTPChecker(storeURL string) *HTTPChecker {
	return &HTTPChecker{
		URL:            storeURL,
		ExpectedStatus: http.StatusOK,
		Client: &http.Client{
			Timeout: DefaultProbeTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check performs the HTTP check
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	target, err := url.Parse(h.URL)
	if err != nil {
		return failed(start, "invalid url", err)
	}
	host := target.Host
	if h.Address != "" {
		target.Host = h.Address
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return failed(start, "failed to create request", err)
	}
	req.Host = host

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	healthy := resp.StatusCode == h.ExpectedStatus
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d)", message, h.ExpectedStatus)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WithAddress routes the check through a fixed address, typically the
// ingress controller's
func (h *HTTPChecker) WithAddress(addr string) *HTTPChecker {
	h.Address = addr
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// HTTPProber probes store URLs with an HTTPChecker per call
type HTTPProber struct {
	Address string
	Timeout time.Duration
}

// Probe resolves the URL host (unless an Address is configured) and then
// requires the expected status from a GET
func (p *HTTPProber) Probe(ctx context.Context, storeURL string) Result {
	start := time.Now()

	if p.Address == "" {
		target, err := url.Parse(storeURL)
		if err != nil {
			return failed(start, "invalid url", err)
		}
		if _, err := net.DefaultResolver.LookupHost(ctx, target.Hostname()); err != nil {
			return failed(start, "host does not resolve", err)
		}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return NewHTTPChecker(storeURL).WithAddress(p.Address).WithTimeout(timeout).Check(ctx)
}
