// Package request implements the scenario body that issues one HTTP GET per
// iteration, times it, runs the configured checks and records the outcome.
package request

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jassi-singh/forgeload/internal/performance/config"
)

// Client is the HTTP capability the executor depends on.
type Client interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, url string) (int, []byte, error)

// Get calls f(ctx, url).
func (f ClientFunc) Get(ctx context.Context, url string) (int, []byte, error) {
	return f(ctx, url)
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	UserAgent string
	Headers   map[string]string
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             config.DefaultTimeout,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: config.DefaultIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           config.DefaultUserAgent,
	}
}

// HTTPClientConfigFromSettings builds a client configuration from the
// settings section of a test configuration.
func HTTPClientConfigFromSettings(s config.HTTPSettings) HTTPClientConfig {
	c := DefaultHTTPClientConfig()
	c.Timeout = s.Timeout.GetDuration(c.Timeout)
	if s.MaxIdleConnsPerHost > 0 {
		c.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	c.MaxConnsPerHost = s.MaxConnectionsPerHost
	c.InsecureSkipVerify = s.InsecureSkipVerify
	if s.UserAgent != "" {
		c.UserAgent = s.UserAgent
	}
	c.Headers = s.Headers
	return c
}

// HTTPClient is the net/http implementation of Client. One instance is shared
// by every VU so connections are pooled across the run.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
}

// NewHTTPClient creates an HTTP client with the configured settings.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
		headers:   cfg.Headers,
	}
}

// Get issues a GET request and reads the whole body. The request is bound to
// ctx, so cancelling ctx aborts it at the transport.
func (c *HTTPClient) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, body, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// CloseIdleConnections releases pooled connections at the end of a run.
func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

var _ Client = (*HTTPClient)(nil)
