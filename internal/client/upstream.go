// Package client provides the shared outbound HTTP client for upstream calls.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"egress-relay-go/internal/config"
	"egress-relay-go/internal/metrics"
	"egress-relay-go/internal/model"
)

// UpstreamClient executes outbound HTTP calls. When an egress tunnel is
// configured, every call is routed through it so upstreams see the tunnel's
// static IP. A single instance is shared by all in-flight requests and is safe
// for concurrent use.
type UpstreamClient struct {
	httpClient *http.Client
	tunneled   bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*UpstreamClient, error) {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Egress.IdleConnections,
		MaxIdleConnsPerHost: cfg.Egress.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	tunneled := false
	if cfg.Egress.TunnelURL != "" {
		tu, err := url.Parse(cfg.Egress.TunnelURL)
		if err != nil {
			return nil, fmt.Errorf("parse egress tunnel URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(tu)
		tunneled = true
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Egress.TimeoutSeconds) * time.Second,
			// 3xx responses are relayed to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tunneled: tunneled,
		logger:   logger.With("component", "upstream_client"),
		metrics:  m,
	}, nil
}

// Tunneled reports whether outbound calls go through the egress tunnel.
func (c *UpstreamClient) Tunneled() bool {
	return c.tunneled
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ForwardResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
		"tunneled", c.tunneled,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ForwardResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *UpstreamClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ForwardResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header
	}

	return c.Do(req)
}
