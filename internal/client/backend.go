// Package client provides the upstream HTTP client for the backend API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"unimate-gateway/internal/config"
	"unimate-gateway/internal/metrics"
)

// Response is a backend reply with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BackendClient sends single-shot requests to the backend API.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling.
// No overall request timeout is set: a call lasts as long as its context.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// No dial or header timeout: only ctx bounds a call.
		DialContext: (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// Do issues exactly one request and reads the whole reply body.
// A nil body sends no body at all. The provided context controls the
// lifetime of the call: when it is canceled (e.g. client disconnects),
// the upstream request is also canceled.
func (c *BackendClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
		"body_bytes", len(body),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(method, 0, time.Since(start))
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	c.metrics.ObserveUpstream(method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
