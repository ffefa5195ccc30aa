// Package client provides the HTTP client used to reach provider backends.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"esigate-go/internal/config"
	"esigate-go/internal/metrics"
	"esigate-go/internal/model"
)

// NewHTTPClient creates the pooled client shared by every backend.
// Redirects are never followed: they are handed back to the caller so the
// Location header can be rewritten for the client.
func NewHTTPClient(cfg *config.Config) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Backend sends requests to the nodes of one provider, picking nodes
// round-robin.
type Backend struct {
	name       string
	nodes      []*url.URL
	next       atomic.Uint64
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackend creates a Backend for the given node base URLs.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackend(name string, bases []string, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) (*Backend, error) {
	if len(bases) == 0 {
		return nil, errors.New("backend: no node configured")
	}
	nodes := make([]*url.URL, 0, len(bases))
	for _, raw := range bases {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("backend: parse node %q: %w", raw, err)
		}
		if u.Path == "" {
			u.Path = "/"
		}
		nodes = append(nodes, u)
	}
	return &Backend{
		name:       name,
		nodes:      nodes,
		httpClient: httpClient,
		logger:     logger.With("component", "backend", "provider", name),
		metrics:    m,
	}, nil
}

// Name returns the provider name.
func (b *Backend) Name() string { return b.name }

// Base returns the first node's base URL.
func (b *Backend) Base() *url.URL {
	u := *b.nodes[0]
	return &u
}

// NextNode returns the base URL of the node to use for the next request.
func (b *Backend) NextNode() *url.URL {
	n := b.next.Add(1) - 1
	u := *b.nodes[n%uint64(len(b.nodes))]
	return &u
}

// Owns reports whether u lies under one of the node base URLs.
func (b *Backend) Owns(u *url.URL) bool {
	for _, n := range b.nodes {
		if !strings.EqualFold(n.Scheme, u.Scheme) || !strings.EqualFold(n.Host, u.Host) {
			continue
		}
		base := strings.TrimSuffix(n.Path, "/")
		if u.Path == base || strings.HasPrefix(u.Path, base+"/") {
			return true
		}
	}
	return false
}

// Do executes req and reads the whole response body.
func (b *Backend) Do(req *http.Request) (*model.Response, error) {
	b.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if b.metrics != nil {
			b.metrics.UpstreamDuration.WithLabelValues(b.name, method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream read body: %w", err)
	}

	if b.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		b.metrics.UpstreamDuration.WithLabelValues(b.name, method).Observe(duration)
		b.metrics.UpstreamResponses.WithLabelValues(b.name, method, status).Inc()
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
