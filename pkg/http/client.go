package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config represents HTTP client configuration
type Config struct {
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	Timeout             time.Duration `json:"timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	MaxConnsPerHost     int           `json:"max_conns_per_host"`
}

// DefaultConfig returns default HTTP client configuration. The 20s timeout
// applies to every cloud call.
func DefaultConfig() *Config {
	return &Config{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		Timeout:             20 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     16,
	}
}

// NewOptimizedClient creates an HTTP client with connection pooling
func NewOptimizedClient(cfg *Config) *http.Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:      true,
		MaxResponseHeaderBytes: 1 << 20,
	}

	// The session cookie is attached per request, so no jar.
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewMetricsClient creates an HTTP client with metrics collection
func NewMetricsClient(cfg *Config, metricsCollector MetricsCollector) *http.Client {
	client := NewOptimizedClient(cfg)
	if metricsCollector != nil {
		client.Transport = NewMetricsTransport(client.Transport, metricsCollector)
	}
	return client
}

// MetricsCollector defines the interface for HTTP metrics collection
type MetricsCollector interface {
	RecordRequestDuration(method, endpoint string, duration time.Duration, statusCode int)
	RecordRequestSize(method, endpoint string, size int64)
	RecordResponseSize(method, endpoint string, size int64)
}

// MetricsTransport wraps a RoundTripper to collect metrics
type MetricsTransport struct {
	transport        http.RoundTripper
	metricsCollector MetricsCollector
}

func NewMetricsTransport(transport http.RoundTripper, metricsCollector MetricsCollector) *MetricsTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &MetricsTransport{
		transport:        transport,
		metricsCollector: metricsCollector,
	}
}

// RoundTrip implements http.RoundTripper
func (m *MetricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := EndpointLabel(req.URL.Path)

	if req.ContentLength > 0 {
		m.metricsCollector.RecordRequestSize(req.Method, endpoint, req.ContentLength)
	}

	resp, err := m.transport.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		m.metricsCollector.RecordRequestDuration(req.Method, endpoint, duration, 0)
		return resp, err
	}

	m.metricsCollector.RecordRequestDuration(req.Method, endpoint, duration, resp.StatusCode)
	if resp.ContentLength > 0 {
		m.metricsCollector.RecordResponseSize(req.Method, endpoint, resp.ContentLength)
	}
	return resp, nil
}

// EndpointLabel collapses identifier segments of a URL path so metric label
// cardinality stays bounded: /2.2/networks/123/devices -> /2.2/networks/:id/devices.
func EndpointLabel(path string) string {
	if path == "" {
		return "/"
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if isIdentifier(seg) {
			segs[i] = ":id"
		}
	}
	return strings.Join(segs, "/")
}

func isIdentifier(seg string) bool {
	if seg == "" {
		return false
	}
	digits := 0
	for _, c := range seg {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '-' || c == ':':
		default:
			return false
		}
	}
	// all digits, or a long hex/uuid/mac style token; "2.2" has a dot and is kept
	return digits == len(seg) || (digits > 0 && len(seg) >= 12)
}
