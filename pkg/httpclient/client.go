// Package httpclient provides the HTTP client factory used for all
// control traffic between the relay and its endpoints.
//
// All endpoints live on loopback, so the factory optimizes for many
// short requests against a handful of hosts:
//   - Pooled transport with keep-alives (hashicorp/go-cleanhttp defaults)
//   - Request logging via log/slog with duration tracking
//   - User-Agent header injection
//
// Retry policy deliberately does not live here: the failover driver
// owns the attempt loop because it needs a fresh per-attempt timeout
// and classification that differs by call kind.
package httpclient

import (
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// New creates a new HTTP client with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := cleanhttp.DefaultPooledTransport()

	return &http.Client{
		Transport: newLoggingTransport(base, cfg.UserAgent),
		Timeout:   cfg.Timeout,
	}, nil
}
