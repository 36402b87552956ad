// Copyright 2026 Yulong Bai
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package discovery probes a bounded range of adjacent loopback ports
// for live endpoints. A probe is a GET /ping with a short timeout so a
// handful of closed ports does not stall the scan.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// Client is the HTTP client used for probes. Defaults to a plain
	// client; the per-probe timeout is applied via context.
	Client *http.Client

	// Width is the number of ports probed above the base port; the scan
	// covers [base, base+width] inclusive. Default: 10.
	Width int

	// ProbeTimeout bounds each individual port probe. Default: 500ms.
	ProbeTimeout time.Duration

	// ProbeRate caps probes per second so a wide scan does not burst
	// connection attempts. Default: 50/s.
	ProbeRate rate.Limit

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Scanner discovers live endpoints on adjacent ports.
type Scanner struct {
	client       *http.Client
	width        int
	probeTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewScanner creates a scanner with the given configuration.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Width <= 0 {
		cfg.Width = 10
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.ProbeRate == 0 {
		cfg.ProbeRate = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scanner{
		client:       cfg.Client,
		width:        cfg.Width,
		probeTimeout: cfg.ProbeTimeout,
		limiter:      rate.NewLimiter(cfg.ProbeRate, 1),
		logger:       cfg.Logger,
	}
}

// URLForPort returns the endpoint base URL for a loopback port.
func URLForPort(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// Scan probes [base, base+width] and returns the URLs of responsive
// endpoints in scan order, lowest port first. An empty result is not
// an error; callers retry on an interval until endpoints appear.
func (s *Scanner) Scan(ctx context.Context, basePort int) []string {
	var found []string

	for port := basePort; port <= basePort+s.width; port++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return found
		}
		if s.probe(ctx, port) {
			found = append(found, URLForPort(port))
		}
	}

	s.logger.Debug("port scan complete",
		"base", basePort,
		"width", s.width,
		"found", len(found))

	return found
}

// probe checks a single port for a live endpoint.
func (s *Scanner) probe(ctx context.Context, port int) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, URLForPort(port)+"/ping", nil)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitForFirst scans on interval until at least one endpoint appears
// or the context is cancelled. The first non-empty scan result is
// returned; callers then switch to a slower poll for newly-appearing
// endpoints.
func (s *Scanner) WaitForFirst(ctx context.Context, basePort int, interval time.Duration) ([]string, error) {
	for {
		if found := s.Scan(ctx, basePort); len(found) > 0 {
			return found, nil
		}

		s.logger.Debug("no endpoints found, waiting", "base", basePort, "interval", interval)

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
