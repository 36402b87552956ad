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

// Package failover wraps outbound calls from the relay to an endpoint
// with a bounded retry policy and uniform error classification. When
// every attempt fails the caller receives an aggregate error and
// decides what to do next (fall back to cache, or surface the failure
// to the waiting client); the driver itself never loops indefinitely.
package failover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/metrics"
)

// Fixed retry parameters.
const (
	// DefaultAttempts is the total number of tries per call.
	DefaultAttempts = 3
	// DefaultDelay is the pause between attempts.
	DefaultDelay = 1 * time.Second
	// DefaultAttemptTimeout bounds each individual HTTP attempt.
	DefaultAttemptTimeout = 10 * time.Second
)

// Classification selects which response statuses count as failures.
type Classification int

const (
	// ClassifyForward treats only status >= 500 as failure. 4xx responses
	// from the endpoint are valid, if oddly shaped, application-level
	// replies and pass through to the caller.
	ClassifyForward Classification = iota

	// ClassifyRegistration treats any status >= 400 as failure; control
	// endpoints have no application-level 4xx semantics.
	ClassifyRegistration
)

// Result is the outcome of a successful attempt.
type Result struct {
	Status int
	Body   []byte
}

// Driver executes HTTP calls with the fixed retry policy.
type Driver struct {
	client   *http.Client
	logger   *slog.Logger
	attempts int
	delay    time.Duration
	timeout  time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithAttempts overrides the attempt count. Intended for tests.
func WithAttempts(n int) Option {
	return func(d *Driver) { d.attempts = n }
}

// WithDelay overrides the inter-attempt delay. Intended for tests.
func WithDelay(delay time.Duration) Option {
	return func(d *Driver) { d.delay = delay }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.timeout = timeout }
}

// New creates a driver with the fixed production policy:
// 3 attempts, 1s inter-attempt delay, 10s per-attempt timeout.
func New(client *http.Client, logger *slog.Logger, opts ...Option) *Driver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Driver{
		client:   client,
		logger:   logger,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		timeout:  DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PostJSON sends a JSON body to url, retrying per the fixed policy.
// On exhaustion it returns an aggregate error carrying every attempt's
// failure; the last underlying error is always present in the chain.
func (d *Driver) PostJSON(ctx context.Context, url string, body []byte, classify Classification) (*Result, error) {
	var errs *multierror.Error

	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			metrics.RecordRetry()
			select {
			case <-time.After(d.delay):
			case <-ctx.Done():
				errs = multierror.Append(errs, ctx.Err())
				return nil, d.exhausted(url, errs)
			}
		}

		res, err := d.attemptPost(ctx, url, body, classify)
		if err == nil {
			return res, nil
		}

		d.logger.Warn("attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", d.attempts,
			"error", err)
		errs = multierror.Append(errs, fmt.Errorf("attempt %d: %w", attempt, err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, d.exhausted(url, errs)
}

// attemptPost executes one bounded attempt.
func (d *Driver) attemptPost(ctx context.Context, url string, body []byte, classify Classification) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if failedStatus(resp.StatusCode, classify) {
		return nil, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	return &Result{Status: resp.StatusCode, Body: respBody}, nil
}

// failedStatus applies the classification rules from the retry policy.
func failedStatus(status int, classify Classification) bool {
	switch classify {
	case ClassifyRegistration:
		return status >= 400
	default:
		return status >= 500
	}
}

func (d *Driver) exhausted(url string, errs *multierror.Error) error {
	return fmt.Errorf("all %d attempts to %s failed: %w", d.attempts, url, errs.ErrorOrNil())
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
