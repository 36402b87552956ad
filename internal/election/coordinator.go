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

package election

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/failover"
)

// Coordinator issues the control calls of the registration and
// election protocol. Registration calls ride the full retry policy;
// broadcasts and handover requests are single-shot because their
// failure modes are tolerated rather than retried.
type Coordinator struct {
	client  *http.Client
	driver  *failover.Driver
	oneshot *failover.Driver
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator using the given HTTP client.
// Options adjust the retry policy of both drivers; the single-shot
// driver keeps its one-attempt limit regardless.
func NewCoordinator(client *http.Client, logger *slog.Logger, opts ...failover.Option) *Coordinator {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	oneshotOpts := make([]failover.Option, 0, len(opts)+1)
	oneshotOpts = append(oneshotOpts, opts...)
	oneshotOpts = append(oneshotOpts, failover.WithAttempts(1))

	return &Coordinator{
		client:  client,
		driver:  failover.New(client, logger, opts...),
		oneshot: failover.New(client, logger, oneshotOpts...),
		logger:  logger,
	}
}

// Register announces selfURL to the endpoint at targetURL. Additive
// only; there is no deregistration call, stale records are skipped by
// the recipient when later unreachable.
func (c *Coordinator) Register(ctx context.Context, targetURL, selfURL string, features []string) (*RegisterResponse, error) {
	body, err := json.Marshal(RegisterRequest{ClientURL: selfURL, Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal register request: %w", err)
	}

	res, err := c.driver.PostJSON(ctx, targetURL+PathRegister, body, failover.ClassifyRegistration)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode register response: %w", err)
	}
	return &resp, nil
}

// RequestActive asks the arbiter at arbiterURL to adopt selfURL as the
// active endpoint. A rejection is a boolean outcome, not an error;
// only transport exhaustion is an error.
func (c *Coordinator) RequestActive(ctx context.Context, arbiterURL, selfURL string) (bool, error) {
	body, err := json.Marshal(RequestActiveRequest{ServerURL: selfURL})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request-active request: %w", err)
	}

	res, err := c.driver.PostJSON(ctx, arbiterURL+PathRequestActive, body, failover.ClassifyForward)
	if err != nil {
		return false, err
	}

	var resp SuccessResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		return false, fmt.Errorf("failed to decode request-active response: %w", err)
	}
	return resp.Success, nil
}

// BroadcastActiveChanged pushes the new active URL to every known
// party. Best-effort: individual failures are logged and do not block
// the election; unreached endpoints reconcile on their next failure.
// Returns the number of recipients notified.
func (c *Coordinator) BroadcastActiveChanged(ctx context.Context, recipients []string, newActiveURL string) int {
	body, err := json.Marshal(NewActiveChangedNotice(newActiveURL))
	if err != nil {
		return 0
	}

	notified := 0
	for _, url := range recipients {
		if _, err := c.oneshot.PostJSON(ctx, url+PathActiveChanged, body, failover.ClassifyRegistration); err != nil {
			c.logger.Warn("failed to notify endpoint of active change",
				"endpoint", url,
				"active_url", newActiveURL,
				"error", err)
			continue
		}
		notified++
	}

	return notified
}

// RequestHandover asks the endpoint at activeURL to relinquish
// control. An unreachable holder is an implicit grant, reported as
// (false, nil); an explicit acknowledgment is (true, nil).
func (c *Coordinator) RequestHandover(ctx context.Context, activeURL string) (bool, error) {
	res, err := c.oneshot.PostJSON(ctx, activeURL+PathRequestHandover, []byte("{}"), failover.ClassifyRegistration)
	if err != nil {
		c.logger.Info("handover target unreachable, treating as implicit grant",
			"endpoint", activeURL,
			"error", err)
		return false, nil
	}

	var resp SuccessResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		return false, fmt.Errorf("failed to decode handover response: %w", err)
	}
	if !resp.Success {
		return false, fmt.Errorf("handover refused by %s", activeURL)
	}
	return true, nil
}

// NotifyToolsUpdated tells the relay at relayURL that the tool list
// changed, single-shot.
func (c *Coordinator) NotifyToolsUpdated(ctx context.Context, relayURL string) error {
	_, err := c.oneshot.PostJSON(ctx, relayURL+PathToolsUpdated, []byte("{}"), failover.ClassifyRegistration)
	return err
}

// Ping fetches the liveness state of the endpoint at url.
func (c *Coordinator) Ping(ctx context.Context, url string) (*PingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+PathPing, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ping returned status %d", resp.StatusCode)
	}

	var ping PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ping); err != nil {
		return nil, fmt.Errorf("failed to decode ping response: %w", err)
	}
	return &ping, nil
}
