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

package toolcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultRefreshInterval is how often the background refresh fetches
// the tool list, independent of client-driven reads.
const DefaultRefreshInterval = 30 * time.Second

// FetchFunc fetches the current tool list from the active endpoint.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// NotifyFunc is called when a refresh observes a changed tool list.
type NotifyFunc func(ctx context.Context)

// Refresher periodically re-fetches the tool list and updates the
// cache. A fetch failure is logged and skipped; the next tick tries
// again.
type Refresher struct {
	cache    *Cache
	fetch    FetchFunc
	notify   NotifyFunc
	interval time.Duration
	logger   *slog.Logger
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Cache receives refreshed tool lists. Required.
	Cache *Cache

	// Fetch obtains the current tool list. Required.
	Fetch FetchFunc

	// Notify is called when the refreshed list differs from the cached
	// one (optional).
	Notify NotifyFunc

	// Interval between refreshes. Default: 30s.
	Interval time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// NewRefresher creates a refresher. It does not start until Run.
func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Refresher{
		cache:    cfg.Cache,
		fetch:    cfg.Fetch,
		notify:   cfg.Notify,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// Run refreshes on interval until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refreshOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// refreshOnce performs one fetch-compare-store cycle.
func (r *Refresher) refreshOnce(ctx context.Context) {
	data, err := r.fetch(ctx)
	if err != nil {
		r.logger.Debug("tool list refresh failed", "error", err)
		return
	}

	changed, err := r.cache.Put(data)
	if err != nil {
		r.logger.Warn("failed to persist tool cache", "error", err)
	}

	if changed {
		r.logger.Info("tool list changed", "cache", r.cache.FilePath())
		if r.notify != nil {
			r.notify(ctx)
		}
	}
}
