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

// Package relay bridges a line-oriented JSON-RPC client on stdin and
// stdout to the single active endpoint, surviving endpoint restarts
// and handovers. Forwarded calls ride the retry driver; the tool list
// degrades to a persisted cache when the active endpoint is
// unreachable.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/config"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/discovery"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/election"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/failover"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/jsonrpc"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/log"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/metrics"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/toolcache"
)

const (
	// discoverRetryInterval is how often the startup scan repeats until
	// the first endpoint appears.
	discoverRetryInterval = 5 * time.Second

	// rescanInterval is the slower poll for newly-appearing endpoints
	// once at least one is known.
	rescanInterval = 15 * time.Second

	// maxLineSize bounds a single JSON-RPC line on stdin.
	maxLineSize = 16 * 1024 * 1024
)

// Config configures a Relay.
type Config struct {
	// ServerBasePort is the first port of the endpoint scan range.
	ServerBasePort int

	// ScanWidth is the number of ports probed above the base.
	ScanWidth int

	// ListenPort is the control listener port; zero picks the next free
	// port from the relay port base.
	ListenPort int

	// Input is the JSON-RPC request stream. Default: os.Stdin.
	Input io.Reader

	// Output is the JSON-RPC response stream. Default: os.Stdout.
	Output io.Writer

	// Client is the HTTP client for all outbound calls.
	Client *http.Client

	// Cache is the persisted tool cache. Required.
	Cache *toolcache.Cache

	// Features advertised when registering with endpoints.
	Features []string

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Relay is one relay instance. All collaborators are injected; nothing
// here is a package-level singleton.
type Relay struct {
	cfg    Config
	logger *slog.Logger

	active  *ActiveState
	driver  *failover.Driver
	coord   *election.Coordinator
	scanner *discovery.Scanner
	cache   *toolcache.Cache
	control *controlServer

	outMu sync.Mutex
	out   io.Writer

	knownMu sync.Mutex
	known   map[string]struct{}
}

// New creates a relay from cfg.
func New(cfg Config) (*Relay, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("relay: cache is required")
	}
	if cfg.ServerBasePort == 0 {
		cfg.ServerBasePort = config.DefaultServerBasePort
	}
	if cfg.ScanWidth <= 0 {
		cfg.ScanWidth = config.DefaultScanWidth
	}
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Relay{
		cfg:    cfg,
		logger: cfg.Logger,
		active: NewActiveState(),
		driver: failover.New(cfg.Client, cfg.Logger),
		coord:  election.NewCoordinator(cfg.Client, cfg.Logger),
		scanner: discovery.NewScanner(discovery.ScannerConfig{
			Client: cfg.Client,
			Width:  cfg.ScanWidth,
			Logger: cfg.Logger,
		}),
		cache: cfg.Cache,
		out:   cfg.Output,
		known: make(map[string]struct{}),
	}
	r.control = newControlServer(r)
	return r, nil
}

// Active exposes the active-endpoint cell, mainly for tests.
func (r *Relay) Active() *ActiveState {
	return r.active
}

// ControlURL returns the control listener URL once Run has bound it.
func (r *Relay) ControlURL() string {
	return r.control.url()
}

// Run starts the control listener, discovers and registers with
// endpoints, then pumps the input stream until it ends or the context
// is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.control.start(ctx, r.cfg.ListenPort); err != nil {
		return err
	}
	defer r.control.close()

	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	refresher := toolcache.NewRefresher(toolcache.RefresherConfig{
		Cache:  r.cache,
		Fetch:  r.fetchToolList,
		Notify: func(ctx context.Context) { r.emitToolsChanged() },
		Logger: r.logger,
	})
	go refresher.Run(ctx)
	go r.rescanLoop(ctx)

	return r.pump(ctx)
}

// bootstrap finds the first endpoints, registers with each, and adopts
// the lowest-port one as active.
func (r *Relay) bootstrap(ctx context.Context) error {
	found, err := r.scanner.WaitForFirst(ctx, r.cfg.ServerBasePort, discoverRetryInterval)
	if err != nil {
		return fmt.Errorf("endpoint discovery aborted: %w", err)
	}

	for _, url := range found {
		r.registerWith(ctx, url)
	}

	r.adoptActive(ctx, found[0])
	return nil
}

// registerWith announces the relay to one endpoint. The endpoint is
// recorded as known only once registration succeeds, so a transient
// failure leaves it eligible for the next rescan. Failures are logged,
// not fatal; the endpoint may appear later and register with us
// instead.
func (r *Relay) registerWith(ctx context.Context, url string) {
	r.knownMu.Lock()
	_, seen := r.known[url]
	r.knownMu.Unlock()
	if seen {
		return
	}

	resp, err := r.coord.Register(ctx, url, r.control.url(), r.cfg.Features)
	if err != nil {
		r.logger.Warn("failed to register with endpoint", log.EndpointKey, url, log.Error(err))
		return
	}
	r.addKnown(url)
	r.logger.Info("registered with endpoint", log.EndpointKey, url, "client_count", resp.ClientCount)
}

// addKnown records an endpoint that registered with the relay.
func (r *Relay) addKnown(url string) int {
	r.knownMu.Lock()
	defer r.knownMu.Unlock()
	r.known[url] = struct{}{}
	return len(r.known)
}

// knownEndpoints snapshots the known endpoint URLs.
func (r *Relay) knownEndpoints() []string {
	r.knownMu.Lock()
	defer r.knownMu.Unlock()
	out := make([]string, 0, len(r.known))
	for url := range r.known {
		out = append(out, url)
	}
	return out
}

// adoptActive records a new active endpoint and broadcasts the change
// to every known endpoint, best-effort.
func (r *Relay) adoptActive(ctx context.Context, url string) {
	if !r.active.Set(url) {
		return
	}
	metrics.RecordActiveChange()
	r.logger.Info("active endpoint adopted", "active_url", url)

	notified := r.coord.BroadcastActiveChanged(ctx, r.knownEndpoints(), url)
	r.logger.Debug("active change broadcast", "notified", notified)
}

// rescanLoop polls for newly-appearing endpoints on the slow interval.
func (r *Relay) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, url := range r.scanner.Scan(ctx, r.cfg.ServerBasePort) {
				r.registerWith(ctx, url)
			}
		case <-ctx.Done():
			return
		}
	}
}

// pump reads newline-delimited JSON-RPC messages from input and
// forwards each.
func (r *Relay) pump(ctx context.Context) error {
	scanner := bufio.NewScanner(r.cfg.Input)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r.handleLine(ctx, append([]byte(nil), line...))

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input stream error: %w", err)
	}
	r.logger.Info("input stream closed")
	return nil
}

// handleLine forwards one JSON-RPC line to the active endpoint and
// writes the reply, falling back to the tool cache for tools/list when
// retries are exhausted.
func (r *Relay) handleLine(ctx context.Context, line []byte) {
	msg, err := jsonrpc.Parse(line)
	if err != nil {
		r.logger.Warn("dropping malformed input line", log.Error(err))
		r.writeMessage(jsonrpc.NewError(nil, jsonrpc.CodeParseError, err.Error()))
		return
	}

	method := jsonrpc.ClassifyMethod(msg.Method)
	activeURL := r.active.URL()

	res, err := r.driver.PostJSON(ctx, activeURL, line, failover.ClassifyForward)
	if err != nil {
		metrics.RecordForward(msg.Method, metrics.OutcomeExhausted)
		r.handleForwardFailure(msg, method, err)
		return
	}

	metrics.RecordForward(msg.Method, metrics.OutcomeOK)

	if msg.IsNotification() || msg.IsResponse() {
		// Notifications and client responses get a bare transport ack
		// from the endpoint, not a JSON-RPC message; it never reaches
		// the client stream.
		return
	}

	if method == jsonrpc.MethodToolsList {
		r.cacheToolsResult(res.Body)
	}

	r.writeLine(res.Body)
}

// handleForwardFailure answers a failed forward: the cached tool list
// for tools/list, an explicit error payload otherwise. The client gets
// an answer either way rather than hanging.
func (r *Relay) handleForwardFailure(msg *jsonrpc.Message, method jsonrpc.Method, cause error) {
	if msg.IsNotification() {
		return
	}
	if msg.IsResponse() {
		// The id belongs to the endpoint's own call; answering it on
		// the client stream would alias an unrelated exchange.
		r.logger.Warn("failed to deliver client response upstream", log.RequestIDKey, msg.IDKey())
		return
	}

	if method == jsonrpc.MethodToolsList {
		if data, ok := r.cache.Get(); ok {
			metrics.RecordCacheRead("hit")
			r.logger.Info("serving tool list from cache", log.RequestIDKey, msg.IDKey())
			if resp, err := jsonrpc.NewResponse(msg.ID, json.RawMessage(data)); err == nil {
				r.writeMessage(resp)
				return
			}
		}
		metrics.RecordCacheRead("miss")
	}

	r.writeMessage(jsonrpc.NewError(msg.ID, jsonrpc.CodeUpstreamUnavailable, cause.Error()))
}

// cacheToolsResult stores the result member of a tools/list response.
func (r *Relay) cacheToolsResult(body []byte) {
	resp, err := jsonrpc.Parse(body)
	if err != nil || resp.Result == nil {
		return
	}
	if _, err := r.cache.Put(resp.Result); err != nil {
		r.logger.Warn("failed to persist tool cache", log.Error(err))
	}
}

// fetchToolList is the background refresher's fetch function.
func (r *Relay) fetchToolList(ctx context.Context) (json.RawMessage, error) {
	call, err := jsonrpc.NewCall(json.RawMessage(`"tools-refresh"`), jsonrpc.NameToolsList, nil)
	if err != nil {
		return nil, err
	}
	body, err := call.Marshal()
	if err != nil {
		return nil, err
	}

	res, err := r.driver.PostJSON(ctx, r.active.URL(), body, failover.ClassifyForward)
	if err != nil {
		return nil, err
	}

	resp, err := jsonrpc.Parse(res.Body)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// emitToolsChanged tells the downstream client its tool view is stale.
func (r *Relay) emitToolsChanged() {
	notice, err := jsonrpc.NewCall(nil, jsonrpc.NameToolsListChanged, nil)
	if err != nil {
		return
	}
	r.writeMessage(notice)
}

// writeMessage marshals and writes one JSON-RPC message line.
func (r *Relay) writeMessage(msg *jsonrpc.Message) {
	data, err := msg.Marshal()
	if err != nil {
		r.logger.Error("failed to marshal output message", log.Error(err))
		return
	}
	r.writeLine(data)
}

// writeLine writes one newline-terminated line to the output stream.
// Serialized because the refresher and control listener also emit.
func (r *Relay) writeLine(line []byte) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	r.out.Write(line)
	r.out.Write([]byte("\n"))
}
