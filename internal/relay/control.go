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

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/config"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/election"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/httputil"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/log"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/metrics"
)

// ErrNoPortAvailable is returned when no control listener port in the
// scan range is free.
var ErrNoPortAvailable = errors.New("relay: no control port available in range")

// controlPortScanWidth is how many ports above the base the control
// listener tries when no explicit port is configured.
const controlPortScanWidth = 20

// controlServer is the relay's own HTTP surface: liveness, election
// arbitration, active-change and tools-changed notifications, and
// metrics.
type controlServer struct {
	relay *Relay

	mu         sync.Mutex
	httpServer *http.Server
	port       int

	// electionMu serializes request-active arbitration; a request that
	// arrives while another is mid-flight is refused, not queued.
	electionMu sync.Mutex
}

func newControlServer(r *Relay) *controlServer {
	return &controlServer{relay: r}
}

// url returns the control listener base URL, or "" before start.
func (c *controlServer) url() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", c.port)
}

// start binds the control listener. An explicit port is used as-is; a
// zero port scans upward from the relay port base for the next free
// one.
func (c *controlServer) start(ctx context.Context, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ln net.Listener
	var err error

	if port != 0 {
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return fmt.Errorf("failed to bind control port %d: %w", port, err)
		}
	} else {
		port, ln, err = findAvailablePort(config.DefaultRelayPortBase, controlPortScanWidth)
		if err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", c.handlePing)
	mux.HandleFunc("POST /register", c.handleRegister)
	mux.HandleFunc("POST /request-active", c.handleRequestActive)
	mux.HandleFunc("POST /active-server-changed", c.handleActiveChanged)
	mux.HandleFunc("POST /notify-tools-updated", c.handleToolsUpdated)
	mux.Handle("GET /metrics", promhttp.Handler())

	c.port = port
	c.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.relay.logger.Error("control server error", log.Error(err))
		}
	}(c.httpServer, ln)

	c.relay.logger.Info("relay control listener started", log.PortKey, port)
	return nil
}

// close shuts the control listener down.
func (c *controlServer) close() {
	c.mu.Lock()
	srv := c.httpServer
	c.httpServer = nil
	c.mu.Unlock()

	if srv == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// findAvailablePort tries ports [base, base+width] and returns the
// first that binds.
func findAvailablePort(base, width int) (int, net.Listener, error) {
	for port := base; port <= base+width; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln, nil
		}
	}
	return 0, nil, ErrNoPortAvailable
}

func (c *controlServer) handlePing(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, election.PingResponse{
		Status:        "ok",
		Timestamp:     time.Now().Format(time.RFC3339),
		ServerRunning: true,
		ActiveURL:     c.relay.active.URL(),
	})
}

// handleRegister records an endpoint that announced itself to the
// relay. Additive only.
func (c *controlServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req election.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientURL == "" {
		httputil.WriteError(w, http.StatusBadRequest, "clientUrl is required")
		return
	}

	count := c.relay.addKnown(req.ClientURL)
	c.relay.logger.Info("endpoint registered with relay", log.EndpointKey, req.ClientURL, "client_count", count)

	httputil.WriteJSON(w, http.StatusOK, election.RegisterResponse{
		Status:      "registered",
		ClientCount: count,
	})
}

// handleRequestActive arbitrates an endpoint's request to become
// active. A request racing another mid-flight election is refused;
// the requester may try again. Acceptance adopts the URL and
// broadcasts the change.
func (c *controlServer) handleRequestActive(w http.ResponseWriter, r *http.Request) {
	var req election.RequestActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ServerURL == "" {
		httputil.WriteError(w, http.StatusBadRequest, "serverUrl is required")
		return
	}

	if !c.electionMu.TryLock() {
		c.relay.logger.Warn("refusing request-active during in-flight election", log.EndpointKey, req.ServerURL)
		httputil.WriteSuccess(w, false)
		return
	}
	defer c.electionMu.Unlock()

	c.relay.addKnown(req.ServerURL)
	c.relay.adoptActive(r.Context(), req.ServerURL)
	httputil.WriteSuccess(w, true)
}

// handleActiveChanged adopts an active URL announced by an election
// winner.
func (c *controlServer) handleActiveChanged(w http.ResponseWriter, r *http.Request) {
	var notice election.ActiveChangedNotice
	if err := decodeJSON(r, &notice); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if c.relay.active.Set(notice.ActiveServerURL) {
		metrics.RecordActiveChange()
		c.relay.logger.Info("active endpoint changed", "active_url", notice.ActiveServerURL)
	}
	httputil.WriteSuccess(w, true)
}

// handleToolsUpdated propagates a tool-list change to the downstream
// client as a list_changed notification.
func (c *controlServer) handleToolsUpdated(w http.ResponseWriter, r *http.Request) {
	c.relay.logger.Info("tool list update notice received")
	c.relay.emitToolsChanged()
	httputil.WriteSuccess(w, true)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
