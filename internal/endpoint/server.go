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

// Package endpoint implements the per-process HTTP transport of an
// endpoint: inbound JSON-RPC over POST /, reply correlation, the
// liveness/registration/handover control surface, and the lifecycle
// state machine. An inbound call and its eventual reply arrive as two
// independent exchanges; the transport turns them back into one
// correlated HTTP response.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/correlate"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/election"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/httputil"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/jsonrpc"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/log"
)

var (
	// ErrPortInUse is returned when the configured port is already bound.
	// Fatal to Start; callers choose another port or give up, this layer
	// does not scan.
	ErrPortInUse = errors.New("endpoint: port in use")

	// ErrAlreadyStarted is returned when Start is called on a running server.
	ErrAlreadyStarted = errors.New("endpoint: server already started")

	// ErrReplyTimeout is returned when a correlated reply does not arrive
	// within the reply window.
	ErrReplyTimeout = errors.New("endpoint: timed out waiting for reply")
)

// Handler receives inbound JSON-RPC calls. Dispatch must not block on
// producing the reply; replies are delivered asynchronously through
// Server.Reply keyed by the call identifier.
type Handler interface {
	Dispatch(ctx context.Context, msg *jsonrpc.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *jsonrpc.Message) error

// Dispatch calls f.
func (f HandlerFunc) Dispatch(ctx context.Context, msg *jsonrpc.Message) error {
	return f(ctx, msg)
}

// Config configures an endpoint Server.
type Config struct {
	// Port is the listener port. Start fails if it is taken.
	Port int

	// InstanceID identifies this endpoint process. Defaults to a UUID.
	InstanceID string

	// Handler receives inbound calls. Required for Start.
	Handler Handler

	// SettleDelay is the pause between a handover grant and binding the
	// freed port, to avoid a bind race. Default: 500ms.
	SettleDelay time.Duration

	// ReplyTimeout bounds how long an inbound call blocks waiting for
	// its correlated reply. Default: 30s.
	ReplyTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown before in-flight
	// requests are cut. Default: 2s.
	ShutdownTimeout time.Duration

	// Coordinator issues outbound control calls (handover, ping).
	// Defaults to one built on http.DefaultClient.
	Coordinator *election.Coordinator

	// Logger is the structured logger for server events.
	Logger *slog.Logger
}

// Server is the endpoint transport.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	machine *machine
	calls   *correlate.Correlator
	coord   *election.Coordinator

	mu         sync.Mutex
	httpServer *http.Server
	ln         net.Listener
	closing    chan struct{}
	closeErr   error

	stateMu   sync.RWMutex
	isActive  bool
	activeURL string

	records *recordSet
}

// NewServer creates a new endpoint server from cfg.
func NewServer(cfg Config) *Server {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = election.NewCoordinator(nil, cfg.Logger)
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		machine: &machine{},
		calls:   correlate.New(),
		coord:   cfg.Coordinator,
		records: newRecordSet(),
	}
}

// URL returns this endpoint's base URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.cfg.Port)
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return s.machine.State()
}

// Subscribe returns a channel receiving lifecycle state changes.
func (s *Server) Subscribe() <-chan State {
	return s.machine.Subscribe()
}

// IsActive reports this endpoint's local belief that it is the active
// endpoint.
func (s *Server) IsActive() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.isActive
}

// ActiveURL returns the URL this endpoint currently believes is active.
func (s *Server) ActiveURL() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.activeURL
}

// SetActive records the believed active URL and derives the local
// isActive flag from it.
func (s *Server) SetActive(activeURL string) {
	s.stateMu.Lock()
	s.activeURL = activeURL
	s.isActive = activeURL == s.URL()
	s.stateMu.Unlock()
}

// Known returns the URLs of all registered counterparts.
func (s *Server) Known() []string {
	return s.records.urls()
}

// Start binds the listener on the configured port and begins serving.
// A taken port fails with ErrPortInUse; everything after bind is
// per-request recoverable and never crashes the listener.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return ErrAlreadyStarted
	}

	s.machine.Apply(EventStart)

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.machine.Apply(EventClosed)
		return fmt.Errorf("%w: %s: %v", ErrPortInUse, addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("POST /", s.handleInbound)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /request-handover", s.handleRequestHandover)
	mux.HandleFunc("POST /notify-tools-updated", s.handleToolsUpdated)
	mux.HandleFunc("POST /active-server-changed", s.handleActiveChanged)

	s.ln = ln
	s.closing = nil
	s.closeErr = nil
	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// WriteTimeout intentionally omitted: inbound calls block until
		// their correlated reply arrives.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("endpoint server error", log.Error(err))
		}
	}(s.httpServer, ln)

	s.machine.Apply(EventBound)
	s.logger.Info("endpoint listening",
		log.PortKey, s.cfg.Port,
		"instance_id", s.cfg.InstanceID)

	return nil
}

// Close shuts the listener down. Idempotent; concurrent callers await
// the same in-flight shutdown rather than double-closing the socket.
// Outstanding pending calls are not resolved or rejected here; their
// callers' own timeouts govern.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.httpServer == nil {
		s.mu.Unlock()
		return nil
	}
	if s.closing != nil {
		ch := s.closing
		s.mu.Unlock()
		<-ch
		return s.closeErr
	}
	ch := make(chan struct{})
	s.closing = ch
	srv := s.httpServer
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		// Blocked reply waits can outlive the grace window; cut them.
		err = srv.Close()
	}

	s.mu.Lock()
	s.httpServer = nil
	s.ln = nil
	s.closeErr = err
	s.mu.Unlock()

	s.machine.Apply(EventClosed)
	close(ch)

	s.logger.Info("endpoint closed", log.PortKey, s.cfg.Port)
	return err
}

// Reply delivers a JSON-RPC response produced by the handler to the
// inbound HTTP exchange waiting on its identifier. An unmatched reply
// (late, duplicate, or stray) is logged and dropped; this is a
// recoverable, non-fatal condition.
func (s *Server) Reply(msg *jsonrpc.Message) {
	if !s.calls.Resolve(msg) {
		s.logger.Warn("dropping reply with no pending call", log.RequestIDKey, msg.IDKey())
	}
}

// RequestHandover asks the believed-active endpoint to relinquish
// control, waits for its listener to fully close, then binds this
// endpoint's own listener after the settle delay. An unreachable
// holder is treated as an implicit grant and the delay-then-start
// sequence still proceeds.
func (s *Server) RequestHandover(ctx context.Context) error {
	s.mu.Lock()
	started := s.httpServer != nil
	s.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}

	target := s.ActiveURL()
	if target == "" {
		// Same-port takeover: the current holder answers on the URL this
		// endpoint wants to bind.
		target = s.URL()
	}
	acked, err := s.coord.RequestHandover(ctx, target)
	if err != nil {
		return err
	}
	if acked {
		s.waitForClose(ctx, target)
	}

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.Start(ctx)
}

// waitForClose polls the remote until its listener stops answering or
// the wait window expires.
func (s *Server) waitForClose(ctx context.Context, url string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.coord.Ping(ctx, url); err != nil {
			return
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
	s.logger.Warn("handover target still answering after grace period", log.EndpointKey, url)
}

// handlePing answers the liveness probe.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	state := s.machine.State()
	httputil.WriteJSON(w, http.StatusOK, election.PingResponse{
		Status:        "ok",
		Timestamp:     time.Now().Format(time.RFC3339),
		ServerRunning: state == StateRunning || state == StateToolsChanged,
		InstanceID:    s.cfg.InstanceID,
		ActiveURL:     s.ActiveURL(),
	})
}

// handleInbound accepts a JSON-RPC message. Calls with an identifier
// block until the handler replies or the reply window expires; calls
// without respond immediately after dispatch; response messages feed
// the correlator.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	msg, err := jsonrpc.Parse(body)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, jsonrpc.NewError(nil, jsonrpc.CodeParseError, err.Error()))
		return
	}

	switch {
	case msg.IsResponse():
		// A reply arriving as its own exchange; correlate and ack.
		s.Reply(msg)
		w.Write([]byte("OK"))

	case msg.IsNotification():
		s.dispatch(r.Context(), msg)
		w.Write([]byte("OK"))

	default:
		s.handleCall(r.Context(), w, msg)
	}
}

// handleCall registers a pending call, dispatches, and blocks the HTTP
// response until the handler replies.
func (s *Server) handleCall(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.Message) {
	if jsonrpc.ClassifyMethod(msg.Method) == jsonrpc.MethodToolsList {
		// A fresh tools/list request clears the sticky alarm state.
		s.machine.Apply(EventToolsListSeen)
	}

	ch, err := s.calls.Register(msg.IDKey())
	if err != nil {
		s.writeMessage(w, http.StatusOK, jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, err.Error()))
		return
	}

	s.dispatch(ctx, msg)

	select {
	case reply := <-ch:
		s.writeMessage(w, http.StatusOK, reply)
	case <-time.After(s.cfg.ReplyTimeout):
		s.calls.Abandon(msg.IDKey())
		s.writeMessage(w, http.StatusGatewayTimeout, jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, ErrReplyTimeout.Error()))
	case <-ctx.Done():
		s.calls.Abandon(msg.IDKey())
	}
}

// dispatch hands a message to the application handler, converting a
// handler fault into an error reply rather than a dead listener.
func (s *Server) dispatch(ctx context.Context, msg *jsonrpc.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("handler panicked", log.MethodKey, msg.Method, "panic", rec)
			if len(msg.ID) > 0 {
				s.Reply(jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, fmt.Sprintf("handler panic: %v", rec)))
			}
		}
	}()

	if s.cfg.Handler == nil {
		if len(msg.ID) > 0 {
			s.Reply(jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "no handler configured"))
		}
		return
	}

	if err := s.cfg.Handler.Dispatch(ctx, msg); err != nil {
		s.logger.Warn("handler error", log.MethodKey, msg.Method, log.Error(err))
		if len(msg.ID) > 0 {
			s.Reply(jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, err.Error()))
		}
	}
}

// handleRegister records a counterpart's callback URL. Registration is
// advisory and additive only; stale records are skipped when later
// unreachable.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req election.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientURL == "" {
		httputil.WriteError(w, http.StatusBadRequest, "clientUrl is required")
		return
	}

	count := s.records.add(req.ClientURL, req.Features)
	s.logger.Info("registered client", log.EndpointKey, req.ClientURL, "client_count", count)

	httputil.WriteJSON(w, http.StatusOK, election.RegisterResponse{
		Status:      "registered",
		ClientCount: count,
	})
}

// handleRequestHandover acknowledges immediately, then closes the
// listener asynchronously so the requester can bind this port.
func (s *Server) handleRequestHandover(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, true)

	s.stateMu.Lock()
	s.isActive = false
	s.stateMu.Unlock()

	s.logger.Info("handover requested, closing listener", log.PortKey, s.cfg.Port)
	go s.Close()
}

// handleToolsUpdated moves the transport into the sticky
// tools-changed state.
func (s *Server) handleToolsUpdated(w http.ResponseWriter, r *http.Request) {
	s.machine.Apply(EventToolsChanged)
	httputil.WriteSuccess(w, true)
}

// handleActiveChanged adopts the broadcast active URL.
func (s *Server) handleActiveChanged(w http.ResponseWriter, r *http.Request) {
	var notice election.ActiveChangedNotice
	if err := decodeJSON(r, &notice); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.SetActive(notice.ActiveServerURL)
	s.logger.Info("active endpoint changed", "active_url", notice.ActiveServerURL, "is_self", s.IsActive())
	httputil.WriteSuccess(w, true)
}

// writeMessage writes a JSON-RPC message as the HTTP response body.
func (s *Server) writeMessage(w http.ResponseWriter, status int, msg *jsonrpc.Message) {
	data, err := msg.Marshal()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
