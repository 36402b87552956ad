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

// mcp-serverd hosts a standalone MCP endpoint with a built-in tool
// set. It binds the endpoint port, taking it over from a previous
// instance via handover when busy, and registers with a relay when one
// is configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/config"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/election"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/endpoint"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/log"
	"github.com/yulongbai-nov/vscode-as-mcp-server/pkg/httpclient"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		port        int
		relayURL    string
		settleDelay time.Duration
		logLevel    string
		logFormat   string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "mcp-serverd",
		Short: "Host a standalone MCP endpoint",
		Long: `mcp-serverd runs one MCP endpoint: an HTTP listener accepting
JSON-RPC calls on POST / with a built-in tool set behind it.

When the configured port is already held by another endpoint instance,
mcp-serverd asks it to hand the port over, waits for its listener to
close, and binds after a short settle delay. With --relay-url set it
registers with the relay and requests to become the active endpoint.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("mcp-serverd %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}
			return runServer(cmd, port, relayURL, settleDelay, logLevel, logFormat)
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultServerBasePort, "Endpoint listener port")
	cmd.Flags().StringVar(&relayURL, "relay-url", "", "Relay control URL to register with")
	cmd.Flags().DurationVar(&settleDelay, "settle-delay", 0, "Pause between handover grant and bind (default 500ms)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Logging verbosity (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log output format (text, json)")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	return cmd
}

func runServer(cmd *cobra.Command, port int, relayURL string, settleDelay time.Duration, logLevel, logFormat string) error {
	logCfg := log.FromEnv()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if logFormat != "" {
		logCfg.Format = log.Format(logFormat)
	}
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	client, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}
	coord := election.NewCoordinator(client, logger)

	handler := newToolHandler("mcp-serverd", version, logger)
	srv := endpoint.NewServer(endpoint.Config{
		Port:        port,
		Handler:     handler,
		SettleDelay: settleDelay,
		Coordinator: coord,
		Logger:      log.WithComponent(logger, "endpoint"),
	})
	handler.setReplier(srv)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		if !errors.Is(err, endpoint.ErrPortInUse) {
			return fmt.Errorf("failed to start endpoint: %w", err)
		}
		logger.Info("port busy, requesting handover", "port", port)
		if err := srv.RequestHandover(ctx); err != nil {
			return fmt.Errorf("handover failed: %w", err)
		}
	}

	if relayURL != "" {
		announceToRelay(ctx, coord, relayURL, srv, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return srv.Close()
}

// announceToRelay registers this endpoint with the relay and requests
// to become active. Failures are logged, not fatal; the relay's own
// rescan will find us.
func announceToRelay(ctx context.Context, coord *election.Coordinator, relayURL string, srv *endpoint.Server, logger *slog.Logger) {
	if _, err := coord.Register(ctx, relayURL, srv.URL(), []string{"tools"}); err != nil {
		logger.Warn("failed to register with relay", "relay_url", relayURL, "error", err)
		return
	}

	granted, err := coord.RequestActive(ctx, relayURL, srv.URL())
	if err != nil {
		logger.Warn("request-active failed", "relay_url", relayURL, "error", err)
		return
	}
	if granted {
		srv.SetActive(srv.URL())
		logger.Info("became active endpoint", "url", srv.URL())
	} else {
		logger.Info("request-active refused, staying standby", "url", srv.URL())
	}
}
