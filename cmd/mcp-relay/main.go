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

// mcp-relay bridges a JSON-RPC client on stdio to the active MCP
// endpoint over HTTP. It discovers endpoints by port scan, registers
// with each, retries forwarded calls with failover, and serves the
// tool list from a persisted cache when no endpoint is reachable.
package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/config"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/log"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/relay"
	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/toolcache"
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
		serverURL    string
		listenPort   int
		scanWidth    int
		settingsPath string
		logLevel     string
		logFormat    string
		cachePath    string
		showVersion  bool
	)

	cmd := &cobra.Command{
		Use:   "mcp-relay",
		Short: "Relay stdio JSON-RPC to the active MCP endpoint",
		Long: `mcp-relay connects an MCP client speaking newline-delimited JSON-RPC
on stdin/stdout to the single active MCP endpoint over HTTP.

The relay scans a range of adjacent localhost ports for live endpoints,
registers with each one it finds, and forwards every request to
whichever endpoint is currently active. When the active endpoint
restarts or hands over, forwarded calls are retried and the new active
endpoint picks them up. The tool list is cached on disk so tools/list
keeps answering across endpoint restarts.

Configuration example for an MCP client:
  {
    "mcpServers": {
      "vscode": {
        "command": "mcp-relay"
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("mcp-relay %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}
			return runRelay(cmd, relayFlags{
				serverURL:    serverURL,
				listenPort:   listenPort,
				scanWidth:    scanWidth,
				settingsPath: settingsPath,
				logLevel:     logLevel,
				logFormat:    logFormat,
				cachePath:    cachePath,
			})
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "Base URL of the endpoint scan range (default http://localhost:60100)")
	cmd.Flags().IntVar(&listenPort, "listen-port", 0, "Control listener port (0 picks the next free port from 60200)")
	cmd.Flags().IntVar(&scanWidth, "scan-width", 0, "Number of ports probed above the base port")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "Path to the YAML settings file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Logging verbosity (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log output format (text, json)")
	cmd.Flags().StringVar(&cachePath, "cache-file", "", "Path to the tool cache file")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	return cmd
}

// applyFlagOverrides lets flags set on the command line take precedence
// over file settings, including explicit zero values.
func applyFlagOverrides(fs *pflag.FlagSet, flags relayFlags, settings *config.Settings) {
	if fs.Changed("server-url") {
		settings.ServerURL = flags.serverURL
	}
	if fs.Changed("listen-port") {
		settings.ListenPort = flags.listenPort
	}
	if fs.Changed("scan-width") {
		settings.ScanWidth = flags.scanWidth
	}
	if fs.Changed("log-level") {
		settings.LogLevel = flags.logLevel
	}
	if fs.Changed("log-format") {
		settings.LogFormat = flags.logFormat
	}
}

type relayFlags struct {
	serverURL    string
	listenPort   int
	scanWidth    int
	settingsPath string
	logLevel     string
	logFormat    string
	cachePath    string
}

func runRelay(cmd *cobra.Command, flags relayFlags) error {
	settings, err := config.LoadSettings(flags.settingsPath)
	if err != nil {
		return err
	}

	applyFlagOverrides(cmd.Flags(), flags, settings)

	logCfg := log.FromEnv()
	if settings.LogLevel != "" {
		logCfg.Level = settings.LogLevel
	}
	if settings.LogFormat != "" {
		logCfg.Format = log.Format(settings.LogFormat)
	}
	// Stdout carries the JSON-RPC stream; logs go to stderr.
	logCfg.Output = os.Stderr
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	basePort, err := basePortFromURL(settings.ServerURL)
	if err != nil {
		return err
	}

	cachePath := flags.cachePath
	if cachePath == "" {
		cacheDir, err := config.CacheDir()
		if err != nil {
			return fmt.Errorf("failed to resolve cache directory: %w", err)
		}
		cachePath = filepath.Join(cacheDir, toolcache.FileName)
	}

	client, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	r, err := relay.New(relay.Config{
		ServerBasePort: basePort,
		ScanWidth:      settings.ScanWidth,
		ListenPort:     settings.ListenPort,
		Client:         client,
		Cache:          toolcache.New(cachePath, toolcache.DefaultTTL),
		Logger:         log.WithComponent(logger, "relay"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting relay", "server_url", settings.ServerURL, "base_port", basePort, "cache_file", cachePath)

	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay error: %w", err)
	}
	return nil
}

// basePortFromURL extracts the port of the configured server base URL.
func basePortFromURL(raw string) (int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	portStr := u.Port()
	if portStr == "" {
		return config.DefaultServerBasePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in server URL %q", raw)
	}
	return port, nil
}
