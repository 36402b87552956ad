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

// Package config holds relay and endpoint settings: per-user
// directories, defaults, and the optional YAML settings file.
// Precedence is flag > environment > file > default; flags and
// environment are applied by the commands, this package supplies
// file and default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults for the coordination layer.
const (
	// DefaultServerBaseURL is the base URL endpoints are discovered from.
	DefaultServerBaseURL = "http://localhost:60100"

	// DefaultServerBasePort is the first port of the endpoint scan range.
	DefaultServerBasePort = 60100

	// DefaultScanWidth is the number of adjacent ports probed above the base.
	DefaultScanWidth = 10

	// DefaultRelayPortBase is the first port the relay control listener
	// tries when no explicit listen port is configured.
	DefaultRelayPortBase = 60200
)

// Settings mirrors the relay's command-line flags in the optional YAML
// settings file.
type Settings struct {
	// ServerURL is the base URL of the endpoint scan range.
	ServerURL string `yaml:"server_url"`

	// ListenPort is the relay control listener port. Zero means pick the
	// next free port starting from the relay port base.
	ListenPort int `yaml:"listen_port"`

	// ScanWidth is the number of ports probed above the base port.
	ScanWidth int `yaml:"scan_width"`

	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat sets the log output format (json, text).
	LogFormat string `yaml:"log_format"`
}

// DefaultSettings returns settings with all defaults applied.
func DefaultSettings() *Settings {
	return &Settings{
		ServerURL: DefaultServerBaseURL,
		ScanWidth: DefaultScanWidth,
	}
}

// DefaultSettingsPath returns the default settings file location.
// The file is optional; a missing file at this path is not an error.
func DefaultSettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// LoadSettings reads settings from path, falling back to defaults for
// unset fields. An empty path loads the default location, where a
// missing file simply yields defaults; an explicit path must exist.
func LoadSettings(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultSettingsPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			s := DefaultSettings()
			s.applyEnv()
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if s.ServerURL == "" {
		s.ServerURL = DefaultServerBaseURL
	}
	if s.ScanWidth <= 0 {
		s.ScanWidth = DefaultScanWidth
	}

	s.applyEnv()
	return s, nil
}

// applyEnv overlays environment variables on top of file values. Log
// level and format stay with the log package's own environment handling.
func (s *Settings) applyEnv() {
	if v := os.Getenv("MCP_RELAY_SERVER_URL"); v != "" {
		s.ServerURL = v
	}
	if v := os.Getenv("MCP_RELAY_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.ListenPort = port
		}
	}
	if v := os.Getenv("MCP_RELAY_SCAN_WIDTH"); v != "" {
		if width, err := strconv.Atoi(v); err == nil && width > 0 {
			s.ScanWidth = width
		}
	}
}
