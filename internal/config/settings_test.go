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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `server_url: http://localhost:61000
listen_port: 61200
scan_width: 4
log_level: debug
log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ServerURL != "http://localhost:61000" {
		t.Errorf("ServerURL = %q, want %q", s.ServerURL, "http://localhost:61000")
	}
	if s.ListenPort != 61200 {
		t.Errorf("ListenPort = %d, want 61200", s.ListenPort)
	}
	if s.ScanWidth != 4 {
		t.Errorf("ScanWidth = %d, want 4", s.ScanWidth)
	}
	if s.LogLevel != "debug" || s.LogFormat != "json" {
		t.Errorf("log settings = %q/%q, want debug/json", s.LogLevel, s.LogFormat)
	}
}

func TestLoadSettingsPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ServerURL != DefaultServerBaseURL {
		t.Errorf("ServerURL = %q, want default %q", s.ServerURL, DefaultServerBaseURL)
	}
	if s.ScanWidth != DefaultScanWidth {
		t.Errorf("ScanWidth = %d, want default %d", s.ScanWidth, DefaultScanWidth)
	}
	if s.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", s.LogLevel, "warn")
	}
}

func TestLoadSettingsMissingDefaultFileYieldsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ServerURL != DefaultServerBaseURL {
		t.Errorf("ServerURL = %q, want default %q", s.ServerURL, DefaultServerBaseURL)
	}
}

func TestLoadSettingsExplicitMissingFileFails(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadSettings() error = nil, want failure for explicit missing path")
	}
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("server_url: [broken\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("LoadSettings() error = nil, want parse failure")
	}
}

func TestConfigDirRespectsXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	want := filepath.Join(base, appDirName)
	if dir != want {
		t.Errorf("ConfigDir() = %q, want %q", dir, want)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("ConfigDir() did not create the directory: %v", err)
	}
}

func TestCacheDirRespectsXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", base)

	dir, err := CacheDir()
	if err != nil {
		t.Fatalf("CacheDir() error = %v", err)
	}
	want := filepath.Join(base, appDirName)
	if dir != want {
		t.Errorf("CacheDir() = %q, want %q", dir, want)
	}
}

func TestLoadSettingsEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("server_url: http://localhost:61000\nscan_width: 4\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("MCP_RELAY_SERVER_URL", "http://localhost:62000")
	t.Setenv("MCP_RELAY_LISTEN_PORT", "62200")
	t.Setenv("MCP_RELAY_SCAN_WIDTH", "7")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ServerURL != "http://localhost:62000" {
		t.Errorf("ServerURL = %q, want env override", s.ServerURL)
	}
	if s.ListenPort != 62200 {
		t.Errorf("ListenPort = %d, want 62200", s.ListenPort)
	}
	if s.ScanWidth != 7 {
		t.Errorf("ScanWidth = %d, want 7", s.ScanWidth)
	}
}

func TestLoadSettingsEnvAppliesWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MCP_RELAY_SERVER_URL", "http://localhost:62000")

	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ServerURL != "http://localhost:62000" {
		t.Errorf("ServerURL = %q, want env value", s.ServerURL)
	}
	if s.ScanWidth != DefaultScanWidth {
		t.Errorf("ScanWidth = %d, want default %d", s.ScanWidth, DefaultScanWidth)
	}
}
