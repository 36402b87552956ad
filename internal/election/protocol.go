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

// Package election implements the client side of the registration and
// election protocol: endpoints and the relay register with each other,
// any endpoint may request to become active, and a successful election
// is broadcast best-effort to every known party.
package election

import "time"

// Control endpoint paths.
const (
	PathPing            = "/ping"
	PathRegister        = "/register"
	PathRequestHandover = "/request-handover"
	PathRequestActive   = "/request-active"
	PathActiveChanged   = "/active-server-changed"
	PathToolsUpdated    = "/notify-tools-updated"
)

// PingResponse is the body of GET /ping.
type PingResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	ServerRunning bool   `json:"serverRunning"`
	InstanceID    string `json:"instanceId,omitempty"`
	ActiveURL     string `json:"activeUrl,omitempty"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	ClientURL string   `json:"clientUrl"`
	Features  []string `json:"features"`
}

// RegisterResponse is the body answering POST /register.
type RegisterResponse struct {
	Status      string `json:"status"`
	ClientCount int    `json:"clientCount"`
}

// RequestActiveRequest is the body of POST /request-active.
type RequestActiveRequest struct {
	ServerURL string `json:"serverUrl"`
}

// ActiveChangedNotice is the body of POST /active-server-changed.
type ActiveChangedNotice struct {
	ActiveServerURL string `json:"activeServerUrl"`
	Timestamp       string `json:"timestamp"`
}

// SuccessResponse is the shared {success} body of the control endpoints.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// NewActiveChangedNotice stamps a notice for the given URL.
func NewActiveChangedNotice(activeURL string) ActiveChangedNotice {
	return ActiveChangedNotice{
		ActiveServerURL: activeURL,
		Timestamp:       time.Now().Format(time.RFC3339),
	}
}
