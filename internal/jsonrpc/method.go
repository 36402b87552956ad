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

package jsonrpc

// Method identifies a known JSON-RPC method for dispatch purposes.
// Unknown methods are forwarded untouched; the relay only special-cases
// the ones below, parsed once per message rather than string-matched at
// every use site.
type Method int

const (
	// MethodOther is any method the relay forwards without inspection.
	MethodOther Method = iota
	// MethodToolsList lists the active endpoint's advertised tools.
	// Its responses feed the capability cache.
	MethodToolsList
	// MethodToolsCall invokes a tool on the active endpoint.
	MethodToolsCall
	// MethodPing is the application-level liveness call.
	MethodPing
)

// Wire-format method names.
const (
	NameToolsList = "tools/list"
	NameToolsCall = "tools/call"
	NamePing      = "ping"

	// NameToolsListChanged is the notification the relay emits to its
	// downstream client when the endpoint's tool list changes.
	NameToolsListChanged = "notifications/tools/list_changed"
)

// ClassifyMethod maps a wire method name to its typed identity.
func ClassifyMethod(name string) Method {
	switch name {
	case NameToolsList:
		return MethodToolsList
	case NameToolsCall:
		return MethodToolsCall
	case NamePing:
		return MethodPing
	default:
		return MethodOther
	}
}

// String returns the wire name for known methods.
func (m Method) String() string {
	switch m {
	case MethodToolsList:
		return NameToolsList
	case MethodToolsCall:
		return NameToolsCall
	case MethodPing:
		return NamePing
	default:
		return "other"
	}
}
