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

// Package jsonrpc defines the JSON-RPC 2.0 envelope the relay and
// endpoints exchange. The relay does not implement method semantics;
// it only parses enough structure to correlate responses with calls
// and to recognize the handful of methods that matter for caching.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC protocol version carried in every envelope.
const Version = "2.0"

var (
	// ErrInvalidMessage is returned when a message cannot be parsed.
	ErrInvalidMessage = errors.New("jsonrpc: invalid message")

	// ErrNotCallOrResponse is returned when a message is neither a call
	// nor a response.
	ErrNotCallOrResponse = errors.New("jsonrpc: message is neither call nor response")
)

// Standard and relay-specific error codes.
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError = -32700
	// CodeMethodNotFound indicates the method does not exist.
	CodeMethodNotFound = -32601
	// CodeInternalError indicates an internal JSON-RPC error.
	CodeInternalError = -32603
	// CodeUpstreamUnavailable is the relay's code for a forwarded call
	// whose retries were exhausted without reaching the active endpoint.
	CodeUpstreamUnavailable = -32001
)

// Message is a JSON-RPC 2.0 envelope: either a call (Method set, ID
// optional) or a response (ID set, Result or Error set). Identifiers
// are opaque; the raw JSON bytes are preserved so number and string
// ids round-trip exactly.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error member of a response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsCall reports whether the message is a call (request or notification).
func (m *Message) IsCall() bool {
	return m.Method != ""
}

// IsNotification reports whether the message is a call that expects no reply.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsResponse reports whether the message is a response to an earlier call.
func (m *Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// IDKey returns the correlation key for the message identifier: the raw
// JSON bytes, so 1 and "1" remain distinct. Empty when no id is present.
func (m *Message) IDKey() string {
	return string(m.ID)
}

// Validate checks that the message is a well-formed call or response.
func (m *Message) Validate() error {
	if m.IsCall() {
		return nil
	}
	if len(m.ID) == 0 {
		return ErrNotCallOrResponse
	}
	if m.Result == nil && m.Error == nil {
		return fmt.Errorf("%w: response carries neither result nor error", ErrInvalidMessage)
	}
	return nil
}

// Parse decodes and validates a JSON-RPC message from raw bytes.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewCall creates a call message with the given id, method, and params.
// A nil id produces a notification.
func NewCall(id json.RawMessage, method string, params any) (*Message, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: paramsJSON}, nil
}

// NewResponse creates a response message for the given request id.
func NewResponse(id json.RawMessage, result any) (*Message, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: resultJSON}, nil
}

// NewError creates an error response message for the given request id.
func NewError(id json.RawMessage, code int, message string) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

// Marshal encodes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
