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

// Package correlate matches asynchronous JSON-RPC responses to the
// calls that produced them. A call and its response arrive as two
// independent events; the correlator turns them back into one unit
// keyed by the request identifier.
package correlate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yulongbai-nov/vscode-as-mcp-server/internal/jsonrpc"
)

var (
	// ErrDuplicateID is returned when a call identifier is already pending.
	ErrDuplicateID = errors.New("correlate: duplicate request id")

	// ErrEmptyID is returned when a call has no identifier to correlate on.
	ErrEmptyID = errors.New("correlate: empty request id")
)

// Correlator owns the set of pending calls. Each registered identifier
// has exactly one waiter; a matching response resolves it exactly once.
// The pending set is owned exclusively by the correlator and never
// shared by reference.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Message
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{
		pending: make(map[string]chan *jsonrpc.Message),
	}
}

// Register records a pending call for the given identifier key and
// returns the channel its response will be delivered on. The channel
// is buffered so Resolve never blocks on a slow waiter.
func (c *Correlator) Register(idKey string) (<-chan *jsonrpc.Message, error) {
	if idKey == "" {
		return nil, ErrEmptyID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[idKey]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, idKey)
	}

	ch := make(chan *jsonrpc.Message, 1)
	c.pending[idKey] = ch
	return ch, nil
}

// Resolve delivers a response to the pending call with a matching
// identifier and removes it. It reports whether a waiter was found;
// a miss (late, duplicate, or unmatched reply) is a recoverable
// condition for the caller to log, never an error.
func (c *Correlator) Resolve(msg *jsonrpc.Message) bool {
	key := msg.IDKey()
	if key == "" {
		return false
	}

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	ch <- msg
	return true
}

// Abandon removes a pending call without delivering a response, used
// when the transport that carried the call goes away. Abandoning an
// unknown identifier is a no-op.
func (c *Correlator) Abandon(idKey string) {
	c.mu.Lock()
	delete(c.pending, idKey)
	c.mu.Unlock()
}

// Len returns the number of outstanding calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
