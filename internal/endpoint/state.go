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

package endpoint

import "sync"

// State is the endpoint transport lifecycle state.
type State int

const (
	// StateStopped is the initial state and the state after Close.
	StateStopped State = iota
	// StateStarting is held while the listener binds.
	StateStarting
	// StateRunning means the listener is bound and serving.
	StateRunning
	// StateToolsChanged is a sticky alarm state entered when the tool
	// list changes while running; cleared only when a fresh tools/list
	// request is observed.
	StateToolsChanged
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateToolsChanged:
		return "tools-changed"
	default:
		return "unknown"
	}
}

// Event drives state transitions.
type Event int

const (
	// EventStart begins listener binding.
	EventStart Event = iota
	// EventBound means the listener is accepting connections.
	EventBound
	// EventToolsChanged marks the advertised tool list stale.
	EventToolsChanged
	// EventToolsListSeen records that a fresh tools/list request arrived.
	EventToolsListSeen
	// EventClosed means the listener shut down.
	EventClosed
)

// Transition is the pure state-transition function. It returns the
// next state and whether the event was accepted; rejected events leave
// the state unchanged.
func Transition(s State, e Event) (State, bool) {
	switch e {
	case EventStart:
		if s == StateStopped {
			return StateStarting, true
		}
	case EventBound:
		if s == StateStarting {
			return StateRunning, true
		}
	case EventToolsChanged:
		switch s {
		case StateRunning:
			return StateToolsChanged, true
		case StateToolsChanged:
			// Sticky: already flagged.
			return StateToolsChanged, true
		}
	case EventToolsListSeen:
		if s == StateToolsChanged {
			return StateRunning, true
		}
	case EventClosed:
		return StateStopped, true
	}
	return s, false
}

// machine holds the current state and fans transitions out to
// subscribers. Mutation happens only through Apply.
type machine struct {
	mu    sync.Mutex
	state State
	subs  []chan State
}

// Apply feeds an event through Transition and notifies subscribers of
// an accepted change. Returns the resulting state.
func (m *machine) Apply(e Event) State {
	m.mu.Lock()
	next, ok := Transition(m.state, e)
	changed := ok && next != m.state
	m.state = next
	subs := m.subs
	m.mu.Unlock()

	if changed {
		for _, ch := range subs {
			// Non-blocking: a slow subscriber misses intermediate states
			// but always observes the latest on its next receive.
			select {
			case ch <- next:
			default:
			}
		}
	}

	return next
}

// State returns the current state.
func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel receiving state changes.
func (m *machine) Subscribe() <-chan State {
	ch := make(chan State, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
