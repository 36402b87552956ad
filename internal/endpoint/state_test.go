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

import "testing"

func TestTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		event    Event
		want     State
		accepted bool
	}{
		{"start from stopped", StateStopped, EventStart, StateStarting, true},
		{"start while running rejected", StateRunning, EventStart, StateRunning, false},
		{"bound from starting", StateStarting, EventBound, StateRunning, true},
		{"bound from stopped rejected", StateStopped, EventBound, StateStopped, false},
		{"tools changed while running", StateRunning, EventToolsChanged, StateToolsChanged, true},
		{"tools changed is sticky", StateToolsChanged, EventToolsChanged, StateToolsChanged, true},
		{"tools changed while stopped rejected", StateStopped, EventToolsChanged, StateStopped, false},
		{"tools list seen clears alarm", StateToolsChanged, EventToolsListSeen, StateRunning, true},
		{"tools list seen while running is no-op", StateRunning, EventToolsListSeen, StateRunning, false},
		{"closed from running", StateRunning, EventClosed, StateStopped, true},
		{"closed from tools changed", StateToolsChanged, EventClosed, StateStopped, true},
		{"closed from starting", StateStarting, EventClosed, StateStopped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, accepted := Transition(tt.from, tt.event)
			if got != tt.want || accepted != tt.accepted {
				t.Errorf("Transition(%v, %v) = (%v, %v), want (%v, %v)",
					tt.from, tt.event, got, accepted, tt.want, tt.accepted)
			}
		})
	}
}

func TestStickyToolsChangedSurvivesOtherTraffic(t *testing.T) {
	m := &machine{}
	m.Apply(EventStart)
	m.Apply(EventBound)
	m.Apply(EventToolsChanged)

	// Repeated change notices keep the alarm set.
	if got := m.Apply(EventToolsChanged); got != StateToolsChanged {
		t.Errorf("state = %v, want %v", got, StateToolsChanged)
	}

	// Only a fresh tools/list request clears it.
	if got := m.Apply(EventToolsListSeen); got != StateRunning {
		t.Errorf("state = %v, want %v", got, StateRunning)
	}
}

func TestMachineSubscribe(t *testing.T) {
	m := &machine{}
	ch := m.Subscribe()

	m.Apply(EventStart)
	m.Apply(EventBound)

	want := []State{StateStarting, StateRunning}
	for _, w := range want {
		select {
		case got := <-ch:
			if got != w {
				t.Errorf("observed %v, want %v", got, w)
			}
		default:
			t.Fatalf("missing state notification for %v", w)
		}
	}
}

func TestMachineRejectedEventDoesNotNotify(t *testing.T) {
	m := &machine{}
	ch := m.Subscribe()

	// Bound without start is rejected.
	m.Apply(EventBound)

	select {
	case got := <-ch:
		t.Errorf("unexpected notification %v for rejected event", got)
	default:
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateToolsChanged, "tools-changed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
