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

package relay

import "sync"

// ActiveState is the relay's single mutable cell holding the currently
// believed active endpoint URL. It is constructed explicitly and passed
// into the components that need it, so multiple relays can be tested in
// isolation; it is written only by the election paths and read before
// every forwarded call.
type ActiveState struct {
	mu  sync.RWMutex
	url string
}

// NewActiveState creates an empty active state.
func NewActiveState() *ActiveState {
	return &ActiveState{}
}

// URL returns the believed active endpoint URL, or "" when none is
// known yet.
func (a *ActiveState) URL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.url
}

// Set records a new active URL and reports whether it changed.
func (a *ActiveState) Set(url string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.url == url {
		return false
	}
	a.url = url
	return true
}
