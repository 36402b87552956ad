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

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// record is one known counterpart. Records are created on
// registration, never mutated, and discarded only when this process
// exits; staleness is tolerated and handled by failover.
type record struct {
	url      string
	features []string
}

// recordSet owns the registration records. Other components observe
// them only through its methods, never by reference.
type recordSet struct {
	mu      sync.Mutex
	order   []string
	records map[string]record
}

func newRecordSet() *recordSet {
	return &recordSet{
		records: make(map[string]record),
	}
}

// add registers a URL, keeping first-registration order, and returns
// the record count. Re-registration refreshes the feature list.
func (r *recordSet) add(url string, features []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[url]; !exists {
		r.order = append(r.order, url)
	}
	r.records[url] = record{url: url, features: features}
	return len(r.records)
}

// urls returns registered URLs in registration order.
func (r *recordSet) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// decodeJSON decodes a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
