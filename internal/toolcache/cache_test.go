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

package toolcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	return New(filepath.Join(t.TempDir(), FileName), DefaultTTL)
}

func TestPutAndGet(t *testing.T) {
	c := testCache(t)

	if _, ok := c.Get(); ok {
		t.Fatal("Get() on empty cache = hit, want miss")
	}

	list := json.RawMessage(`{"tools":[{"name":"echo"}]}`)
	changed, err := c.Put(list)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !changed {
		t.Error("Put() changed = false, want true for first write")
	}

	got, ok := c.Get()
	if !ok {
		t.Fatal("Get() = miss, want hit")
	}
	if string(got) != string(list) {
		t.Errorf("Get() = %s, want %s", got, list)
	}
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), FileName), time.Hour)

	if _, err := c.Put(json.RawMessage(`{"tools":[]}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Advance the clock past the TTL.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, ok := c.Get(); ok {
		t.Error("Get() on expired entry = hit, want miss")
	}
}

func TestPersistenceAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	list := json.RawMessage(`{"tools":[{"name":"echo"},{"name":"current_time"}]}`)

	first := New(path, DefaultTTL)
	if _, err := first.Put(list); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second := New(path, DefaultTTL)
	got, ok := second.Get()
	if !ok {
		t.Fatal("Get() after reload = miss, want hit")
	}
	if string(got) != string(list) {
		t.Errorf("Get() after reload = %s, want %s", got, list)
	}
}

func TestPersistedEntryShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	c := New(path, DefaultTTL)
	if _, err := c.Put(json.RawMessage(`{"tools":[]}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("persisted file is not a valid entry: %v", err)
	}
	if entry.Timestamp.IsZero() {
		t.Error("persisted Timestamp is zero")
	}
	if !entry.ExpiresAt.After(entry.Timestamp) {
		t.Errorf("ExpiresAt %v not after Timestamp %v", entry.ExpiresAt, entry.Timestamp)
	}
}

func TestCorruptFileYieldsEmptyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{not json`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c := New(path, DefaultTTL)
	if _, ok := c.Get(); ok {
		t.Error("Get() on corrupt file = hit, want miss")
	}
}

func TestUnchangedListSkipsRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	c := New(path, DefaultTTL)

	if _, err := c.Put(json.RawMessage(`{"tools":[{"name":"a"}]}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	// Same tool count: no rewrite.
	changed, err := c.Put(json.RawMessage(`{"tools":[{"name":"a"}]}`))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if changed {
		t.Error("Put() changed = true for same-length list, want false")
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("cache file rewritten for unchanged list")
	}

	// Different tool count: rewrite.
	changed, err = c.Put(json.RawMessage(`{"tools":[{"name":"a"},{"name":"b"}]}`))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !changed {
		t.Error("Put() changed = false for grown list, want true")
	}
}

func TestListLength(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"bare array", `[{"name":"a"},{"name":"b"}]`, 2},
		{"wrapped object", `{"tools":[{"name":"a"}]}`, 1},
		{"empty wrapped", `{"tools":[]}`, 0},
		{"non-list payload", `"xyz"`, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := listLength(json.RawMessage(tt.data)); got != tt.want {
				t.Errorf("listLength(%s) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}
