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

// Package toolcache holds a time-bounded, persisted snapshot of the
// tool list last obtained from the active endpoint. It avoids
// re-fetching on a hot path and provides a degraded-but-useful
// fallback when the active endpoint is unreachable.
package toolcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultTTL bounds how long a cached tool list is served.
	DefaultTTL = 24 * time.Hour

	// FileName is the cache file name under the per-user cache directory.
	FileName = "tools-cache.json"
)

// Entry is the persisted cache record.
type Entry struct {
	// Timestamp is when the tool list was fetched.
	Timestamp time.Time `json:"timestamp"`

	// Data is the raw tool list as returned by the endpoint.
	Data json.RawMessage `json:"data"`

	// ExpiresAt is when the entry stops being served.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Cache is the tool-list cache. It is constructed explicitly and
// injected into the relay's request loop and the background refresher;
// there is no package-level instance.
type Cache struct {
	mu    sync.RWMutex
	path  string
	ttl   time.Duration
	entry *Entry

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// New creates a cache persisted at path. An existing valid cache file
// is loaded; a missing or corrupt file yields an empty cache.
func New(path string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		path: path,
		ttl:  ttl,
		now:  time.Now,
	}
	c.load()
	return c
}

// load reads the persisted entry, tolerating absence and corruption.
func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return
	}
	if entry.Data == nil {
		return
	}

	c.entry = &entry
}

// Get returns the cached tool list. An expired entry is treated as
// absent.
func (c *Cache) Get() (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return nil, false
	}
	if !c.now().Before(c.entry.ExpiresAt) {
		return nil, false
	}
	return c.entry.Data, true
}

// Put stores a freshly fetched tool list and reports whether it
// differed from the cached one. The persisted copy is only rewritten
// when the list changed, to avoid redundant I/O; an unchanged list
// still refreshes the in-memory expiry.
func (c *Cache) Put(data json.RawMessage) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	changed := c.entry == nil || listLength(c.entry.Data) != listLength(data)

	c.entry = &Entry{
		Timestamp: now,
		Data:      data,
		ExpiresAt: now.Add(c.ttl),
	}

	if !changed {
		return false, nil
	}

	return true, c.persistLocked()
}

// persistLocked writes the entry via temp file and rename for
// atomicity. Caller must hold the lock.
func (c *Cache) persistLocked() error {
	data, err := json.MarshalIndent(c.entry, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	tmpFile := c.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpFile, c.path); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return nil
}

// FilePath returns the path to the cache file.
func (c *Cache) FilePath() string {
	return c.path
}

// listLength counts the elements of a JSON array, or of a "tools"
// array wrapped in an object (the shape of a tools/list result).
// Non-list payloads count as their byte length so any change is
// still observed.
func listLength(data json.RawMessage) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		return len(arr)
	}

	var wrapped struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Tools != nil {
		return len(wrapped.Tools)
	}

	return len(data)
}
