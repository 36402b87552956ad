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

package failover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	base := []Option{WithDelay(time.Millisecond), WithAttemptTimeout(time.Second)}
	return New(nil, nil, append(base, opts...)...)
}

func TestPostJSONSucceedsFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer ts.Close()

	d := testDriver(t)
	res, err := d.PostJSON(context.Background(), ts.URL, []byte(`{}`), ClassifyForward)
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPostJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer ts.Close()

	d := testDriver(t)
	res, err := d.PostJSON(context.Background(), ts.URL, []byte(`{}`), ClassifyForward)
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if string(res.Body) != "ok" {
		t.Errorf("Body = %q, want %q", res.Body, "ok")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPostJSONExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	d := testDriver(t)
	_, err := d.PostJSON(context.Background(), ts.URL, []byte(`{}`), ClassifyForward)
	if err == nil {
		t.Fatal("PostJSON() error = nil, want exhaustion error")
	}
	if calls.Load() != DefaultAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), DefaultAttempts)
	}
	if !strings.Contains(err.Error(), "all 3 attempts") {
		t.Errorf("error %q does not name the attempt count", err)
	}
	// Every attempt's failure is carried in the aggregate.
	for _, want := range []string{"attempt 1", "attempt 2", "attempt 3"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestForwardClassificationPassesThroughClientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`))
	}))
	defer ts.Close()

	d := testDriver(t)
	res, err := d.PostJSON(context.Background(), ts.URL, []byte(`{}`), ClassifyForward)
	if err != nil {
		t.Fatalf("PostJSON() error = %v, want 4xx passthrough", err)
	}
	if res.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", res.Status)
	}
}

func TestRegistrationClassificationFailsClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	d := testDriver(t)
	_, err := d.PostJSON(context.Background(), ts.URL, []byte(`{}`), ClassifyRegistration)
	if err == nil {
		t.Fatal("PostJSON() error = nil, want failure on 400")
	}
	if calls.Load() != DefaultAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), DefaultAttempts)
	}
}

func TestPostJSONUnreachableHost(t *testing.T) {
	d := testDriver(t, WithAttempts(2))
	_, err := d.PostJSON(context.Background(), "http://127.0.0.1:1/", []byte(`{}`), ClassifyForward)
	if err == nil {
		t.Fatal("PostJSON() error = nil, want connection failure")
	}
	if !strings.Contains(err.Error(), "all 2 attempts") {
		t.Errorf("error %q does not name the attempt count", err)
	}
}

func TestPostJSONStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())

	d := New(nil, nil, WithDelay(time.Hour), WithAttemptTimeout(time.Second))
	go func() {
		// Cancel while the driver sits in its inter-attempt delay.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := d.PostJSON(ctx, ts.URL, []byte(`{}`), ClassifyForward)
	if err == nil {
		t.Fatal("PostJSON() error = nil, want cancellation")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no attempt after cancel)", calls.Load())
	}
}
