// Copyright (c) 2026 John Earle
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

package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type payload struct {
	Value string `json:"value"`
}

func fastClient(hc *http.Client) *Client {
	return New(hc, Options{RPS: 1000, MaxRetries: 3, InitialBackoff: time.Millisecond})
}

// TestGetJSON_RetriesThrottled verifies that 429 responses are retried and
// the eventual success is decoded.
func TestGetJSON_RetriesThrottled(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-Page", "last")
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer server.Close()

	var out payload
	hdr, err := fastClient(server.Client()).GetJSON(context.Background(), server.URL, nil, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != "ok" || hdr.Get("X-Page") != "last" {
		t.Errorf("got %+v, header %q", out, hdr.Get("X-Page"))
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

// TestGetJSON_NotFoundIsPermanent verifies that 404 is returned at once.
func TestGetJSON_NotFoundIsPermanent(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	var out payload
	_, err := fastClient(server.Client()).GetJSON(context.Background(), server.URL, nil, &out)
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls)
	}
}

// TestGetJSON_GivesUpOnServerErrors verifies the retry bound.
func TestGetJSON_GivesUpOnServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var out payload
	_, err := fastClient(server.Client()).GetJSON(context.Background(), server.URL, nil, &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("expected 1 call plus 3 retries, got %d", calls)
	}
}

func TestGetJSON_SendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("ConsistencyLevel") != "eventual" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer server.Close()

	var out payload
	_, err := fastClient(server.Client()).GetJSON(context.Background(), server.URL,
		map[string]string{"ConsistencyLevel": "eventual"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetJSON_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out payload
	if _, err := fastClient(server.Client()).GetJSON(ctx, server.URL, nil, &out); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter("7"); got != 7*time.Second {
		t.Errorf("retryAfter(7) = %v", got)
	}
	if got := retryAfter("soon"); got != 0 {
		t.Errorf("retryAfter(soon) = %v", got)
	}
}
