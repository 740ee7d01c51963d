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

package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/forensics/internal/models"
)

type countingMailbox struct {
	mu      sync.Mutex
	fetches int
	fail    bool
}

func (c *countingMailbox) Search(context.Context, string, string) ([]models.MessageRef, error) {
	return []models.MessageRef{{Provider: "google", Mailbox: "a@x", ID: "1"}}, nil
}

func (c *countingMailbox) Fetch(_ context.Context, ref models.MessageRef) (*models.RawMessage, error) {
	c.mu.Lock()
	c.fetches++
	c.mu.Unlock()
	if c.fail {
		return &models.RawMessage{Provider: ref.Provider, Mailbox: ref.Mailbox, NativeID: ref.ID, FetchError: "message not found"}, nil
	}
	return &models.RawMessage{
		Provider: ref.Provider,
		Mailbox:  ref.Mailbox,
		NativeID: ref.ID,
		Received: "1764862200000",
		Headers:  []models.HeaderField{{Name: "Received", Value: "a"}, {Name: "Received", Value: "b"}},
	}, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// TestFetch_ReadThrough verifies that a second fetch is served from Redis
// with the header order intact.
func TestFetch_ReadThrough(t *testing.T) {
	mr, rdb := newRedis(t)
	next := &countingMailbox{}
	c := NewMailbox(next, rdb, time.Hour)
	ref := models.MessageRef{Provider: "google", Mailbox: "a@x", ID: "1"}

	for i := 0; i < 2; i++ {
		msg, err := c.Fetch(context.Background(), ref)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if len(msg.Headers) != 2 || msg.Headers[1].Value != "b" {
			t.Errorf("fetch %d headers = %+v", i, msg.Headers)
		}
	}
	if next.fetches != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", next.fetches)
	}
	if !mr.Exists(Key(ref)) {
		t.Fatal("expected key in redis")
	}
	if ttl := mr.TTL(Key(ref)); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestFetch_FailuresNotCached(t *testing.T) {
	mr, rdb := newRedis(t)
	next := &countingMailbox{fail: true}
	c := NewMailbox(next, rdb, 0)
	ref := models.MessageRef{Provider: "google", Mailbox: "a@x", ID: "gone"}

	for i := 0; i < 2; i++ {
		msg, err := c.Fetch(context.Background(), ref)
		if err != nil || msg.FetchError == "" {
			t.Fatalf("expected FetchError record, got %+v, %v", msg, err)
		}
	}
	if next.fetches != 2 {
		t.Errorf("expected 2 upstream fetches, got %d", next.fetches)
	}
	if mr.Exists(Key(ref)) {
		t.Error("failed fetch must not be cached")
	}
}

func TestFetch_RedisDownFallsBack(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.SetError("LOADING")
	next := &countingMailbox{}
	c := NewMailbox(next, rdb, time.Hour)

	msg, err := c.Fetch(context.Background(), models.MessageRef{Provider: "google", Mailbox: "a@x", ID: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.NativeID != "1" || next.fetches != 1 {
		t.Errorf("expected upstream fetch, got %+v (fetches=%d)", msg, next.fetches)
	}
}

func TestFetch_CorruptEntryRefetched(t *testing.T) {
	mr, rdb := newRedis(t)
	ref := models.MessageRef{Provider: "google", Mailbox: "a@x", ID: "1"}
	mr.Set(Key(ref), "{not json")

	next := &countingMailbox{}
	c := NewMailbox(next, rdb, time.Hour)
	if _, err := c.Fetch(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	if next.fetches != 1 {
		t.Errorf("expected refetch of corrupt entry")
	}
	var msg models.RawMessage
	if got := mr.Exists(Key(ref)); !got {
		t.Fatal("expected the entry to be rewritten")
	}
	data, _ := mr.Get(Key(ref))
	if err := json.Unmarshal([]byte(data), &msg); err != nil || msg.NativeID != "1" {
		t.Errorf("rewritten entry = %q (%v)", data, err)
	}
}
