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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bcem/forensics/internal/models"
)

// mockMailbox is a hand-written MailboxService guarded by a mutex.
type mockMailbox struct {
	mu        sync.Mutex
	results   map[string][]string // query filter -> native ids
	searchErr map[string]error
	fetchErr  map[string]error
	fetched   []string
	block     chan struct{}
}

func (m *mockMailbox) Search(ctx context.Context, mailbox, query string) ([]models.MessageRef, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.searchErr[query]; err != nil {
		return nil, err
	}
	var refs []models.MessageRef
	for _, id := range m.results[query] {
		refs = append(refs, models.MessageRef{Provider: "google", Mailbox: mailbox, ID: id})
	}
	return refs, nil
}

func (m *mockMailbox) Fetch(_ context.Context, ref models.MessageRef) (*models.RawMessage, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, ref.ID)
	m.mu.Unlock()
	if err := m.fetchErr[ref.ID]; err != nil {
		return nil, err
	}
	return &models.RawMessage{
		Provider: ref.Provider,
		Mailbox:  ref.Mailbox,
		NativeID: ref.ID,
		Headers:  []models.HeaderField{{Name: "Message-ID", Value: "<" + ref.ID + "@x>"}},
	}, nil
}

type mockActivity struct {
	mu    sync.Mutex
	calls []string
	err   map[string]error
}

func (m *mockActivity) List(_ context.Context, identity, application string, _, _ time.Time) ([]models.RawAuditItem, error) {
	m.mu.Lock()
	m.calls = append(m.calls, identity+"/"+application)
	m.mu.Unlock()
	if err := m.err[application]; err != nil {
		return nil, err
	}
	return []models.RawAuditItem{
		{ID: "shared", Application: application, Actor: identity},
		{ID: fmt.Sprintf("%s-%s", identity, application), Application: application, Actor: identity},
	}, nil
}

// TestRun_DedupesAndKeepsFailures verifies that refs surfaced by several
// queries are fetched once and that per-item failures stay in the batch.
func TestRun_DedupesAndKeepsFailures(t *testing.T) {
	mb := &mockMailbox{
		results: map[string][]string{
			"from:ssdhvca.com": {"a", "b"},
			"subject:wire":     {"b", "c"},
			"broken":           nil,
		},
		searchErr: map[string]error{"broken": errors.New("HTTP 400")},
		fetchErr:  map[string]error{"c": errors.New("HTTP 500")},
	}
	act := &mockActivity{err: map[string]error{"admin": errors.New("forbidden")}}

	plan := Plan{Tenants: []Tenant{{
		Name:         "victim",
		Mailbox:      mb,
		Activity:     act,
		Mailboxes:    []string{"lori@victim.example"},
		Identities:   []string{"lori@victim.example"},
		Applications: []string{"gmail", "login", "admin"},
		Queries: []Query{
			{Label: "attacker", Filter: "from:ssdhvca.com"},
			{Label: "wire", Filter: "subject:wire"},
			{Label: "bad", Filter: "broken"},
		},
	}}}

	batch, stats, err := Run(context.Background(), plan, Options{MailboxWorkers: 2, AuditWorkers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mb.fetched) != 3 {
		t.Errorf("expected 3 fetches, got %v", mb.fetched)
	}
	if len(batch.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(batch.Messages))
	}
	// Task order: a and b from the first query, then c from the second.
	if batch.Messages[0].NativeID != "a" || batch.Messages[2].NativeID != "c" {
		t.Errorf("messages out of task order: %+v", batch.Messages)
	}
	if batch.Messages[2].FetchError == "" {
		t.Error("failed fetch should be kept with FetchError")
	}
	// Each message carries the label of the first query that found it,
	// failed fetches included.
	for i, want := range []string{"attacker", "attacker", "wire"} {
		if got := batch.Messages[i].Query; got != want {
			t.Errorf("message %s query = %q, want %q", batch.Messages[i].NativeID, got, want)
		}
	}
	if batch.Messages[0].FetchError != "" {
		t.Errorf("unexpected fetch error on a: %s", batch.Messages[0].FetchError)
	}

	if stats.Searches != 3 || stats.SearchErrors != 1 || stats.FetchErrors != 1 || stats.Fetched != 2 {
		t.Errorf("unexpected mailbox stats %+v", stats)
	}
	if stats.Listings != 3 || stats.ListErrors != 1 {
		t.Errorf("unexpected audit stats %+v", stats)
	}
	// "shared" appears once per application and is kept per application.
	if len(batch.AuditItems) != 4 {
		t.Errorf("expected 4 audit items, got %d", len(batch.AuditItems))
	}
	if len(stats.Errors) != 2 {
		t.Errorf("expected 2 recorded errors, got %v", stats.Errors)
	}
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	mb := &mockMailbox{results: map[string][]string{
		"q1": {"1", "2", "3", "4", "5"},
		"q2": {"6", "7", "3"},
	}}
	plan := Plan{Tenants: []Tenant{{
		Name:      "t",
		Mailbox:   mb,
		Mailboxes: []string{"a@x", "b@x"},
		Queries:   []Query{{Label: "one", Filter: "q1"}, {Label: "two", Filter: "q2"}},
	}}}

	first, _, err := Run(context.Background(), plan, Options{MailboxWorkers: 1})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{2, 8} {
		got, _, err := Run(context.Background(), plan, Options{MailboxWorkers: n})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Messages) != len(first.Messages) {
			t.Fatalf("workers=%d: %d messages, want %d", n, len(got.Messages), len(first.Messages))
		}
		for i := range got.Messages {
			if got.Messages[i].NativeID != first.Messages[i].NativeID || got.Messages[i].Mailbox != first.Messages[i].Mailbox {
				t.Errorf("workers=%d: message %d = %s/%s, want %s/%s", n, i,
					got.Messages[i].Mailbox, got.Messages[i].NativeID,
					first.Messages[i].Mailbox, first.Messages[i].NativeID)
			}
		}
	}
	if len(first.Messages) != 14 {
		t.Errorf("expected 7 unique refs per mailbox, got %d", len(first.Messages))
	}
	if first.Messages[0].Headers == nil {
		t.Error("fetched message lost its headers")
	}
}

// TestRun_CancelledReturnsNoBatch verifies that cancellation is
// all-or-nothing.
func TestRun_CancelledReturnsNoBatch(t *testing.T) {
	mb := &mockMailbox{
		results: map[string][]string{"q": {"1"}},
		block:   make(chan struct{}),
	}
	plan := Plan{Tenants: []Tenant{{
		Name:      "t",
		Mailbox:   mb,
		Mailboxes: []string{"a@x"},
		Queries:   []Query{{Label: "q", Filter: "q"}},
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	batch, _, err := Run(ctx, plan, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(batch.Messages) != 0 || len(batch.AuditItems) != 0 {
		t.Errorf("expected empty batch on cancel, got %+v", batch)
	}
}
