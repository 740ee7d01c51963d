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

// Package ingest gathers the raw batch for one investigation from the
// mailbox and activity log services of each configured tenant.
//
// Fetches run on a bounded worker pool per source. Each task writes only
// its own result slot; slots are merged in task order once every worker
// has finished, so the batch is the same regardless of scheduling.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/forensics/internal/models"
)

// MailboxService is the Mailbox Query Service of one provider.
type MailboxService interface {
	Search(ctx context.Context, mailbox, query string) ([]models.MessageRef, error)
	Fetch(ctx context.Context, ref models.MessageRef) (*models.RawMessage, error)
}

// ActivityLogService is the Account Activity Log Service of one provider.
type ActivityLogService interface {
	List(ctx context.Context, identity, application string, start, end time.Time) ([]models.RawAuditItem, error)
}

// Query is a labelled mailbox search filter. The filter syntax belongs to
// the provider and is passed through untouched.
type Query struct {
	Label  string
	Filter string
}

// Tenant is one provider account with its services and targets. Either
// service may be nil.
type Tenant struct {
	Name       string
	Mailbox    MailboxService
	Activity   ActivityLogService
	Mailboxes  []string
	Identities []string
	Queries    []Query
	// Applications are the activity log applications to list per identity.
	Applications []string
}

// Plan is everything one ingestion pass fetches.
type Plan struct {
	Tenants []Tenant
	Start   time.Time
	End     time.Time
}

// Options bounds the worker pools.
type Options struct {
	MailboxWorkers int
	AuditWorkers   int
}

const defaultWorkers = 4

// Stats counts what the pass did. Failures counted here did not stop the
// batch; they are either retained as raw records with FetchError set or,
// for searches and listings, reported only here.
type Stats struct {
	Searches     int      `json:"searches"`
	SearchErrors int      `json:"search_errors"`
	Refs         int      `json:"refs"`
	Fetched      int      `json:"fetched"`
	FetchErrors  int      `json:"fetch_errors"`
	Listings     int      `json:"listings"`
	ListErrors   int      `json:"list_errors"`
	AuditItems   int      `json:"audit_items"`
	Errors       []string `json:"errors,omitempty"`
}

// Run executes the plan. A cancelled context returns the context error and
// no partial batch.
func Run(ctx context.Context, plan Plan, opts Options) (models.Batch, Stats, error) {
	if opts.MailboxWorkers <= 0 {
		opts.MailboxWorkers = defaultWorkers
	}
	if opts.AuditWorkers <= 0 {
		opts.AuditWorkers = defaultWorkers
	}

	var (
		messages  []models.RawMessage
		items     []models.RawAuditItem
		mailStats Stats
		auditStat Stats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		messages, mailStats, err = runMailbox(gctx, plan, opts.MailboxWorkers)
		return err
	})
	g.Go(func() error {
		var err error
		items, auditStat, err = runAudit(gctx, plan, opts.AuditWorkers)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Batch{}, Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Batch{}, Stats{}, err
	}

	stats := mailStats
	stats.Listings = auditStat.Listings
	stats.ListErrors = auditStat.ListErrors
	stats.AuditItems = auditStat.AuditItems
	stats.Errors = append(stats.Errors, auditStat.Errors...)

	slog.Info("ingestion complete",
		"searches", stats.Searches,
		"search_errors", stats.SearchErrors,
		"messages", len(messages),
		"fetch_errors", stats.FetchErrors,
		"audit_items", stats.AuditItems,
		"list_errors", stats.ListErrors,
	)

	return models.Batch{Messages: messages, AuditItems: items}, stats, nil
}

type searchTask struct {
	tenant  *Tenant
	mailbox string
	query   Query
}

type searchResult struct {
	refs []models.MessageRef
	err  error
}

type fetchTask struct {
	tenant *Tenant
	ref    models.MessageRef
}

func runMailbox(ctx context.Context, plan Plan, workers int) ([]models.RawMessage, Stats, error) {
	var stats Stats

	var searches []searchTask
	for i := range plan.Tenants {
		t := &plan.Tenants[i]
		if t.Mailbox == nil {
			continue
		}
		for _, mb := range t.Mailboxes {
			for _, q := range t.Queries {
				searches = append(searches, searchTask{tenant: t, mailbox: mb, query: q})
			}
		}
	}

	found := make([]searchResult, len(searches))
	if err := pool(ctx, workers, len(searches), func(ctx context.Context, i int) {
		s := searches[i]
		refs, err := s.tenant.Mailbox.Search(ctx, s.mailbox, s.query.Filter)
		found[i] = searchResult{refs: refs, err: err}
	}); err != nil {
		return nil, Stats{}, err
	}

	// Several queries usually surface the same message; fetch it once.
	type refKey struct{ tenant, mailbox, id string }
	seen := make(map[refKey]bool)
	var fetches []fetchTask
	for i, r := range found {
		s := searches[i]
		stats.Searches++
		if r.err != nil {
			stats.SearchErrors++
			stats.Errors = append(stats.Errors, fmt.Sprintf("search %s %s %q: %v", s.tenant.Name, s.mailbox, s.query.Label, r.err))
			slog.Error("mailbox search failed",
				"tenant", s.tenant.Name,
				"mailbox", s.mailbox,
				"query", s.query.Label,
				"error", r.err,
			)
			continue
		}
		slog.Debug("mailbox search",
			"tenant", s.tenant.Name,
			"mailbox", s.mailbox,
			"query", s.query.Label,
			"refs", len(r.refs),
		)
		for _, ref := range r.refs {
			k := refKey{s.tenant.Name, ref.Mailbox, ref.ID}
			if seen[k] {
				continue
			}
			seen[k] = true
			ref.Query = s.query.Label
			if ref.Query == "" {
				ref.Query = s.query.Filter
			}
			fetches = append(fetches, fetchTask{tenant: s.tenant, ref: ref})
		}
	}
	stats.Refs = len(fetches)

	messages := make([]models.RawMessage, len(fetches))
	if err := pool(ctx, workers, len(fetches), func(ctx context.Context, i int) {
		f := fetches[i]
		msg, err := f.tenant.Mailbox.Fetch(ctx, f.ref)
		if err == nil && msg == nil {
			err = fmt.Errorf("fetch %s: empty response", f.ref.ID)
		}
		if err != nil {
			msg = &models.RawMessage{
				Provider:   f.ref.Provider,
				Mailbox:    f.ref.Mailbox,
				NativeID:   f.ref.ID,
				FetchError: err.Error(),
			}
		}
		messages[i] = *msg
		messages[i].Query = f.ref.Query
	}); err != nil {
		return nil, Stats{}, err
	}

	for i := range messages {
		if messages[i].FetchError != "" {
			stats.FetchErrors++
			slog.Warn("message fetch failed",
				"mailbox", messages[i].Mailbox,
				"native_id", messages[i].NativeID,
				"error", messages[i].FetchError,
			)
			continue
		}
		stats.Fetched++
	}

	return messages, stats, nil
}

type listTask struct {
	tenant      *Tenant
	identity    string
	application string
}

type listResult struct {
	items []models.RawAuditItem
	err   error
}

func runAudit(ctx context.Context, plan Plan, workers int) ([]models.RawAuditItem, Stats, error) {
	var stats Stats

	var tasks []listTask
	for i := range plan.Tenants {
		t := &plan.Tenants[i]
		if t.Activity == nil {
			continue
		}
		for _, id := range t.Identities {
			for _, app := range t.Applications {
				tasks = append(tasks, listTask{tenant: t, identity: id, application: app})
			}
		}
	}

	results := make([]listResult, len(tasks))
	if err := pool(ctx, workers, len(tasks), func(ctx context.Context, i int) {
		lt := tasks[i]
		items, err := lt.tenant.Activity.List(ctx, lt.identity, lt.application, plan.Start, plan.End)
		results[i] = listResult{items: items, err: err}
	}); err != nil {
		return nil, Stats{}, err
	}

	type itemKey struct{ tenant, application, id string }
	seen := make(map[itemKey]bool)
	var items []models.RawAuditItem
	for i, r := range results {
		lt := tasks[i]
		stats.Listings++
		if r.err != nil {
			stats.ListErrors++
			stats.Errors = append(stats.Errors, fmt.Sprintf("list %s %s %s: %v", lt.tenant.Name, lt.identity, lt.application, r.err))
			slog.Error("activity log listing failed",
				"tenant", lt.tenant.Name,
				"identity", lt.identity,
				"application", lt.application,
				"error", r.err,
			)
			continue
		}
		for _, it := range r.items {
			// Overlapping identity lists ("all" plus named users) return
			// the same item more than once.
			k := itemKey{lt.tenant.Name, it.Application, it.ID}
			if it.ID != "" && seen[k] {
				continue
			}
			seen[k] = true
			items = append(items, it)
		}
	}
	stats.AuditItems = len(items)

	return items, stats, nil
}

// pool runs fn for 0..n-1 on at most workers goroutines. fn records its
// own outcome; pool only fails when ctx is done.
func pool(ctx context.Context, workers, n int, fn func(ctx context.Context, i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, i)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
